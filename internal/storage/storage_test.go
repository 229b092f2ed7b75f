package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every Storage implementation the contract tests run against.
func backends(t *testing.T) map[string]Storage {
	t.Helper()
	ctx := context.Background()

	sq, err := Open(ctx, Config{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "rentledger.db"),
		AutoMigrate: true,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]Storage{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func seedProperty(t *testing.T, st Storage) (Property, Unit, Tenant) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	p := Property{ID: "p1", Name: "Riverside", ChargesGarbageFee: true, DefaultGarbageFee: decimal.NewFromInt(300), CreatedAt: now, UpdatedAt: now}
	u := Unit{ID: "u1", PropertyID: "p1", UnitNumber: "A1", Type: "BEDSITTER", RentAmount: decimal.NewFromInt(8000), Status: UnitOccupied, CreatedAt: now, UpdatedAt: now}
	tn := Tenant{ID: "t1", UnitID: "u1", FirstName: "Ama", LastName: "Owusu", Email: "ama@example.com", RentAmount: decimal.NewFromInt(8000), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateProperty(ctx, p))
	require.NoError(t, st.CreateUnit(ctx, u))
	require.NoError(t, st.CreateTenant(ctx, tn))
	return p, u, tn
}

func TestReadingUniquePerTenantPeriod(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedProperty(t, st)

			r := WaterReading{ID: "r1", TenantID: "t1", UnitID: "u1", CurrentReading: decimal.NewFromInt(10), Month: 3, Year: 2025}
			require.NoError(t, st.CreateReading(ctx, r))

			r.ID = "r2"
			err := st.CreateReading(ctx, r)
			assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

			got, err := st.FindReading(ctx, "t1", 3, 2025)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "r1", got.ID)

			missing, err := st.FindReading(ctx, "t1", 4, 2025)
			require.NoError(t, err)
			assert.Nil(t, missing)

			list, err := st.ListReadings(ctx, ReadingFilter{PropertyID: "p1"})
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestBillUniquePerTenantPeriod(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedProperty(t, st)

			month := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
			b := Bill{ID: "b1", TenantID: "t1", UnitID: "u1", PropertyID: "p1", Period: PeriodKey(2025, 3), Month: month,
				TotalAmount: decimal.NewFromInt(8000), Status: BillPending, DueDate: month.AddDate(0, 0, 4)}
			require.NoError(t, st.CreateBill(ctx, b))

			b.ID = "b2"
			assert.ErrorIs(t, st.CreateBill(ctx, b), ErrDuplicate)

			got, err := st.FindBill(ctx, "t1", "2025-03")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.True(t, decimal.NewFromInt(8000).Equal(got.TotalAmount))
		})
	}
}

func TestMarkOverdueBills(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedProperty(t, st)

			due := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
			require.NoError(t, st.CreateBill(ctx, Bill{ID: "late", TenantID: "t1", PropertyID: "p1", Period: "2025-03", Status: BillPending, DueDate: due}))
			require.NoError(t, st.CreateBill(ctx, Bill{ID: "future", TenantID: "t1", PropertyID: "p1", Period: "2025-04", Status: BillPending, DueDate: due.AddDate(0, 1, 0)}))
			require.NoError(t, st.CreateBill(ctx, Bill{ID: "paid", TenantID: "t1", PropertyID: "p1", Period: "2025-02", Status: BillPaid, DueDate: due.AddDate(0, -1, 0)}))

			n, err := st.MarkOverdueBills(ctx, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			late, err := st.GetBill(ctx, "late")
			require.NoError(t, err)
			assert.Equal(t, BillOverdue, late.Status)

			paid, err := st.GetBill(ctx, "paid")
			require.NoError(t, err)
			assert.Equal(t, BillPaid, paid.Status)
		})
	}
}

func TestMarkBillPaidMissing(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.MarkBillPaid(context.Background(), "nope", time.Now())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestRecurringChargeLinks(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedProperty(t, st)

			c := RecurringCharge{
				ID: "c1", Name: "Security", Category: "SECURITY", Amount: decimal.NewFromInt(250),
				Frequency: FrequencyMonthly, BillingDay: 1, AppliesTo: ScopeSpecificUnits, IsActive: true,
				PropertyIDs: []string{"p1"}, SpecificUnits: []string{"u1"},
				CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			require.NoError(t, st.CreateRecurringCharge(ctx, c))

			got, err := st.GetRecurringCharge(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, []string{"p1"}, got.PropertyIDs)
			assert.Equal(t, []string{"u1"}, got.SpecificUnits)
			assert.Empty(t, got.UnitTypes)

			list, err := st.ListRecurringCharges(ctx, ChargeFilter{PropertyID: "p1", ActiveOnly: true})
			require.NoError(t, err)
			assert.Len(t, list, 1)

			other, err := st.ListRecurringCharges(ctx, ChargeFilter{PropertyID: "p2"})
			require.NoError(t, err)
			assert.Empty(t, other)

			c.AppliesTo = ScopeUnitTypes
			c.SpecificUnits = nil
			c.UnitTypes = []string{"BEDSITTER"}
			require.NoError(t, st.UpdateRecurringCharge(ctx, c))
			got, err = st.GetRecurringCharge(ctx, "c1")
			require.NoError(t, err)
			assert.Empty(t, got.SpecificUnits)
			assert.Equal(t, []string{"BEDSITTER"}, got.UnitTypes)

			require.NoError(t, st.DeleteRecurringCharge(ctx, "c1"))
			assert.ErrorIs(t, st.DeleteRecurringCharge(ctx, "c1"), ErrNotFound)
		})
	}
}

func TestExpireLeaseVacatesUnit(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedProperty(t, st)

			l := Lease{ID: "l1", TenantID: "t1", UnitID: "u1", Status: LeaseActive,
				StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)}
			require.NoError(t, st.CreateLease(ctx, l))

			due, err := st.ListLeasesEndingBefore(ctx, time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
			require.NoError(t, err)
			require.Len(t, due, 1)

			require.NoError(t, st.ExpireLease(ctx, "l1", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)))

			u, err := st.GetUnit(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, UnitVacant, u.Status)

			occupied, err := st.ListOccupiedTenants(ctx, "p1")
			require.NoError(t, err)
			assert.Empty(t, occupied)
		})
	}
}

func TestOccupiedTenantsScopedToProperty(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedProperty(t, st)
			require.NoError(t, st.CreateProperty(ctx, Property{ID: "p2", Name: "Hilltop"}))
			require.NoError(t, st.CreateUnit(ctx, Unit{ID: "u2", PropertyID: "p2", UnitNumber: "B1", Status: UnitOccupied}))
			require.NoError(t, st.CreateTenant(ctx, Tenant{ID: "t2", UnitID: "u2", FirstName: "Kofi"}))

			got, err := st.ListOccupiedTenants(ctx, "p1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "t1", got[0].Tenant.ID)
			assert.Equal(t, "u1", got[0].Unit.ID)
		})
	}
}

func TestAdvisoryLockReleasesForNextHolder(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			release, ok, err := st.TryAdvisoryLock(ctx, 7301)
			require.NoError(t, err)
			require.True(t, ok)
			require.NoError(t, release())

			release, ok, err = st.TryAdvisoryLock(ctx, 7301)
			require.NoError(t, err)
			require.True(t, ok, "lock must be free again after release")
			require.NoError(t, release())
		})
	}
}

func TestMemoryAdvisoryLockIsExclusive(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	release, ok, err := st.TryAdvisoryLock(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = st.TryAdvisoryLock(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := st.TryAdvisoryLock(ctx, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, other())

	require.NoError(t, release())
	_, ok, err = st.TryAdvisoryLock(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

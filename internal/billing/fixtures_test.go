package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bher20/rentledger/internal/storage"
)

var testNow = time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)

func testOptions() Options {
	return Options{Workers: 2, Now: func() time.Time { return testNow }}
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func dp(v int64) *decimal.Decimal {
	x := decimal.NewFromInt(v)
	return &x
}

// fixture seeds a memory store with property p1 and one occupied unit per
// tenant id given.
type fixture struct {
	t     *testing.T
	store *storage.MemoryStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, store: storage.NewMemory()}
	f.property("p1", true)
	return f
}

func (f *fixture) property(id string, garbage bool) {
	f.t.Helper()
	require.NoError(f.t, f.store.CreateProperty(context.Background(), storage.Property{
		ID:                id,
		Name:              "Property " + id,
		ChargesGarbageFee: garbage,
		DefaultGarbageFee: d(300),
		WaterRatePerUnit:  d(50),
	}))
}

// tenant adds an occupied unit and a tenant with an ACTIVE lease starting leaseStart.
func (f *fixture) tenant(propertyID, tenantID, unitType string, leaseStart time.Time) storage.TenantUnit {
	f.t.Helper()
	ctx := context.Background()
	u := storage.Unit{
		ID:         "unit-" + tenantID,
		PropertyID: propertyID,
		UnitNumber: "U-" + tenantID,
		Type:       unitType,
		RentAmount: d(9000),
		Status:     storage.UnitOccupied,
	}
	tn := storage.Tenant{
		ID:         tenantID,
		UnitID:     u.ID,
		FirstName:  "Tenant",
		LastName:   tenantID,
		Email:      tenantID + "@example.com",
		RentAmount: d(10000),
		CreatedAt:  leaseStart,
	}
	require.NoError(f.t, f.store.CreateUnit(ctx, u))
	require.NoError(f.t, f.store.CreateTenant(ctx, tn))
	require.NoError(f.t, f.store.CreateLease(ctx, storage.Lease{
		ID:         "lease-" + tenantID,
		TenantID:   tenantID,
		UnitID:     u.ID,
		StartDate:  leaseStart,
		EndDate:    leaseStart.AddDate(1, 0, 0),
		RentAmount: tn.RentAmount,
		Status:     storage.LeaseActive,
	}))
	return storage.TenantUnit{Tenant: tn, Unit: u}
}

func (f *fixture) reading(tenantID string, month, year int, prev, cur int64) storage.WaterReading {
	f.t.Helper()
	u := ComputeUsage(d(prev), d(cur), d(50))
	r := storage.WaterReading{
		ID:              "r-" + tenantID + "-" + storage.PeriodKey(year, month),
		TenantID:        tenantID,
		UnitID:          "unit-" + tenantID,
		PreviousReading: d(prev),
		CurrentReading:  d(cur),
		UnitsConsumed:   u.Units,
		RatePerUnit:     d(50),
		AmountDue:       u.Amount,
		Month:           month,
		Year:            year,
	}
	require.NoError(f.t, f.store.CreateReading(context.Background(), r))
	return r
}

var errInjected = errors.New("injected failure")

// faultyStore fails selected operations on top of a working store.
type faultyStore struct {
	storage.Storage
	failBillFor  string
	failReadings bool
	failLeaseFor string
}

func (s *faultyStore) CreateBill(ctx context.Context, b storage.Bill) error {
	if b.TenantID == s.failBillFor {
		return errInjected
	}
	return s.Storage.CreateBill(ctx, b)
}

func (s *faultyStore) ListReadings(ctx context.Context, f storage.ReadingFilter) ([]storage.WaterReading, error) {
	if s.failReadings {
		return nil, errInjected
	}
	return s.Storage.ListReadings(ctx, f)
}

func (s *faultyStore) ExpireLease(ctx context.Context, id string, at time.Time) error {
	if id == s.failLeaseFor {
		return errInjected
	}
	return s.Storage.ExpireLease(ctx, id, at)
}

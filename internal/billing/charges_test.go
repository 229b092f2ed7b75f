package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/rentledger/internal/storage"
)

func TestCreateChargeDefaults(t *testing.T) {
	f := newFixture(t)
	svc := NewChargeService(f.store, nil, testOptions())

	c, err := svc.Create(context.Background(), ChargeInput{
		PropertyIDs: []string{"p1", "p1", " "},
		Name:        "Security",
		Category:    "SECURITY",
		Amount:      d(250),
		Frequency:   storage.FrequencyMonthly,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, c.PropertyIDs)
	assert.Equal(t, 1, c.BillingDay)
	assert.Equal(t, storage.ScopeAllUnits, c.AppliesTo)
	assert.True(t, c.IsActive)

	stored, err := f.store.GetRecurringCharge(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, stored.Name)
}

func TestCreateChargeValidation(t *testing.T) {
	f := newFixture(t)
	f.tenant("p1", "t1", "BEDSITTER", jan2025)
	svc := NewChargeService(f.store, nil, testOptions())
	base := ChargeInput{PropertyIDs: []string{"p1"}, Name: "Water pump", Category: "UTILITY", Amount: d(100), Frequency: storage.FrequencyMonthly}

	tests := []struct {
		name  string
		edit  func(*ChargeInput)
		field string
	}{
		{"no property", func(in *ChargeInput) { in.PropertyIDs = nil }, "propertyIds"},
		{"zero amount", func(in *ChargeInput) { in.Amount = d(0) }, "amount"},
		{"negative amount", func(in *ChargeInput) { in.Amount = d(-10) }, "amount"},
		{"billing day", func(in *ChargeInput) { in.BillingDay = 31 }, "billingDay"},
		{"frequency", func(in *ChargeInput) { in.Frequency = "WEEKLY" }, "frequency"},
		{"specific without units", func(in *ChargeInput) { in.AppliesTo = storage.ScopeSpecificUnits }, "specificUnits"},
		{"types without types", func(in *ChargeInput) { in.AppliesTo = storage.ScopeUnitTypes }, "unitTypes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.edit(&in)
			_, err := svc.Create(context.Background(), in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreateChargeChecksReferences(t *testing.T) {
	f := newFixture(t)
	f.property("p2", false)
	f.tenant("p2", "t9", "BEDSITTER", jan2025)
	svc := NewChargeService(f.store, nil, testOptions())
	ctx := context.Background()

	_, err := svc.Create(ctx, ChargeInput{PropertyIDs: []string{"nope"}, Name: "x", Category: "y", Amount: d(1), Frequency: storage.FrequencyMonthly})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "property", nf.Entity)

	_, err = svc.Create(ctx, ChargeInput{
		PropertyIDs: []string{"p1"}, Name: "x", Category: "y", Amount: d(1), Frequency: storage.FrequencyMonthly,
		AppliesTo: storage.ScopeSpecificUnits, SpecificUnits: []string{"unit-t9"},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUpdateAndDeleteCharge(t *testing.T) {
	f := newFixture(t)
	f.tenant("p1", "t1", "BEDSITTER", jan2025)
	svc := NewChargeService(f.store, nil, testOptions())
	ctx := context.Background()

	c, err := svc.Create(ctx, ChargeInput{PropertyIDs: []string{"p1"}, Name: "Parking", Category: "PARKING", Amount: d(500), Frequency: storage.FrequencyMonthly})
	require.NoError(t, err)

	inactive := false
	upd, err := svc.Update(ctx, c.ID, ChargeInput{
		PropertyIDs: []string{"p1"}, Name: "Parking", Category: "PARKING", Amount: d(600), Frequency: storage.FrequencyMonthly,
		AppliesTo: storage.ScopeSpecificUnits, SpecificUnits: []string{"unit-t1"}, IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.False(t, upd.IsActive)
	assert.Equal(t, []string{"unit-t1"}, upd.SpecificUnits)

	active, err := svc.List(ctx, "p1", true)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, svc.Delete(ctx, c.ID))
	err = svc.Delete(ctx, c.ID)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = svc.Update(ctx, c.ID, ChargeInput{})
	require.ErrorAs(t, err, &nf)
}

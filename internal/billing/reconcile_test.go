package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/rentledger/internal/storage"
)

func TestPeriodRollover(t *testing.T) {
	assert.Equal(t, Period{Month: 1, Year: 2025}, Period{Month: 12, Year: 2024}.Next())
	assert.Equal(t, Period{Month: 12, Year: 2024}, Period{Month: 1, Year: 2025}.Prev())
	assert.True(t, Period{Month: 12, Year: 2024}.Before(Period{Month: 1, Year: 2025}))
	assert.Equal(t, "2025-03", Period{Month: 3, Year: 2025}.Key())
	assert.Equal(t, 28, Period{Month: 2, Year: 2025}.Day(31).Day())
	assert.False(t, Period{Month: 13, Year: 2025}.Valid())
}

func TestMissingPeriodsWithoutReadings(t *testing.T) {
	start := time.Date(2024, 11, 20, 0, 0, 0, 0, time.UTC)
	got := MissingPeriods(nil, start, testNow)
	assert.Equal(t, []Period{
		{Month: 11, Year: 2024},
		{Month: 12, Year: 2024},
		{Month: 1, Year: 2025},
		{Month: 2, Year: 2025},
		{Month: 3, Year: 2025},
	}, got)
}

func TestMissingPeriodsLeaseInFuture(t *testing.T) {
	start := testNow.AddDate(0, 2, 0)
	assert.Empty(t, MissingPeriods(nil, start, testNow))
}

func TestReconcileSingleHole(t *testing.T) {
	start := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	var readings []storage.WaterReading
	cur := int64(100)
	for _, p := range periodsBetween(PeriodOf(start), PeriodOf(testNow)) {
		if p == (Period{Month: 1, Year: 2025}) {
			continue
		}
		readings = append(readings, storage.WaterReading{
			TenantID: "t1", Month: p.Month, Year: p.Year,
			PreviousReading: decimal.NewFromInt(cur - 10), CurrentReading: decimal.NewFromInt(cur),
		})
		cur += 10
	}

	rec := Reconcile(readings, start, testNow)
	require.Len(t, rec.Missing, 1)
	require.NotNil(t, rec.Next)
	assert.Equal(t, Period{Month: 1, Year: 2025}, *rec.Next)
	assert.False(t, rec.PreviousEditable)
	// December is the third reading: 100, 110, 120.
	assert.True(t, decimal.NewFromInt(120).Equal(rec.PreviousReading), rec.PreviousReading.String())
	require.NotNil(t, rec.Latest)
	assert.Equal(t, 3, rec.Latest.Month)
	assert.Equal(t, 2025, rec.Latest.Year)
}

func TestReconcileFirstPeriodIsEditable(t *testing.T) {
	start := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	rec := Reconcile(nil, start, testNow)
	require.NotNil(t, rec.Next)
	assert.Equal(t, Period{Month: 2, Year: 2025}, *rec.Next)
	assert.True(t, rec.PreviousEditable)
	assert.True(t, rec.PreviousReading.IsZero())
	assert.Nil(t, rec.Latest)
}

func TestReconcileComplete(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := Reconcile([]storage.WaterReading{{Month: 3, Year: 2025}}, start, testNow)
	assert.True(t, rec.Complete())
	assert.Empty(t, rec.Missing)
}

func TestComputeUsage(t *testing.T) {
	tests := []struct {
		name            string
		prev, cur, rate string
		units, amount   string
		clamped         bool
	}{
		{"normal", "100", "130", "50", "30", "1500", false},
		{"fractional", "10.5", "12", "42.25", "1.5", "63.375", false},
		{"no usage", "80", "80", "50", "0", "0", false},
		{"meter reads lower", "130", "100", "50", "0", "0", true},
		{"zero rate", "0", "25", "0", "25", "0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeUsage(decimal.RequireFromString(tt.prev), decimal.RequireFromString(tt.cur), decimal.RequireFromString(tt.rate))
			assert.True(t, decimal.RequireFromString(tt.units).Equal(got.Units), "units %s", got.Units)
			assert.True(t, decimal.RequireFromString(tt.amount).Equal(got.Amount), "amount %s", got.Amount)
			assert.Equal(t, tt.clamped, got.Clamped)
			assert.False(t, got.Units.IsNegative())
		})
	}
}

package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bher20/rentledger/internal/storage"
)

func TestAutoGenerateBackfillsMissingMonths(t *testing.T) {
	f := newFixture(t)
	f.tenant("p1", "t1", "BEDSITTER", time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	require.NoError(t, f.store.CreateGarbageFee(ctx, storage.GarbageFee{ID: "jan", TenantID: "t1", Period: "2025-01", Amount: d(300)}))
	svc := NewGarbageService(f.store, nil, testOptions())

	res, err := svc.AutoGenerate(ctx, "t1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Generated)
	var periods []string
	for _, fee := range res.Fees {
		periods = append(periods, fee.Period)
		assert.True(t, d(300).Equal(fee.Amount))
	}
	assert.Equal(t, []string{"2024-12", "2025-02", "2025-03"}, periods)

	again, err := svc.AutoGenerate(ctx, "t1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Generated)

	all, err := f.store.ListGarbageFees(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestAutoGenerateFallbackAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateProperty(ctx, storage.Property{ID: "p9", Name: "No default"}))
	f.tenant("p9", "t1", "BEDSITTER", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	svc := NewGarbageService(f.store, nil, testOptions())

	res, err := svc.AutoGenerate(ctx, "t1", testNow)
	require.NoError(t, err)
	require.Len(t, res.Fees, 1)
	assert.True(t, d(500).Equal(res.Fees[0].Amount))
}

func TestAutoGenerateVacantUnit(t *testing.T) {
	f := newFixture(t)
	tu := f.tenant("p1", "t1", "BEDSITTER", jan2025)
	ctx := context.Background()
	require.NoError(t, f.store.ExpireLease(ctx, "lease-t1", testNow))
	svc := NewGarbageService(f.store, nil, testOptions())

	res, err := svc.AutoGenerate(ctx, tu.Tenant.ID, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Generated)
}

func TestAutoGenerateUnknownTenant(t *testing.T) {
	svc := NewGarbageService(newFixture(t).store, nil, testOptions())
	_, err := svc.AutoGenerate(context.Background(), "ghost", testNow)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

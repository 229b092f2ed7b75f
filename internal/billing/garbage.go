package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/metrics"
	"github.com/bher20/rentledger/internal/storage"
)

// BackfillResult reports a garbage fee back-fill for one tenant.
type BackfillResult struct {
	TenantID  string               `json:"tenantId"`
	Generated int                  `json:"generated"`
	Fees      []storage.GarbageFee `json:"fees"`
	Failures  []PeriodFailure      `json:"failures,omitempty"`
}

// PeriodFailure records a month that could not be processed.
type PeriodFailure struct {
	Period Period `json:"period"`
	Error  string `json:"error"`
}

// GarbageService back-fills monthly garbage fees.
type GarbageService struct {
	store storage.Storage
	log   *zap.Logger
	opts  Options
}

func NewGarbageService(st storage.Storage, log *zap.Logger, opts Options) *GarbageService {
	return &GarbageService{store: st, log: nopIfNil(log), opts: opts.withDefaults()}
}

// AutoGenerate creates a fee for every month from the tenant's billing start
// to now that has none. Tenants in vacant units get nothing. Running it again
// creates nothing new.
func (s *GarbageService) AutoGenerate(ctx context.Context, tenantID string, now time.Time) (*BackfillResult, error) {
	if tenantID == "" {
		return nil, invalid("tenantId", "is required")
	}
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if t == nil {
		return nil, notFound("tenant", tenantID)
	}
	res := &BackfillResult{TenantID: t.ID, Fees: []storage.GarbageFee{}}

	unit, err := s.store.GetUnit(ctx, t.UnitID)
	if err != nil {
		return nil, fmt.Errorf("load unit: %w", err)
	}
	if unit == nil || unit.Status != storage.UnitOccupied {
		return res, nil
	}
	prop, err := s.store.GetProperty(ctx, unit.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("load property: %w", err)
	}
	amount := s.opts.DefaultGarbageFee
	if prop != nil && prop.DefaultGarbageFee.IsPositive() {
		amount = prop.DefaultGarbageFee
	}

	start, err := billingStart(ctx, s.store, t, now)
	if err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}

	for _, p := range periodsBetween(PeriodOf(start), PeriodOf(now)) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		existing, err := s.store.FindGarbageFee(ctx, t.ID, p.Key())
		if err != nil {
			res.Failures = append(res.Failures, PeriodFailure{Period: p, Error: err.Error()})
			continue
		}
		if existing != nil {
			continue
		}
		stamp := now.UTC()
		fee := storage.GarbageFee{
			ID:        uuid.NewString(),
			TenantID:  t.ID,
			UnitID:    unit.ID,
			Period:    p.Key(),
			Month:     p.Start(),
			Amount:    amount,
			Status:    storage.BillPending,
			CreatedAt: stamp,
			UpdatedAt: stamp,
		}
		if err := s.store.CreateGarbageFee(ctx, fee); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				continue
			}
			s.log.Warn("garbage fee not created",
				zap.String("tenant", t.ID), zap.String("period", p.Key()), zap.Error(err))
			res.Failures = append(res.Failures, PeriodFailure{Period: p, Error: err.Error()})
			continue
		}
		res.Fees = append(res.Fees, fee)
	}
	res.Generated = len(res.Fees)
	metrics.GarbageFeesGeneratedTotal.Add(float64(res.Generated))
	s.log.Info("garbage fees back-filled", zap.String("tenant", t.ID),
		zap.Int("generated", res.Generated), zap.Int("failed", len(res.Failures)))
	return res, nil
}

// AutoGenerateProperty back-fills every occupied unit of a property.
func (s *GarbageService) AutoGenerateProperty(ctx context.Context, propertyID string, now time.Time) ([]BackfillResult, error) {
	tenants, err := s.store.ListOccupiedTenants(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}
	out := make([]BackfillResult, 0, len(tenants))
	for _, tu := range tenants {
		res, err := s.AutoGenerate(ctx, tu.Tenant.ID, now)
		if err != nil {
			return out, err
		}
		out = append(out, *res)
	}
	return out, nil
}

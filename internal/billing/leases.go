package billing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/storage"
)

// LeaseExpiry reports an ExpireLeases run.
type LeaseExpiry struct {
	Expired  []string  `json:"expired"`
	Failures []Failure `json:"failures,omitempty"`
}

// LeaseService runs lease housekeeping.
type LeaseService struct {
	store storage.Storage
	log   *zap.Logger
}

func NewLeaseService(st storage.Storage, log *zap.Logger) *LeaseService {
	return &LeaseService{store: st, log: nopIfNil(log)}
}

// ExpireLeases marks ACTIVE leases that ended before today EXPIRED and frees
// their units. Each lease is handled on its own; failures are collected.
func (s *LeaseService) ExpireLeases(ctx context.Context, now time.Time) (*LeaseExpiry, error) {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	leases, err := s.store.ListLeasesEndingBefore(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list ending leases: %w", err)
	}
	out := &LeaseExpiry{Expired: []string{}}
	for _, l := range leases {
		if err := s.store.ExpireLease(ctx, l.ID, now); err != nil {
			s.log.Error("lease expiry failed", zap.String("lease", l.ID), zap.Error(err))
			out.Failures = append(out.Failures, Failure{TenantID: l.TenantID, Error: err.Error()})
			continue
		}
		out.Expired = append(out.Expired, l.ID)
	}
	s.log.Info("leases expired", zap.Int("count", len(out.Expired)), zap.Int("failed", len(out.Failures)))
	return out, nil
}

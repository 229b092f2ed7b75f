package billing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/storage"
)

// BillService handles bill state changes after generation.
type BillService struct {
	store storage.Storage
	log   *zap.Logger
	opts  Options
}

func NewBillService(st storage.Storage, log *zap.Logger, opts Options) *BillService {
	return &BillService{store: st, log: nopIfNil(log), opts: opts.withDefaults()}
}

func (s *BillService) Get(ctx context.Context, id string) (*storage.Bill, error) {
	b, err := s.store.GetBill(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load bill: %w", err)
	}
	if b == nil {
		return nil, notFound("bill", id)
	}
	return b, nil
}

func (s *BillService) List(ctx context.Context, f storage.BillFilter) ([]storage.Bill, error) {
	return s.store.ListBills(ctx, f)
}

// MarkPaid records payment of a bill. Paying a paid bill is a no-op.
func (s *BillService) MarkPaid(ctx context.Context, id string, at time.Time) (*storage.Bill, error) {
	if id == "" {
		return nil, invalid("id", "is required")
	}
	b, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == storage.BillPaid {
		return b, nil
	}
	paid, err := s.store.MarkBillPaid(ctx, id, at.UTC())
	if err != nil {
		return nil, translateStoreErr(err, "bill", id)
	}
	s.log.Info("bill marked paid", zap.String("id", id), zap.String("tenant", paid.TenantID))
	return paid, nil
}

// MarkOverdue flips every PENDING bill due before now to OVERDUE.
func (s *BillService) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.MarkOverdueBills(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("mark overdue bills: %w", err)
	}
	s.log.Info("overdue bills marked", zap.Int64("count", n))
	return n, nil
}

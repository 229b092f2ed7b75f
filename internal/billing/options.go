package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/storage"
)

// Options tunes the billing services. Zero values take the defaults below.
type Options struct {
	// Workers bounds how many tenants are billed concurrently.
	Workers int
	// DueDay is the day of the month a generated bill falls due.
	DueDay int
	// DefaultGarbageFee is used by back-fill when a property has no default of its own.
	DefaultGarbageFee decimal.Decimal
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

const (
	defaultWorkers = 4
	defaultDueDay  = 5
)

var fallbackGarbageFee = decimal.NewFromInt(500)

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.DueDay <= 0 || o.DueDay > 28 {
		o.DueDay = defaultDueDay
	}
	if !o.DefaultGarbageFee.IsPositive() {
		o.DefaultGarbageFee = fallbackGarbageFee
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

// billingStart is the date a tenant's billable history begins: the earliest
// ACTIVE lease start, else the tenant's creation date, else twelve months
// before now.
func billingStart(ctx context.Context, st storage.TenancyStore, t *storage.Tenant, now time.Time) (time.Time, error) {
	leases, err := st.ListLeases(ctx, t.ID)
	if err != nil {
		return time.Time{}, err
	}
	var start time.Time
	for _, l := range leases {
		if l.Status != storage.LeaseActive {
			continue
		}
		if start.IsZero() || l.StartDate.Before(start) {
			start = l.StartDate
		}
	}
	if !start.IsZero() {
		return start.UTC(), nil
	}
	if !t.CreatedAt.IsZero() {
		return t.CreatedAt.UTC(), nil
	}
	return now.UTC().AddDate(0, -12, 0), nil
}

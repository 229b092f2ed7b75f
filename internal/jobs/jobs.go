package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bher20/rentledger/internal/alerting"
	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/notification"
	"github.com/bher20/rentledger/internal/storage"
)

const (
	MarkOverdue     = "mark-overdue"
	ExpireLeases    = "expire-leases"
	GarbageBackfill = "garbage-backfill"
	SendReminders   = "send-reminders"
)

// Report is the per-item outcome of one job run.
type Report struct {
	Total    int
	Failures []alerting.Failure
}

// Job is one unit of daily housekeeping.
type Job struct {
	Name    string
	LockKey int64
	Run     func(ctx context.Context, now time.Time) (Report, error)
}

// Services are the billing operations the daily jobs drive.
type Services struct {
	Bills    *billing.BillService
	Leases   *billing.LeaseService
	Garbage  *billing.GarbageService
	Notifier *notification.Service
}

// DailyJobs returns the jobs run on the daily schedule, in execution order.
// Leases expire before garbage back-fill so newly vacant units are not billed.
func DailyJobs(st storage.Storage, svc Services) []Job {
	jobs := []Job{
		{Name: ExpireLeases, LockKey: 7301, Run: func(ctx context.Context, now time.Time) (Report, error) {
			res, err := svc.Leases.ExpireLeases(ctx, now)
			if err != nil {
				return Report{}, err
			}
			r := Report{Total: len(res.Expired) + len(res.Failures)}
			for _, f := range res.Failures {
				r.Failures = append(r.Failures, alerting.Failure{Item: "tenant " + f.TenantID, Error: f.Error})
			}
			return r, nil
		}},
		{Name: MarkOverdue, LockKey: 7302, Run: func(ctx context.Context, now time.Time) (Report, error) {
			n, err := svc.Bills.MarkOverdue(ctx, now)
			return Report{Total: int(n)}, err
		}},
		{Name: GarbageBackfill, LockKey: 7303, Run: func(ctx context.Context, now time.Time) (Report, error) {
			return backfillAll(ctx, st, svc.Garbage, now)
		}},
	}
	if svc.Notifier != nil {
		jobs = append(jobs, Job{Name: SendReminders, LockKey: 7304, Run: func(ctx context.Context, now time.Time) (Report, error) {
			res, err := svc.Notifier.SendReminders(ctx, storage.BillFilter{Status: storage.BillOverdue})
			if errors.Is(err, notification.ErrNotConfigured) {
				return Report{}, nil
			}
			if err != nil {
				return Report{}, err
			}
			r := Report{Total: res.Sent + len(res.Failures)}
			for id, msg := range res.Failures {
				r.Failures = append(r.Failures, alerting.Failure{Item: "bill " + id, Error: msg})
			}
			return r, nil
		}})
	}
	return jobs
}

func backfillAll(ctx context.Context, st storage.Storage, g *billing.GarbageService, now time.Time) (Report, error) {
	props, err := st.ListProperties(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list properties: %w", err)
	}
	var r Report
	for _, p := range props {
		if !p.ChargesGarbageFee {
			continue
		}
		results, err := g.AutoGenerateProperty(ctx, p.ID, now)
		if err != nil {
			r.Total++
			r.Failures = append(r.Failures, alerting.Failure{Item: "property " + p.ID, Error: err.Error()})
			continue
		}
		for _, res := range results {
			r.Total++
			for _, f := range res.Failures {
				r.Failures = append(r.Failures, alerting.Failure{
					Item:  fmt.Sprintf("tenant %s %s", res.TenantID, f.Period.Key()),
					Error: f.Error,
				})
			}
		}
	}
	return r, nil
}

package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/alerting"
	"github.com/bher20/rentledger/internal/metrics"
	"github.com/bher20/rentledger/internal/storage"
)

// ScheduleSetting overrides the configured daily schedule when stored.
const ScheduleSetting = "daily_schedule"

// Scheduler runs the daily jobs on a cron schedule. On postgres an advisory
// lock per job keeps replicas from running the same job concurrently.
type Scheduler struct {
	store   storage.Storage
	log     *zap.Logger
	alerter *alerting.Alerter
	jobs    map[string]Job
	order   []string
	now     func() time.Time
}

func NewScheduler(st storage.Storage, jobs []Job, alerter *alerting.Alerter, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		store:   st,
		log:     log,
		alerter: alerter,
		jobs:    make(map[string]Job, len(jobs)),
		now:     time.Now,
	}
	for _, j := range jobs {
		s.jobs[j.Name] = j
		s.order = append(s.order, j.Name)
	}
	return s
}

// Names lists the registered jobs in run order.
func (s *Scheduler) Names() []string {
	out := append([]string(nil), s.order...)
	return out
}

// Has reports whether a job is registered under name.
func (s *Scheduler) Has(name string) bool {
	_, ok := s.jobs[name]
	return ok
}

// Schedule resolves the cron expression: stored setting first, then fallback.
func (s *Scheduler) Schedule(ctx context.Context, fallback string) (cron.Schedule, string, error) {
	expr := fallback
	if v, err := s.store.GetSetting(ctx, ScheduleSetting); err == nil && v != "" {
		expr = v
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, expr, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return sched, expr, nil
}

// Start runs every job on the schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, fallback string) error {
	sched, expr, err := s.Schedule(ctx, fallback)
	if err != nil {
		return err
	}
	c := cron.New(cron.WithLocation(time.UTC))
	c.Schedule(sched, cron.FuncJob(func() { s.RunAll(ctx) }))
	c.Start()
	s.log.Info("scheduler started", zap.String("schedule", expr), zap.Strings("jobs", s.order))

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	s.log.Info("scheduler stopped")
	return ctx.Err()
}

// RunAll runs every job once in order. A failing job does not stop the rest.
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, name := range s.order {
		if ctx.Err() != nil {
			return
		}
		if err := s.Run(ctx, name); err != nil {
			s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// Run executes a single job by name under its advisory lock, then records
// metrics, the scheduled_jobs row and an alert when items failed.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %q (known: %v)", name, s.sorted())
	}
	started := s.now()

	release, locked, err := s.store.TryAdvisoryLock(ctx, job.LockKey)
	if err != nil {
		metrics.UpdateJobMetrics(name, started, err)
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		s.log.Info("job lock held by another worker, skipping", zap.String("job", name))
		return nil
	}

	var (
		report Report
		runErr error
	)
	func() {
		defer func() {
			if err := release(); err != nil {
				s.log.Warn("release lock failed", zap.String("job", name), zap.Error(err))
			}
		}()
		report, runErr = job.Run(ctx, started)
	}()

	dur := time.Since(started)
	errMsg := ""
	if runErr == nil && len(report.Failures) > 0 {
		errMsg = fmt.Sprintf("%d of %d items failed", len(report.Failures), report.Total)
	}
	if runErr != nil {
		errMsg = runErr.Error()
	}
	metrics.UpdateJobMetrics(name, started, runErr)
	if err := s.store.UpdateScheduledJob(ctx, name, started, dur, errMsg == "", errMsg); err != nil {
		s.log.Warn("update scheduled job failed", zap.String("job", name), zap.Error(err))
	}

	if len(report.Failures) > 0 {
		alert := alerting.BatchAlert{
			JobName:      name,
			TotalCount:   report.Total,
			SuccessCount: report.Total - len(report.Failures),
			FailedCount:  len(report.Failures),
			Duration:     dur,
			Failures:     report.Failures,
			Timestamp:    started.UTC(),
		}
		if err := s.alerter.SendBatchAlert(ctx, alert); err != nil {
			s.log.Warn("send alert failed", zap.String("job", name), zap.Error(err))
		}
	}

	s.log.Info("job finished",
		zap.String("job", name), zap.Duration("duration", dur),
		zap.Int("items", report.Total), zap.Int("failed", len(report.Failures)), zap.Error(runErr))
	return runErr
}

func (s *Scheduler) sorted() []string {
	out := s.Names()
	sort.Strings(out)
	return out
}

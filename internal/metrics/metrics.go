package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_requests_total",
			Help: "Total number of API requests per route",
		},
		[]string{"route"},
	)

	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rentledger_request_duration_seconds",
			Help:    "Request duration in seconds per route and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_request_errors_total",
			Help: "Total number of error responses per route and status code",
		},
		[]string{"route", "code"},
	)
)

var (
	BillsGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_bills_generated_total",
			Help: "Bills created by the composer per property",
		},
		[]string{"property"},
	)

	BillGenerationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_bill_generation_failures_total",
			Help: "Per-tenant bill creation failures per property",
		},
		[]string{"property"},
	)

	ReadingsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_readings_recorded_total",
			Help: "Water readings written, by outcome (created, overridden, updated)",
		},
		[]string{"outcome"},
	)

	ReadingsClampedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rentledger_readings_clamped_total",
			Help: "Readings whose current value was below the previous one",
		},
	)

	GarbageFeesGeneratedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rentledger_garbage_fees_generated_total",
			Help: "Garbage fees created by back-fill",
		},
	)

	RemindersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_reminders_sent_total",
			Help: "Bill reminder emails by result",
		},
		[]string{"result"},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rentledger_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rentledger_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rentledger_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

// ObserveRequest records one API request.
func ObserveRequest(route, method string, status int, startedAt time.Time) {
	RequestsTotal.WithLabelValues(route).Inc()
	RequestDurationSeconds.WithLabelValues(route, method).Observe(time.Since(startedAt).Seconds())
	if status >= 400 {
		RequestErrorsTotal.WithLabelValues(route, statusLabel(status)).Inc()
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status == 404:
		return "404"
	case status == 409:
		return "409"
	case status >= 400:
		return "4xx"
	default:
		return "ok"
	}
}

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}

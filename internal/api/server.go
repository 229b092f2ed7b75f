package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/alerting"
	"github.com/bher20/rentledger/internal/api/docs"
	"github.com/bher20/rentledger/internal/auth"
	"github.com/bher20/rentledger/internal/billing"
	"github.com/bher20/rentledger/internal/jobs"
	"github.com/bher20/rentledger/internal/metrics"
	"github.com/bher20/rentledger/internal/notification"
	"github.com/bher20/rentledger/internal/storage"
	"github.com/bher20/rentledger/internal/tariff"
)

// Deps are the services the HTTP API exposes. Auth, Notifier, Alerter and
// Scheduler are optional.
type Deps struct {
	Store     storage.Storage
	Log       *zap.Logger
	Options   billing.Options
	Auth      *auth.Service
	Notifier  *notification.Service
	Alerter   *alerting.Alerter
	Scheduler *jobs.Scheduler
	TariffDir string
}

type Server struct {
	store     storage.Storage
	log       *zap.Logger
	readings  *billing.ReadingService
	composer  *billing.Composer
	charges   *billing.ChargeService
	garbage   *billing.GarbageService
	bills     *billing.BillService
	leases    *billing.LeaseService
	importer  *tariff.Importer
	auth      *auth.Service
	notifier  *notification.Service
	alerter   *alerting.Alerter
	scheduler *jobs.Scheduler
	tariffDir string
	now       func() time.Time
}

func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	now := d.Options.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		store:     d.Store,
		log:       log,
		readings:  billing.NewReadingService(d.Store, log, d.Options),
		composer:  billing.NewComposer(d.Store, log, d.Options),
		charges:   billing.NewChargeService(d.Store, log, d.Options),
		garbage:   billing.NewGarbageService(d.Store, log, d.Options),
		bills:     billing.NewBillService(d.Store, log, d.Options),
		leases:    billing.NewLeaseService(d.Store, log),
		importer:  tariff.NewImporter(d.Store, log),
		auth:      d.Auth,
		notifier:  d.Notifier,
		alerter:   d.Alerter,
		scheduler: d.Scheduler,
		tariffDir: d.TariffDir,
		now:       now,
	}
}

// Handler builds the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("live"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/swagger/", http.StripPrefix("/swagger", docs.Handler()))

	if s.auth != nil {
		s.route(mux, "POST /api/v1/auth/login", "", "", s.login)
		s.route(mux, "POST /api/v1/auth/users", auth.ObjUsers, auth.ActWrite, s.createUser)
	}

	s.route(mux, "POST /api/v1/water-readings/create", auth.ObjReadings, auth.ActWrite, s.createReading)
	s.route(mux, "PATCH /api/v1/water-readings/update", auth.ObjReadings, auth.ActWrite, s.updateReading)
	s.route(mux, "GET /api/v1/water-readings", auth.ObjReadings, auth.ActRead, s.listReadings)
	s.route(mux, "GET /api/v1/water-readings/reconcile", auth.ObjReadings, auth.ActRead, s.reconcileReadings)
	s.route(mux, "POST /api/v1/water-readings/prepare", auth.ObjReadings, auth.ActWrite, s.prepareReading)
	s.route(mux, "GET /api/v1/water-readings/stats", auth.ObjReadings, auth.ActRead, s.readingStats)

	s.route(mux, "POST /api/v1/bills/preview", auth.ObjBills, auth.ActWrite, s.previewBills)
	s.route(mux, "POST /api/v1/bills/generate", auth.ObjBills, auth.ActWrite, s.generateBills)
	s.route(mux, "GET /api/v1/bills", auth.ObjBills, auth.ActRead, s.listBills)
	s.route(mux, "GET /api/v1/bills/{id}", auth.ObjBills, auth.ActRead, s.getBill)
	s.route(mux, "PATCH /api/v1/bills/{id}/mark-paid", auth.ObjBills, auth.ActWrite, s.markBillPaid)
	s.route(mux, "POST /api/v1/bills/overdue/mark", auth.ObjBills, auth.ActWrite, s.markOverdue)
	s.route(mux, "POST /api/v1/bills/{id}/remind", auth.ObjBills, auth.ActWrite, s.remindBill)
	s.route(mux, "POST /api/v1/bills/reminders", auth.ObjBills, auth.ActWrite, s.remindBills)

	s.route(mux, "POST /api/v1/recurring-charges/create", auth.ObjCharges, auth.ActWrite, s.createCharge)
	s.route(mux, "PATCH /api/v1/recurring-charges/update", auth.ObjCharges, auth.ActWrite, s.updateCharge)
	s.route(mux, "GET /api/v1/recurring-charges/list", auth.ObjCharges, auth.ActRead, s.listCharges)
	s.route(mux, "DELETE /api/v1/recurring-charges/delete", auth.ObjCharges, auth.ActWrite, s.deleteCharge)

	s.route(mux, "POST /api/v1/garbage-fees/auto-generate", auth.ObjGarbage, auth.ActWrite, s.autoGenerateGarbage)
	s.route(mux, "POST /api/v1/properties/{id}/water-rate/import", auth.ObjProperties, auth.ActWrite, s.importWaterRate)
	s.route(mux, "POST /api/v1/leases/expire", auth.ObjProperties, auth.ActWrite, s.expireLeases)

	s.route(mux, "GET /api/v1/settings/email", auth.ObjSettings, auth.ActRead, s.getEmailSettings)
	s.route(mux, "PUT /api/v1/settings/email", auth.ObjSettings, auth.ActWrite, s.putEmailSettings)
	s.route(mux, "GET /api/v1/jobs", auth.ObjJobs, auth.ActRead, s.listJobs)
	s.route(mux, "POST /api/v1/jobs/{name}/run", auth.ObjJobs, auth.ActWrite, s.runJob)

	var h http.Handler = mux
	if s.auth != nil {
		h = s.auth.Middleware(h)
	}
	return s.logRequests(h)
}

// route registers a handler with metrics and, when auth is enabled, a
// permission check. An empty obj leaves the route public.
func (s *Server) route(mux *http.ServeMux, pattern, obj, act string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.auth != nil && obj != "" {
		h = s.auth.RequirePermission(obj, act, h)
	}
	mux.Handle(pattern, instrument(pattern, h))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveRequest(route, r.Method, rec.status, start)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			zap.String("method", r.Method), zap.String("path", r.URL.Path),
			zap.Int("status", rec.status), zap.Duration("duration", time.Since(start)))
	})
}

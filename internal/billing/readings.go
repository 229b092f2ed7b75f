package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/metrics"
	"github.com/bher20/rentledger/internal/storage"
)

// ReadingInput is a new water meter reading for one tenant and period.
type ReadingInput struct {
	TenantID        string
	UnitID          string
	PreviousReading decimal.Decimal
	CurrentReading  decimal.Decimal
	RatePerUnit     decimal.Decimal
	Month           int
	Year            int
	RecordedBy      string
}

// ReadingUpdate is an explicit admin edit. Nil fields keep their stored value.
type ReadingUpdate struct {
	PreviousReading *decimal.Decimal
	CurrentReading  *decimal.Decimal
	RatePerUnit     *decimal.Decimal
}

// ReadingDraft pre-fills the form for recording a reading.
type ReadingDraft struct {
	TenantID         string                `json:"tenantId"`
	UnitID           string                `json:"unitId"`
	Period           Period                `json:"period"`
	PreviousReading  decimal.Decimal       `json:"previousReading"`
	PreviousEditable bool                  `json:"previousEditable"`
	RatePerUnit      decimal.Decimal       `json:"ratePerUnit"`
	Missing          []Period              `json:"missing"`
	Duplicate        bool                  `json:"duplicate"`
	Existing         *storage.WaterReading `json:"existing,omitempty"`
	// Fallback is set when history could not be loaded and the draft uses defaults.
	Fallback bool `json:"fallback,omitempty"`
}

// ReadingStats summarises reading coverage for one property and period.
type ReadingStats struct {
	Period       Period          `json:"period"`
	TotalTenants int             `json:"totalTenants"`
	Recorded     int             `json:"recorded"`
	Missing      int             `json:"missing"`
	TotalUnits   decimal.Decimal `json:"totalUnitsConsumed"`
	TotalAmount  decimal.Decimal `json:"totalAmountDue"`
}

// ReadingService records water readings in strict chronological order.
type ReadingService struct {
	store storage.Storage
	log   *zap.Logger
	opts  Options
}

func NewReadingService(st storage.Storage, log *zap.Logger, opts Options) *ReadingService {
	return &ReadingService{store: st, log: nopIfNil(log), opts: opts.withDefaults()}
}

func (s *ReadingService) tenant(ctx context.Context, id string) (*storage.Tenant, error) {
	if id == "" {
		return nil, invalid("tenantId", "is required")
	}
	t, err := s.store.GetTenant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if t == nil {
		return nil, notFound("tenant", id)
	}
	return t, nil
}

// Reconcile loads a tenant's readings and lease and reports the open periods.
func (s *ReadingService) Reconcile(ctx context.Context, tenantID string) (*Reconciliation, error) {
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	start, err := billingStart(ctx, s.store, t, now)
	if err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}
	readings, err := s.store.ListReadings(ctx, storage.ReadingFilter{TenantID: t.ID})
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	rec := Reconcile(readings, start, now)
	return &rec, nil
}

// Prepare builds the draft for recording a reading. With a nil period the
// earliest open period is used, or the current period when none is open.
// Asking for a period later than the earliest open one is rejected.
func (s *ReadingService) Prepare(ctx context.Context, tenantID string, period *Period) (*ReadingDraft, error) {
	t, err := s.tenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if period != nil && !period.Valid() {
		return nil, invalid("month", "period %d/%d is not a valid month", period.Month, period.Year)
	}
	now := s.opts.Now()

	rate := decimal.Zero
	if u, err := s.store.GetUnit(ctx, t.UnitID); err == nil && u != nil {
		if p, err := s.store.GetProperty(ctx, u.PropertyID); err == nil && p != nil {
			rate = p.WaterRatePerUnit
		}
	}

	fallback := func(cause error) *ReadingDraft {
		s.log.Error("reading history unavailable, using defaults",
			zap.String("tenant", t.ID), zap.Error(cause))
		target := PeriodOf(now)
		if period != nil {
			target = *period
		}
		return &ReadingDraft{
			TenantID:         t.ID,
			UnitID:           t.UnitID,
			Period:           target,
			PreviousReading:  decimal.Zero,
			PreviousEditable: true,
			RatePerUnit:      rate,
			Fallback:         true,
		}
	}

	start, err := billingStart(ctx, s.store, t, now)
	if err != nil {
		return fallback(err), nil
	}
	readings, err := s.store.ListReadings(ctx, storage.ReadingFilter{TenantID: t.ID})
	if err != nil {
		return fallback(err), nil
	}
	rec := Reconcile(readings, start, now)

	target := PeriodOf(now)
	switch {
	case period != nil:
		target = *period
		if err := inRange(target, start, now); err != nil {
			return nil, err
		}
	case rec.Next != nil:
		target = *rec.Next
	}

	draft := &ReadingDraft{
		TenantID:         t.ID,
		UnitID:           t.UnitID,
		Period:           target,
		PreviousReading:  decimal.Zero,
		PreviousEditable: true,
		RatePerUnit:      rate,
		Missing:          rec.Missing,
	}

	idx := readingIndex(readings)
	if existing, ok := idx[target]; ok {
		draft.Duplicate = true
		draft.Existing = &existing
		draft.PreviousReading = existing.PreviousReading
		return draft, nil
	}
	if rec.Next != nil && rec.Next.Before(target) {
		return nil, invalid("month", "reading for %s must be recorded before %s", *rec.Next, target)
	}
	if prev, ok := idx[target.Prev()]; ok {
		draft.PreviousReading = prev.CurrentReading
		draft.PreviousEditable = false
	}
	return draft, nil
}

// inRange rejects periods before the billing start or after the current month.
func inRange(p Period, start, now time.Time) error {
	if p.Before(PeriodOf(start)) {
		return invalid("month", "%s is before the lease start (%s)", p, PeriodOf(start))
	}
	if PeriodOf(now).Before(p) {
		return invalid("month", "%s is in the future", p)
	}
	return nil
}

func validateReadingInput(in ReadingInput) error {
	p := Period{Month: in.Month, Year: in.Year}
	switch {
	case in.TenantID == "":
		return invalid("tenantId", "is required")
	case in.Month < 1 || in.Month > 12:
		return invalid("month", "must be between 1 and 12")
	case !p.Valid():
		return invalid("year", "%d is out of range", in.Year)
	case in.PreviousReading.IsNegative():
		return invalid("previousReading", "must not be negative")
	case in.CurrentReading.IsNegative():
		return invalid("currentReading", "must not be negative")
	case in.RatePerUnit.IsNegative():
		return invalid("ratePerUnit", "must not be negative")
	}
	return nil
}

// Record validates and stores a reading. A reading that already exists for
// the period is a DuplicateError unless override is set, in which case the
// existing row is replaced in place.
func (s *ReadingService) Record(ctx context.Context, in ReadingInput, override bool) (*storage.WaterReading, error) {
	if err := validateReadingInput(in); err != nil {
		return nil, err
	}
	t, err := s.tenant(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}
	if in.UnitID, err = s.readingUnit(ctx, t, in.UnitID); err != nil {
		return nil, err
	}
	period := Period{Month: in.Month, Year: in.Year}
	key := fmt.Sprintf("tenant %s %s", t.ID, period.Key())

	existing, err := s.store.FindReading(ctx, t.ID, in.Month, in.Year)
	if err != nil {
		return nil, fmt.Errorf("find reading: %w", err)
	}
	if existing != nil {
		if !override {
			return nil, &DuplicateError{Entity: "water reading", Key: key, Existing: existing}
		}
		return s.overwrite(ctx, *existing, in, "overridden")
	}

	now := s.opts.Now().UTC()
	start, err := billingStart(ctx, s.store, t, now)
	if err != nil {
		return nil, fmt.Errorf("load leases: %w", err)
	}
	if err := inRange(period, start, now); err != nil {
		return nil, err
	}

	readings, err := s.store.ListReadings(ctx, storage.ReadingFilter{TenantID: t.ID})
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	rec := Reconcile(readings, start, now)
	if rec.Next != nil && *rec.Next != period {
		return nil, invalid("month", "reading for %s must be recorded before %s", *rec.Next, period)
	}

	usage := s.usage(in, t.ID, period)
	r := storage.WaterReading{
		ID:              uuid.NewString(),
		TenantID:        t.ID,
		UnitID:          in.UnitID,
		PreviousReading: in.PreviousReading,
		CurrentReading:  in.CurrentReading,
		UnitsConsumed:   usage.Units,
		RatePerUnit:     in.RatePerUnit,
		AmountDue:       usage.Amount,
		Month:           in.Month,
		Year:            in.Year,
		RecordedBy:      in.RecordedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateReading(ctx, r); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost a race with a concurrent insert for the same period.
			current, _ := s.store.FindReading(ctx, t.ID, in.Month, in.Year)
			return nil, &DuplicateError{Entity: "water reading", Key: key, Existing: current}
		}
		return nil, fmt.Errorf("create reading: %w", err)
	}
	metrics.ReadingsRecordedTotal.WithLabelValues("created").Inc()
	s.log.Info("water reading recorded",
		zap.String("tenant", t.ID), zap.String("period", period.Key()),
		zap.String("units", usage.Units.String()))
	return &r, nil
}

// readingUnit resolves the unit a tenant's reading is stored under. Bills pick
// readings up through the unit's property, so only the tenant's own unit is
// accepted.
func (s *ReadingService) readingUnit(ctx context.Context, t *storage.Tenant, unitID string) (string, error) {
	if unitID != "" && unitID != t.UnitID {
		return "", invalid("unitId", "%s is not the unit of tenant %s", unitID, t.ID)
	}
	u, err := s.store.GetUnit(ctx, t.UnitID)
	if err != nil {
		return "", fmt.Errorf("load unit: %w", err)
	}
	if u == nil {
		return "", notFound("unit", t.UnitID)
	}
	return u.ID, nil
}

func (s *ReadingService) overwrite(ctx context.Context, r storage.WaterReading, in ReadingInput, outcome string) (*storage.WaterReading, error) {
	usage := s.usage(in, r.TenantID, Period{Month: r.Month, Year: r.Year})
	r.UnitID = in.UnitID
	r.PreviousReading = in.PreviousReading
	r.CurrentReading = in.CurrentReading
	r.RatePerUnit = in.RatePerUnit
	r.UnitsConsumed = usage.Units
	r.AmountDue = usage.Amount
	if in.RecordedBy != "" {
		r.RecordedBy = in.RecordedBy
	}
	r.UpdatedAt = s.opts.Now().UTC()
	if err := s.store.UpdateReading(ctx, r); err != nil {
		return nil, translateStoreErr(err, "water reading", r.ID)
	}
	metrics.ReadingsRecordedTotal.WithLabelValues(outcome).Inc()
	s.log.Info("water reading rewritten", zap.String("id", r.ID),
		zap.String("tenant", r.TenantID), zap.String("outcome", outcome))
	return &r, nil
}

func (s *ReadingService) usage(in ReadingInput, tenantID string, p Period) Usage {
	u := ComputeUsage(in.PreviousReading, in.CurrentReading, in.RatePerUnit)
	if u.Clamped {
		metrics.ReadingsClampedTotal.Inc()
		s.log.Warn("current reading below previous, usage clamped to zero",
			zap.String("tenant", tenantID), zap.String("period", p.Key()),
			zap.String("previous", in.PreviousReading.String()),
			zap.String("current", in.CurrentReading.String()))
	}
	return u
}

// Update applies an admin edit to an existing reading and recomputes usage.
func (s *ReadingService) Update(ctx context.Context, id string, upd ReadingUpdate) (*storage.WaterReading, error) {
	if id == "" {
		return nil, invalid("id", "is required")
	}
	r, err := s.store.GetReading(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reading: %w", err)
	}
	if r == nil {
		return nil, notFound("water reading", id)
	}
	in := ReadingInput{
		TenantID:        r.TenantID,
		UnitID:          r.UnitID,
		PreviousReading: r.PreviousReading,
		CurrentReading:  r.CurrentReading,
		RatePerUnit:     r.RatePerUnit,
		Month:           r.Month,
		Year:            r.Year,
	}
	if upd.PreviousReading != nil {
		in.PreviousReading = *upd.PreviousReading
	}
	if upd.CurrentReading != nil {
		in.CurrentReading = *upd.CurrentReading
	}
	if upd.RatePerUnit != nil {
		in.RatePerUnit = *upd.RatePerUnit
	}
	if err := validateReadingInput(in); err != nil {
		return nil, err
	}
	return s.overwrite(ctx, *r, in, "updated")
}

func (s *ReadingService) List(ctx context.Context, f storage.ReadingFilter) ([]storage.WaterReading, error) {
	if f.Month != 0 && (f.Month < 1 || f.Month > 12) {
		return nil, invalid("month", "must be between 1 and 12")
	}
	return s.store.ListReadings(ctx, f)
}

// Stats reports how many occupied units of a property have a reading for the period.
func (s *ReadingService) Stats(ctx context.Context, propertyID string, p Period) (*ReadingStats, error) {
	if !p.Valid() {
		return nil, invalid("month", "period %d/%d is not a valid month", p.Month, p.Year)
	}
	prop, err := s.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load property: %w", err)
	}
	if prop == nil {
		return nil, notFound("property", propertyID)
	}
	tenants, err := s.store.ListOccupiedTenants(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}
	readings, err := s.store.ListReadings(ctx, storage.ReadingFilter{PropertyID: propertyID, Month: p.Month, Year: p.Year})
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	byTenant := make(map[string]storage.WaterReading, len(readings))
	for _, r := range readings {
		byTenant[r.TenantID] = r
	}

	stats := &ReadingStats{Period: p, TotalTenants: len(tenants), TotalUnits: decimal.Zero, TotalAmount: decimal.Zero}
	for _, tu := range tenants {
		r, ok := byTenant[tu.Tenant.ID]
		if !ok {
			stats.Missing++
			continue
		}
		stats.Recorded++
		stats.TotalUnits = stats.TotalUnits.Add(r.UnitsConsumed)
		stats.TotalAmount = stats.TotalAmount.Add(r.AmountDue)
	}
	return stats, nil
}

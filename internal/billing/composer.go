package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bher20/rentledger/internal/metrics"
	"github.com/bher20/rentledger/internal/storage"
)

// BillLine is the computed bill for one tenant.
type BillLine struct {
	TenantID         string          `json:"tenantId"`
	TenantName       string          `json:"tenantName"`
	UnitID           string          `json:"unitId"`
	UnitNumber       string          `json:"unitNumber"`
	Rent             decimal.Decimal `json:"rent"`
	Water            decimal.Decimal `json:"water"`
	Garbage          decimal.Decimal `json:"garbage"`
	RecurringCharges []ChargeLine    `json:"recurringCharges"`
	RecurringTotal   decimal.Decimal `json:"recurringChargesTotal"`
	Total            decimal.Decimal `json:"total"`
	BillExists       bool            `json:"billExists"`
	ExistingBillID   string          `json:"existingBillId,omitempty"`
}

// PreviewSummary aggregates a preview.
type PreviewSummary struct {
	TotalTenants             int `json:"totalTenants"`
	TenantsWithExistingBills int `json:"tenantsWithExistingBills"`
	NewBillsToGenerate       int `json:"newBillsToGenerate"`
	// TotalAmount sums every line, billed or not.
	TotalAmount decimal.Decimal `json:"totalAmount"`
	// NewBillsAmount sums only the lines a generate run would create.
	NewBillsAmount decimal.Decimal `json:"newBillsAmount"`
}

// Preview is the per-tenant breakdown for a property and period.
type Preview struct {
	PropertyID string         `json:"propertyId"`
	Period     Period         `json:"period"`
	Lines      []BillLine     `json:"preview"`
	Summary    PreviewSummary `json:"summary"`
}

// Failure records a tenant whose bill could not be created.
type Failure struct {
	TenantID string `json:"tenantId"`
	Error    string `json:"error"`
}

// GenerateResult is the outcome of a generate run.
type GenerateResult struct {
	PropertyID  string          `json:"propertyId"`
	Period      Period          `json:"period"`
	Bills       []storage.Bill  `json:"bills"`
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	// Skipped counts tenants that already had a bill for the period.
	Skipped  int       `json:"skipped"`
	Failures []Failure `json:"failures,omitempty"`
}

// Composer assembles monthly bills from rent, water, garbage and recurring charges.
type Composer struct {
	store storage.Storage
	log   *zap.Logger
	opts  Options
}

func NewComposer(st storage.Storage, log *zap.Logger, opts Options) *Composer {
	return &Composer{store: st, log: nopIfNil(log), opts: opts.withDefaults()}
}

// composeInput is everything loaded once per property and period.
type composeInput struct {
	property storage.Property
	tenants  []storage.TenantUnit
	charges  []storage.RecurringCharge
	readings map[string]storage.WaterReading
	bills    map[string]storage.Bill
}

func (c *Composer) load(ctx context.Context, propertyID string, p Period) (*composeInput, error) {
	if propertyID == "" {
		return nil, invalid("propertyId", "is required")
	}
	if !p.Valid() {
		return nil, invalid("month", "period %d/%d is not a valid month", p.Month, p.Year)
	}
	prop, err := c.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load property: %w", err)
	}
	if prop == nil {
		return nil, notFound("property", propertyID)
	}
	tenants, err := c.store.ListOccupiedTenants(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}
	charges, err := c.store.ListRecurringCharges(ctx, storage.ChargeFilter{PropertyID: propertyID, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("load recurring charges: %w", err)
	}
	readings, err := c.store.ListReadings(ctx, storage.ReadingFilter{PropertyID: propertyID, Month: p.Month, Year: p.Year})
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	bills, err := c.store.ListBills(ctx, storage.BillFilter{Period: p.Key()})
	if err != nil {
		return nil, fmt.Errorf("load bills: %w", err)
	}

	in := &composeInput{
		property: *prop,
		tenants:  tenants,
		charges:  charges,
		readings: make(map[string]storage.WaterReading, len(readings)),
		bills:    make(map[string]storage.Bill, len(bills)),
	}
	for _, r := range readings {
		in.readings[r.TenantID] = r
	}
	for _, b := range bills {
		in.bills[b.TenantID] = b
	}
	return in, nil
}

func (c *Composer) line(ctx context.Context, in *composeInput, tu storage.TenantUnit, p Period) (BillLine, error) {
	rent := tu.Tenant.RentAmount
	if rent.IsZero() {
		rent = tu.Unit.RentAmount
	}

	water := decimal.Zero
	if r, ok := in.readings[tu.Tenant.ID]; ok {
		water = r.AmountDue
	}

	garbage := decimal.Zero
	if in.property.ChargesGarbageFee {
		fee, err := c.store.FindGarbageFee(ctx, tu.Tenant.ID, p.Key())
		if err != nil {
			return BillLine{}, fmt.Errorf("load garbage fee: %w", err)
		}
		if fee != nil {
			garbage = fee.Amount
		} else {
			garbage = in.property.DefaultGarbageFee
		}
	}

	lines, recurring := chargeLines(MatchCharges(tu.Unit, in.charges))
	line := BillLine{
		TenantID:         tu.Tenant.ID,
		TenantName:       tu.Tenant.FullName(),
		UnitID:           tu.Unit.ID,
		UnitNumber:       tu.Unit.UnitNumber,
		Rent:             rent,
		Water:            water,
		Garbage:          garbage,
		RecurringCharges: lines,
		RecurringTotal:   recurring,
		Total:            rent.Add(water).Add(garbage).Add(recurring),
	}
	if b, ok := in.bills[tu.Tenant.ID]; ok {
		line.BillExists = true
		line.ExistingBillID = b.ID
	}
	return line, nil
}

// Preview computes the bill for every occupied unit without writing anything.
func (c *Composer) Preview(ctx context.Context, propertyID string, p Period) (*Preview, error) {
	in, err := c.load(ctx, propertyID, p)
	if err != nil {
		return nil, err
	}
	out := &Preview{
		PropertyID: propertyID,
		Period:     p,
		Lines:      make([]BillLine, 0, len(in.tenants)),
		Summary:    PreviewSummary{TotalTenants: len(in.tenants), TotalAmount: decimal.Zero, NewBillsAmount: decimal.Zero},
	}
	for _, tu := range in.tenants {
		line, err := c.line(ctx, in, tu, p)
		if err != nil {
			return nil, err
		}
		out.Lines = append(out.Lines, line)
		out.Summary.TotalAmount = out.Summary.TotalAmount.Add(line.Total)
		if line.BillExists {
			out.Summary.TenantsWithExistingBills++
			continue
		}
		out.Summary.NewBillsToGenerate++
		out.Summary.NewBillsAmount = out.Summary.NewBillsAmount.Add(line.Total)
	}
	return out, nil
}

// Generate creates a bill for every occupied unit that lacks one for the
// period. Tenants are billed independently; a failure for one is recorded in
// the result and does not stop the others.
func (c *Composer) Generate(ctx context.Context, propertyID string, p Period) (*GenerateResult, error) {
	in, err := c.load(ctx, propertyID, p)
	if err != nil {
		return nil, err
	}
	if len(in.tenants) == 0 {
		return nil, invalid("propertyId", "no occupied units found for this property")
	}

	res := &GenerateResult{PropertyID: propertyID, Period: p, Bills: []storage.Bill{}, TotalAmount: decimal.Zero}
	var mu sync.Mutex
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, tu := range in.tenants {
		if _, ok := in.bills[tu.Tenant.ID]; ok {
			record(func() { res.Skipped++ })
			continue
		}
		g.Go(func() error {
			bill, err := c.generateOne(gctx, in, tu, p)
			switch {
			case errors.Is(err, storage.ErrDuplicate):
				record(func() { res.Skipped++ })
			case err != nil:
				c.log.Error("bill generation failed",
					zap.String("property", propertyID), zap.String("tenant", tu.Tenant.ID),
					zap.String("period", p.Key()), zap.Error(err))
				metrics.BillGenerationFailuresTotal.WithLabelValues(propertyID).Inc()
				record(func() { res.Failures = append(res.Failures, Failure{TenantID: tu.Tenant.ID, Error: err.Error()}) })
			default:
				record(func() {
					res.Bills = append(res.Bills, *bill)
					res.TotalAmount = res.TotalAmount.Add(bill.TotalAmount)
				})
			}
			// Per-tenant errors never cancel the group.
			return nil
		})
	}
	_ = g.Wait()

	res.Count = len(res.Bills)
	metrics.BillsGeneratedTotal.WithLabelValues(propertyID).Add(float64(res.Count))
	c.log.Info("bills generated",
		zap.String("property", propertyID), zap.String("period", p.Key()),
		zap.Int("created", res.Count), zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Failures)), zap.String("total", res.TotalAmount.String()))
	return res, nil
}

func (c *Composer) generateOne(ctx context.Context, in *composeInput, tu storage.TenantUnit, p Period) (*storage.Bill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	existing, err := c.store.FindBill(ctx, tu.Tenant.ID, p.Key())
	if err != nil {
		return nil, fmt.Errorf("check existing bill: %w", err)
	}
	if existing != nil {
		return nil, storage.ErrDuplicate
	}
	line, err := c.line(ctx, in, tu, p)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now().UTC()
	bill := storage.Bill{
		ID:                    uuid.NewString(),
		TenantID:              tu.Tenant.ID,
		UnitID:                tu.Unit.ID,
		PropertyID:            in.property.ID,
		Period:                p.Key(),
		Month:                 p.Start(),
		RentAmount:            line.Rent,
		WaterAmount:           line.Water,
		GarbageAmount:         line.Garbage,
		RecurringChargesTotal: line.RecurringTotal,
		TotalAmount:           line.Total,
		Status:                storage.BillPending,
		DueDate:               p.Day(c.opts.DueDay),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := c.store.CreateBill(ctx, bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

package billing

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bher20/rentledger/internal/storage"
)

// ChargeInput creates or replaces a recurring charge.
type ChargeInput struct {
	PropertyIDs   []string
	Name          string
	Description   string
	Category      string
	Amount        decimal.Decimal
	Frequency     storage.ChargeFrequency
	BillingDay    int
	AppliesTo     storage.ChargeScope
	SpecificUnits []string
	UnitTypes     []string
	IsActive      *bool
	CreatedBy     string
}

// ChargeService manages recurring charge configuration.
type ChargeService struct {
	store storage.Storage
	log   *zap.Logger
	opts  Options
}

func NewChargeService(st storage.Storage, log *zap.Logger, opts Options) *ChargeService {
	return &ChargeService{store: st, log: nopIfNil(log), opts: opts.withDefaults()}
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// normalize applies defaults and checks every field, including that
// referenced properties and units exist.
func (s *ChargeService) normalize(ctx context.Context, in ChargeInput) (ChargeInput, error) {
	in.PropertyIDs = dedupe(in.PropertyIDs)
	in.SpecificUnits = dedupe(in.SpecificUnits)
	in.UnitTypes = dedupe(in.UnitTypes)
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)

	if len(in.PropertyIDs) == 0 {
		return in, invalid("propertyIds", "at least one property is required")
	}
	if in.Name == "" {
		return in, invalid("name", "is required")
	}
	if in.Category == "" {
		return in, invalid("category", "is required")
	}
	if !in.Amount.IsPositive() {
		return in, invalid("amount", "must be greater than zero")
	}
	switch in.Frequency {
	case storage.FrequencyMonthly, storage.FrequencyQuarterly, storage.FrequencyAnnual:
	case "":
		return in, invalid("frequency", "is required")
	default:
		return in, invalid("frequency", "unknown frequency %q", in.Frequency)
	}
	if in.BillingDay == 0 {
		in.BillingDay = 1
	}
	if in.BillingDay < 1 || in.BillingDay > 28 {
		return in, invalid("billingDay", "must be between 1 and 28")
	}
	if in.AppliesTo == "" {
		in.AppliesTo = storage.ScopeAllUnits
	}
	switch in.AppliesTo {
	case storage.ScopeAllUnits:
		in.SpecificUnits, in.UnitTypes = nil, nil
	case storage.ScopeSpecificUnits:
		if len(in.SpecificUnits) == 0 {
			return in, invalid("specificUnits", "at least one unit is required")
		}
		in.UnitTypes = nil
	case storage.ScopeUnitTypes:
		if len(in.UnitTypes) == 0 {
			return in, invalid("unitTypes", "at least one unit type is required")
		}
		in.SpecificUnits = nil
	default:
		return in, invalid("appliesTo", "unknown scope %q", in.AppliesTo)
	}

	for _, id := range in.PropertyIDs {
		p, err := s.store.GetProperty(ctx, id)
		if err != nil {
			return in, fmt.Errorf("load property: %w", err)
		}
		if p == nil {
			return in, notFound("property", id)
		}
	}
	for _, id := range in.SpecificUnits {
		u, err := s.store.GetUnit(ctx, id)
		if err != nil {
			return in, fmt.Errorf("load unit: %w", err)
		}
		if u == nil {
			return in, notFound("unit", id)
		}
		if !slices.Contains(in.PropertyIDs, u.PropertyID) {
			return in, invalid("specificUnits", "unit %s is not in any of the selected properties", id)
		}
	}
	return in, nil
}

func (s *ChargeService) Create(ctx context.Context, in ChargeInput) (*storage.RecurringCharge, error) {
	in, err := s.normalize(ctx, in)
	if err != nil {
		return nil, err
	}
	now := s.opts.Now().UTC()
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	c := storage.RecurringCharge{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Description:   in.Description,
		Category:      in.Category,
		Amount:        in.Amount,
		Frequency:     in.Frequency,
		BillingDay:    in.BillingDay,
		AppliesTo:     in.AppliesTo,
		IsActive:      active,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
		PropertyIDs:   in.PropertyIDs,
		SpecificUnits: in.SpecificUnits,
		UnitTypes:     in.UnitTypes,
	}
	if err := s.store.CreateRecurringCharge(ctx, c); err != nil {
		return nil, translateStoreErr(err, "recurring charge", c.ID)
	}
	s.log.Info("recurring charge created", zap.String("id", c.ID),
		zap.String("name", c.Name), zap.Strings("properties", c.PropertyIDs))
	return &c, nil
}

// Update replaces the configuration of an existing charge.
func (s *ChargeService) Update(ctx context.Context, id string, in ChargeInput) (*storage.RecurringCharge, error) {
	if id == "" {
		return nil, invalid("id", "is required")
	}
	current, err := s.store.GetRecurringCharge(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load recurring charge: %w", err)
	}
	if current == nil {
		return nil, notFound("recurring charge", id)
	}
	in, err = s.normalize(ctx, in)
	if err != nil {
		return nil, err
	}
	c := *current
	c.Name = in.Name
	c.Description = in.Description
	c.Category = in.Category
	c.Amount = in.Amount
	c.Frequency = in.Frequency
	c.BillingDay = in.BillingDay
	c.AppliesTo = in.AppliesTo
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	c.PropertyIDs = in.PropertyIDs
	c.SpecificUnits = in.SpecificUnits
	c.UnitTypes = in.UnitTypes
	c.UpdatedAt = s.opts.Now().UTC()
	if err := s.store.UpdateRecurringCharge(ctx, c); err != nil {
		return nil, translateStoreErr(err, "recurring charge", id)
	}
	s.log.Info("recurring charge updated", zap.String("id", id))
	return &c, nil
}

func (s *ChargeService) Get(ctx context.Context, id string) (*storage.RecurringCharge, error) {
	c, err := s.store.GetRecurringCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("recurring charge", id)
	}
	return c, nil
}

func (s *ChargeService) List(ctx context.Context, propertyID string, activeOnly bool) ([]storage.RecurringCharge, error) {
	return s.store.ListRecurringCharges(ctx, storage.ChargeFilter{PropertyID: propertyID, ActiveOnly: activeOnly})
}

func (s *ChargeService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return invalid("id", "is required")
	}
	if err := s.store.DeleteRecurringCharge(ctx, id); err != nil {
		return translateStoreErr(err, "recurring charge", id)
	}
	s.log.Info("recurring charge deleted", zap.String("id", id))
	return nil
}

package billing

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/bher20/rentledger/internal/storage"
)

// Applies reports whether a recurring charge applies to the unit.
func Applies(c storage.RecurringCharge, unit storage.Unit) bool {
	if !c.IsActive || !slices.Contains(c.PropertyIDs, unit.PropertyID) {
		return false
	}
	switch c.AppliesTo {
	case storage.ScopeAllUnits:
		return true
	case storage.ScopeSpecificUnits:
		return slices.Contains(c.SpecificUnits, unit.ID)
	case storage.ScopeUnitTypes:
		return unit.Type != "" && slices.Contains(c.UnitTypes, unit.Type)
	default:
		return false
	}
}

// MatchCharges returns the charges that apply to the unit, in input order.
func MatchCharges(unit storage.Unit, charges []storage.RecurringCharge) []storage.RecurringCharge {
	var out []storage.RecurringCharge
	for _, c := range charges {
		if Applies(c, unit) {
			out = append(out, c)
		}
	}
	return out
}

// ChargeLine is a matched charge as it appears on a bill.
type ChargeLine struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

func chargeLines(charges []storage.RecurringCharge) ([]ChargeLine, decimal.Decimal) {
	lines := make([]ChargeLine, 0, len(charges))
	total := decimal.Zero
	for _, c := range charges {
		lines = append(lines, ChargeLine{ID: c.ID, Name: c.Name, Category: c.Category, Amount: c.Amount})
		total = total.Add(c.Amount)
	}
	return lines, total
}

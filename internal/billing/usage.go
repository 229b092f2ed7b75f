package billing

import "github.com/shopspring/decimal"

// Usage is the consumption and charge derived from a pair of meter readings.
type Usage struct {
	Units  decimal.Decimal `json:"unitsConsumed"`
	Amount decimal.Decimal `json:"amountDue"`
	// Clamped is set when the current reading was below the previous one.
	Clamped bool `json:"clamped,omitempty"`
}

// ComputeUsage returns max(0, cur-prev) units and units*rate as the amount.
// A meter that reads lower than before yields zero usage rather than an error.
func ComputeUsage(prev, cur, rate decimal.Decimal) Usage {
	units := cur.Sub(prev)
	clamped := false
	if units.IsNegative() {
		units = decimal.Zero
		clamped = true
	}
	return Usage{
		Units:   units,
		Amount:  units.Mul(rate),
		Clamped: clamped,
	}
}

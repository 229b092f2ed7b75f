package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bher20/rentledger/internal/storage"
)

// Reconciliation summarises a tenant's reading history against the lease.
type Reconciliation struct {
	// Missing lists every period from the lease start to now without a reading, oldest first.
	Missing []Period `json:"missing"`
	// Next is the earliest missing period, or nil when the history is complete.
	Next *Period `json:"next,omitempty"`
	// PreviousReading pre-fills the reading for Next.
	PreviousReading decimal.Decimal `json:"previousReading"`
	// PreviousEditable is true when no reading exists for the period before Next.
	PreviousEditable bool                  `json:"previousEditable"`
	Latest           *storage.WaterReading `json:"latest,omitempty"`
}

// Complete reports whether every period up to now has a reading.
func (r Reconciliation) Complete() bool { return r.Next == nil }

func readingIndex(readings []storage.WaterReading) map[Period]storage.WaterReading {
	idx := make(map[Period]storage.WaterReading, len(readings))
	for _, r := range readings {
		idx[Period{Month: r.Month, Year: r.Year}] = r
	}
	return idx
}

// MissingPeriods walks month by month from the lease start period to the
// period containing now and returns every period that has no reading.
func MissingPeriods(readings []storage.WaterReading, leaseStart, now time.Time) []Period {
	have := readingIndex(readings)
	var missing []Period
	for _, p := range periodsBetween(PeriodOf(leaseStart), PeriodOf(now)) {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Reconcile computes the missing periods, the mandatory next period and the
// previous reading that period should start from.
func Reconcile(readings []storage.WaterReading, leaseStart, now time.Time) Reconciliation {
	idx := readingIndex(readings)
	rec := Reconciliation{
		Missing:          MissingPeriods(readings, leaseStart, now),
		PreviousReading:  decimal.Zero,
		PreviousEditable: true,
	}

	for _, r := range readings {
		if rec.Latest == nil || (Period{Month: rec.Latest.Month, Year: rec.Latest.Year}).Before(Period{Month: r.Month, Year: r.Year}) {
			cp := r
			rec.Latest = &cp
		}
	}

	if len(rec.Missing) == 0 {
		return rec
	}
	next := rec.Missing[0]
	rec.Next = &next
	if prev, ok := idx[next.Prev()]; ok {
		rec.PreviousReading = prev.CurrentReading
		rec.PreviousEditable = false
	}
	return rec
}

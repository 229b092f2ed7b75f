package tariff

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	pdf "github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"
)

var (
	// ErrRateNotFound is returned when no per-unit water rate can be located.
	ErrRateNotFound = errors.New("no per-unit water rate found in tariff")
	// ErrUnreadable is returned when the file is missing or is not a readable PDF.
	ErrUnreadable = errors.New("tariff file is not a readable pdf")
)

// Tariff is the water pricing extracted from a utility tariff document.
type Tariff struct {
	RatePerUnit   decimal.Decimal `json:"ratePerUnit"`
	Unit          string          `json:"unit"`
	EffectiveDate string          `json:"effectiveDate,omitempty"`
	Source        string          `json:"source"`
}

var (
	// "Water Charge: KES 120.50 per cubic metre", "Consumption rate 3.25 / 1,000 gallons"
	rateRe = regexp.MustCompile(`(?i)(?:water|consumption|usage|volumetric)\s*(?:charge|rate|tariff)[:\s]*` +
		`(?:KES|KSh|USD|\$)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(?:per|/)\s*` +
		`(cubic\s+met(?:re|er)s?|m3|m³|units?|1,?000\s+gallons|gallons?|ccf)`)
	effectiveRe = regexp.MustCompile(`(?i)effective(?:\s+date)?(?:\s+from)?[:\s]*` +
		`([A-Z][a-z]+\s+\d{1,2},?\s+\d{4}|\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// ParseFile extracts the per-unit water rate from a tariff PDF.
func ParseFile(path string) (*Tariff, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	rc, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("%w: extract text: %v", ErrUnreadable, err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	t, err := ParseText(buf.String())
	if err != nil {
		return nil, err
	}
	t.Source = path
	return t, nil
}

// ParseText finds the first per-unit water rate in plain tariff text.
func ParseText(text string) (*Tariff, error) {
	m := rateRe.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrRateNotFound
	}
	rate, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", m[1], err)
	}
	if !rate.IsPositive() {
		return nil, ErrRateNotFound
	}
	t := &Tariff{RatePerUnit: rate, Unit: normalizeUnit(m[2]), Source: "text"}
	if e := effectiveRe.FindStringSubmatch(text); e != nil {
		t.EffectiveDate = spaceRe.ReplaceAllString(e[1], " ")
	}
	return t, nil
}

func normalizeUnit(u string) string {
	u = strings.ToLower(spaceRe.ReplaceAllString(u, " "))
	switch {
	case strings.HasPrefix(u, "cubic"), u == "m3", u == "m³":
		return "m3"
	case strings.HasPrefix(u, "unit"):
		return "unit"
	case strings.HasPrefix(u, "1"):
		return "1000 gallons"
	case strings.HasPrefix(u, "gallon"):
		return "gallon"
	default:
		return u
	}
}

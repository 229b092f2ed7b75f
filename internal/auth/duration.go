package auth

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var shortDuration = regexp.MustCompile(`^(\d+)([dwh])$`)

// ParseExpiry turns a token lifetime into an absolute expiry relative to now.
// Accepted: "" or "never" (no expiry), Go durations ("90m"), day/week/hour
// shorthands ("30d", "2w", "12h") and calendar dates ("2026-12-31").
func ParseExpiry(expiresIn string, now time.Time) (*time.Time, error) {
	if expiresIn == "" || expiresIn == "never" {
		return nil, nil
	}
	if dur, err := time.ParseDuration(expiresIn); err == nil {
		if dur <= 0 {
			return nil, fmt.Errorf("expiry must be positive: %s", expiresIn)
		}
		t := now.Add(dur)
		return &t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, expiresIn, time.UTC); err == nil {
			if !t.After(now) {
				return nil, fmt.Errorf("expiry date must be in the future: %s", expiresIn)
			}
			return &t, nil
		}
	}

	m := shortDuration.FindStringSubmatch(expiresIn)
	if m == nil {
		return nil, fmt.Errorf("invalid expiry %q (use never, 30d, 2w, 24h, 90m or 2026-12-31)", expiresIn)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return nil, fmt.Errorf("invalid expiry %q", expiresIn)
	}
	unit := time.Hour
	switch m[2] {
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	t := now.Add(time.Duration(n) * unit)
	return &t, nil
}

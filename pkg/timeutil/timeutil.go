// Package timeutil provides timezone and formatting helpers shared by the
// scheduler and the CLI. No external dependencies - uses only standard
// library.
package timeutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// LoadZone resolves a zone name. Besides IANA names it accepts fixed
// offsets such as "UTC+5" or "+05:30", which work on hosts without tzdata.
// An empty name is UTC.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	if loc, ok := parseOffset(name); ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown zone %q: %w", name, err)
	}
	return loc, nil
}

// parseOffset reads "[UTC]±H[H][:MM]".
func parseOffset(s string) (*time.Location, bool) {
	rest := strings.TrimPrefix(strings.ToUpper(s), "UTC")
	if rest == "" || (rest[0] != '+' && rest[0] != '-') {
		return nil, false
	}
	sign := 1
	if rest[0] == '-' {
		sign = -1
	}
	hh, mm, _ := strings.Cut(rest[1:], ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h > 14 {
		return nil, false
	}
	m := 0
	if mm != "" {
		if m, err = strconv.Atoi(mm); err != nil || m > 59 {
			return nil, false
		}
	}
	offset := sign * (h*3600 + m*60)
	return time.FixedZone(s, offset), true
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the number of calendar days from t1 to t2 in t1's
// location. It is negative when t2 is earlier.
func DaysBetween(t1, t2 time.Time) int {
	a := StartOfDay(t1)
	b := StartOfDay(t2.In(t1.Location()))
	// round, since a DST change makes a day 23 or 25 hours
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// FormatRelative renders t relative to now, e.g. "in 5m" or "3h ago".
// The zero time renders as "never".
func FormatRelative(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := t.Sub(now)
	switch {
	case d > -time.Second && d < time.Second:
		return "now"
	case d < 0:
		return compact(-d) + " ago"
	default:
		return "in " + compact(d)
	}
}

// compact formats d with its largest unit only.
func compact(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CronExpression represents a parsed cron expression. It implements
// Schedule, so it can be registered like an interval.
// Supports standard 5-field format: minute hour day-of-month month day-of-week
// Examples:
//   - "*/5 * * * *"  - every 5 minutes
//   - "0 * * * *"    - every hour
//   - "0 3 * * *"    - every day at 03:00
type CronExpression struct {
	raw      string
	minutes  []int // 0-59
	hours    []int // 0-23
	days     []int // 1-31
	months   []int // 1-12
	weekdays []int // 0-6 (0 = Sunday)
}

var _ Schedule = (*CronExpression)(nil)

// ParseCronExpression parses a cron expression string.
// Supports: *, */n, n, n-m, n-m/s, n,m,o
func ParseCronExpression(expr string) (*CronExpression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression: expected 5 fields, got %d", len(fields))
	}

	ce := &CronExpression{raw: expr}
	var err error

	if ce.minutes, err = parseField(fields[0], 0, 59); err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	if ce.hours, err = parseField(fields[1], 0, 23); err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	if ce.days, err = parseField(fields[2], 1, 31); err != nil {
		return nil, fmt.Errorf("invalid day field: %w", err)
	}
	if ce.months, err = parseField(fields[3], 1, 12); err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	if ce.weekdays, err = parseField(fields[4], 0, 6); err != nil {
		return nil, fmt.Errorf("invalid weekday field: %w", err)
	}
	return ce, nil
}

func parseField(field string, lo, hi int) ([]int, error) {
	if field == "*" {
		return span(lo, hi, 1), nil
	}

	if base, stepStr, ok := strings.Cut(field, "/"); ok {
		step, err := strconv.Atoi(stepStr)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step value: %s", stepStr)
		}
		start, end := lo, hi
		switch {
		case base == "*":
		case strings.Contains(base, "-"):
			if start, end, err = parseRange(base); err != nil {
				return nil, err
			}
		default:
			if start, err = strconv.Atoi(base); err != nil {
				return nil, fmt.Errorf("invalid step start: %s", base)
			}
		}
		return clip(span(start, end, step), lo, hi), nil
	}

	if strings.Contains(field, ",") {
		var result []int
		for _, p := range strings.Split(field, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("invalid list value: %s", p)
			}
			if v < lo || v > hi {
				return nil, fmt.Errorf("value out of range [%d-%d]: %d", lo, hi, v)
			}
			result = append(result, v)
		}
		slices.Sort(result)
		return slices.Compact(result), nil
	}

	if strings.Contains(field, "-") {
		start, end, err := parseRange(field)
		if err != nil {
			return nil, err
		}
		return clip(span(start, end, 1), lo, hi), nil
	}

	v, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %s", field)
	}
	if v < lo || v > hi {
		return nil, fmt.Errorf("value out of range [%d-%d]: %d", lo, hi, v)
	}
	return []int{v}, nil
}

func parseRange(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid range format: %s", s)
	}
	start, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %s", a)
	}
	end, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end: %s", b)
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid range: %s", s)
	}
	return start, end, nil
}

func span(start, end, step int) []int {
	var out []int
	for i := start; i <= end; i += step {
		out = append(out, i)
	}
	return out
}

func clip(vals []int, lo, hi int) []int {
	return slices.DeleteFunc(vals, func(v int) bool { return v < lo || v > hi })
}

// String returns the original cron expression.
func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after the given time, or
// the zero time if nothing matches within a year.
func (ce *CronExpression) Next(after time.Time) time.Time {
	t := after.Add(time.Minute).Truncate(time.Minute)

	const maxIterations = 366 * 24 * 60
	for i := 0; i < maxIterations; i++ {
		if ce.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}

func (ce *CronExpression) matches(t time.Time) bool {
	return slices.Contains(ce.minutes, t.Minute()) &&
		slices.Contains(ce.hours, t.Hour()) &&
		slices.Contains(ce.days, t.Day()) &&
		slices.Contains(ce.months, int(t.Month())) &&
		slices.Contains(ce.weekdays, int(t.Weekday()))
}

// Common cron expression presets.
const (
	EveryMinute      = "* * * * *"
	Every5Minutes    = "*/5 * * * *"
	EveryHour        = "0 * * * *"
	EveryDayMidnight = "0 0 * * *"
)

// ParseSchedule accepts either "@every <duration>" or a cron expression.
func ParseSchedule(spec string) (Schedule, error) {
	if d, ok := strings.CutPrefix(strings.TrimSpace(spec), "@every "); ok {
		interval, err := time.ParseDuration(strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", d, err)
		}
		if interval <= 0 {
			return nil, fmt.Errorf("invalid interval %q: must be positive", d)
		}
		return NewIntervalSchedule(interval), nil
	}
	return ParseCronExpression(spec)
}

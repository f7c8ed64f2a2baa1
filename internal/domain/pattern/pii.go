package pattern

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Reason names why the PII screen rejected an input. It never carries the
// offending value.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonEmail    Reason = "email_pattern"
	ReasonPhone    Reason = "phone_pattern"
	ReasonPIIField Reason = "pii_field"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{5,}\d`)

	// dateTime covers ISO dates with an optional clock and zone, e.g.
	// "2026-10-16", "2026-10-16 10:30" and "2026-10-16T10:30:00.5+05:00".
	// Matches are blanked before the phone check.
	dateTime = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:\s?(?:Z|[+-]\d{2}:?\d{2}))?)?`)

	// piiFieldNames are compared after lowercasing and stripping '_', '-'
	// and spaces.
	piiFieldNames = map[string]struct{}{
		"name":        {},
		"firstname":   {},
		"lastname":    {},
		"fullname":    {},
		"displayname": {},
		"email":       {},
		"mail":        {},
		"phone":       {},
		"phonenumber": {},
		"mobile":      {},
		"ssn":         {},
		"iin":         {},
		"passport":    {},
		"address":     {},
		"dob":         {},
		"dateofbirth": {},
		"birthdate":   {},
	}
)

const (
	// minPhoneDigits is the digit count from which a digit run in text
	// looks like a phone number.
	minPhoneDigits = 7

	// A bare number is phone-shaped when it is a non-negative integer with
	// a national or E.164 digit count. Smaller numbers are amounts.
	minNumericPhoneDigits = 10
	maxNumericPhoneDigits = 15
)

// ScreenPII walks an attribute bag, nested maps and slices included, and
// reports the first PII indicator found. Keys are checked for email and
// phone shapes too. A PII-named field only triggers when it holds a
// non-empty string or a non-zero number.
func ScreenPII(attrs map[string]any) (Reason, bool) {
	for k, v := range attrs {
		if r := screenString(k); r != ReasonNone {
			return r, false
		}
		if isPIIField(k) && holdsValue(v) {
			return ReasonPIIField, false
		}
		if r := screenValue(v); r != ReasonNone {
			return r, false
		}
	}
	return ReasonNone, true
}

func screenValue(v any) Reason {
	if n, ok := numberText(v); ok {
		return screenNumber(n)
	}
	switch t := v.(type) {
	case string:
		return screenString(t)
	case time.Time, *time.Time:
		return ReasonNone
	case fmt.Stringer:
		return screenString(t.String())
	case map[string]any:
		if r, ok := ScreenPII(t); !ok {
			return r
		}
	case map[string]string:
		for k, s := range t {
			if r := screenValue(map[string]any{k: s}); r != ReasonNone {
				return r
			}
		}
	case []any:
		for _, e := range t {
			if r := screenValue(e); r != ReasonNone {
				return r
			}
		}
	case []string:
		for _, e := range t {
			if r := screenString(e); r != ReasonNone {
				return r
			}
		}
	}
	return ReasonNone
}

func screenString(s string) Reason {
	if emailPattern.MatchString(s) {
		return ReasonEmail
	}
	s = dateTime.ReplaceAllString(s, " ")
	for _, m := range phonePattern.FindAllString(s, -1) {
		if countDigits(m) >= minPhoneDigits {
			return ReasonPhone
		}
	}
	return ReasonNone
}

func screenNumber(n string) Reason {
	if len(n) < minNumericPhoneDigits || len(n) > maxNumericPhoneDigits || countDigits(n) != len(n) {
		return ReasonNone
	}
	return ReasonPhone
}

// numberText renders a numeric value without exponent or trailing zeros,
// so 8.7011234567e10 reads as "87011234567".
func numberText(v any) (string, bool) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), true
	case int:
		return strconv.FormatInt(int64(n), 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
		return n.String(), true
	}
	return "", false
}

func holdsValue(v any) bool {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	if n, ok := numberText(v); ok {
		return strings.Trim(n, "-0.") != ""
	}
	return false
}

func isPIIField(key string) bool {
	normalized := strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, key)
	_, ok := piiFieldNames[normalized]
	return ok
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

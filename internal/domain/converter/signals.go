package converter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Field names recognised in raw events, grouped by the signal they feed.
var (
	financialFields    = []string{"amount", "revenue", "price", "spend"}
	volumeFields       = []string{"volume", "count", "size", "submissions"}
	relationshipFields = []string{"connections", "followers", "relationships", "peers"}
	timeFields         = []string{"time_spent", "timeSpent", "duration", "minutes"}
)

// signals holds the numeric digest of a raw event. It never holds a raw value
// of any other type, so nothing of the original event outlives Convert.
type signals struct {
	financial     float64
	volume        float64
	relationships float64
	timeInvested  float64

	frequency float64
	rate      float64
	delta     float64

	progressX float64
	progressY float64

	complexity float64
	obstacles  float64
	support    float64

	variance   float64
	noise      float64
	fieldCount int
}

func readSignals(raw RawEvent) signals {
	return signals{
		financial:     sumAbs(raw, financialFields),
		volume:        sumAbs(raw, volumeFields),
		relationships: sumAbs(raw, relationshipFields),
		timeInvested:  sumAbs(raw, timeFields),
		frequency:     math.Max(0, number(raw, "frequency")),
		rate:          math.Max(0, number(raw, "rate")),
		delta:         number(raw, "delta"),
		progressX:     firstNumber(raw, "progressX", "progress_x", "x"),
		progressY:     firstNumber(raw, "progressY", "progress_y", "y"),
		complexity:    math.Max(0, number(raw, "complexity")),
		obstacles:     math.Max(0, firstNumber(raw, "obstacles", "obstacle")),
		support:       math.Max(0, number(raw, "support")),
		variance:      math.Max(0, number(raw, "variance")),
		noise:         math.Max(0, number(raw, "noise")),
		fieldCount:    len(raw),
	}
}

// massSignal sums the log-scaled contributions. Each group adds on top of
// the others; clamping happens in Convert.
func (s signals) massSignal() float64 {
	return math.Log10(1+s.financial) +
		0.5*math.Log10(1+s.volume) +
		0.3*math.Log10(1+s.relationships) +
		0.2*math.Log10(1+s.timeInvested)
}

func sumAbs(raw RawEvent, keys []string) float64 {
	var total float64
	for _, k := range keys {
		total += math.Abs(number(raw, k))
	}
	return total
}

func firstNumber(raw RawEvent, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := toFloat64(raw[k]); ok {
			return v
		}
	}
	return 0
}

func number(raw RawEvent, key string) float64 {
	v, _ := toFloat64(raw[key])
	return v
}

// toFloat64 converts the numeric shapes a decoded JSON or YAML document can
// produce. Non-finite values are rejected.
func toFloat64(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case bool:
		if n {
			f = 1
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

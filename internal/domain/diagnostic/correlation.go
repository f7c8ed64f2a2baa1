package diagnostic

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// Causality is the direction of influence in a known sensor pair.
type Causality string

const (
	CausalityAToB          Causality = "a->b"
	CausalityBToA          Causality = "b->a"
	CausalityBidirectional Causality = "bidirectional"
)

// KnownCorrelation is a static, authoritative link between two sensors.
type KnownCorrelation struct {
	A              SensorType `json:"a"`
	B              SensorType `json:"b"`
	Expected       float64    `json:"expected"`
	Causality      Causality  `json:"causality"`
	Interpretation string     `json:"interpretation"`
}

// upstreamOf returns the sensor that drives downstream in this pair.
func (k KnownCorrelation) upstreamOf(downstream SensorType) (SensorType, bool) {
	switch {
	case k.B == downstream && (k.Causality == CausalityAToB || k.Causality == CausalityBidirectional):
		return k.A, true
	case k.A == downstream && (k.Causality == CausalityBToA || k.Causality == CausalityBidirectional):
		return k.B, true
	}
	return "", false
}

var knownCorrelations = []KnownCorrelation{
	{SensorDensity, SensorEnergy, 0.65, CausalityAToB,
		"sparse peer interaction drains energy"},
	{SensorSigma, SensorEnergy, -0.50, CausalityAToB,
		"erratic activity wears energy down"},
	{SensorEnergy, SensorMomentum, 0.75, CausalityAToB,
		"falling energy slows momentum"},
	{SensorSigma, SensorInertia, 0.60, CausalityAToB,
		"rising variability precedes abrupt behaviour shifts"},
	{SensorMomentum, SensorDensity, 0.55, CausalityBidirectional,
		"momentum and interaction density reinforce each other"},
	{SensorInertia, SensorMomentum, -0.45, CausalityBToA,
		"stalled momentum makes behaviour harder to change"},
}

// RootCause cites an upstream sensor for an anomaly.
type RootCause struct {
	Sensor         SensorType `json:"sensor"`
	LatestValue    float64    `json:"latest_value"`
	Observed       bool       `json:"observed"`
	Expected       float64    `json:"expected_correlation"`
	Causality      Causality  `json:"causality"`
	Interpretation string     `json:"interpretation"`
}

// rootCauses lists every static entry where sensor is downstream, strongest
// expected correlation first. Entries are never filtered by recomputed
// strength; an upstream sensor without readings is still cited, with
// Observed false.
func (e *Engine) rootCauses(sensor SensorType) []RootCause {
	out := []RootCause{}
	for _, k := range knownCorrelations {
		up, ok := k.upstreamOf(sensor)
		if !ok {
			continue
		}
		rc := RootCause{
			Sensor:         up,
			Expected:       k.Expected,
			Causality:      k.Causality,
			Interpretation: k.Interpretation,
		}
		if latest, ok := e.Latest(up); ok {
			rc.LatestValue = latest.Value
			rc.Observed = true
		}
		out = append(out, rc)
	}
	slices.SortStableFunc(out, func(x, y RootCause) int {
		return cmp.Compare(math.Abs(y.Expected), math.Abs(x.Expected))
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// DISCOVERED CORRELATIONS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// CorrelationWindow is how many recent readings per sensor are compared.
	CorrelationWindow = 20

	// MinCorrelationSamples is the minimum readings each sensor needs.
	MinCorrelationSamples = 5

	// DiscoveryThreshold is the |r| from which a correlation is recorded.
	DiscoveryThreshold = 0.60
)

// DiscoveredCorrelation is a correlation measured from recent readings.
type DiscoveredCorrelation struct {
	A            SensorType `json:"a"`
	B            SensorType `json:"b"`
	Coefficient  float64    `json:"coefficient"`
	SampleSize   int        `json:"sample_size"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

func pairKey(a, b SensorType) (SensorType, SensorType) {
	if b < a {
		return b, a
	}
	return a, b
}

// CalculateCorrelation computes Pearson's r over the most recent readings of
// two sensors, aligned from the newest backwards. It reports false when the
// sensors are equal or either has fewer than MinCorrelationSamples readings.
// A result with |r| >= DiscoveryThreshold is recorded; a weaker one clears
// any earlier record for the pair.
func (e *Engine) CalculateCorrelation(a, b SensorType) (float64, bool) {
	if a == b || !a.IsValid() || !b.IsValid() {
		return 0, false
	}
	xs := e.recentValues(a)
	ys := e.recentValues(b)
	if len(xs) < MinCorrelationSamples || len(ys) < MinCorrelationSamples {
		return 0, false
	}
	n := min(len(xs), len(ys))
	xs, ys = xs[len(xs)-n:], ys[len(ys)-n:]

	r, ok := shared.Pearson(xs, ys)
	if !ok {
		return 0, false
	}

	ka, kb := pairKey(a, b)
	key := string(ka) + ":" + string(kb)
	if math.Abs(r) >= DiscoveryThreshold {
		e.discovered[key] = DiscoveredCorrelation{
			A:            ka,
			B:            kb,
			Coefficient:  r,
			SampleSize:   n,
			DiscoveredAt: e.now(),
		}
	} else {
		delete(e.discovered, key)
	}
	return r, true
}

// RefreshCorrelations recalculates every sensor pair and returns the number
// of recorded correlations afterwards.
func (e *Engine) RefreshCorrelations() int {
	for i, a := range sensorTypes {
		for _, b := range sensorTypes[i+1:] {
			e.CalculateCorrelation(a, b)
		}
	}
	return len(e.discovered)
}

func (e *Engine) recentValues(s SensorType) []float64 {
	h := e.history[s]
	if len(h) > CorrelationWindow {
		h = h[len(h)-CorrelationWindow:]
	}
	out := make([]float64, len(h))
	for i, r := range h {
		out[i] = r.Value
	}
	return out
}

// DiscoveredCorrelations returns recorded correlations ordered by pair.
func (e *Engine) DiscoveredCorrelations() []DiscoveredCorrelation {
	out := make([]DiscoveredCorrelation, 0, len(e.discovered))
	for _, d := range e.discovered {
		out = append(out, d)
	}
	slices.SortFunc(out, func(x, y DiscoveredCorrelation) int {
		if c := cmp.Compare(x.A, y.A); c != 0 {
			return c
		}
		return cmp.Compare(x.B, y.B)
	})
	return out
}

// KnownCorrelations returns a copy of the static root-cause table.
func (e *Engine) KnownCorrelations() []KnownCorrelation {
	return slices.Clone(knownCorrelations)
}

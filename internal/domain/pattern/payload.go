package pattern

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Payload is the aggregate of all qualified patterns. It contains no
// per-pattern records and is safe to hand to a transport.
type Payload struct {
	Summary              Summary                   `json:"summary"`
	PhysicsDistribution  map[string]Distribution   `json:"physics_distribution"`
	BehaviorDistribution map[string]map[string]int `json:"behavior_distribution"`
	Impacts              map[string]ImpactSummary  `json:"impacts"`
	Insights             []Insight                 `json:"insights"`
	Privacy              Privacy                   `json:"privacy"`
}

// Summary describes the population behind a payload.
type Summary struct {
	TotalPatterns     int       `json:"total_patterns"`
	QualifiedPatterns int       `json:"qualified_patterns"`
	MinConfidence     float64   `json:"min_confidence"`
	MeanConfidence    float64   `json:"mean_confidence"`
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// Histogram counts values per tertile of a metric's fixed domain.
type Histogram struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Distribution summarises one physics metric.
type Distribution struct {
	Mean      float64   `json:"mean"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Count     int       `json:"count"`
	Histogram Histogram `json:"histogram"`
}

// ImpactSummary aggregates one impact feature.
type ImpactSummary struct {
	Mean          float64 `json:"mean"`
	SampleSize    int     `json:"sample_size"`
	PositiveRatio float64 `json:"positive_ratio"`
}

// Insight is a canned statement emitted when an aggregate crosses a fixed
// threshold.
type Insight struct {
	Key     string  `json:"key"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
}

// Privacy is a self-certification, not an independently verified guarantee.
type Privacy struct {
	PIIContained           bool   `json:"pii_contained"`
	AnonymizationLevel     string `json:"anonymization_level"`
	IndividualIdentifiable bool   `json:"individual_identifiable"`
	Method                 string `json:"method"`
}

// metricDomain is the fixed range each physics metric is bucketed over.
type metricDomain struct {
	lo, hi float64
	value  func(PhysicsSnapshot) (float64, bool)
}

var physicsDomains = map[string]metricDomain{
	"mass": {converter.MinMass, converter.MaxMass,
		func(s PhysicsSnapshot) (float64, bool) { return s.Mass, true }},
	"velocity": {converter.MinVelocity, converter.MaxVelocity,
		func(s PhysicsSnapshot) (float64, bool) { return s.Velocity, true }},
	"momentum": {0, converter.MaxMass * converter.MaxVelocity,
		func(s PhysicsSnapshot) (float64, bool) { return s.Momentum, true }},
	"friction": {converter.MinFriction, converter.MaxFriction,
		func(s PhysicsSnapshot) (float64, bool) { return s.Friction, true }},
	"entropy": {converter.MinEntropy, converter.MaxEntropy,
		func(s PhysicsSnapshot) (float64, bool) { return s.Entropy, true }},
	"stability": {0, 1,
		func(s PhysicsSnapshot) (float64, bool) { return s.Stability, true }},
	"success_probability": {0, 1,
		func(s PhysicsSnapshot) (float64, bool) { return s.SuccessProbability, s.HasPrediction }},
}

// Insight thresholds.
const (
	stableMeanThreshold       = 0.7
	highEntropyShareThreshold = 0.3
	highFrictionThreshold     = 0.6
	activeShareThreshold      = 0.5
	successOutlookThreshold   = 0.6
	lowMomentumRatio          = 0.3
)

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATION
// ══════════════════════════════════════════════════════════════════════════════

// GeneratePayload aggregates retained patterns with confidence of at least
// MinConfidence. With none qualifying the payload carries only the summary
// and the privacy block.
func (e *Extractor) GeneratePayload() Payload {
	now := e.now()
	e.sweep(now)

	qualified := make([]*Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		if p.Confidence >= MinConfidence {
			qualified = append(qualified, p)
		}
	}

	payload := Payload{
		Summary: Summary{
			TotalPatterns:     len(e.patterns),
			QualifiedPatterns: len(qualified),
			MinConfidence:     MinConfidence,
			GeneratedAt:       now,
		},
		PhysicsDistribution:  map[string]Distribution{},
		BehaviorDistribution: map[string]map[string]int{},
		Impacts:              map[string]ImpactSummary{},
		Insights:             []Insight{},
		Privacy: Privacy{
			PIIContained:           false,
			AnonymizationLevel:     "aggregate",
			IndividualIdentifiable: false,
			Method:                 "pii-screen+bucketing+aggregation",
		},
	}
	if len(qualified) == 0 {
		return payload
	}

	var confidenceSum float64
	payload.Summary.WindowStart = qualified[0].Timestamp
	payload.Summary.WindowEnd = qualified[0].Timestamp
	for _, p := range qualified {
		confidenceSum += p.Confidence
		if p.Timestamp.Before(payload.Summary.WindowStart) {
			payload.Summary.WindowStart = p.Timestamp
		}
		if p.Timestamp.After(payload.Summary.WindowEnd) {
			payload.Summary.WindowEnd = p.Timestamp
		}
	}
	payload.Summary.MeanConfidence = shared.Round(confidenceSum/float64(len(qualified)), 4)

	for name, d := range physicsDomains {
		if dist, ok := distribute(qualified, d); ok {
			payload.PhysicsDistribution[name] = dist
		}
	}
	payload.BehaviorDistribution = behaviorCounts(qualified)
	payload.Impacts = aggregateImpacts(qualified)
	payload.Insights = insights(payload, len(qualified))
	return payload
}

func distribute(patterns []*Pattern, d metricDomain) (Distribution, bool) {
	dist := Distribution{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, p := range patterns {
		v, ok := d.value(p.Physics)
		if !ok {
			continue
		}
		dist.Count++
		sum += v
		dist.Min = math.Min(dist.Min, v)
		dist.Max = math.Max(dist.Max, v)
		switch bucketIndex(v, d.lo, d.hi, 3) {
		case 0:
			dist.Histogram.Low++
		case 1:
			dist.Histogram.Medium++
		default:
			dist.Histogram.High++
		}
	}
	if dist.Count == 0 {
		return Distribution{}, false
	}
	dist.Mean = shared.Round(sum/float64(dist.Count), 4)
	dist.Min = shared.Round(dist.Min, 4)
	dist.Max = shared.Round(dist.Max, 4)
	return dist, true
}

func behaviorCounts(patterns []*Pattern) map[string]map[string]int {
	out := map[string]map[string]int{
		"activity_level": {},
		"mass_level":     {},
		"active_hours":   {},
		"engagement":     {},
		"growth_phase":   {},
	}
	for _, p := range patterns {
		b := p.Behavior
		out["activity_level"][b.ActivityLevel]++
		out["mass_level"][b.MassLevel]++
		out["active_hours"][b.ActiveHours]++
		out["engagement"][b.Engagement]++
		out["growth_phase"][b.GrowthPhase]++
	}
	return out
}

func aggregateImpacts(patterns []*Pattern) map[string]ImpactSummary {
	type acc struct {
		sum      float64
		n        int
		positive int
	}
	accs := map[string]*acc{}
	for _, p := range patterns {
		for _, im := range p.Impact {
			a, ok := accs[im.Feature]
			if !ok {
				a = &acc{}
				accs[im.Feature] = a
			}
			a.sum += im.Score
			a.n++
			if im.Score > 0 {
				a.positive++
			}
		}
	}
	out := make(map[string]ImpactSummary, len(accs))
	for name, a := range accs {
		out[name] = ImpactSummary{
			Mean:          shared.Round(a.sum/float64(a.n), 4),
			SampleSize:    a.n,
			PositiveRatio: shared.Round(float64(a.positive)/float64(a.n), 4),
		}
	}
	return out
}

// insights emits canned statements for aggregates past their thresholds,
// sorted by key for a stable payload.
func insights(p Payload, n int) []Insight {
	out := []Insight{}
	add := func(key string, value float64, format string) {
		out = append(out, Insight{Key: key, Value: value, Message: fmt.Sprintf(format, value*100)})
	}

	if d, ok := p.PhysicsDistribution["stability"]; ok && d.Mean > stableMeanThreshold {
		add("stability_high", d.Mean, "Learners are stable: mean stability is %.0f%%")
	}
	if d, ok := p.PhysicsDistribution["entropy"]; ok {
		if share := float64(d.Histogram.High) / float64(d.Count); share > highEntropyShareThreshold {
			add("entropy_high", share, "%.0f%% of learners sit in the high-entropy tertile; routines are scattered")
		}
	}
	if d, ok := p.PhysicsDistribution["friction"]; ok && d.Mean > highFrictionThreshold {
		add("friction_high", d.Mean, "Average friction is %.0f%% of the scale; tasks are meeting resistance")
	}
	if activity := p.BehaviorDistribution["activity_level"]; n > 0 {
		if share := float64(activity[LevelHigh]+activity[LevelVeryHigh]) / float64(n); share > activeShareThreshold {
			add("activity_high", share, "%.0f%% of learners show high or very high activity")
		}
	}
	if d, ok := p.PhysicsDistribution["success_probability"]; ok && d.Mean > successOutlookThreshold {
		add("success_outlook", d.Mean, "Mean predicted success probability is %.0f%%")
	}
	if im, ok := p.Impacts["momentum"]; ok && im.PositiveRatio < lowMomentumRatio {
		add("momentum_low", im.PositiveRatio, "Only %.0f%% of patterns carry positive momentum")
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

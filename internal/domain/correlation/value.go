package correlation

import (
	"math"
	"sort"
)

// Strength tags a success factor by |r|.
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthModerate Strength = "moderate"
	StrengthWeak     Strength = "weak"
)

func strengthOf(r float64) Strength {
	switch a := math.Abs(r); {
	case a >= 0.7:
		return StrengthStrong
	case a >= 0.5:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// SuccessFactor is a metric correlated with success_probability.
type SuccessFactor struct {
	Metric         string   `json:"metric"`
	Correlation    float64  `json:"correlation"`
	Strength       Strength `json:"strength"`
	Recommendation string   `json:"recommendation"`
}

var recommendations = map[string]string{
	MetricMass:               "Grow accumulated work: more completed tasks and reviewed code raise the base for success",
	MetricVelocity:           "Keep a steady cadence of activity; regular sessions beat occasional bursts",
	MetricMomentum:           "Protect momentum: avoid long pauses between consecutive tasks",
	MetricKineticEnergy:      "Turn planning into visible activity; active days drive the outcome",
	MetricPotentialEnergy:    "Build reserves: prerequisites and fundamentals pay off later",
	MetricFriction:           "Remove blockers early; friction is the strongest drag on progress",
	MetricEntropy:            "Reduce scattered work: fewer parallel topics, clearer routines",
	MetricConnectionGravity:  "Strengthen peer connections; help and review from peers lift results",
	MetricAutomationReliance: "Automate routine steps so attention goes to the hard problems",
	MetricFlow:               "Keep resources flowing to where gravity is strongest",
}

const genericRecommendation = "Track this metric closely; it moves together with success"

// SuccessFactors reads the success_probability row of the current matrix
// and returns metrics with |r| >= CorrelationThreshold, strongest first.
func (e *Engine) SuccessFactors() []SuccessFactor {
	row, ok := e.matrix[MetricSuccessProbability]
	if !ok {
		return []SuccessFactor{}
	}
	out := make([]SuccessFactor, 0, len(row))
	for metric, r := range row {
		if metric == MetricSuccessProbability || math.Abs(r) < CorrelationThreshold {
			continue
		}
		rec, ok := recommendations[metric]
		if !ok {
			rec = genericRecommendation
		}
		out = append(out, SuccessFactor{
			Metric:         metric,
			Correlation:    r,
			Strength:       strengthOf(r),
			Recommendation: rec,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Correlation), math.Abs(out[j].Correlation)
		if ai != aj {
			return ai > aj
		}
		return out[i].Metric < out[j].Metric
	})
	return out
}

// NetworkValue is n² scaled by average connection gravity and automation
// reliance.
type NetworkValue struct {
	Entities              int     `json:"entities"`
	Base                  float64 `json:"base"`
	AvgConnectionGravity  float64 `json:"avg_connection_gravity"`
	AvgAutomationReliance float64 `json:"avg_automation_reliance"`
	Multiplier            float64 `json:"multiplier"`
	Adjusted              float64 `json:"adjusted"`
}

// NetworkValue computes the score over current entities. Averages use each
// entity's mean and skip entities that never reported the metric.
func (e *Engine) NetworkValue() NetworkValue {
	n := len(e.entities)
	v := NetworkValue{
		Entities:              n,
		Base:                  float64(n * n),
		AvgConnectionGravity:  e.averageMean(MetricConnectionGravity),
		AvgAutomationReliance: e.averageMean(MetricAutomationReliance),
	}
	v.Multiplier = 1 + 0.5*v.AvgConnectionGravity + 0.3*v.AvgAutomationReliance
	v.Adjusted = v.Base * v.Multiplier
	return v
}

func (e *Engine) averageMean(metric string) float64 {
	var sum float64
	var n int
	for _, h := range e.entities {
		if a, ok := h.aggregates[metric]; ok {
			sum += a.Mean
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

package pattern

import (
	"math"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/converter"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// Ordinal levels, lowest first.
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelVeryHigh = "very_high"
)

var levels = [...]string{LevelLow, LevelMedium, LevelHigh, LevelVeryHigh}

// Active-hour buckets.
const (
	HoursNight     = "night"
	HoursMorning   = "morning"
	HoursAfternoon = "afternoon"
	HoursEvening   = "evening"
	HoursUnknown   = "unknown"
)

var hourBuckets = [...]string{HoursNight, HoursMorning, HoursAfternoon, HoursEvening}

// Engagement categories.
const (
	EngagementEngaged    = "engaged"
	EngagementSteady     = "steady"
	EngagementDisengaged = "disengaged"
)

// Growth phases.
const (
	PhaseSeed      = "seed"
	PhaseGrowth    = "growth"
	PhaseExpansion = "expansion"
	PhaseMature    = "mature"
)

// quartileLevel places v linearly in [lo, hi] and returns its quartile name.
func quartileLevel(v, lo, hi float64) string {
	return levels[bucketIndex(v, lo, hi, len(levels))]
}

// bucketIndex splits [lo, hi] into n equal buckets. Values outside the
// domain land in the first or last bucket.
func bucketIndex(v, lo, hi float64, n int) int {
	if hi <= lo {
		return 0
	}
	idx := int(math.Floor((shared.Clamp(v, lo, hi) - lo) / (hi - lo) * float64(n)))
	return min(max(idx, 0), n-1)
}

// dominantHours returns the six-hour bucket holding most activity. Ties go
// to the earlier bucket of the day.
func dominantHours(times []time.Time) string {
	if len(times) == 0 {
		return HoursUnknown
	}
	var counts [len(hourBuckets)]int
	for _, t := range times {
		counts[t.Hour()/6]++
	}
	best := 0
	for i := 1; i < len(counts); i++ {
		if counts[i] > counts[best] {
			best = i
		}
	}
	return hourBuckets[best]
}

func engagement(f converter.FeatureVector) string {
	switch {
	case f.Velocity >= 25 && f.Friction < 0.5:
		return EngagementEngaged
	case f.Velocity < 5 || f.Friction >= 0.7:
		return EngagementDisengaged
	default:
		return EngagementSteady
	}
}

func growthPhase(mass float64) string {
	switch {
	case mass < 1:
		return PhaseSeed
	case mass < 3:
		return PhaseGrowth
	case mass < 6:
		return PhaseExpansion
	default:
		return PhaseMature
	}
}

// impacts scores each feature's contribution in [-1, 1]; positive helps.
func impacts(s PhysicsSnapshot) []Impact {
	out := []Impact{
		{Feature: "momentum", Score: 2*math.Min(s.Momentum/100, 1) - 1},
		{Feature: "friction", Score: shared.Clamp((0.5-s.Friction)/0.4, -1, 1)},
		{Feature: "entropy", Score: shared.Clamp(1-2*s.Entropy, -1, 1)},
	}
	if s.HasPrediction {
		out = append(out, Impact{Feature: "success_probability", Score: 2*s.SuccessProbability - 1})
	}
	return out
}

package converter

import (
	"math"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// FrictionThreshold is the alignment below which an event is classified as
// friction against the success vector.
const FrictionThreshold = 0.3

// FrictionReport classifies how well an event's direction lines up with a
// reference success vector.
type FrictionReport struct {
	Features   FeatureVector `json:"features"`
	Alignment  float64       `json:"alignment"`
	IsFriction bool          `json:"is_friction"`
	Severity   float64       `json:"severity"`
	Suggestion string        `json:"suggestion,omitempty"`
}

// ConvertWithFriction converts raw like Convert and additionally compares the
// resulting direction with success. Low alignment is a classification, not
// an error.
func (c *Converter) ConvertWithFriction(raw RawEvent, goal *Point, success Point) FrictionReport {
	features := c.Convert(raw, goal)

	reference := math.Atan2(success.Y, success.X)
	alignment := math.Cos(features.Direction - reference)

	report := FrictionReport{
		Features:  features,
		Alignment: alignment,
	}
	if alignment < FrictionThreshold {
		report.IsFriction = true
		// alignment spans [-1, 0.3) here, so severity lands in (0, 1].
		report.Severity = shared.Clamp01((FrictionThreshold - alignment) / (1 + FrictionThreshold))
		report.Suggestion = automationSuggestion(report.Severity)
	}
	return report
}

func automationSuggestion(severity float64) string {
	switch {
	case severity >= 0.66:
		return "Automate the blocking step: route the learner to a guided walkthrough and notify the teacher"
	case severity >= 0.33:
		return "Automate reminders and split the current task into smaller checkpoints"
	default:
		return "Surface a contextual hint automatically where progress diverges from the goal"
	}
}

package diagnostic

import (
	"fmt"
	"math"
	"time"
)

// Severity grades an anomaly.
type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityWarning   Severity = "WARNING"
	SeverityCritical  Severity = "CRITICAL"
	SeverityEmergency Severity = "EMERGENCY"
)

// confidenceBoost is added to a prescription's confidence.
func (s Severity) confidenceBoost() float64 {
	switch s {
	case SeverityWarning:
		return 0.1
	case SeverityCritical:
		return 0.2
	case SeverityEmergency:
		return 0.3
	default:
		return 0
	}
}

// Urgency is the fixed text shown with a prescription.
func (s Severity) Urgency() string {
	switch s {
	case SeverityEmergency:
		return "immediate: act now"
	case SeverityCritical:
		return "high: act within the hour"
	case SeverityWarning:
		return "medium: act within 24 hours"
	default:
		return "low: keep monitoring"
	}
}

// Rule thresholds.
const (
	EnergyEmergencyThreshold = 0.10
	EnergyWarningThreshold   = 0.20
	InertiaDeltaThreshold    = 0.30
	SigmaWarningThreshold    = 0.70
	DensityWarningThreshold  = 0.30
	MomentumWarningThreshold = 0.15
)

// Anomaly is a rule-triggered reading.
type Anomaly struct {
	ID         string      `json:"id"`
	SensorType SensorType  `json:"sensor_type"`
	Severity   Severity    `json:"severity"`
	Value      float64     `json:"value"`
	Threshold  float64     `json:"threshold"`
	Message    string      `json:"message"`
	Timestamp  time.Time   `json:"timestamp"`
	RootCauses []RootCause `json:"root_causes"`
}

// finding is the outcome of evaluating a rule family.
type finding struct {
	severity  Severity
	threshold float64
	message   string
}

// evaluate runs the single rule family of the reading's sensor type. Within
// a family the most severe matching rule wins.
func evaluate(r SensorReading) (finding, bool) {
	v := r.Value
	switch r.SensorType {
	case SensorEnergy:
		if v < EnergyEmergencyThreshold {
			return finding{SeverityEmergency, EnergyEmergencyThreshold,
				fmt.Sprintf("energy %.2f is below the emergency floor %.2f", v, EnergyEmergencyThreshold)}, true
		}
		if v < EnergyWarningThreshold {
			return finding{SeverityWarning, EnergyWarningThreshold,
				fmt.Sprintf("energy %.2f is below the warning floor %.2f", v, EnergyWarningThreshold)}, true
		}
	case SensorInertia:
		if math.Abs(r.Delta) > InertiaDeltaThreshold {
			return finding{SeverityCritical, InertiaDeltaThreshold,
				fmt.Sprintf("inertia changed by %.0f%% in one reading, limit is %.0f%%", r.Delta*100, InertiaDeltaThreshold*100)}, true
		}
	case SensorSigma:
		if v > SigmaWarningThreshold {
			return finding{SeverityWarning, SigmaWarningThreshold,
				fmt.Sprintf("sigma %.2f is above the stable ceiling %.2f", v, SigmaWarningThreshold)}, true
		}
	case SensorDensity:
		if v < DensityWarningThreshold {
			return finding{SeverityWarning, DensityWarningThreshold,
				fmt.Sprintf("density %.2f is below the warning floor %.2f", v, DensityWarningThreshold)}, true
		}
	case SensorMomentum:
		if v < MomentumWarningThreshold {
			return finding{SeverityWarning, MomentumWarningThreshold,
				fmt.Sprintf("momentum %.2f is below the warning floor %.2f", v, MomentumWarningThreshold)}, true
		}
	}
	return finding{}, false
}

package diagnostic

import (
	"fmt"
	"math"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// diagnosis is one row of the static diagnosis table.
type diagnosis struct {
	text  string
	packs []ActionPackID
}

var diagnoses = map[string]diagnosis{
	"ENERGY_WARNING": {
		"energy reserves are running low",
		[]ActionPackID{PackResourceReallocation, PackRecoveryProtocol},
	},
	"ENERGY_EMERGENCY": {
		"energy is close to exhaustion",
		[]ActionPackID{PackRecoveryProtocol, PackResourceReallocation, PackStabilization},
	},
	"INERTIA_CRITICAL": {
		"behaviour shifted abruptly",
		[]ActionPackID{PackStabilization, PackMomentumRestart},
	},
	"SIGMA_WARNING": {
		"variability is above the stable band",
		[]ActionPackID{PackStabilization},
	},
	"DENSITY_WARNING": {
		"interaction density is thin",
		[]ActionPackID{PackEngagementBoost},
	},
	"MOMENTUM_WARNING": {
		"momentum has stalled",
		[]ActionPackID{PackMomentumRestart, PackEngagementBoost},
	},
}

var fallbackDiagnosis = diagnosis{
	"no specific diagnosis for this reading",
	[]ActionPackID{PackContinuousMonitoring},
}

// Prescription is a ranked set of action packs for an anomaly. It is
// derived deterministically and never stored by the engine.
type Prescription struct {
	AnomalyID     string             `json:"anomaly_id"`
	Diagnosis     string             `json:"diagnosis"`
	RootCause     string             `json:"root_cause"`
	ActionPacks   []ActionPack       `json:"action_packs"`
	SuccessVector map[string]float64 `json:"success_vector"`
	Confidence    float64            `json:"confidence"`
	Urgency       string             `json:"urgency"`
}

// PackIDs returns the IDs of the prescribed packs in rank order.
func (p *Prescription) PackIDs() []ActionPackID {
	out := make([]ActionPackID, len(p.ActionPacks))
	for i, pack := range p.ActionPacks {
		out[i] = pack.ID
	}
	return out
}

// GeneratePrescription builds the prescription for a. It returns nil for a
// nil anomaly.
func (e *Engine) GeneratePrescription(a *Anomaly) *Prescription {
	if a == nil {
		return nil
	}

	d, ok := diagnoses[string(a.SensorType)+"_"+string(a.Severity)]
	if !ok {
		d = fallbackDiagnosis
	}

	packs := make([]ActionPack, 0, len(d.packs))
	for _, id := range d.packs {
		if p, ok := ActionPackByID(id); ok {
			packs = append(packs, p)
		}
	}

	return &Prescription{
		AnomalyID:     a.ID,
		Diagnosis:     d.text,
		RootCause:     describeRootCause(a),
		ActionPacks:   packs,
		SuccessVector: successVector(packs),
		Confidence:    prescriptionConfidence(a),
		Urgency:       a.Severity.Urgency(),
	}
}

// successVector sums expected impacts and scales the result so its largest
// absolute component is 1. With nothing to sum every component is 0.
func successVector(packs []ActionPack) map[string]float64 {
	v := make(map[string]float64, len(impactMetrics))
	for _, m := range impactMetrics {
		v[m] = 0
	}
	for _, p := range packs {
		for m, x := range p.ExpectedImpact {
			v[m] += x
		}
	}
	var maxAbs float64
	for _, x := range v {
		maxAbs = math.Max(maxAbs, math.Abs(x))
	}
	if maxAbs == 0 {
		return v
	}
	for m, x := range v {
		v[m] = x / maxAbs
	}
	return v
}

func prescriptionConfidence(a *Anomaly) float64 {
	return shared.CapConfidence(0.5 + 0.1*float64(len(a.RootCauses)) + a.Severity.confidenceBoost())
}

func describeRootCause(a *Anomaly) string {
	if len(a.RootCauses) == 0 {
		return "no known upstream cause"
	}
	rc := a.RootCauses[0]
	if !rc.Observed {
		return fmt.Sprintf("%s -> %s: %s (no %s readings yet)", rc.Sensor, a.SensorType, rc.Interpretation, rc.Sensor)
	}
	return fmt.Sprintf("%s -> %s: %s (latest %s %.2f)", rc.Sensor, a.SensorType, rc.Interpretation, rc.Sensor, rc.LatestValue)
}

package diagnostic

import "slices"

// ActionPackID names a static bundle of actions.
type ActionPackID string

const (
	PackResourceReallocation ActionPackID = "RESOURCE_REALLOCATION"
	PackRecoveryProtocol     ActionPackID = "RECOVERY_PROTOCOL"
	PackStabilization        ActionPackID = "STABILIZATION"
	PackEngagementBoost      ActionPackID = "ENGAGEMENT_BOOST"
	PackMomentumRestart      ActionPackID = "MOMENTUM_RESTART"
	PackContinuousMonitoring ActionPackID = "CONTINUOUS_MONITORING"
)

// Impact metrics a pack can move.
const (
	ImpactEnergy   = "energy"
	ImpactMomentum = "momentum"
	ImpactSigma    = "sigma"
	ImpactDensity  = "density"
	ImpactInertia  = "inertia"
	ImpactSuccess  = "success"
)

// impactMetrics fixes the axes of every success vector.
var impactMetrics = []string{ImpactEnergy, ImpactMomentum, ImpactSigma, ImpactDensity, ImpactInertia, ImpactSuccess}

// ActionPack is an ordered list of actions with a declared expected impact
// per metric.
type ActionPack struct {
	ID             ActionPackID       `json:"id"`
	Name           string             `json:"name"`
	Actions        []string           `json:"actions"`
	ExpectedImpact map[string]float64 `json:"expected_impact"`
}

var actionPacks = map[ActionPackID]ActionPack{
	PackResourceReallocation: {
		ID:   PackResourceReallocation,
		Name: "Resource reallocation",
		Actions: []string{
			"Move mentor hours to the affected group",
			"Postpone non-critical assignments by one cycle",
			"Pair struggling learners with peers who finished the task",
		},
		ExpectedImpact: map[string]float64{ImpactEnergy: 0.4, ImpactMomentum: 0.2, ImpactSigma: -0.1},
	},
	PackRecoveryProtocol: {
		ID:   PackRecoveryProtocol,
		Name: "Recovery protocol",
		Actions: []string{
			"Schedule a lighter day with review-only tasks",
			"Run a short check-in to surface blockers",
			"Reset deadlines that fall inside the recovery window",
		},
		ExpectedImpact: map[string]float64{ImpactEnergy: 0.5, ImpactInertia: -0.2, ImpactSuccess: 0.1},
	},
	PackStabilization: {
		ID:   PackStabilization,
		Name: "Stabilization",
		Actions: []string{
			"Fix a daily routine with the same start time",
			"Limit parallel topics to two",
			"Freeze curriculum changes until readings settle",
		},
		ExpectedImpact: map[string]float64{ImpactSigma: -0.5, ImpactInertia: -0.3, ImpactEnergy: 0.1},
	},
	PackEngagementBoost: {
		ID:   PackEngagementBoost,
		Name: "Engagement boost",
		Actions: []string{
			"Open a group session around the current task",
			"Invite recent finishers to answer questions",
			"Publish a short peer-review challenge",
		},
		ExpectedImpact: map[string]float64{ImpactDensity: 0.5, ImpactMomentum: 0.2, ImpactEnergy: -0.1},
	},
	PackMomentumRestart: {
		ID:   PackMomentumRestart,
		Name: "Momentum restart",
		Actions: []string{
			"Assign one small task that can be finished today",
			"Celebrate the first completed step publicly",
			"Set a three-day streak target",
		},
		ExpectedImpact: map[string]float64{ImpactMomentum: 0.5, ImpactSuccess: 0.2, ImpactEnergy: -0.2},
	},
	PackContinuousMonitoring: {
		ID:             PackContinuousMonitoring,
		Name:           "Continuous monitoring",
		Actions:        []string{"Keep collecting readings and review the trend daily"},
		ExpectedImpact: map[string]float64{},
	},
}

// ActionPackByID returns a copy of a pack.
func ActionPackByID(id ActionPackID) (ActionPack, bool) {
	p, ok := actionPacks[id]
	if !ok {
		return ActionPack{}, false
	}
	return p.clone(), true
}

func (p ActionPack) clone() ActionPack {
	c := p
	c.Actions = slices.Clone(p.Actions)
	c.ExpectedImpact = make(map[string]float64, len(p.ExpectedImpact))
	for k, v := range p.ExpectedImpact {
		c.ExpectedImpact[k] = v
	}
	return c
}

package physics

// ══════════════════════════════════════════════════════════════════════════════
// CONSTANTS
// ══════════════════════════════════════════════════════════════════════════════

const (
	// EntropyConstant is the fraction of scalar energy lost per decay tick.
	EntropyConstant = 0.001

	// VelocityEntropyFactor scales EntropyConstant for velocity decay.
	VelocityEntropyFactor = 0.1

	// EfficiencyFactor is the share of an applied force returned as reaction.
	EfficiencyFactor = 0.85

	// GlobalMoneyConstant converts total gravity into flow.
	GlobalMoneyConstant = 0.0001

	// GravitySoftening keeps gravity finite at zero distance.
	GravitySoftening = 0.01

	// PositionHistoryLimit caps the per-entity position history.
	PositionHistoryLimit = 100

	// GoalWeight multiplies the goal's pull relative to other entities.
	GoalWeight = 2.0

	// PotentialPerMass seeds a new entity's potential energy.
	PotentialPerMass = 10.0

	// MinMass and MaxMass bound entity mass.
	MinMass = 0.1
	MaxMass = 10.0

	// Normalisers used by the success-probability blend.
	energyNorm   = 1000.0
	momentumNorm = 100.0
)

// Weights of the success-probability blend.
const (
	weightMassRatio = 0.3
	weightDistance  = 0.3
	weightEnergy    = 0.2
	weightMomentum  = 0.2
)

// ══════════════════════════════════════════════════════════════════════════════
// LAWS
// ══════════════════════════════════════════════════════════════════════════════

// GravityBetween is the softened gravity law m_a·m_b / (d² + 0.01).
func GravityBetween(massA float64, posA Vec3, massB float64, posB Vec3) float64 {
	d2 := posA.Sub(posB).LengthSquared()
	return massA * massB / (d2 + GravitySoftening)
}

// Reaction is the result of applying a force.
type Reaction struct {
	Value      float64 `json:"value"`
	EnergyCost float64 `json:"energy_cost"`
}

// ActionReaction returns the reaction to a force of the given magnitude.
func ActionReaction(magnitude float64) Reaction {
	return Reaction{
		Value:      magnitude * EfficiencyFactor,
		EnergyCost: magnitude * (1 - EfficiencyFactor),
	}
}

// decayFactors returns the per-tick multipliers for energy and velocity.
func decayFactors() (energy, velocity float64) {
	return 1 - EntropyConstant, 1 - EntropyConstant*VelocityEntropyFactor
}

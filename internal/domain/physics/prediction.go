package physics

import (
	"math"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// Prediction is the outcome estimate for one entity.
type Prediction struct {
	EntityID           string  `json:"entity_id"`
	TotalGravity       float64 `json:"total_gravity"`
	GoalGravity        float64 `json:"goal_gravity"`
	Flow               float64 `json:"flow"`
	SuccessProbability float64 `json:"success_probability"`
	OptimalDirection   Vec3    `json:"optimal_direction"`
}

// PredictActionChange predicts the outcome for an entity at its current
// state. It returns nil for an unknown ID and never mutates the map.
func (m *Map) PredictActionChange(id string) *Prediction {
	e, ok := m.nodes[id]
	if !ok {
		return nil
	}
	return m.predict(e)
}

func (m *Map) predict(e *Entity) *Prediction {
	var total float64
	for _, id := range m.order {
		if id == e.ID {
			continue
		}
		other := m.nodes[id]
		total += GravityBetween(e.Mass, e.Position, other.Mass, other.Position)
	}

	p := &Prediction{EntityID: e.ID}

	var massRatio, distanceFactor float64
	if m.goal != nil {
		g := m.goal
		p.GoalGravity = GoalWeight * GravityBetween(e.Mass, e.Position, goalMass(g), g.Position)
		total += p.GoalGravity

		if g.TargetMass > 0 {
			massRatio = math.Min(e.Mass/g.TargetMass, 1)
		} else {
			massRatio = 1
		}
		toGoal := g.Position.Sub(e.Position)
		distanceFactor = 1 / (1 + toGoal.Length())
		p.OptimalDirection = toGoal.Unit()
	}

	p.TotalGravity = total
	p.Flow = total * GlobalMoneyConstant
	p.SuccessProbability = shared.Clamp01(
		weightMassRatio*massRatio +
			weightDistance*distanceFactor +
			weightEnergy*math.Min(e.Energy()/energyNorm, 1) +
			weightMomentum*math.Min(e.Momentum()/momentumNorm, 1),
	)
	return p
}

// goalMass is the mass the goal exerts gravity with. A goal without a
// target mass pulls like a minimal entity.
func goalMass(g *Goal) float64 {
	if g.TargetMass > 0 {
		return g.TargetMass
	}
	return MinMass
}

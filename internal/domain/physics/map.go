// Package physics holds the entity force model: named entities with mass,
// position, velocity and energy, the softened gravity law between them and
// per-entity outcome predictions.
//
// A Map is an ordinary value owned by its caller. It starts no goroutines and
// takes no locks; callers that share one across goroutines must serialise
// access themselves. Operations on an unknown entity ID are no-ops that
// return nil or false.
package physics

import (
	"math"
	"slices"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// PrimaryID is the ID of the entity every Map always contains.
const PrimaryID = "primary"

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Entity is a simulated participant.
type Entity struct {
	ID          string   `json:"id"`
	Mass        float64  `json:"mass"`
	Position    Vec3     `json:"position"`
	Velocity    Vec3     `json:"velocity"`
	Potential   float64  `json:"potential"`
	Kinetic     float64  `json:"kinetic"`
	Connections []string `json:"connections"`

	// Attributes carries open-ended numeric annotations such as
	// "automation_reliance". It is the only open extension point.
	Attributes map[string]float64 `json:"attributes,omitempty"`

	history []Vec3
}

// Energy returns potential plus kinetic energy.
func (e *Entity) Energy() float64 {
	return e.Potential + e.Kinetic
}

// Momentum returns mass times speed.
func (e *Entity) Momentum() float64 {
	return e.Mass * e.Velocity.Length()
}

// snapshot returns a copy that shares no slices or maps with e.
func (e *Entity) snapshot() Entity {
	c := *e
	c.Connections = slices.Clone(e.Connections)
	c.history = nil
	if e.Attributes != nil {
		c.Attributes = make(map[string]float64, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

func newEntity(id string, mass float64, pos Vec3) *Entity {
	mass = shared.Clamp(mass, MinMass, MaxMass)
	return &Entity{
		ID:          id,
		Mass:        mass,
		Position:    pos,
		Potential:   mass * PotentialPerMass,
		Connections: []string{},
		history:     []Vec3{pos},
	}
}

// Goal is the optional singleton target entities are pulled towards.
type Goal struct {
	Position     Vec3    `json:"position" yaml:"position"`
	TargetMass   float64 `json:"target_mass" yaml:"target_mass"`
	TargetVolume float64 `json:"target_volume" yaml:"target_volume"`
	TargetTime   float64 `json:"target_time" yaml:"target_time"`
}

// ══════════════════════════════════════════════════════════════════════════════
// MAP
// ══════════════════════════════════════════════════════════════════════════════

// Map is the set of entities plus the optional goal.
type Map struct {
	nodes       map[string]*Entity
	order       []string
	goal        *Goal
	primaryMass float64
}

// Option configures a Map.
type Option func(*Map)

// WithPrimaryMass sets the mass of the primary entity.
func WithPrimaryMass(mass float64) Option {
	return func(m *Map) {
		m.primaryMass = mass
	}
}

// NewMap creates a Map containing only the primary entity.
func NewMap(opts ...Option) *Map {
	m := &Map{primaryMass: 1}
	for _, opt := range opts {
		opt(m)
	}
	m.Reset()
	return m
}

// Reset drops every entity and the goal, then restores the primary entity.
func (m *Map) Reset() {
	m.nodes = map[string]*Entity{PrimaryID: newEntity(PrimaryID, m.primaryMass, Vec3{})}
	m.order = []string{PrimaryID}
	m.goal = nil
}

// AddNode creates an entity. If id already exists the existing entity is
// returned unchanged with created=false. Mass is clamped to [0.1, 10].
func (m *Map) AddNode(id string, mass float64, pos Vec3) (node Entity, created bool) {
	if e, ok := m.nodes[id]; ok {
		return e.snapshot(), false
	}
	e := newEntity(id, mass, pos)
	m.nodes[id] = e
	m.order = append(m.order, id)
	return e.snapshot(), true
}

// Node returns a copy of the entity with the given ID.
func (m *Map) Node(id string) (Entity, bool) {
	e, ok := m.nodes[id]
	if !ok {
		return Entity{}, false
	}
	return e.snapshot(), true
}

// Nodes returns copies of all entities in creation order.
func (m *Map) Nodes() []Entity {
	out := make([]Entity, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.nodes[id].snapshot())
	}
	return out
}

// Len returns the number of entities, primary included.
func (m *Map) Len() int {
	return len(m.order)
}

// History returns a copy of the entity's position history, oldest first.
func (m *Map) History(id string) []Vec3 {
	e, ok := m.nodes[id]
	if !ok {
		return nil
	}
	return slices.Clone(e.history)
}

// Connect links two distinct entities in both directions.
func (m *Map) Connect(a, b string) bool {
	if a == b {
		return false
	}
	ea, okA := m.nodes[a]
	eb, okB := m.nodes[b]
	if !okA || !okB {
		return false
	}
	if !slices.Contains(ea.Connections, b) {
		ea.Connections = append(ea.Connections, b)
	}
	if !slices.Contains(eb.Connections, a) {
		eb.Connections = append(eb.Connections, a)
	}
	return true
}

// SetMass replaces an entity's mass, clamped to [0.1, 10].
func (m *Map) SetMass(id string, mass float64) bool {
	e, ok := m.nodes[id]
	if !ok || math.IsNaN(mass) {
		return false
	}
	e.Mass = shared.Clamp(mass, MinMass, MaxMass)
	return true
}

// SetAttribute sets one numeric attribute on an entity.
func (m *Map) SetAttribute(id, key string, value float64) bool {
	e, ok := m.nodes[id]
	if !ok || key == "" || !shared.IsFinite(value) {
		return false
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]float64)
	}
	e.Attributes[key] = value
	return true
}

// SetGoal installs the goal, replacing any previous one.
func (m *Map) SetGoal(g Goal) {
	m.goal = &g
}

// ClearGoal removes the goal.
func (m *Map) ClearGoal() {
	m.goal = nil
}

// Goal returns the current goal.
func (m *Map) Goal() (Goal, bool) {
	if m.goal == nil {
		return Goal{}, false
	}
	return *m.goal, true
}

// ══════════════════════════════════════════════════════════════════════════════
// DYNAMICS
// ══════════════════════════════════════════════════════════════════════════════

// Gravity returns the pull between two distinct entities. It reports false
// for a == b or an unknown ID.
func (m *Map) Gravity(a, b string) (float64, bool) {
	if a == b {
		return 0, false
	}
	ea, okA := m.nodes[a]
	eb, okB := m.nodes[b]
	if !okA || !okB {
		return 0, false
	}
	return GravityBetween(ea.Mass, ea.Position, eb.Mass, eb.Position), true
}

// ConnectionGravity sums the gravity between an entity and its connections.
func (m *Map) ConnectionGravity(id string) (float64, bool) {
	e, ok := m.nodes[id]
	if !ok {
		return 0, false
	}
	var total float64
	for _, other := range e.Connections {
		if g, ok := m.Gravity(id, other); ok {
			total += g
		}
	}
	return total, true
}

// MoveNode moves an entity to pos. Velocity becomes the displacement.
// Potential energy of distance·mass is converted to kinetic energy only when
// enough potential remains; otherwise no conversion happens.
func (m *Map) MoveNode(id string, pos Vec3) *Prediction {
	e, ok := m.nodes[id]
	if !ok || !pos.IsFinite() {
		return nil
	}

	displacement := pos.Sub(e.Position)
	cost := displacement.Length() * e.Mass
	if cost <= e.Potential {
		e.Potential -= cost
		e.Kinetic += cost
	}

	e.Velocity = displacement
	e.Position = pos
	e.history = append(e.history, pos)
	if over := len(e.history) - PositionHistoryLimit; over > 0 {
		e.history = slices.Delete(e.history, 0, over)
	}

	return m.predict(e)
}

// ApplyEntropyDecay runs one decay tick over every entity and returns the
// number of entities touched.
func (m *Map) ApplyEntropyDecay() int {
	energy, velocity := decayFactors()
	for _, id := range m.order {
		e := m.nodes[id]
		e.Potential *= energy
		e.Kinetic *= energy
		e.Velocity = e.Velocity.Scale(velocity)
	}
	return len(m.order)
}

// ApplyForce applies a force to an entity. The reaction value is added as
// kinetic energy and the energy cost is drawn from potential, never below 0.
func (m *Map) ApplyForce(id string, magnitude float64) *Reaction {
	e, ok := m.nodes[id]
	if !ok || !shared.IsFinite(magnitude) {
		return nil
	}
	r := ActionReaction(magnitude)
	e.Kinetic = math.Max(0, e.Kinetic+r.Value)
	e.Potential = math.Max(0, e.Potential-r.EnergyCost)
	return &r
}

// ══════════════════════════════════════════════════════════════════════════════
// STATE
// ══════════════════════════════════════════════════════════════════════════════

// SystemState is an aggregate view of the map.
type SystemState struct {
	Entities       int     `json:"entities"`
	TotalMass      float64 `json:"total_mass"`
	TotalPotential float64 `json:"total_potential"`
	TotalKinetic   float64 `json:"total_kinetic"`
	TotalEnergy    float64 `json:"total_energy"`
	TotalMomentum  float64 `json:"total_momentum"`
	Connections    int     `json:"connections"`
	Goal           *Goal   `json:"goal,omitempty"`
}

// State summarises every entity.
func (m *Map) State() SystemState {
	s := SystemState{Entities: len(m.order)}
	for _, id := range m.order {
		e := m.nodes[id]
		s.TotalMass += e.Mass
		s.TotalPotential += e.Potential
		s.TotalKinetic += e.Kinetic
		s.TotalMomentum += e.Momentum()
		s.Connections += len(e.Connections)
	}
	s.TotalEnergy = s.TotalPotential + s.TotalKinetic
	// every link is stored on both ends
	s.Connections /= 2
	if m.goal != nil {
		g := *m.goal
		s.Goal = &g
	}
	return s
}

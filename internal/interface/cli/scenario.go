// Package cli implements the offline operator tooling behind physctl:
// scenario replay, sensor diagnosis and a client for a running worker's
// job API.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCENARIO FILE
// ══════════════════════════════════════════════════════════════════════════════

// Scenario is a scripted session replayed against a fresh pipeline.
//
//	start: 2024-03-01T09:00:00Z
//	step: 1m
//	goal:
//	  position: {x: 10, y: 10, z: 0}
//	  target_mass: 100
//	features:
//	  pipeline.friction_analysis: false
//	events:
//	  - entity: alice
//	    event: {amount: 120, frequency: 3}
//	    repeat: 3
//	readings:
//	  - sensor: ENERGY
//	    values: [0.8, 0.7, 0.2]
//	decay_ticks: 10
type Scenario struct {
	// Key keys the pseudonyms. Defaults to a fixed replay key so two
	// replays of one file agree.
	Key string `yaml:"key"`

	// Start is the clock at the first event. Defaults to the Unix epoch.
	Start time.Time `yaml:"start"`

	// Step advances the clock after every event. Defaults to one second.
	Step time.Duration `yaml:"step"`

	Goal     *physics.Goal   `yaml:"goal"`
	Features map[string]bool `yaml:"features"`

	Events   []ScenarioEvent   `yaml:"events"`
	Readings []ScenarioReading `yaml:"readings"`

	// DecayTicks entropy decay ticks run after the events.
	DecayTicks int `yaml:"decay_ticks"`
}

// ScenarioEvent is one raw event, optionally repeated.
type ScenarioEvent struct {
	Entity      string         `yaml:"entity"`
	Event       map[string]any `yaml:"event"`
	Position    *physics.Vec3  `yaml:"position"`
	Connections []string       `yaml:"connections"`
	Attributes  map[string]any `yaml:"attributes"`
	Repeat      int            `yaml:"repeat"`
}

// ScenarioReading is a series of readings of one sensor.
type ScenarioReading struct {
	Sensor string    `yaml:"sensor"`
	Values []float64 `yaml:"values"`
}

const defaultReplayKey = "physctl-replay-key"

// LoadScenario reads and validates a scenario file. "-" reads stdin.
func LoadScenario(path string) (*Scenario, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a scenario and fills its defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.normalize(); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

func (s *Scenario) normalize() error {
	if s.Key == "" {
		s.Key = defaultReplayKey
	}
	if s.Start.IsZero() {
		s.Start = time.Unix(0, 0).UTC()
	}
	if s.Step == 0 {
		s.Step = time.Second
	}
	if s.Step < 0 {
		return errors.New("step must not be negative")
	}
	if s.DecayTicks < 0 {
		return errors.New("decay_ticks must not be negative")
	}
	if len(s.Events) == 0 && len(s.Readings) == 0 {
		return errors.New("scenario has no events and no readings")
	}
	for i := range s.Events {
		ev := &s.Events[i]
		if ev.Entity == "" {
			return fmt.Errorf("events[%d]: entity is required", i)
		}
		if ev.Event == nil {
			ev.Event = map[string]any{}
		}
		if ev.Repeat == 0 {
			ev.Repeat = 1
		}
		if ev.Repeat < 0 {
			return fmt.Errorf("events[%d]: repeat must not be negative", i)
		}
	}
	for i, r := range s.Readings {
		if r.Sensor == "" {
			return fmt.Errorf("readings[%d]: sensor is required", i)
		}
	}
	return nil
}

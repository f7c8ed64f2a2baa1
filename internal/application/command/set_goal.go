package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/physics"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SET GOAL COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// SetGoalCommand replaces or clears the goal every entity is pulled towards.
type SetGoalCommand struct {
	Goal physics.Goal

	// Clear removes the goal; Goal is ignored.
	Clear bool
}

// Validate validates the command.
func (c SetGoalCommand) Validate() error {
	if c.Clear {
		return nil
	}
	if !c.Goal.Position.IsFinite() {
		return errors.New("set_goal: position must be finite")
	}
	for _, v := range []float64{c.Goal.TargetMass, c.Goal.TargetVolume, c.Goal.TargetTime} {
		if !shared.IsFinite(v) || v < 0 {
			return errors.New("set_goal: targets must be finite and non-negative")
		}
	}
	return nil
}

// SetGoalResult reports the goal in force after the command.
type SetGoalResult struct {
	Goal *physics.Goal
}

// SetGoalHandler handles the SetGoalCommand.
type SetGoalHandler struct {
	pipeline *application.Pipeline
}

// NewSetGoalHandler creates a new SetGoalHandler.
func NewSetGoalHandler(pipeline *application.Pipeline) *SetGoalHandler {
	return &SetGoalHandler{pipeline: pipeline}
}

// Handle executes the set goal command.
func (h *SetGoalHandler) Handle(ctx context.Context, cmd SetGoalCommand) (*SetGoalResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("set_goal: validation failed: %w", shared.WrapError("pipeline", "SetGoal", shared.ErrValidation, "invalid goal", err))
	}

	result := &SetGoalResult{}
	err := h.pipeline.Do(ctx, func(e *application.Engines) error {
		if cmd.Clear {
			e.Physics.ClearGoal()
			return nil
		}
		e.Physics.SetGoal(cmd.Goal)
		g, _ := e.Physics.Goal()
		result.Goal = &g
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set_goal: %w", err)
	}
	return result, nil
}

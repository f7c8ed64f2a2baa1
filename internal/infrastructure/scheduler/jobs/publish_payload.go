package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alem-hub/physics-telemetry/internal/application/command"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISH PAYLOAD JOB
// ══════════════════════════════════════════════════════════════════════════════

// PayloadPublisher is the command the job drives.
type PayloadPublisher interface {
	Handle(ctx context.Context, cmd command.PublishPayloadCommand) (*command.PublishPayloadResult, error)
}

// PublishPayloadJob publishes the aggregate payload to the configured sink.
type PublishPayloadJob struct {
	handler PayloadPublisher
	logger  *slog.Logger
}

// NewPublishPayloadJob creates a new publish job.
func NewPublishPayloadJob(handler PayloadPublisher, logger *slog.Logger) *PublishPayloadJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishPayloadJob{handler: handler, logger: logger.With("job", "publish_payload")}
}

// Name returns the job name.
func (j *PublishPayloadJob) Name() string { return "publish_payload" }

// Description returns the job description.
func (j *PublishPayloadJob) Description() string {
	return "Publishes the aggregate pattern payload to the payload sink"
}

// Run publishes once. Having nothing qualified to publish is not a failure.
func (j *PublishPayloadJob) Run(ctx context.Context) error {
	res, err := j.handler.Handle(ctx, command.PublishPayloadCommand{})
	switch {
	case errors.Is(err, shared.ErrNoQualifiedPatterns):
		j.logger.Debug("nothing to publish")
		return nil
	case err != nil:
		return fmt.Errorf("publish payload: %w", err)
	case res.Skipped:
		j.logger.Debug("payload publishing disabled")
	}
	return nil
}

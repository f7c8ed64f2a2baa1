package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/physics-telemetry/config"
	"github.com/alem-hub/physics-telemetry/internal/application"
	"github.com/alem-hub/physics-telemetry/internal/domain/pattern"
	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
	"github.com/alem-hub/physics-telemetry/pkg/circuitbreaker"
	"github.com/alem-hub/physics-telemetry/pkg/logger"
	"github.com/alem-hub/physics-telemetry/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUBLISH PAYLOAD COMMAND
// Generates the aggregate payload and hands it to the payload sink.
// ══════════════════════════════════════════════════════════════════════════════

// PayloadSink stores aggregate payloads. Implementations must be safe for
// concurrent use. Failures wrapping shared.ErrServiceUnavailable or
// shared.ErrTimeout are retried; anything else fails the publication at once.
type PayloadSink interface {
	SavePayload(ctx context.Context, id string, p pattern.Payload) error
	Name() string
}

// PublishPayloadCommand requests one publication.
type PublishPayloadCommand struct {
	// Force publishes even when the feature flag is off.
	Force bool
}

// PublishPayloadResult describes a publication.
type PublishPayloadResult struct {
	PayloadID string
	Payload   pattern.Payload

	// Skipped is set when publication is disabled.
	Skipped bool
}

// PublishPayloadHandler handles the PublishPayloadCommand.
type PublishPayloadHandler struct {
	pipeline *application.Pipeline
	sink     PayloadSink
	retrier  *retry.Retrier
	breaker  *circuitbreaker.CircuitBreaker
	log      *logger.Logger
}

// PublishPayloadHandlerConfig contains configuration for the handler.
type PublishPayloadHandlerConfig struct {
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// DefaultPublishPayloadHandlerConfig returns default configuration.
func DefaultPublishPayloadHandlerConfig() PublishPayloadHandlerConfig {
	return PublishPayloadHandlerConfig{
		MaxRetries:       3,
		RetryBaseDelay:   500 * time.Millisecond,
		RetryMaxDelay:    10 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   60 * time.Second,
	}
}

// NewPublishPayloadHandler creates a new PublishPayloadHandler.
func NewPublishPayloadHandler(pipeline *application.Pipeline, sink PayloadSink, cfg PublishPayloadHandlerConfig) *PublishPayloadHandler {
	if cfg.MaxRetries == 0 {
		cfg = DefaultPublishPayloadHandlerConfig()
	}

	log := pipeline.Logger().With(logger.Operation("publish_payload"))
	h := &PublishPayloadHandler{
		pipeline: pipeline,
		sink:     sink,
		log:      log,
	}
	h.breaker = circuitbreaker.SinkBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout, func(name string, from, to circuitbreaker.State) {
		log.Warn("sink circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})
	h.retrier = retry.SinkRetrier(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying payload publication",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
	return h
}

// Breaker exposes the sink breaker for health checks.
func (h *PublishPayloadHandler) Breaker() *circuitbreaker.CircuitBreaker {
	return h.breaker
}

// Handle executes the publish payload command. With no qualified patterns
// it returns shared.ErrNoQualifiedPatterns and the sink is not called.
func (h *PublishPayloadHandler) Handle(ctx context.Context, cmd PublishPayloadCommand) (*PublishPayloadResult, error) {
	if !cmd.Force && !h.pipeline.Enabled(config.FeaturePayloadPublish, "") {
		return &PublishPayloadResult{Skipped: true}, nil
	}

	var payload pattern.Payload
	if err := h.pipeline.Do(ctx, func(e *application.Engines) error {
		payload = e.Patterns.GeneratePayload()
		return nil
	}); err != nil {
		return nil, fmt.Errorf("publish_payload: %w", err)
	}
	if payload.Summary.QualifiedPatterns == 0 {
		return nil, fmt.Errorf("publish_payload: %w", shared.ErrNoQualifiedPatterns)
	}

	id := uuid.NewString()
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.breaker.Execute(ctx, func(ctx context.Context) error {
			return h.sink.SavePayload(ctx, id, payload)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("publish_payload: %w", shared.WrapError("sink", "Publish", shared.ErrServiceUnavailable, "payload sink failed", err))
	}

	h.pipeline.Publish(shared.NewPayloadPublishedEvent(id, payload.Summary.QualifiedPatterns, h.sink.Name()))

	h.log.Info("payload published",
		logger.String("payload_id", id),
		logger.Int("qualified_patterns", payload.Summary.QualifiedPatterns),
		logger.String("sink", h.sink.Name()),
	)
	return &PublishPayloadResult{PayloadID: id, Payload: payload}, nil
}

// Package retry re-runs calls against the worker's outside dependencies:
// the payload sink, the database at boot and the job API from the CLI.
// Whether an error deserves another attempt is decided by its shared kind.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// RetryableError marks an error as transient regardless of its kind.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps an error to indicate it should be retried.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was wrapped with Retryable.
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// PermanentError stops retries even for a transient kind.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Transient reports whether err is worth another attempt: it was marked
// Retryable, or its kind is shared.ErrServiceUnavailable or
// shared.ErrTimeout. Validation and not-found errors never are.
func Transient(err error) bool {
	switch {
	case err == nil:
		return false
	case shared.IsValidation(err), shared.IsNotFound(err):
		return false
	case IsRetryable(err):
		return true
	default:
		return shared.IsRetryable(err)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

type config struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
	onRetry      func(attempt int, err error, delay time.Duration)
}

// Option configures a Retrier.
type Option func(*config)

// WithMaxAttempts sets the number of attempts, the first one included.
func WithMaxAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.initialDelay = d
		}
	}
}

// WithMaxDelay caps the delay between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.maxDelay = d
		}
	}
}

// WithJitter sets the jitter factor, 0 to 1.
func WithJitter(j float64) Option {
	return func(c *config) {
		if j >= 0 && j <= 1 {
			c.jitter = j
		}
	}
}

// WithOnRetry sets a callback run before each retry.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

// Retrier runs an operation until it succeeds, fails with a non-transient
// error or runs out of attempts.
type Retrier struct {
	config config
}

// New creates a Retrier: 3 attempts, 100ms doubling up to 30s, 10% jitter.
func New(opts ...Option) *Retrier {
	c := config{
		maxAttempts:  3,
		initialDelay: 100 * time.Millisecond,
		maxDelay:     30 * time.Second,
		multiplier:   2,
		jitter:       0.1,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &Retrier{config: c}
}

// Do runs operation. The last error is returned with any Retryable or
// Permanent wrapper removed.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		var retryable *RetryableError
		if errors.As(err, &retryable) {
			lastErr = retryable.Err
		} else {
			lastErr = err
		}

		if !Transient(err) || attempt == r.config.maxAttempts {
			return lastErr
		}

		delay := r.delay(attempt)
		if r.config.onRetry != nil {
			r.config.onRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}

	return lastErr
}

// delay is initialDelay * multiplier^(attempt-1), capped and jittered.
func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.config.initialDelay) * math.Pow(r.config.multiplier, float64(attempt-1))
	if d > float64(r.config.maxDelay) {
		d = float64(r.config.maxDelay)
	}
	if r.config.jitter > 0 {
		d += d * r.config.jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(d, 0))
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// SinkRetrier returns a Retrier for payload publication. Attempts, base and
// max delay come from configuration; zero values keep the defaults.
func SinkRetrier(maxAttempts int, initialDelay, maxDelay time.Duration, opts ...Option) *Retrier {
	base := []Option{
		WithJitter(0.2),
		WithMaxAttempts(maxAttempts),
		WithInitialDelay(initialDelay),
		WithMaxDelay(maxDelay),
	}
	return New(append(base, opts...)...)
}

// DatabaseRetrier returns a Retrier for the boot-time database ping.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
	)
}

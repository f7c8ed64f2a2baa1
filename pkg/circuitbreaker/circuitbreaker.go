// Package circuitbreaker stops the worker from hammering a payload sink or
// dashboard cache that is down. Only infrastructure failures count against
// a breaker; caller-side errors pass through without tripping it.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alem-hub/physics-telemetry/internal/domain/shared"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the open timeout has passed.
	StateOpen
	// StateHalfOpen lets a single trial call through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned while the half-open trial is running.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// countsAsFailure reports whether err says the guarded dependency is
// unhealthy. Validation and not-found errors and a cancelled caller do not.
func countsAsFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case shared.IsValidation(err), shared.IsNotFound(err), errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

type config struct {
	failureThreshold int
	timeout          time.Duration
	onStateChange    func(name string, from, to State)
	now              func() time.Time
}

// Option configures a CircuitBreaker.
type Option func(*config)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.failureThreshold = n
		}
	}
}

// WithTimeout sets how long the breaker stays open.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithOnStateChange sets the state change callback. It runs with the
// breaker locked and must not call back into it.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *config) {
		c.onStateChange = fn
	}
}

// WithClock overrides the time source used for the open timeout.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// Counts holds the current counts for the circuit breaker. Requests
// includes calls whose error did not count as a failure.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker guards one dependency.
type CircuitBreaker struct {
	name   string
	config config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	trial    bool
}

// New creates a closed breaker: 5 failures open it for 30s.
func New(name string, opts ...Option) *CircuitBreaker {
	c := config{
		failureThreshold: 5,
		timeout:          30 * time.Second,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &CircuitBreaker{name: name, config: c}
}

// Execute runs fn unless the breaker is open and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.config.now().Sub(cb.openedAt) < cb.config.timeout {
			return ErrCircuitOpen
		}
		cb.setState(StateHalfOpen)
		cb.trial = true
		return nil
	case StateHalfOpen:
		if cb.trial {
			return ErrTooManyRequests
		}
		cb.trial = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	cb.trial = false

	if !countsAsFailure(err) {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.config.failureThreshold {
		cb.openedAt = cb.config.now()
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	if cb.config.onStateChange != nil {
		cb.config.onStateChange(cb.name, from, to)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the current counts.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// SinkBreaker returns a circuit breaker for the payload sink. Threshold and
// timeout come from configuration; zero values keep the defaults.
func SinkBreaker(threshold int, timeout time.Duration, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("payload-sink",
		WithFailureThreshold(threshold),
		WithTimeout(timeout),
		WithOnStateChange(onStateChange),
	)
}

// CacheBreaker returns a circuit breaker for the dashboard cache. The cache
// is optional, so it opens quickly and stays open briefly.
func CacheBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("dashboard-cache",
		WithFailureThreshold(3),
		WithTimeout(10*time.Second),
		WithOnStateChange(onStateChange),
	)
}

// Package shared contains common domain errors and events used across the
// pipeline packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// Data sufficiency errors
	ErrInsufficientData = errors.New("insufficient data")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("expired")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "physics", "pattern", "diagnostic"
	Op      string // Operation that failed, e.g., "Create", "Update"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Converter domain errors
var (
	ErrNilRawEvent = NewDomainError("converter", "Convert", ErrInvalidInput, "raw event must not be nil")
)

// Physics domain errors
var (
	ErrEntityNotFound = NewDomainError("physics", "Find", ErrNotFound, "entity not found")
	ErrEntityExists   = NewDomainError("physics", "AddNode", ErrAlreadyExists, "entity already exists")
	ErrInvalidMass    = NewDomainError("physics", "Validate", ErrValueOutOfRange, "mass must be positive")
)

// Pattern domain errors
var (
	ErrPIIDetected         = NewDomainError("pattern", "Extract", ErrValidation, "input rejected by PII screen")
	ErrNoQualifiedPatterns = NewDomainError("pattern", "GeneratePayload", ErrInsufficientData, "no patterns above minimum confidence")
)

// Correlation domain errors
var (
	ErrUnknownPhysicsKey = NewDomainError("correlation", "IngestPhysics", ErrValidation, "features contain a key outside the physics allow-list")
	ErrInvalidEntityID   = NewDomainError("correlation", "IngestPhysics", ErrInvalidID, "entity ID must not be empty")
)

// Diagnostic domain errors
var (
	ErrUnknownSensor  = NewDomainError("diagnostic", "Validate", ErrInvalidInput, "unknown sensor type")
	ErrNoReadings     = NewDomainError("diagnostic", "DetectAnomaly", ErrInsufficientData, "no readings recorded for sensor")
	ErrInvalidReading = NewDomainError("diagnostic", "RecordReading", ErrValueOutOfRange, "reading value must be finite")
)

// Sink errors (persistence and cache collaborators)
var (
	ErrPayloadSinkUnavailable = NewDomainError("sink", "Publish", ErrServiceUnavailable, "payload sink is unavailable")
	ErrCacheUnavailable       = NewDomainError("sink", "Cache", ErrServiceUnavailable, "cache is unavailable")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsInsufficientData reports a warm-up condition rather than a fault.
func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}

package domain

import (
	"errors"
	"fmt"
)

// Common domain errors surfaced by the rollout pipeline.
var (
	// ErrMissingReward indicates a verifier response without a reward
	// field. The rollout is excluded from output and metrics.
	ErrMissingReward = errors.New("verifier returned no reward")

	// ErrRewardNotFinite indicates a reward that is NaN or infinite.
	ErrRewardNotFinite = errors.New("reward is not a finite number")

	// ErrServiceNotDeclared indicates a lookup for a service name absent
	// from the resolved configuration. This is a permanent
	// misconfiguration, not a startup-ordering condition.
	ErrServiceNotDeclared = errors.New("service not declared in configuration")

	// ErrServiceNotRegistered indicates a service that is declared in
	// configuration but has not yet published its address. Callers may
	// treat this as transient and retry with backoff.
	ErrServiceNotRegistered = errors.New("service declared but not yet registered")

	// ErrInvalidConfiguration indicates configuration that failed
	// resolution or validation.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ValidationError aggregates every validation failure found in one pass
// so a single fix-iterate cycle can address them all.
type ValidationError struct {
	// Entity names what was being validated, typically a config source
	// or service declaration.
	Entity string

	// Errors lists each individual failure.
	Errors []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap marks validation failures as configuration errors.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError appends one failure message.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// Addf appends one formatted failure message.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any failure was recorded.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates an empty ValidationError for the entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{Entity: entity, Errors: make([]string, 0)}
}

package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound     = errors.New("resource not found")
	ErrTestNotFound = fmt.Errorf("%w: test", ErrNotFound)
	ErrCallNotFound = fmt.Errorf("%w: call", ErrNotFound)
	ErrLeadNotFound = fmt.Errorf("%w: lead", ErrNotFound)

	// Validation errors
	ErrInvalidConfig    = errors.New("invalid test configuration")
	ErrEmptyLeadList    = errors.New("lead list is empty")
	ErrInvalidBlockSize = errors.New("stratified block size must be even and >= 2")
	ErrMissingMode      = errors.New("assignment mode is required")

	// Lifecycle errors
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrTestActive        = errors.New("test is running or paused")
	ErrTestNotActive     = errors.New("test is not running")

	// Collaborator errors
	ErrSpamSourceUnavailable = errors.New("spam source unavailable")
	ErrCarrierFailed         = errors.New("voice carrier call failed")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, reason)
}

func NewTransitionError(from, to string) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrEmptyLeadList) ||
		errors.Is(err, ErrInvalidBlockSize) ||
		errors.Is(err, ErrMissingMode)
}

func IsTransitionError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

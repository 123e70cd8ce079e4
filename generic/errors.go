/*
errors.go - Centralized error types for the bill engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is on the sentinels; structured errors carry
  the context needed for a useful message and unwrap to their sentinel.

ERROR CATEGORIES:
  1. Rule errors - Malformed or unsupported recurring rules (not retried)
  2. Lookup errors - Referenced bill/occurrence does not exist
  3. Storage errors - Connectivity, constraint violations (caller decides retry)
  4. Workflow errors - Illegal occurrence state transitions

SEE ALSO:
  - billing/recurrence.go: Raises InvalidRuleError
  - billing/approval.go: Raises TransitionError
  - api/handlers.go: Maps categories to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRule is returned when a recurring rule cannot be expanded.
	ErrInvalidRule = errors.New("invalid recurring rule")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrStorage is returned when the storage collaborator fails.
	ErrStorage = errors.New("storage failure")

	// ErrConflict is returned when a write collides with a uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is returned when an occurrence cannot move to the
	// requested state from its current one.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is returned for malformed client input.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidRuleError names the offending rule field and value.
type InvalidRuleError struct {
	Field string
	Value any
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurring rule: unsupported %s %v", e.Field, e.Value)
}

func (e *InvalidRuleError) Unwrap() error { return ErrInvalidRule }

// NotFoundError identifies which record was missing.
type NotFoundError struct {
	Kind string // "bill", "occurrence"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageError wraps a failure from the persistence layer.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// TransitionError describes a rejected state change.
type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition occurrence from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Storage wraps err as a StorageError unless it already carries a category
// the caller can act on.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the request clashed with current state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition)
}

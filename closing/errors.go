/*
errors.go - Centralized error types for the closing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is on the sentinels or errors.As on the
  structured types to read the extra context.

ERROR CATEGORIES:
  1. Validation errors - Malformed adjustment or configuration input
  2. Prerequisite errors - Sales period not imported yet (recoverable)
  3. Closed period errors - Mutation against a finalized period
  4. In-progress errors - Concurrent recompute on the same month
  5. Storage consistency errors - Atomic delete+insert did not complete

PROPAGATION:
  The engine never retries and never suppresses these. Every error is
  returned to the caller as-is; retry is a caller concern.

SEE ALSO:
  - recompute.go: Raises prerequisite, closed, in-progress, storage errors
  - ledger.go: Raises validation and closed errors
  - api/handlers.go: Maps these to HTTP status codes
*/
package closing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrMissingPrerequisite is returned when the sales period for the month
	// has not been imported yet.
	ErrMissingPrerequisite = errors.New("missing prerequisite")

	// ErrClosedPeriod is returned for any mutation against a finalized period.
	ErrClosedPeriod = errors.New("period is closed")

	// ErrInProgress is returned when a recompute for the same month is running.
	ErrInProgress = errors.New("recompute already in progress")

	// ErrStorageConsistency is returned when the line replacement could not
	// be committed atomically.
	ErrStorageConsistency = errors.New("storage consistency failure")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MissingPrerequisiteError names what is missing for the month.
type MissingPrerequisiteError struct {
	Month Month
	What  string
}

func (e *MissingPrerequisiteError) Error() string {
	return fmt.Sprintf("missing prerequisite for %s: %s", e.Month, e.What)
}

func (e *MissingPrerequisiteError) Unwrap() error { return ErrMissingPrerequisite }

type ClosedPeriodError struct {
	Month     Month
	Operation string
}

func (e *ClosedPeriodError) Error() string {
	return fmt.Sprintf("cannot %s: period %s is closed", e.Operation, e.Month)
}

func (e *ClosedPeriodError) Unwrap() error { return ErrClosedPeriod }

type InProgressError struct {
	Month Month
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("recompute for %s already in progress, retry later", e.Month)
}

func (e *InProgressError) Unwrap() error { return ErrInProgress }

// StorageConsistencyError wraps the storage failure that aborted a recompute.
// Both ErrStorageConsistency and the cause match errors.Is.
type StorageConsistencyError struct {
	ClosingID ClosingID
	Month     Month
	Err       error
}

func (e *StorageConsistencyError) Error() string {
	return fmt.Sprintf("closing %s (%s): line replacement not committed: %v", e.ClosingID, e.Month, e.Err)
}

func (e *StorageConsistencyError) Unwrap() []error { return []error{ErrStorageConsistency, e.Err} }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInProgress) || errors.Is(err, ErrMissingPrerequisite)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrClosedPeriod) ||
		errors.Is(err, ErrMissingPrerequisite)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

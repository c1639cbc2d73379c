/*
errors.go - Centralized error types for the fee engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers embedding the engine should wrap these with transport context.

ERROR CATEGORIES:
  1. Not-found errors     - Referenced records absent; surfaced, not retried
  2. Invariant violations - Corrupted upstream data; fatal-log, never "fix"
  3. Concurrency errors   - Optimistic-lock conflicts; retry once with
                            fresh data, not in a loop
  4. Store errors         - Idempotency and persistence failures

Validation outcomes for waiver requests are NOT errors: they are typed
Decision values (see validator.go), because a policy rejection is an
expected business outcome the caller renders directly.
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProgramNotFound is returned when a referenced program doesn't exist.
	ErrProgramNotFound = errors.New("program not found")

	// ErrEnrollmentNotFound is returned when a referenced enrollment doesn't exist.
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// ErrStructureNotFound is returned when no fee structure (active or
	// synthesizable) exists for a program.
	ErrStructureNotFound = errors.New("fee structure not found")

	// ErrWaiverNotFound is returned when a referenced waiver doesn't exist.
	ErrWaiverNotFound = errors.New("waiver not found")

	// ErrStatusNotFound is returned when no financial status row exists yet.
	ErrStatusNotFound = errors.New("financial status not found")

	// ErrDuplicateIdempotencyKey is returned when a payment with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrencyConflict is returned when an optimistic version check
	// fails on a FinancialStatus write.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrInvariantViolation is the base error for consistency checks
	// that indicate corrupted upstream data.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrWaiverNotPending is returned when deciding a waiver that has
	// already left the pending state.
	ErrWaiverNotPending = errors.New("waiver is not pending")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvariantError reports a failed consistency check, e.g. a fee structure
// whose total does not equal the sum of its parts, or a balance mismatch
// on rebuild. It must be surfaced, never silently corrected.
type InvariantError struct {
	Check    string
	Expected Money
	Actual   Money
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: expected %v, got %v",
		e.Check, e.Expected.Value, e.Actual.Value)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// ConflictError reports an optimistic-lock failure with version detail.
type ConflictError struct {
	EnrollmentID    EnrollmentID
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("financial status for %s modified concurrently: expected version %d, found %d",
		e.EnrollmentID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the operation might succeed when retried
// once with fresh data.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrEnrollmentNotFound) ||
		errors.Is(err, ErrStructureNotFound) ||
		errors.Is(err, ErrWaiverNotFound) ||
		errors.Is(err, ErrStatusNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrWaiverNotPending)
}

/*
store.go - Persistence interfaces for the fee engine

PURPOSE:
  Defines the interface between the engine and the database. The engine
  performs no I/O itself; these interfaces are how reconciliation reads
  the records it folds over and writes the derived status back.

KEY CONTRACTS:
  PaymentStore:  APPEND-ONLY payment log. No Update, no Delete. A
                 payment is an immutable fact once completed; mistakes
                 are corrected by recording compensating facts upstream,
                 never by editing history.
  StatusStore:   Versioned FinancialStatus rows with an optimistic
                 CompareAndSave. Concurrent postings for the SAME
                 enrollment must be serialized; the version check is how
                 a lost race surfaces (ErrConcurrencyConflict).
  TxStore:       Per-enrollment read-modify-write scope. Reconciliation
                 always recomputes from the full payment history inside
                 this scope, never applies a delta blindly.

IDEMPOTENCY:
  Payment writes carry an idempotency key. A duplicate key is rejected
  with ErrDuplicateIdempotencyKey, which callers treat as "already
  processed" on retries.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go:  Production SQLite
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// REFERENCE DATA
// =============================================================================

type ProgramStore interface {
	SaveProgram(ctx context.Context, p Program) error
	// GetProgram returns ErrProgramNotFound if absent.
	GetProgram(ctx context.Context, id ProgramID) (*Program, error)
	ListPrograms(ctx context.Context) ([]Program, error)
}

type StructureStore interface {
	// SaveStructure persists a structure. Activating one deactivates
	// any previously active structure for the same program.
	SaveStructure(ctx context.Context, fs FeeStructure) error
	// ActiveStructure returns ErrStructureNotFound when no active
	// structure exists for the program.
	ActiveStructure(ctx context.Context, programID ProgramID) (FeeStructure, error)
	GetStructure(ctx context.Context, id StructureID) (*FeeStructure, error)
}

type EnrollmentStore interface {
	SaveEnrollment(ctx context.Context, e Enrollment) error
	// GetEnrollment returns ErrEnrollmentNotFound if absent.
	GetEnrollment(ctx context.Context, id EnrollmentID) (*Enrollment, error)
	ListEnrollments(ctx context.Context) ([]Enrollment, error)
}

// =============================================================================
// PAYMENTS - Append-only
// =============================================================================

// PaymentStore is the append-only payment log.
// IMPORTANT: No Update, no Delete. Ever.
type PaymentStore interface {
	// AppendPayment persists a payment. Returns
	// ErrDuplicateIdempotencyKey if the key already exists.
	AppendPayment(ctx context.Context, p Payment) error

	// Payments returns all payments for an enrollment, oldest first.
	Payments(ctx context.Context, enrollmentID EnrollmentID) ([]Payment, error)

	// PaymentExists checks whether an idempotency key has been used.
	PaymentExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// WAIVERS
// =============================================================================

type WaiverStore interface {
	SaveWaiver(ctx context.Context, w Waiver) error
	// GetWaiver returns ErrWaiverNotFound if absent.
	GetWaiver(ctx context.Context, id WaiverID) (*Waiver, error)
	// WaiversForEnrollment returns the full waiver history for an
	// enrollment, oldest request first.
	WaiversForEnrollment(ctx context.Context, enrollmentID EnrollmentID) ([]Waiver, error)
	ListPendingWaivers(ctx context.Context) ([]Waiver, error)
}

// =============================================================================
// FINANCIAL STATUS - Versioned derived state
// =============================================================================

type StatusStore interface {
	// GetStatus returns ErrStatusNotFound when the enrollment has no
	// status row yet.
	GetStatus(ctx context.Context, enrollmentID EnrollmentID) (*FinancialStatus, error)

	// CompareAndSave writes the status only if the stored version still
	// equals expectedVersion (0 for a first write), then bumps it.
	// Returns ErrConcurrencyConflict on a stale version.
	CompareAndSave(ctx context.Context, status FinancialStatus, expectedVersion int) error
}

// =============================================================================
// TRANSACTIONAL SCOPE
// =============================================================================

// Store aggregates everything reconciliation touches.
type Store interface {
	ProgramStore
	StructureStore
	EnrollmentStore
	PaymentStore
	WaiverStore
	StatusStore
}

// TxStore adds a transactional scope around multi-record operations.
type TxStore interface {
	Store

	// WithTx executes fn atomically. If fn returns an error the writes
	// are rolled back; otherwise they are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Clock supplies "now" so callers control time in tests and the engine
// never reaches for the wall clock implicitly.
type Clock func() time.Time

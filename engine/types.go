/*
Package engine implements the fee structure and waiver reconciliation core.

PURPOSE:
  This package contains the rules that turn (fee structure, waivers,
  payments) into a consistent financial status record for a student
  enrollment: waiver-amount computation, block-sequenced payment
  application, overdue/suspension transitions, and late-fee exposure.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal currency amount (never floats)
  - FeeStructure: Registration fee + up to three tuition blocks + total
  - Waiver: An approved reduction (percentage, fixed amount, or full)
  - Payment: An immutable, completed payment fact
  - FinancialStatus: Derived balance state for one enrollment

DESIGN PRINCIPLES:
  1. Immutability: Payments are append-only facts, never rewritten
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Purity: FinancialStatus is always a fold over the payment history,
     never an in-place accumulator that can drift from it
  4. Type Safety: Strong typing for IDs prevents mixing identifiers

SEE ALSO:
  - structure.go: Active fee structure resolution and default synthesis
  - waiver.go: Waiver application rules
  - ledger.go: Payment fold producing FinancialStatus
  - overdue.go: Overdue and suspension assessment
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal currency amount
// =============================================================================

// Currency is an ISO-style currency code carried by every Money value.
type Currency string

const (
	CurrencyUGX Currency = "UGX"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money           { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money           { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) Div(s decimal.Decimal) Money { return Money{Value: m.Value.Div(s), Currency: m.Currency} }
func (m Money) Neg() Money                  { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool    { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool       { return m.Value.LessThan(b.Value) }

func (m Money) GreaterThanOrEqual(b Money) bool { return m.Value.GreaterThanOrEqual(b.Value) }

func (m Money) Min(b Money) Money {
	if m.LessThan(b) {
		return m
	}
	return b
}

func (m Money) Max(b Money) Money {
	if m.GreaterThan(b) {
		return m
	}
	return b
}

// ClampZero floors the amount at zero. Waiver application guarantees
// no adjusted field is ever negative.
func (m Money) ClampZero() Money {
	if m.IsNegative() {
		return m.Zero()
	}
	return m
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProgramID string
type StructureID string
type StudentID string
type EnrollmentID string
type WaiverID string
type PaymentID string

// =============================================================================
// PROGRAM - A course of study with its fee schedule parameters
// =============================================================================

// Program identifies a course of study. Immutable once referenced by an
// active fee structure.
type Program struct {
	ID       ProgramID
	Name     string
	Currency Currency

	// Flat fee fields used by the default-split fallback when no
	// explicit FeeStructure is active (see structure.go).
	CourseFee       Money
	RegistrationFee Money

	// Percentage applied to the outstanding balance when overdue.
	LateFeePercent decimal.Decimal

	// How tuition is scheduled across blocks.
	Plan PaymentPlan
}

// =============================================================================
// FEE STRUCTURE - Registration fee + up to three tuition blocks
// =============================================================================

// FeeStructure belongs to exactly one Program. At most one structure is
// active per program at a time; superseded structures are soft-retired
// (IsActive=false), never hard-deleted while enrollments reference them.
//
// INVARIANT (construction-time, see NewFeeStructure):
//   Total == RegistrationFee + Block1 + Block2 + Block3
type FeeStructure struct {
	ID              StructureID
	ProgramID       ProgramID
	RegistrationFee Money
	Block1          Money
	Block2          Money
	Block3          Money
	Total           Money
	IsActive        bool
	CreatedAt       time.Time
}

// NewFeeStructure builds a structure and enforces the sum invariant.
// The total is validated, not re-derived: a mismatch indicates corrupted
// upstream data and is rejected rather than silently fixed.
func NewFeeStructure(id StructureID, programID ProgramID, registration, block1, block2, block3, total Money) (FeeStructure, error) {
	sum := registration.Add(block1).Add(block2).Add(block3)
	if !sum.Value.Equal(total.Value) {
		return FeeStructure{}, &InvariantError{
			Check:    "fee_structure_total",
			Expected: sum,
			Actual:   total,
		}
	}
	return FeeStructure{
		ID:              id,
		ProgramID:       programID,
		RegistrationFee: registration,
		Block1:          block1,
		Block2:          block2,
		Block3:          block3,
		Total:           total,
		IsActive:        true,
	}, nil
}

// Blocks returns the tuition blocks in payment order.
func (fs FeeStructure) Blocks() [3]Money {
	return [3]Money{fs.Block1, fs.Block2, fs.Block3}
}

// CourseFee returns the tuition portion (total minus registration fee).
func (fs FeeStructure) CourseFee() Money {
	return fs.Total.Sub(fs.RegistrationFee).ClampZero()
}

// AdjustedFeeStructure is a FeeStructure after waiver application.
// When a fixed-amount waiver is present the block fields may sum to more
// than Total; Total is authoritative for balance purposes.
type AdjustedFeeStructure struct {
	FeeStructure

	// Waivers that were actually applied, in application order.
	AppliedWaivers []WaiverID
}

// =============================================================================
// ENROLLMENT - A student's registration in a program
// =============================================================================

type Enrollment struct {
	ID         EnrollmentID
	StudentID  StudentID
	ProgramID  ProgramID
	EnrolledAt time.Time
}

// =============================================================================
// WAIVER - An approved reduction to a fee structure
// =============================================================================

type WaiverType string

const (
	WaiverFull        WaiverType = "full"
	WaiverPercentage  WaiverType = "percentage"
	WaiverFixedAmount WaiverType = "fixed_amount"
)

type WaiverStatus string

const (
	WaiverPending  WaiverStatus = "pending"
	WaiverApproved WaiverStatus = "approved"
	WaiverRejected WaiverStatus = "rejected"
	WaiverExpired  WaiverStatus = "expired"
)

// Waiver is a reduction request/grant for one student+enrollment,
// computed against a specific fee structure.
//
// LIFECYCLE:
//   pending -> approved | rejected   (administrator decision, terminal)
//   approved -> expired              (forced once ExpiryDate passes)
//
// Only one pending waiver may exist per (student, enrollment) at a time.
type Waiver struct {
	ID           WaiverID
	StudentID    StudentID
	EnrollmentID EnrollmentID
	StructureID  StructureID

	Type  WaiverType
	Value decimal.Decimal // percentage 1-100, or a currency amount

	Status     WaiverStatus
	ExpiryDate *time.Time
	Reason     string

	RequestedAt time.Time
	DecidedAt   *time.Time // approval/rejection time; approval order key
	DecidedBy   string
}

// Applicable reports whether the waiver should participate in fee
// adjustment as of the given date: approved and not past expiry.
func (w Waiver) Applicable(today time.Time) bool {
	if w.Status != WaiverApproved {
		return false
	}
	if w.ExpiryDate != nil && w.ExpiryDate.Before(truncateToDay(today)) {
		return false
	}
	return true
}

// =============================================================================
// PAYMENT - Immutable fact once completed
// =============================================================================

type PaymentStatus string

const (
	PaymentCompleted  PaymentStatus = "completed"
	PaymentInProgress PaymentStatus = "pending"
	PaymentFailed     PaymentStatus = "failed"
)

// Payment records money received for an enrollment. Append-only: the
// ledger never rewrites history, only recomputes FinancialStatus from
// the full ordered sequence.
type Payment struct {
	ID           PaymentID
	EnrollmentID EnrollmentID
	Amount       Money
	PaidAt       time.Time
	Status       PaymentStatus

	InvoiceRef     string
	IdempotencyKey string
	RecordedBy     string
}

// =============================================================================
// FINANCIAL STATUS - Derived state, one row per enrollment
// =============================================================================

// AccountState is the coarse lifecycle state of an enrollment's account.
type AccountState string

const (
	StateActive    AccountState = "active"
	StateOverdue   AccountState = "overdue"
	StateSuspended AccountState = "suspended"
	StateCleared   AccountState = "cleared"
)

// FinancialStatus is derived, never independently editable. It is
// mutated exclusively by the payment ledger and overdue monitor.
//
// INVARIANTS:
//   Balance == TotalFee - PaidAmount (subject to overpayment policy)
//   IsCleared == (Balance is not positive)
type FinancialStatus struct {
	StudentID    StudentID
	EnrollmentID EnrollmentID
	StructureID  StructureID

	TotalFee   Money
	PaidAmount Money
	Balance    Money

	// Course-fee portion of the balance, excluding any unpaid
	// registration fee. This is the waiver-eligible balance when the
	// policy excludes registration fees (see policy.go).
	CourseFeeBalance Money

	RegistrationPaid   bool
	RegistrationPaidAt *time.Time

	// Lowest-numbered tuition block not yet fully paid (1..3).
	// Stays at 3 once everything is paid.
	CurrentBlock int

	IsCleared   bool
	IsSuspended bool

	NextPaymentDue  *time.Time
	PaymentDeadline *time.Time

	// Optimistic concurrency version for read-modify-write callers.
	Version    int
	ComputedAt time.Time
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WholeDaysBetween returns the count of whole days from a to b,
// ignoring time-of-day. Negative when b precedes a.
func WholeDaysBetween(a, b time.Time) int {
	return int(truncateToDay(b).Sub(truncateToDay(a)).Hours() / 24)
}

/*
ledger.go - Payment application and financial status computation

PURPOSE:
  Computes FinancialStatus from an adjusted fee structure and the
  chronological list of completed payments. This is the central
  calculation that answers "where does this enrollment stand?"

KEY INSIGHT:
  FinancialStatus is a PURE FOLD over the payment history. There is no
  stateful accumulator that can drift from persisted history: the same
  (structure, payments) input always yields the same output, so a full
  rebuild is always safe and always authoritative.

PAYMENT APPLICATION ORDER:
  Payments apply registration-fee-first, then block1, block2, block3, in
  that fixed order. CurrentBlock is the lowest-numbered block not yet
  fully paid.

BALANCE AUTHORITY:
  Balance is always Total - PaidAmount. When a fixed-amount waiver has
  reduced Total below the block sum, Total wins: an enrollment can be
  cleared while the block fields still show unpaid amounts.

PRIOR STATE:
  A prior FinancialStatus contributes only what the fold cannot derive:
  the administrative suspension flag, the due-date schedule, and the
  optimistic-concurrency version. Its balance is also cross-checked
  against the rebuild as a corruption tripwire.

SEE ALSO:
  - waiver.go: Produces the AdjustedFeeStructure input
  - overdue.go: Consumes the FinancialStatus output
*/
package engine

import (
	"sort"
	"time"
)

// =============================================================================
// RECOMPUTE - The pure fold
// =============================================================================

// RecomputeFinancialStatus rebuilds the financial status for an
// enrollment from scratch. Deterministic and idempotent: recomputation
// from the same ordered payment list always yields the same status.
//
// prior may be nil (first computation). When present, it supplies the
// suspension flag, due dates, and version; everything financial is
// rederived.
func RecomputeFinancialStatus(
	enrollment Enrollment,
	adjusted AdjustedFeeStructure,
	payments []Payment,
	prior *FinancialStatus,
	policy WaiverPolicy,
	now time.Time,
) FinancialStatus {
	completed := completedInOrder(payments)

	zero := adjusted.Total.Zero()
	paid := zero
	registrationPaid := adjusted.RegistrationFee.IsZero()
	var registrationPaidAt *time.Time

	for _, p := range completed {
		paid = paid.Add(p.Amount)
		if !registrationPaid && paid.GreaterThanOrEqual(adjusted.RegistrationFee) {
			registrationPaid = true
			at := p.PaidAt
			registrationPaidAt = &at
		}
	}

	balance := adjusted.Total.Sub(paid)
	if policy.Overpayment == OverpaymentClamp {
		balance = balance.ClampZero()
	}
	cleared := !balance.IsPositive()

	// Course-fee portion of the balance: whatever of the outstanding
	// amount is not attributable to the unpaid registration fee.
	unpaidRegistration := adjusted.RegistrationFee.Sub(paid.Min(adjusted.RegistrationFee)).ClampZero()
	courseBalance := balance.Sub(unpaidRegistration).ClampZero()

	status := FinancialStatus{
		StudentID:          enrollment.StudentID,
		EnrollmentID:       enrollment.ID,
		StructureID:        adjusted.ID,
		TotalFee:           adjusted.Total,
		PaidAmount:         paid,
		Balance:            balance,
		CourseFeeBalance:   courseBalance,
		RegistrationPaid:   registrationPaid,
		RegistrationPaidAt: registrationPaidAt,
		CurrentBlock:       currentBlock(adjusted, paid, cleared),
		IsCleared:          cleared,
		ComputedAt:         now,
	}

	if prior != nil {
		status.IsSuspended = prior.IsSuspended
		status.NextPaymentDue = prior.NextPaymentDue
		status.PaymentDeadline = prior.PaymentDeadline
		status.Version = prior.Version
	}
	return status
}

// currentBlock walks blocks in payment order after the registration fee
// has been satisfied. Returns the lowest-numbered block not fully paid,
// or 3 once everything is paid or the total is cleared.
func currentBlock(adjusted AdjustedFeeStructure, paid Money, cleared bool) int {
	if cleared {
		return 3
	}
	towardBlocks := paid.Sub(adjusted.RegistrationFee).ClampZero()

	cumulative := adjusted.Total.Zero()
	for i, block := range adjusted.Blocks() {
		cumulative = cumulative.Add(block)
		if towardBlocks.LessThan(cumulative) {
			return i + 1
		}
	}
	return 3
}

// completedInOrder filters to completed payments and restores
// chronological order. Determinism over payment history must not
// depend on how the caller assembled the slice.
func completedInOrder(payments []Payment) []Payment {
	completed := make([]Payment, 0, len(payments))
	for _, p := range payments {
		if p.Status == PaymentCompleted {
			completed = append(completed, p)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].PaidAt.Before(completed[j].PaidAt)
	})
	return completed
}

// =============================================================================
// REBUILD VERIFICATION - Corruption tripwire
// =============================================================================

// VerifyRebuild compares a freshly computed status against the persisted
// prior. A mismatch on the same structure and payment history means the
// stored row drifted from the ledger (corrupted upstream data); it is
// reported, never silently fixed.
func VerifyRebuild(prior, fresh FinancialStatus) error {
	if prior.StructureID != fresh.StructureID {
		return nil // structure swap or waiver change; drift is expected
	}
	if prior.TotalFee.Value.Equal(fresh.TotalFee.Value) &&
		prior.PaidAmount.Value.Equal(fresh.PaidAmount.Value) &&
		!prior.Balance.Value.Equal(fresh.Balance.Value) {
		return &InvariantError{
			Check:    "balance_rebuild",
			Expected: fresh.Balance,
			Actual:   prior.Balance,
		}
	}
	return nil
}

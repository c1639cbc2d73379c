/*
overdue.go - Overdue and suspension assessment

PURPOSE:
  Given a FinancialStatus, the next payment due date, "now", and the
  program's late-fee percentage, computes overdue status, days overdue,
  and late-fee exposure, and reports whether suspension is recommended.

SUSPENSION IS ADVISORY:
  This engine computes ELIGIBILITY for suspension. It never flips the
  suspended flag itself: that is an administrative action consumed as an
  external event. The assessment only tells the caller what it would
  recommend so the administrator can decide.

STATE MACHINE:
  active -> overdue     balance > 0 and due date passed
  overdue -> suspended  administrative action
  suspended -> active   payment clears the debt
  * -> cleared          balance reaches 0 (terminal until next enrollment)
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// OverdueAssessment is the monitor's read-only verdict for one enrollment.
type OverdueAssessment struct {
	IsOverdue   bool
	DaysOverdue int
	LateFee     Money

	// RecommendSuspension is true when the enrollment has been overdue
	// beyond the policy threshold. Advisory only.
	RecommendSuspension bool
}

// EvaluateOverdue assesses an enrollment's overdue exposure.
//
// An enrollment is overdue when it carries a positive balance past its
// due date and is not already suspended. The late fee is the configured
// percentage of the outstanding balance, zero when not overdue.
func EvaluateOverdue(status FinancialStatus, nextDue *time.Time, now time.Time, lateFeePercent decimal.Decimal, policy WaiverPolicy) OverdueAssessment {
	assessment := OverdueAssessment{LateFee: status.Balance.Zero()}

	if nextDue == nil || status.IsSuspended || !status.Balance.IsPositive() {
		return assessment
	}
	if !nextDue.Before(now) {
		return assessment
	}

	assessment.IsOverdue = true
	assessment.DaysOverdue = WholeDaysBetween(*nextDue, now)
	assessment.LateFee = status.Balance.Mul(lateFeePercent).Div(hundred)
	assessment.RecommendSuspension = policy.SuspensionAfterDays > 0 &&
		assessment.DaysOverdue >= policy.SuspensionAfterDays
	return assessment
}

// StateOf collapses a status and its assessment into the coarse account
// state used for display and reporting.
func StateOf(status FinancialStatus, assessment OverdueAssessment) AccountState {
	switch {
	case status.IsCleared:
		return StateCleared
	case status.IsSuspended:
		return StateSuspended
	case assessment.IsOverdue:
		return StateOverdue
	default:
		return StateActive
	}
}

/*
validator.go - Waiver request admission policy

PURPOSE:
  Decides whether a NEW waiver request is admissible before it is
  persisted as pending. This is a policy gate, not an exception path:
  rejections are expected business outcomes returned as typed values the
  caller can render directly.

VALIDATION ORDER (first failure wins):
  1. Enrollment exists and belongs to the requesting student
  2. Value bounds: percentage in (0,100]; fixed amount > 0 and within
     the eligible balance
  3. No existing pending waiver for the same (student, enrollment)
  4. Eligible balance is positive

ELIGIBLE BALANCE:
  Which portion of the balance a waiver may target is the SAME
  IncludeRegistrationFee policy decision the adjuster uses. With the
  default policy the registration fee is excluded, matching the
  student-facing flow of the source system.
*/
package engine

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DECISION - Typed accept/reject outcome
// =============================================================================

// RejectionReason identifies why a waiver request was refused.
type RejectionReason string

const (
	RejectEnrollmentMismatch   RejectionReason = "enrollment_mismatch"
	RejectInvalidPercentage    RejectionReason = "invalid_percentage"
	RejectInvalidAmount        RejectionReason = "invalid_amount"
	RejectAmountExceedsBalance RejectionReason = "amount_exceeds_balance"
	RejectPendingExists        RejectionReason = "pending_waiver_exists"
	RejectNothingToWaive       RejectionReason = "no_eligible_balance"
	RejectUnknownType          RejectionReason = "unknown_waiver_type"
)

// Message returns the student-facing explanation for a rejection.
func (r RejectionReason) Message() string {
	switch r {
	case RejectEnrollmentMismatch:
		return "enrollment does not belong to the requesting student"
	case RejectInvalidPercentage:
		return "percentage must be between 1 and 100"
	case RejectInvalidAmount:
		return "amount must be greater than zero"
	case RejectAmountExceedsBalance:
		return "amount exceeds the waiver-eligible balance"
	case RejectPendingExists:
		return "a pending waiver request already exists for this enrollment"
	case RejectNothingToWaive:
		return "there is no outstanding balance eligible for a waiver"
	case RejectUnknownType:
		return "unrecognized waiver type"
	default:
		return string(r)
	}
}

// Decision is the validator's outcome. Exactly one of Waiver or Reason
// is meaningful, discriminated by Accepted.
type Decision struct {
	Accepted bool
	Waiver   *Waiver
	Reason   RejectionReason
}

func accepted(w Waiver) Decision { return Decision{Accepted: true, Waiver: &w} }

func rejected(reason RejectionReason) Decision { return Decision{Reason: reason} }

// =============================================================================
// WAIVER REQUEST
// =============================================================================

// WaiverRequest is a proposed waiver before admission.
type WaiverRequest struct {
	StudentID    StudentID
	EnrollmentID EnrollmentID
	Type         WaiverType
	Value        decimal.Decimal
	Reason       string
}

// =============================================================================
// VALIDATOR
// =============================================================================

// ValidateWaiverRequest runs the admission checks in order and returns
// either the waiver to persist as pending or a typed rejection.
//
// existing is the enrollment's waiver history; only pending entries for
// the same student+enrollment influence the decision.
func ValidateWaiverRequest(
	req WaiverRequest,
	enrollment Enrollment,
	status FinancialStatus,
	existing []Waiver,
	policy WaiverPolicy,
) Decision {
	if enrollment.ID != req.EnrollmentID || enrollment.StudentID != req.StudentID {
		return rejected(RejectEnrollmentMismatch)
	}

	eligible := EligibleBalance(status, policy)

	switch req.Type {
	case WaiverPercentage:
		if !req.Value.IsPositive() || req.Value.GreaterThan(hundred) {
			return rejected(RejectInvalidPercentage)
		}
	case WaiverFixedAmount:
		if !req.Value.IsPositive() {
			return rejected(RejectInvalidAmount)
		}
		if req.Value.GreaterThan(eligible.Value) {
			return rejected(RejectAmountExceedsBalance)
		}
	case WaiverFull:
		// No value bounds: the full balance is the value.
	default:
		return rejected(RejectUnknownType)
	}

	for _, w := range existing {
		if w.Status == WaiverPending &&
			w.EnrollmentID == req.EnrollmentID &&
			w.StudentID == req.StudentID {
			return rejected(RejectPendingExists)
		}
	}

	if !eligible.IsPositive() {
		return rejected(RejectNothingToWaive)
	}

	return accepted(Waiver{
		StudentID:    req.StudentID,
		EnrollmentID: req.EnrollmentID,
		StructureID:  status.StructureID,
		Type:         req.Type,
		Value:        req.Value,
		Status:       WaiverPending,
		Reason:       req.Reason,
	})
}

// EligibleBalance returns the portion of the balance a waiver may
// target under the given policy.
func EligibleBalance(status FinancialStatus, policy WaiverPolicy) Money {
	if policy.IncludeRegistrationFee {
		return status.Balance
	}
	return status.CourseFeeBalance
}

/*
policy.go - Explicit configuration for policy seams

PURPOSE:
  The source rules contain two genuinely ambiguous policy points that
  must not be resolved silently in code paths that can disagree:

  1. Registration-fee waiver eligibility. The administrative
     fee-computation path discounts the registration fee under a
     percentage waiver, while the student-facing request flow declares
     it non-eligible. Both the Adjuster and the Validator consume the
     SAME IncludeRegistrationFee flag so they can never diverge.

  2. Overpayment handling. Whether paying more than the total fee
     produces a credit (negative balance) or is clamped at zero is a
     deployment decision, named and tested as OverpaymentMode.

  A policy is threaded explicitly through every call. There is no
  ambient "current policy" global, for the same reason there is no
  ambient "current fee structure": both can change between requests.
*/
package engine

// OverpaymentMode determines what happens when cumulative payments
// exceed the total fee.
type OverpaymentMode string

const (
	// OverpaymentClamp floors the balance at zero. Excess payments are
	// absorbed; PaidAmount still records the true sum.
	OverpaymentClamp OverpaymentMode = "clamp"

	// OverpaymentCredit lets the balance go negative. A negative
	// balance is a credit toward future charges, not an error.
	OverpaymentCredit OverpaymentMode = "credit"
)

// WaiverPolicy bundles the configurable policy decisions consumed by
// the waiver adjuster, the payment ledger, the overdue monitor, and the
// waiver request validator.
type WaiverPolicy struct {
	// IncludeRegistrationFee controls whether percentage waivers
	// discount the registration fee, and symmetrically whether the
	// registration portion counts toward the waiver-eligible balance.
	IncludeRegistrationFee bool

	// Overpayment selects clamp-vs-credit balance semantics.
	Overpayment OverpaymentMode

	// SuspensionAfterDays is the overdue threshold beyond which the
	// monitor recommends suspension. The engine never flips the
	// suspended flag itself; that is an administrative action.
	SuspensionAfterDays int
}

// DefaultWaiverPolicy mirrors the student-facing behavior of the source
// system: registration fees are not waiver-eligible, overpayment is
// clamped, and suspension is recommended after 30 days overdue.
func DefaultWaiverPolicy() WaiverPolicy {
	return WaiverPolicy{
		IncludeRegistrationFee: false,
		Overpayment:            OverpaymentClamp,
		SuspensionAfterDays:    30,
	}
}

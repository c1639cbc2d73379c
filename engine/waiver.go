/*
waiver.go - Waiver application rules

PURPOSE:
  Produces an AdjustedFeeStructure from a fee structure and the set of
  approved, non-expired waivers for an enrollment. This adjusted
  structure is what the payment ledger folds payments against.

APPLICATION ORDER:
  Waivers compose: each one acts on the CURRENT adjusted structure, in
  the order they were approved (earliest first). A 50% waiver followed
  by a 50% waiver leaves 25% of the original fee, not zero.

WAIVER TYPES:
  percentage   scale the fee fields by (1 - p/100). Whether the
               registration fee participates is a WaiverPolicy decision.
  fixed_amount subtract from Total ONLY. Block fields are left
               untouched, so the block sum may exceed Total; Total is
               authoritative for balance purposes.
  full         zero every field.

GUARANTEE:
  No resulting field is ever negative (clamped at zero).
*/
package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// AdjustForWaivers applies the applicable waivers to the structure in
// approval order. Waivers that are not approved, or whose expiry date
// has passed as of today, are skipped.
func AdjustForWaivers(fs FeeStructure, waivers []Waiver, policy WaiverPolicy, today time.Time) AdjustedFeeStructure {
	adjusted := AdjustedFeeStructure{FeeStructure: fs}

	applicable := make([]Waiver, 0, len(waivers))
	for _, w := range waivers {
		if w.Applicable(today) {
			applicable = append(applicable, w)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		a, b := applicable[i].DecidedAt, applicable[j].DecidedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})

	for _, w := range applicable {
		adjusted = applyWaiver(adjusted, w, policy)
		adjusted.AppliedWaivers = append(adjusted.AppliedWaivers, w.ID)
	}
	return adjusted
}

func applyWaiver(a AdjustedFeeStructure, w Waiver, policy WaiverPolicy) AdjustedFeeStructure {
	switch w.Type {
	case WaiverFull:
		a.RegistrationFee = a.RegistrationFee.Zero()
		a.Block1 = a.Block1.Zero()
		a.Block2 = a.Block2.Zero()
		a.Block3 = a.Block3.Zero()
		a.Total = a.Total.Zero()

	case WaiverPercentage:
		factor := decimal.NewFromInt(1).Sub(w.Value.Div(hundred))
		if factor.IsNegative() {
			factor = decimal.Zero
		}
		a.Block1 = a.Block1.Mul(factor).ClampZero()
		a.Block2 = a.Block2.Mul(factor).ClampZero()
		a.Block3 = a.Block3.Mul(factor).ClampZero()
		if policy.IncludeRegistrationFee {
			a.RegistrationFee = a.RegistrationFee.Mul(factor).ClampZero()
			a.Total = a.Total.Mul(factor).ClampZero()
		} else {
			// Registration fee untouched: only the course portion of
			// the total is discounted. Capped at the incoming total so
			// applying a waiver never raises it, even when an earlier
			// fixed waiver pushed the total below the registration fee.
			course := a.Total.Sub(a.RegistrationFee).ClampZero()
			a.Total = a.RegistrationFee.Add(course.Mul(factor)).ClampZero().Min(a.Total)
		}

	case WaiverFixedAmount:
		// Total only. Block fields deliberately left as-is; callers
		// must treat Total as authoritative when a fixed waiver exists.
		a.Total = a.Total.Sub(Money{Value: w.Value, Currency: a.Total.Currency}).ClampZero()
	}
	return a
}

// ExpireWaivers returns the subset of waivers that are approved but
// past their expiry date as of today. Callers persist the forced
// approved -> expired transition before adjustment.
func ExpireWaivers(waivers []Waiver, today time.Time) []Waiver {
	var expired []Waiver
	day := truncateToDay(today)
	for _, w := range waivers {
		if w.Status == WaiverApproved && w.ExpiryDate != nil && w.ExpiryDate.Before(day) {
			w.Status = WaiverExpired
			expired = append(expired, w)
		}
	}
	return expired
}

/*
ledger_test.go - Payment application behavior tests

PURPOSE:
  These tests document the financial status computation: payments apply
  registration-first then block 1..3, balance derives from the adjusted
  total, and the whole thing is a pure, idempotent fold.

READING THESE TESTS:
  Each test has GIVEN/WHEN/THEN comments and assertions with
  explanatory messages. The numeric scenarios mirror real fee schedules
  from the portal this engine replaced.
*/
package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/fee-engine/engine"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func ugx(v float64) engine.Money {
	return engine.NewMoney(v, engine.CurrencyUGX)
}

func testStructure(t *testing.T) engine.FeeStructure {
	t.Helper()
	fs, err := engine.NewFeeStructure(
		"fs-1", "prog-1",
		ugx(5000), ugx(35000), ugx(15000), ugx(0), ugx(55000),
	)
	require.NoError(t, err)
	return fs
}

func adjusted(fs engine.FeeStructure) engine.AdjustedFeeStructure {
	return engine.AdjustedFeeStructure{FeeStructure: fs}
}

func testEnrollment() engine.Enrollment {
	return engine.Enrollment{
		ID:         "enr-1",
		StudentID:  "stu-1",
		ProgramID:  "prog-1",
		EnrolledAt: time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
	}
}

func payment(amount float64, paidAt time.Time) engine.Payment {
	return engine.Payment{
		EnrollmentID: "enr-1",
		Amount:       ugx(amount),
		PaidAt:       paidAt,
		Status:       engine.PaymentCompleted,
	}
}

var (
	feb1 = time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	mar1 = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	apr1 = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
)

func recompute(fs engine.AdjustedFeeStructure, payments []engine.Payment, policy engine.WaiverPolicy) engine.FinancialStatus {
	return engine.RecomputeFinancialStatus(testEnrollment(), fs, payments, nil, policy, apr1)
}

// =============================================================================
// BLOCK-SEQUENCED APPLICATION
// =============================================================================

func TestRecompute_RegistrationThenBlockOne(t *testing.T) {
	// GIVEN: registration 5000, blocks 35000/15000/0, total 55000
	// WHEN: payments [5000, 20000] arrive
	// THEN: registration is paid, block1 is in progress, balance 30000

	fs := testStructure(t)
	payments := []engine.Payment{
		payment(5000, feb1),
		payment(20000, mar1),
	}

	status := recompute(adjusted(fs), payments, engine.DefaultWaiverPolicy())

	assert.True(t, status.RegistrationPaid, "registration fee covered by first payment")
	require.NotNil(t, status.RegistrationPaidAt)
	assert.Equal(t, feb1, *status.RegistrationPaidAt, "crossing payment's timestamp recorded")
	assert.Equal(t, 1, status.CurrentBlock, "20000 toward 35000 leaves block1 open")
	assert.True(t, ugx(25000).Value.Equal(status.PaidAmount.Value))
	assert.True(t, ugx(30000).Value.Equal(status.Balance.Value))
	assert.False(t, status.IsCleared)
}

func TestRecompute_RegistrationCrossedMidPayment(t *testing.T) {
	// GIVEN: registration 5000
	// WHEN: a single 6000 payment arrives
	// THEN: registration is paid by that payment, overshoot goes to block1

	fs := testStructure(t)
	status := recompute(adjusted(fs), []engine.Payment{payment(6000, feb1)}, engine.DefaultWaiverPolicy())

	assert.True(t, status.RegistrationPaid)
	require.NotNil(t, status.RegistrationPaidAt)
	assert.Equal(t, feb1, *status.RegistrationPaidAt)
	assert.Equal(t, 1, status.CurrentBlock)
}

func TestRecompute_BlockProgression(t *testing.T) {
	fs := testStructure(t)

	cases := []struct {
		name      string
		paid      float64
		wantBlock int
		cleared   bool
	}{
		{"nothing paid", 0, 1, false},
		{"registration only", 5000, 1, false},
		{"block1 partially", 25000, 1, false},
		{"block1 exactly", 40000, 2, false},
		{"block2 partially", 45000, 2, false},
		{"everything", 55000, 3, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var payments []engine.Payment
			if tc.paid > 0 {
				payments = []engine.Payment{payment(tc.paid, feb1)}
			}
			status := recompute(adjusted(fs), payments, engine.DefaultWaiverPolicy())
			assert.Equal(t, tc.wantBlock, status.CurrentBlock)
			assert.Equal(t, tc.cleared, status.IsCleared)
		})
	}
}

func TestRecompute_ZeroRegistrationFee_ImmediatelyPaid(t *testing.T) {
	fs, err := engine.NewFeeStructure("fs-free-reg", "prog-1",
		ugx(0), ugx(30000), ugx(0), ugx(0), ugx(30000))
	require.NoError(t, err)

	status := recompute(adjusted(fs), nil, engine.DefaultWaiverPolicy())

	assert.True(t, status.RegistrationPaid, "no registration fee means nothing to pay")
	assert.Nil(t, status.RegistrationPaidAt, "no payment crossed a threshold")
}

// =============================================================================
// BALANCE AUTHORITY - Total wins over block sum
// =============================================================================

func TestRecompute_FixedWaiver_TotalIsAuthoritative(t *testing.T) {
	// GIVEN: a fixed 10000 waiver reduced Total to 45000 while the
	//        block fields still sum to 55000
	// WHEN: 45000 is paid
	// THEN: the enrollment is cleared; the block sum does not matter

	fs := testStructure(t)
	now := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	decided := feb1
	waiver := engine.Waiver{
		ID: "wv-1", Status: engine.WaiverApproved,
		Type: engine.WaiverFixedAmount, Value: engine.MustParseDecimal("10000"),
		DecidedAt: &decided,
	}
	adj := engine.AdjustForWaivers(fs, []engine.Waiver{waiver}, engine.DefaultWaiverPolicy(), now)
	require.True(t, ugx(45000).Value.Equal(adj.Total.Value))
	require.True(t, ugx(35000).Value.Equal(adj.Block1.Value), "block fields untouched")

	status := recompute(adj, []engine.Payment{payment(45000, mar1)}, engine.DefaultWaiverPolicy())

	assert.True(t, status.IsCleared, "balance derives from Total, not the block sum")
	assert.True(t, status.Balance.IsZero())
	assert.Equal(t, 3, status.CurrentBlock)
}

// =============================================================================
// OVERPAYMENT POLICY
// =============================================================================

func TestRecompute_Overpayment_Clamp(t *testing.T) {
	fs := testStructure(t)
	policy := engine.DefaultWaiverPolicy() // clamp

	status := recompute(adjusted(fs), []engine.Payment{payment(60000, feb1)}, policy)

	assert.True(t, status.Balance.IsZero(), "clamp mode floors the balance at zero")
	assert.True(t, ugx(60000).Value.Equal(status.PaidAmount.Value), "paid amount still records the true sum")
	assert.True(t, status.IsCleared)
}

func TestRecompute_Overpayment_Credit(t *testing.T) {
	fs := testStructure(t)
	policy := engine.DefaultWaiverPolicy()
	policy.Overpayment = engine.OverpaymentCredit

	status := recompute(adjusted(fs), []engine.Payment{payment(60000, feb1)}, policy)

	assert.True(t, ugx(-5000).Value.Equal(status.Balance.Value), "credit mode keeps the negative balance")
	assert.True(t, status.IsCleared, "a credit still counts as cleared")
}

// =============================================================================
// PURITY - Idempotence and monotonicity
// =============================================================================

func TestRecompute_Idempotent(t *testing.T) {
	// Same (structure, payments) in, same status out. No hidden state.
	fs := testStructure(t)
	payments := []engine.Payment{payment(5000, feb1), payment(20000, mar1)}

	first := recompute(adjusted(fs), payments, engine.DefaultWaiverPolicy())
	second := recompute(adjusted(fs), payments, engine.DefaultWaiverPolicy())

	assert.Equal(t, first, second)
}

func TestRecompute_PaidAmountMonotonic(t *testing.T) {
	// Appending payments never decreases paid_amount, and clearance
	// happens exactly when paid >= total.
	fs := testStructure(t)

	amounts := []float64{5000, 10000, 15000, 10000, 15000}
	var payments []engine.Payment
	prev := ugx(0)
	for i, a := range amounts {
		payments = append(payments, payment(a, feb1.AddDate(0, 0, i)))
		status := recompute(adjusted(fs), payments, engine.DefaultWaiverPolicy())

		assert.True(t, status.PaidAmount.GreaterThanOrEqual(prev), "paid amount is non-decreasing")
		assert.Equal(t, status.PaidAmount.GreaterThanOrEqual(fs.Total), status.IsCleared,
			"cleared exactly when paid >= total")
		prev = status.PaidAmount
	}
}

func TestRecompute_UnorderedInputIsNormalized(t *testing.T) {
	// Chronology comes from the payment facts, not slice order.
	fs := testStructure(t)
	ordered := []engine.Payment{payment(5000, feb1), payment(20000, mar1)}
	shuffled := []engine.Payment{payment(20000, mar1), payment(5000, feb1)}

	a := recompute(adjusted(fs), ordered, engine.DefaultWaiverPolicy())
	b := recompute(adjusted(fs), shuffled, engine.DefaultWaiverPolicy())

	assert.Equal(t, a, b)
}

func TestRecompute_IgnoresNonCompletedPayments(t *testing.T) {
	fs := testStructure(t)
	pending := payment(50000, feb1)
	pending.Status = engine.PaymentInProgress

	status := recompute(adjusted(fs), []engine.Payment{pending, payment(5000, mar1)}, engine.DefaultWaiverPolicy())

	assert.True(t, ugx(5000).Value.Equal(status.PaidAmount.Value), "only completed payments count")
}

// =============================================================================
// COURSE-FEE BALANCE
// =============================================================================

func TestRecompute_CourseFeeBalanceExcludesUnpaidRegistration(t *testing.T) {
	// GIVEN: registration 5000 of which 2000 is paid
	// THEN: 3000 of the balance is registration, the rest is course fee

	fs := testStructure(t)
	status := recompute(adjusted(fs), []engine.Payment{payment(2000, feb1)}, engine.DefaultWaiverPolicy())

	assert.True(t, ugx(53000).Value.Equal(status.Balance.Value))
	assert.True(t, ugx(50000).Value.Equal(status.CourseFeeBalance.Value))
}

// =============================================================================
// REBUILD VERIFICATION
// =============================================================================

func TestVerifyRebuild_DetectsDriftedBalance(t *testing.T) {
	fs := testStructure(t)
	fresh := recompute(adjusted(fs), []engine.Payment{payment(5000, feb1)}, engine.DefaultWaiverPolicy())

	drifted := fresh
	drifted.Balance = ugx(99999)

	err := engine.VerifyRebuild(drifted, fresh)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

func TestVerifyRebuild_StructureSwapIsNotDrift(t *testing.T) {
	fs := testStructure(t)
	fresh := recompute(adjusted(fs), nil, engine.DefaultWaiverPolicy())

	prior := fresh
	prior.StructureID = "fs-old"
	prior.Balance = ugx(12345)

	assert.NoError(t, engine.VerifyRebuild(prior, fresh))
}

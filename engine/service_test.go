package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/fee-engine/engine"
	"github.com/ledgerline/fee-engine/engine/store"
)

// =============================================================================
// FIXTURE - memory-backed reconciler with a controllable clock
// =============================================================================

type fixture struct {
	store      *store.Memory
	reconciler *engine.Reconciler
	now        time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: store.NewMemory(),
		now:   time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC),
	}
	f.reconciler = engine.NewReconciler(f.store, engine.DefaultWaiverPolicy())
	f.reconciler.Now = func() time.Time { return f.now }

	require.NoError(t, f.store.SaveProgram(ctx, testProgram()))
	fs := testStructure(t)
	require.NoError(t, f.store.SaveStructure(ctx, fs))
	require.NoError(t, f.store.SaveEnrollment(ctx, testEnrollment()))
	return f
}

func (f *fixture) pay(t *testing.T, amount float64, key string) *engine.FinancialStatus {
	t.Helper()
	status, err := f.reconciler.PostPayment(context.Background(), engine.Payment{
		EnrollmentID:   "enr-1",
		Amount:         ugx(amount),
		PaidAt:         f.now,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return status
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu          sync.Mutex
	waivers     []engine.Waiver
	suspensions []engine.EnrollmentID
}

func (n *recordingNotifier) WaiverRequested(_ context.Context, w engine.Waiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waivers = append(n.waivers, w)
}

func (n *recordingNotifier) SuspensionRecommended(_ context.Context, id engine.EnrollmentID, _ engine.OverdueAssessment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.suspensions = append(n.suspensions, id)
}

// =============================================================================
// PAYMENT POSTING
// =============================================================================

func TestReconciler_PostPayment_BuildsStatus(t *testing.T) {
	f := newFixture(t)

	status := f.pay(t, 5000, "k1")
	assert.True(t, status.RegistrationPaid)
	assert.Equal(t, 1, status.CurrentBlock)
	assert.Equal(t, 1, status.Version)

	f.now = f.now.AddDate(0, 0, 7)
	status = f.pay(t, 20000, "k2")
	assert.True(t, ugx(25000).Value.Equal(status.PaidAmount.Value))
	assert.True(t, ugx(30000).Value.Equal(status.Balance.Value))
	assert.Equal(t, 2, status.Version, "each reconciliation bumps the version")
	require.NotNil(t, status.NextPaymentDue)
}

func TestReconciler_PostPayment_DuplicateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.pay(t, 5000, "k1")

	_, err := f.reconciler.PostPayment(context.Background(), engine.Payment{
		EnrollmentID:   "enr-1",
		Amount:         ugx(5000),
		PaidAt:         f.now,
		IdempotencyKey: "k1",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDuplicateIdempotencyKey)

	payments, perr := f.store.Payments(context.Background(), "enr-1")
	require.NoError(t, perr)
	assert.Len(t, payments, 1, "rejected duplicate left no trace")
}

func TestReconciler_PostPayment_UnknownEnrollment(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.PostPayment(context.Background(), engine.Payment{
		EnrollmentID: "enr-ghost",
		Amount:       ugx(1000),
		PaidAt:       f.now,
	})

	assert.ErrorIs(t, err, engine.ErrEnrollmentNotFound)
}

func TestReconciler_Reconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.pay(t, 25000, "k1")

	first, _, err := f.reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err)
	second, _, err := f.reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err)

	assert.True(t, first.Balance.Value.Equal(second.Balance.Value))
	assert.True(t, first.PaidAmount.Value.Equal(second.PaidAmount.Value))
	assert.Equal(t, first.Version+1, second.Version)
}

// =============================================================================
// WAIVER LIFECYCLE
// =============================================================================

func TestReconciler_WaiverRequestToApproval(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.reconciler.Notifier = notifier
	f.pay(t, 5000, "k1") // registration paid, 50000 course balance

	// WHEN: the student requests a 50% waiver
	decision, err := f.reconciler.SubmitWaiverRequest(context.Background(), engine.WaiverRequest{
		StudentID:    "stu-1",
		EnrollmentID: "enr-1",
		Type:         engine.WaiverPercentage,
		Value:        engine.MustParseDecimal("50"),
		Reason:       "bursary award",
	})
	require.NoError(t, err)
	require.True(t, decision.Accepted)
	require.Len(t, notifier.waivers, 1, "admins alerted about the pending request")

	// Pending request is visible but does not change the balance yet.
	status, _, err := f.reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.True(t, ugx(50000).Value.Equal(status.Balance.Value))

	// WHEN: an administrator approves it
	status, err = f.reconciler.DecideWaiver(context.Background(), decision.Waiver.ID, true, "admin@school", nil)
	require.NoError(t, err)

	// THEN: total drops to 5000 + 25000, balance to 25000
	assert.True(t, ugx(30000).Value.Equal(status.TotalFee.Value))
	assert.True(t, ugx(25000).Value.Equal(status.Balance.Value))
}

func TestReconciler_WaiverRejectionLeavesBalance(t *testing.T) {
	f := newFixture(t)
	f.pay(t, 5000, "k1")

	decision, err := f.reconciler.SubmitWaiverRequest(context.Background(), engine.WaiverRequest{
		StudentID:    "stu-1",
		EnrollmentID: "enr-1",
		Type:         engine.WaiverPercentage,
		Value:        engine.MustParseDecimal("50"),
	})
	require.NoError(t, err)
	require.True(t, decision.Accepted)

	status, err := f.reconciler.DecideWaiver(context.Background(), decision.Waiver.ID, false, "admin@school", nil)
	require.NoError(t, err)
	assert.True(t, ugx(50000).Value.Equal(status.Balance.Value))

	// A rejected waiver no longer blocks a new request.
	again, err := f.reconciler.SubmitWaiverRequest(context.Background(), engine.WaiverRequest{
		StudentID:    "stu-1",
		EnrollmentID: "enr-1",
		Type:         engine.WaiverFixedAmount,
		Value:        engine.MustParseDecimal("10000"),
	})
	require.NoError(t, err)
	assert.True(t, again.Accepted)
}

func TestReconciler_SubmitWaiver_PolicyRejectionIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.pay(t, 55000, "k1") // fully paid

	decision, err := f.reconciler.SubmitWaiverRequest(context.Background(), engine.WaiverRequest{
		StudentID:    "stu-1",
		EnrollmentID: "enr-1",
		Type:         engine.WaiverPercentage,
		Value:        engine.MustParseDecimal("50"),
	})

	require.NoError(t, err)
	assert.False(t, decision.Accepted)
	assert.Equal(t, engine.RejectNothingToWaive, decision.Reason)
}

func TestReconciler_DecideWaiver_OnlyOncePerRequest(t *testing.T) {
	f := newFixture(t)
	f.pay(t, 5000, "k1")

	decision, err := f.reconciler.SubmitWaiverRequest(context.Background(), engine.WaiverRequest{
		StudentID:    "stu-1",
		EnrollmentID: "enr-1",
		Type:         engine.WaiverFull,
	})
	require.NoError(t, err)
	require.True(t, decision.Accepted)

	_, err = f.reconciler.DecideWaiver(context.Background(), decision.Waiver.ID, true, "admin@school", nil)
	require.NoError(t, err)

	_, err = f.reconciler.DecideWaiver(context.Background(), decision.Waiver.ID, false, "admin@school", nil)
	assert.ErrorIs(t, err, engine.ErrWaiverNotPending, "decisions are terminal")
}

func TestReconciler_ExpiredWaiverRestoresFee(t *testing.T) {
	f := newFixture(t)
	f.pay(t, 5000, "k1")

	decision, err := f.reconciler.SubmitWaiverRequest(context.Background(), engine.WaiverRequest{
		StudentID:    "stu-1",
		EnrollmentID: "enr-1",
		Type:         engine.WaiverPercentage,
		Value:        engine.MustParseDecimal("50"),
	})
	require.NoError(t, err)

	expiry := f.now.AddDate(0, 0, 30)
	status, err := f.reconciler.DecideWaiver(context.Background(), decision.Waiver.ID, true, "admin@school", &expiry)
	require.NoError(t, err)
	require.True(t, ugx(25000).Value.Equal(status.Balance.Value))

	// WHEN: time passes beyond the waiver's expiry
	f.now = f.now.AddDate(0, 0, 45)
	status, _, err = f.reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err)

	// THEN: the sweep expires the waiver and the full fee returns
	assert.True(t, ugx(50000).Value.Equal(status.Balance.Value))

	w, err := f.store.GetWaiver(context.Background(), decision.Waiver.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.WaiverExpired, w.Status, "transition persisted")
}

// =============================================================================
// SUSPENSION
// =============================================================================

func TestReconciler_SuspensionRecommendedAndActioned(t *testing.T) {
	f := newFixture(t)
	notifier := &recordingNotifier{}
	f.reconciler.Notifier = notifier
	f.pay(t, 5000, "k1")

	// WHEN: 90 days pass with the block 1 deadline long gone
	f.now = f.now.AddDate(0, 0, 90)
	status, assessment, err := f.reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err)

	// THEN: the monitor flags it but never suspends on its own
	assert.True(t, assessment.IsOverdue)
	assert.True(t, assessment.RecommendSuspension)
	assert.False(t, status.IsSuspended, "suspension is an administrative action")
	assert.NotEmpty(t, notifier.suspensions)

	// WHEN: an administrator acts on the recommendation
	status, err = f.reconciler.SetSuspended(context.Background(), "enr-1", true)
	require.NoError(t, err)
	assert.True(t, status.IsSuspended)

	// Suspension sticks across reconciliations.
	status, assessment, err = f.reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.True(t, status.IsSuspended)
	assert.False(t, assessment.IsOverdue, "suspended accounts are not re-flagged")
}

func TestReconciler_PaymentClearingDebtLiftsSuspension(t *testing.T) {
	f := newFixture(t)
	f.pay(t, 5000, "k1")

	_, err := f.reconciler.SetSuspended(context.Background(), "enr-1", true)
	require.NoError(t, err)

	status := f.pay(t, 50000, "k2")

	assert.True(t, status.IsCleared)
	assert.False(t, status.IsSuspended, "clearing the debt reactivates the account")
	assert.Nil(t, status.NextPaymentDue)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

// contendedStore wraps the memory store and fails a fixed number of
// CompareAndSave calls, standing in for a concurrent writer bumping the
// version between read and write.
type contendedStore struct {
	*store.Memory
	failures int
}

func (c *contendedStore) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	return c.Memory.WithTx(ctx, func(s engine.Store) error {
		return fn(&contendedScope{Store: s, owner: c})
	})
}

type contendedScope struct {
	engine.Store
	owner *contendedStore
}

func (c *contendedScope) CompareAndSave(ctx context.Context, status engine.FinancialStatus, expectedVersion int) error {
	if c.owner.failures > 0 {
		c.owner.failures--
		return &engine.ConflictError{
			EnrollmentID:    status.EnrollmentID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   expectedVersion + 1,
		}
	}
	return c.Store.CompareAndSave(ctx, status, expectedVersion)
}

func TestReconciler_Reconcile_RetriesOnceOnConflict(t *testing.T) {
	// GIVEN: the first save attempt loses a version race
	// WHEN: Reconcile runs
	// THEN: it recomputes with fresh data and succeeds on the retry

	f := newFixture(t)
	contended := &contendedStore{Memory: f.store, failures: 1}
	f.reconciler.Store = contended

	status, _, err := f.reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err, "a single version conflict is absorbed by the retry")
	assert.Equal(t, 0, contended.failures, "exactly one conflicted attempt")
	assert.Equal(t, 1, status.Version)
}

func TestReconciler_Reconcile_SecondConflictSurfaces(t *testing.T) {
	f := newFixture(t)
	f.reconciler.Store = &contendedStore{Memory: f.store, failures: 2}

	_, _, err := f.reconciler.Reconcile(context.Background(), "enr-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrConcurrencyConflict, "one retry, never a loop")
}

func TestReconciler_PostPayment_ConflictRetryKeepsSingleAppend(t *testing.T) {
	// The conflicted attempt rolls its append back, so the retry must
	// not leave a second copy of the payment behind.

	f := newFixture(t)
	f.reconciler.Store = &contendedStore{Memory: f.store, failures: 1}

	status, err := f.reconciler.PostPayment(context.Background(), engine.Payment{
		EnrollmentID: "enr-1",
		Amount:       ugx(5000),
		PaidAt:       f.now,
	})
	require.NoError(t, err)
	assert.True(t, ugx(5000).Value.Equal(status.PaidAmount.Value))

	payments, perr := f.store.Payments(context.Background(), "enr-1")
	require.NoError(t, perr)
	assert.Len(t, payments, 1)
}

func TestReconciler_PostPayment_DistinctIDsForSharedTimestamp(t *testing.T) {
	// Two payments with the same client-supplied paid_at and no
	// idempotency key must not collide on the derived ID.

	f := newFixture(t)
	for i := 0; i < 2; i++ {
		_, err := f.reconciler.PostPayment(context.Background(), engine.Payment{
			EnrollmentID: "enr-1",
			Amount:       ugx(1000),
			PaidAt:       f.now,
		})
		require.NoError(t, err)
	}

	payments, err := f.store.Payments(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.NotEqual(t, payments[0].ID, payments[1].ID)
}

func TestReconciler_ConcurrentPostings_NeverDriftTheBalance(t *testing.T) {
	f := newFixture(t)
	reconciler := f.reconciler
	paidAt := f.now

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := reconciler.PostPayment(context.Background(), engine.Payment{
				ID:           engine.PaymentID(fmt.Sprintf("pay-conc-%d", n)),
				EnrollmentID: "enr-1",
				Amount:       ugx(5000),
				PaidAt:       paidAt.Add(time.Duration(n) * time.Minute),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	status, _, err := reconciler.Reconcile(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.True(t, ugx(40000).Value.Equal(status.PaidAmount.Value), "all eight postings counted exactly once")
	assert.True(t, ugx(15000).Value.Equal(status.Balance.Value))
}

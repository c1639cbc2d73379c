/*
service.go - Reconciliation orchestration

PURPOSE:
  The Reconciler is the ONLY writer of FinancialStatus. Every mutation
  funnels through the same discipline:

    load program -> resolve structure -> sweep expired waivers ->
    adjust for waivers -> fold payments -> derive due dates ->
    compare-and-save

  recomputed from the FULL payment history every time, inside a
  transactional scope. Deltas are never applied blindly, so concurrent
  postings for the same enrollment cannot drift the stored balance: the
  loser of the version race simply recomputes.

RETRY DISCIPLINE:
  A version conflict is retried exactly once with fresh data, never in a
  loop. A second conflict is surfaced to the caller.

NOTIFICATIONS:
  Admin alerts (new pending waiver, suspension recommendation) fire
  after the transaction commits. They are fire-and-forget: a failed or
  missing notifier must not roll anything back.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Reconciler coordinates the engine's components over a store.
type Reconciler struct {
	Store    TxStore
	Policy   WaiverPolicy
	Fallback SplitStrategy
	Notifier Notifier
	Now      Clock
}

func NewReconciler(store TxStore, policy WaiverPolicy) *Reconciler {
	return &Reconciler{
		Store:    store,
		Policy:   policy,
		Fallback: NewDefaultSplit(),
		Notifier: NopNotifier{},
		Now:      time.Now,
	}
}

// =============================================================================
// RECONCILE - Full recomputation for one enrollment
// =============================================================================

// Reconcile rebuilds and persists the financial status for an
// enrollment and returns it with its overdue assessment.
func (r *Reconciler) Reconcile(ctx context.Context, enrollmentID EnrollmentID) (*FinancialStatus, *OverdueAssessment, error) {
	var (
		status     FinancialStatus
		assessment OverdueAssessment
	)

	attempt := func() error {
		return r.Store.WithTx(ctx, func(s Store) error {
			fresh, a, err := r.reconcileLocked(ctx, s, enrollmentID)
			if err != nil {
				return err
			}
			status, assessment = *fresh, a
			return nil
		})
	}

	err := attempt()
	if IsRetryable(err) {
		// One retry with fresh data, per the concurrency contract.
		err = attempt()
	}
	if err != nil {
		return nil, nil, err
	}

	if assessment.RecommendSuspension && !status.IsSuspended {
		r.Notifier.SuspensionRecommended(ctx, enrollmentID, assessment)
	}
	return &status, &assessment, nil
}

// reconcileLocked runs the pipeline inside a transactional scope.
func (r *Reconciler) reconcileLocked(ctx context.Context, s Store, enrollmentID EnrollmentID) (*FinancialStatus, OverdueAssessment, error) {
	now := r.Now()

	enrollment, err := s.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, OverdueAssessment{}, err
	}
	program, err := s.GetProgram(ctx, enrollment.ProgramID)
	if err != nil {
		return nil, OverdueAssessment{}, err
	}

	resolver := &StructureResolver{Programs: s, Structures: s, Fallback: r.Fallback}
	fs, err := resolver.Resolve(ctx, enrollment.ProgramID)
	if err != nil {
		return nil, OverdueAssessment{}, err
	}

	waivers, err := s.WaiversForEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, OverdueAssessment{}, err
	}
	for _, expired := range ExpireWaivers(waivers, now) {
		if err := s.SaveWaiver(ctx, expired); err != nil {
			return nil, OverdueAssessment{}, err
		}
	}
	// Re-read so the adjustment sees the expiry transitions.
	waivers, err = s.WaiversForEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, OverdueAssessment{}, err
	}

	adjusted := AdjustForWaivers(fs, waivers, r.Policy, now)

	payments, err := s.Payments(ctx, enrollmentID)
	if err != nil {
		return nil, OverdueAssessment{}, err
	}

	prior, err := s.GetStatus(ctx, enrollmentID)
	if err != nil && !errors.Is(err, ErrStatusNotFound) {
		return nil, OverdueAssessment{}, err
	}

	fresh := RecomputeFinancialStatus(*enrollment, adjusted, payments, prior, r.Policy, now)

	if prior != nil {
		if verr := VerifyRebuild(*prior, fresh); verr != nil {
			// Corrupted stored state. Surfaced, never patched over.
			return nil, OverdueAssessment{}, verr
		}
	}

	schedule := ScheduleFor(program.Plan)
	fresh.NextPaymentDue = schedule.NextDue(fresh, enrollment.EnrolledAt)
	deadline := schedule.FinalDeadline(enrollment.EnrolledAt, fs)
	fresh.PaymentDeadline = &deadline

	// suspended -> active once a payment clears the debt.
	if fresh.IsSuspended && fresh.IsCleared {
		fresh.IsSuspended = false
	}

	assessment := EvaluateOverdue(fresh, fresh.NextPaymentDue, now, program.LateFeePercent, r.Policy)

	expectedVersion := 0
	if prior != nil {
		expectedVersion = prior.Version
	}
	if err := s.CompareAndSave(ctx, fresh, expectedVersion); err != nil {
		return nil, OverdueAssessment{}, err
	}
	fresh.Version = expectedVersion + 1

	return &fresh, assessment, nil
}

// =============================================================================
// PAYMENT POSTING
// =============================================================================

var paymentSeq atomic.Int64

// derivePaymentID builds an ID for a payment posted without one. The
// idempotency key already identifies the payment uniquely when present;
// otherwise a sequence number disambiguates payments that share an
// enrollment and a client-supplied timestamp.
func derivePaymentID(p Payment) PaymentID {
	if p.IdempotencyKey != "" {
		return PaymentID("pay-" + p.IdempotencyKey)
	}
	return PaymentID(fmt.Sprintf("pay-%s-%d-%d", p.EnrollmentID, p.PaidAt.UnixNano(), paymentSeq.Add(1)))
}

// PostPayment appends a completed payment and reconciles the enrollment
// in the same transactional scope.
func (r *Reconciler) PostPayment(ctx context.Context, p Payment) (*FinancialStatus, error) {
	if p.Status == "" {
		p.Status = PaymentCompleted
	}
	if p.ID == "" {
		p.ID = derivePaymentID(p)
	}

	var status FinancialStatus
	attempt := func() error {
		return r.Store.WithTx(ctx, func(s Store) error {
			if err := s.AppendPayment(ctx, p); err != nil {
				return err
			}
			fresh, _, err := r.reconcileLocked(ctx, s, p.EnrollmentID)
			if err != nil {
				return err
			}
			status = *fresh
			return nil
		})
	}

	err := attempt()
	if IsRetryable(err) {
		err = attempt()
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// =============================================================================
// WAIVER LIFECYCLE
// =============================================================================

// SubmitWaiverRequest validates a proposed waiver and, when admissible,
// persists it as pending and alerts administrators. Policy rejections
// come back inside the Decision, not as an error.
func (r *Reconciler) SubmitWaiverRequest(ctx context.Context, req WaiverRequest) (Decision, error) {
	var decision Decision

	err := r.Store.WithTx(ctx, func(s Store) error {
		enrollment, err := s.GetEnrollment(ctx, req.EnrollmentID)
		if err != nil {
			return err
		}

		status, err := s.GetStatus(ctx, req.EnrollmentID)
		if err != nil {
			if !errors.Is(err, ErrStatusNotFound) {
				return err
			}
			// First contact with this enrollment: build the status
			// before judging eligibility.
			status, _, err = r.reconcileLocked(ctx, s, req.EnrollmentID)
			if err != nil {
				return err
			}
		}

		existing, err := s.WaiversForEnrollment(ctx, req.EnrollmentID)
		if err != nil {
			return err
		}

		decision = ValidateWaiverRequest(req, *enrollment, *status, existing, r.Policy)
		if !decision.Accepted {
			return nil
		}

		w := *decision.Waiver
		w.ID = WaiverID(fmt.Sprintf("wv-%s-%d", req.EnrollmentID, r.Now().UnixNano()))
		w.RequestedAt = r.Now()
		decision.Waiver = &w
		return s.SaveWaiver(ctx, w)
	})
	if err != nil {
		return Decision{}, err
	}

	if decision.Accepted {
		r.Notifier.WaiverRequested(ctx, *decision.Waiver)
	}
	return decision, nil
}

// DecideWaiver applies an administrator decision to a pending waiver
// and reconciles the enrollment. approve=false rejects.
func (r *Reconciler) DecideWaiver(ctx context.Context, id WaiverID, approve bool, decidedBy string, expiry *time.Time) (*FinancialStatus, error) {
	var status FinancialStatus

	err := r.Store.WithTx(ctx, func(s Store) error {
		w, err := s.GetWaiver(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != WaiverPending {
			return fmt.Errorf("waiver %s: %w", id, ErrWaiverNotPending)
		}

		now := r.Now()
		w.DecidedAt = &now
		w.DecidedBy = decidedBy
		if approve {
			w.Status = WaiverApproved
			w.ExpiryDate = expiry
		} else {
			w.Status = WaiverRejected
		}
		if err := s.SaveWaiver(ctx, *w); err != nil {
			return err
		}

		fresh, _, err := r.reconcileLocked(ctx, s, w.EnrollmentID)
		if err != nil {
			return err
		}
		status = *fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// =============================================================================
// ADMINISTRATIVE SUSPENSION
// =============================================================================

// SetSuspended records the administrative suspension decision. The
// monitor only ever recommends; this is the external event that acts.
func (r *Reconciler) SetSuspended(ctx context.Context, enrollmentID EnrollmentID, suspended bool) (*FinancialStatus, error) {
	var status FinancialStatus

	err := r.Store.WithTx(ctx, func(s Store) error {
		prior, err := s.GetStatus(ctx, enrollmentID)
		if err != nil {
			return err
		}
		prior.IsSuspended = suspended
		prior.ComputedAt = r.Now()
		if err := s.CompareAndSave(ctx, *prior, prior.Version); err != nil {
			return err
		}
		prior.Version++
		status = *prior
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

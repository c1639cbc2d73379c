/*
schedule.go - Payment deadline schedule

PURPOSE:
  Derives per-block due dates from a program's payment plan and a
  student's enrollment date, so callers can maintain NextPaymentDue on
  the financial status and feed it to the overdue monitor.

  Due dates are schedule facts, not ledger facts: the fold never moves
  them, it only reports against them.
*/
package engine

import "time"

// PaymentPlan is how a program schedules tuition across blocks.
type PaymentPlan string

const (
	// PlanUpfront: the full fee is due at the first deadline.
	PlanUpfront PaymentPlan = "upfront"

	// PlanInstallments: each block gets its own deadline, spaced by the
	// schedule interval.
	PlanInstallments PaymentPlan = "installments"
)

// PaymentSchedule turns an enrollment date into block deadlines.
type PaymentSchedule struct {
	Plan PaymentPlan

	// GraceDays after enrollment before the first deadline.
	GraceDays int

	// BlockIntervalDays between consecutive block deadlines.
	BlockIntervalDays int
}

// ScheduleFor returns the default schedule for a plan: 30 days grace,
// blocks spaced a term (90 days) apart.
func ScheduleFor(plan PaymentPlan) PaymentSchedule {
	return PaymentSchedule{Plan: plan, GraceDays: 30, BlockIntervalDays: 90}
}

// BlockDue returns the deadline for the given block (1..3).
func (s PaymentSchedule) BlockDue(enrolledAt time.Time, block int) time.Time {
	due := truncateToDay(enrolledAt).AddDate(0, 0, s.GraceDays)
	if s.Plan == PlanUpfront || block <= 1 {
		return due
	}
	return due.AddDate(0, 0, (block-1)*s.BlockIntervalDays)
}

// NextDue returns the deadline the enrollment is currently working
// toward, or nil once cleared.
func (s PaymentSchedule) NextDue(status FinancialStatus, enrolledAt time.Time) *time.Time {
	if status.IsCleared {
		return nil
	}
	block := status.CurrentBlock
	if block < 1 {
		block = 1
	}
	due := s.BlockDue(enrolledAt, block)
	return &due
}

// FinalDeadline returns the last deadline of the plan, used as the
// enrollment's overall payment deadline.
func (s PaymentSchedule) FinalDeadline(enrolledAt time.Time, fs FeeStructure) time.Time {
	lastBlock := 1
	for i, block := range fs.Blocks() {
		if block.IsPositive() {
			lastBlock = i + 1
		}
	}
	return s.BlockDue(enrolledAt, lastBlock)
}

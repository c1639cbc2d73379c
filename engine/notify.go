/*
notify.go - Administrator notification sink

PURPOSE:
  New pending waiver requests alert administrators. Delivery is a
  fire-and-forget external collaborator: a notification failure must
  never roll back the waiver creation, so the reconciler logs and
  continues on error.
*/
package engine

import (
	"context"
	"log"
)

// Notifier is the outbound alert channel for administrator-facing
// events. Implementations may send email, push, or anything else; the
// engine only guarantees it will be called after the fact.
type Notifier interface {
	WaiverRequested(ctx context.Context, w Waiver)
	SuspensionRecommended(ctx context.Context, enrollmentID EnrollmentID, assessment OverdueAssessment)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) WaiverRequested(context.Context, Waiver) {}
func (NopNotifier) SuspensionRecommended(context.Context, EnrollmentID, OverdueAssessment) {}

// LogNotifier writes notifications to the standard logger. Useful for
// dev deployments without a real notification service.
type LogNotifier struct{}

func (LogNotifier) WaiverRequested(_ context.Context, w Waiver) {
	log.Printf("waiver requested: student=%s enrollment=%s type=%s value=%s",
		w.StudentID, w.EnrollmentID, w.Type, w.Value)
}

func (LogNotifier) SuspensionRecommended(_ context.Context, enrollmentID EnrollmentID, a OverdueAssessment) {
	log.Printf("suspension recommended: enrollment=%s days_overdue=%d late_fee=%s",
		enrollmentID, a.DaysOverdue, a.LateFee.Value)
}

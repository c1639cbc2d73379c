/*
dto.go - Request/response shapes for the HTTP API

PURPOSE:
  JSON-facing structs, kept separate from engine types so the wire
  format can evolve without touching the domain. Money crosses the wire
  as decimal strings to avoid float drift in clients.
*/
package api

import (
	"time"

	"github.com/ledgerline/fee-engine/engine"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateEnrollmentRequest struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	ProgramID  string    `json:"program_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

type PostPaymentRequest struct {
	Amount         float64   `json:"amount"`
	PaidAt         time.Time `json:"paid_at"`
	InvoiceRef     string    `json:"invoice_ref,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	RecordedBy     string    `json:"recorded_by,omitempty"`
}

type WaiverRequestDTO struct {
	StudentID string  `json:"student_id"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Reason    string  `json:"reason,omitempty"`
}

type DecideWaiverRequest struct {
	DecidedBy  string     `json:"decided_by"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

type SuspendRequest struct {
	EnrollmentID string `json:"enrollment_id"`
	Suspended    bool   `json:"suspended"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type MoneyDTO struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func toMoneyDTO(m engine.Money) MoneyDTO {
	return MoneyDTO{Amount: m.Value.String(), Currency: string(m.Currency)}
}

type StructureResponse struct {
	ID              string   `json:"id"`
	ProgramID       string   `json:"program_id"`
	RegistrationFee MoneyDTO `json:"registration_fee"`
	Block1          MoneyDTO `json:"block1"`
	Block2          MoneyDTO `json:"block2"`
	Block3          MoneyDTO `json:"block3"`
	Total           MoneyDTO `json:"total"`
	IsActive        bool     `json:"is_active"`
}

func toStructureResponse(fs engine.FeeStructure) StructureResponse {
	return StructureResponse{
		ID:              string(fs.ID),
		ProgramID:       string(fs.ProgramID),
		RegistrationFee: toMoneyDTO(fs.RegistrationFee),
		Block1:          toMoneyDTO(fs.Block1),
		Block2:          toMoneyDTO(fs.Block2),
		Block3:          toMoneyDTO(fs.Block3),
		Total:           toMoneyDTO(fs.Total),
		IsActive:        fs.IsActive,
	}
}

type StatusResponse struct {
	EnrollmentID       string     `json:"enrollment_id"`
	StudentID          string     `json:"student_id"`
	State              string     `json:"state"`
	TotalFee           MoneyDTO   `json:"total_fee"`
	PaidAmount         MoneyDTO   `json:"paid_amount"`
	Balance            MoneyDTO   `json:"balance"`
	CourseFeeBalance   MoneyDTO   `json:"course_fee_balance"`
	RegistrationPaid   bool       `json:"registration_paid"`
	RegistrationPaidAt *time.Time `json:"registration_paid_at,omitempty"`
	CurrentBlock       int        `json:"current_block"`
	IsCleared          bool       `json:"is_cleared"`
	IsSuspended        bool       `json:"is_suspended"`
	NextPaymentDue     *time.Time `json:"next_payment_due,omitempty"`
	PaymentDeadline    *time.Time `json:"payment_deadline,omitempty"`

	IsOverdue           bool     `json:"is_overdue"`
	DaysOverdue         int      `json:"days_overdue"`
	LateFee             MoneyDTO `json:"late_fee"`
	RecommendSuspension bool     `json:"recommend_suspension"`
}

func toStatusResponse(status engine.FinancialStatus, assessment engine.OverdueAssessment) StatusResponse {
	return StatusResponse{
		EnrollmentID:       string(status.EnrollmentID),
		StudentID:          string(status.StudentID),
		State:              string(engine.StateOf(status, assessment)),
		TotalFee:           toMoneyDTO(status.TotalFee),
		PaidAmount:         toMoneyDTO(status.PaidAmount),
		Balance:            toMoneyDTO(status.Balance),
		CourseFeeBalance:   toMoneyDTO(status.CourseFeeBalance),
		RegistrationPaid:   status.RegistrationPaid,
		RegistrationPaidAt: status.RegistrationPaidAt,
		CurrentBlock:       status.CurrentBlock,
		IsCleared:          status.IsCleared,
		IsSuspended:        status.IsSuspended,
		NextPaymentDue:     status.NextPaymentDue,
		PaymentDeadline:    status.PaymentDeadline,

		IsOverdue:           assessment.IsOverdue,
		DaysOverdue:         assessment.DaysOverdue,
		LateFee:             toMoneyDTO(assessment.LateFee),
		RecommendSuspension: assessment.RecommendSuspension,
	}
}

type WaiverResponse struct {
	ID           string     `json:"id"`
	StudentID    string     `json:"student_id"`
	EnrollmentID string     `json:"enrollment_id"`
	Type         string     `json:"type"`
	Value        string     `json:"value"`
	Status       string     `json:"status"`
	ExpiryDate   *time.Time `json:"expiry_date,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	RequestedAt  time.Time  `json:"requested_at"`
}

func toWaiverResponse(w engine.Waiver) WaiverResponse {
	return WaiverResponse{
		ID:           string(w.ID),
		StudentID:    string(w.StudentID),
		EnrollmentID: string(w.EnrollmentID),
		Type:         string(w.Type),
		Value:        w.Value.String(),
		Status:       string(w.Status),
		ExpiryDate:   w.ExpiryDate,
		Reason:       w.Reason,
		RequestedAt:  w.RequestedAt,
	}
}

type RejectionResponse struct {
	Rejected bool   `json:"rejected"`
	Reason   string `json:"reason"`
	Message  string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

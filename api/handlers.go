/*
handlers.go - HTTP handlers for the fee reconciliation engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response and JSON
  serialization, and delegates everything financial to the Reconciler.

ENDPOINTS:
  Programs:
    POST /api/programs                       Create program (+structure) from JSON
    GET  /api/programs/{id}/structure        Resolved active/synthesized structure

  Enrollments:
    POST /api/enrollments                    Register an enrollment
    GET  /api/enrollments/{id}/status        Financial status + overdue view
    POST /api/enrollments/{id}/payments      Post a completed payment
    POST /api/enrollments/{id}/waivers       Submit a waiver request

  Waivers:
    GET  /api/waivers/pending                Pending requests for review
    POST /api/waivers/{id}/approve           Administrator approval
    POST /api/waivers/{id}/reject            Administrator rejection

  Admin:
    POST /api/admin/suspend                  Record suspension decision

ERROR HANDLING:
  - 400: malformed input
  - 404: program/enrollment/waiver not found
  - 409: duplicate idempotency key, non-pending waiver, version conflict
  - 422: waiver request rejected by policy (typed reason in body)
  - 500: everything else
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/fee-engine/engine"
	"github.com/ledgerline/fee-engine/factory"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      engine.TxStore
	Reconciler *engine.Reconciler
	Factory    *factory.ConfigFactory
}

func NewHandler(store engine.TxStore, reconciler *engine.Reconciler) *Handler {
	return &Handler{
		Store:      store,
		Reconciler: reconciler,
		Factory:    factory.NewConfigFactory(),
	}
}

// =============================================================================
// PROGRAMS
// =============================================================================

func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	program, fs, _, err := h.Factory.ParseProgram(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveProgram(ctx, program); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if fs != nil {
		if err := h.Store.SaveStructure(ctx, *fs); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": string(program.ID)})
}

func (h *Handler) GetStructure(w http.ResponseWriter, r *http.Request) {
	programID := engine.ProgramID(chi.URLParam(r, "id"))

	resolver := engine.NewStructureResolver(h.Store, h.Store)
	fs, err := resolver.Resolve(r.Context(), programID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStructureResponse(fs))
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func (h *Handler) CreateEnrollment(w http.ResponseWriter, r *http.Request) {
	var req CreateEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" || req.StudentID == "" || req.ProgramID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "id, student_id and program_id are required"})
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetProgram(ctx, engine.ProgramID(req.ProgramID)); err != nil {
		writeEngineError(w, err)
		return
	}

	enrollment := engine.Enrollment{
		ID:         engine.EnrollmentID(req.ID),
		StudentID:  engine.StudentID(req.StudentID),
		ProgramID:  engine.ProgramID(req.ProgramID),
		EnrolledAt: req.EnrolledAt,
	}
	if err := h.Store.SaveEnrollment(ctx, enrollment); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// Materialize the initial status so the dashboard has something to
	// show before the first payment.
	status, assessment, err := h.Reconciler.Reconcile(ctx, enrollment.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStatusResponse(*status, *assessment))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	enrollmentID := engine.EnrollmentID(chi.URLParam(r, "id"))

	status, assessment, err := h.Reconciler.Reconcile(r.Context(), enrollmentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(*status, *assessment))
}

func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	enrollmentID := engine.EnrollmentID(chi.URLParam(r, "id"))

	var req PostPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "amount must be positive"})
		return
	}

	ctx := r.Context()
	enrollment, err := h.Store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	program, err := h.Store.GetProgram(ctx, enrollment.ProgramID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status, err := h.Reconciler.PostPayment(ctx, engine.Payment{
		EnrollmentID:   enrollmentID,
		Amount:         engine.NewMoney(req.Amount, program.Currency),
		PaidAt:         req.PaidAt,
		Status:         engine.PaymentCompleted,
		InvoiceRef:     req.InvoiceRef,
		IdempotencyKey: req.IdempotencyKey,
		RecordedBy:     req.RecordedBy,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	assessment := engine.EvaluateOverdue(*status, status.NextPaymentDue, h.Reconciler.Now(), program.LateFeePercent, h.Reconciler.Policy)
	writeJSON(w, http.StatusCreated, toStatusResponse(*status, assessment))
}

// =============================================================================
// WAIVERS
// =============================================================================

func (h *Handler) SubmitWaiver(w http.ResponseWriter, r *http.Request) {
	enrollmentID := engine.EnrollmentID(chi.URLParam(r, "id"))

	var req WaiverRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	decision, err := h.Reconciler.SubmitWaiverRequest(r.Context(), engine.WaiverRequest{
		StudentID:    engine.StudentID(req.StudentID),
		EnrollmentID: enrollmentID,
		Type:         engine.WaiverType(req.Type),
		Value:        engine.MustParseDecimal(formatFloat(req.Value)),
		Reason:       req.Reason,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if !decision.Accepted {
		writeJSON(w, http.StatusUnprocessableEntity, RejectionResponse{
			Rejected: true,
			Reason:   string(decision.Reason),
			Message:  decision.Reason.Message(),
		})
		return
	}
	writeJSON(w, http.StatusCreated, toWaiverResponse(*decision.Waiver))
}

func (h *Handler) ListPendingWaivers(w http.ResponseWriter, r *http.Request) {
	waivers, err := h.Store.ListPendingWaivers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]WaiverResponse, 0, len(waivers))
	for _, wv := range waivers {
		out = append(out, toWaiverResponse(wv))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) ApproveWaiver(w http.ResponseWriter, r *http.Request) {
	h.decideWaiver(w, r, true)
}

func (h *Handler) RejectWaiver(w http.ResponseWriter, r *http.Request) {
	h.decideWaiver(w, r, false)
}

func (h *Handler) decideWaiver(w http.ResponseWriter, r *http.Request, approve bool) {
	waiverID := engine.WaiverID(chi.URLParam(r, "id"))

	var req DecideWaiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := h.Reconciler.DecideWaiver(r.Context(), waiverID, approve, req.DecidedBy, req.ExpiryDate)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(*status, engine.OverdueAssessment{LateFee: status.Balance.Zero()}))
}

// =============================================================================
// ADMIN
// =============================================================================

func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	var req SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := h.Reconciler.SetSuspended(r.Context(), engine.EnrollmentID(req.EnrollmentID), req.Suspended)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(*status, engine.OverdueAssessment{LateFee: status.Balance.Zero()}))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	case engine.IsClientError(err), engine.IsRetryable(err):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, engine.ErrInvariantViolation):
		// Corrupted upstream data; loudly a server-side problem.
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func formatFloat(f float64) string {
	b, _ := json.Marshal(f)
	return string(b)
}

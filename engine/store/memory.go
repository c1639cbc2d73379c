// Package store provides an in-memory engine.TxStore implementation
// for tests and development.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ledgerline/fee-engine/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex // serializes WithTx scopes

	programs    map[engine.ProgramID]engine.Program
	structures  map[engine.StructureID]engine.FeeStructure
	enrollments map[engine.EnrollmentID]engine.Enrollment
	payments    map[engine.EnrollmentID][]engine.Payment
	waivers     map[engine.WaiverID]engine.Waiver
	statuses    map[engine.EnrollmentID]engine.FinancialStatus
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		programs:    make(map[engine.ProgramID]engine.Program),
		structures:  make(map[engine.StructureID]engine.FeeStructure),
		enrollments: make(map[engine.EnrollmentID]engine.Enrollment),
		payments:    make(map[engine.EnrollmentID][]engine.Payment),
		waivers:     make(map[engine.WaiverID]engine.Waiver),
		statuses:    make(map[engine.EnrollmentID]engine.FinancialStatus),
		idempotency: make(map[string]bool),
	}
}

// =============================================================================
// REFERENCE DATA
// =============================================================================

func (m *Memory) SaveProgram(_ context.Context, p engine.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[p.ID] = p
	return nil
}

func (m *Memory) GetProgram(_ context.Context, id engine.ProgramID) (*engine.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[id]
	if !ok {
		return nil, fmt.Errorf("program %s: %w", id, engine.ErrProgramNotFound)
	}
	return &p, nil
}

func (m *Memory) ListPrograms(_ context.Context) ([]engine.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Program, 0, len(m.programs))
	for _, p := range m.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveStructure(_ context.Context, fs engine.FeeStructure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fs.IsActive {
		// Soft-retire any previously active structure for the program.
		for id, existing := range m.structures {
			if existing.ProgramID == fs.ProgramID && existing.IsActive && id != fs.ID {
				existing.IsActive = false
				m.structures[id] = existing
			}
		}
	}
	m.structures[fs.ID] = fs
	return nil
}

func (m *Memory) ActiveStructure(_ context.Context, programID engine.ProgramID) (engine.FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fs := range m.structures {
		if fs.ProgramID == programID && fs.IsActive {
			return fs, nil
		}
	}
	return engine.FeeStructure{}, fmt.Errorf("program %s: %w", programID, engine.ErrStructureNotFound)
}

func (m *Memory) GetStructure(_ context.Context, id engine.StructureID) (*engine.FeeStructure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fs, ok := m.structures[id]
	if !ok {
		return nil, fmt.Errorf("structure %s: %w", id, engine.ErrStructureNotFound)
	}
	return &fs, nil
}

func (m *Memory) SaveEnrollment(_ context.Context, e engine.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = e
	return nil
}

func (m *Memory) GetEnrollment(_ context.Context, id engine.EnrollmentID) (*engine.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, fmt.Errorf("enrollment %s: %w", id, engine.ErrEnrollmentNotFound)
	}
	return &e, nil
}

func (m *Memory) ListEnrollments(_ context.Context) ([]engine.Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Enrollment, 0, len(m.enrollments))
	for _, e := range m.enrollments {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PAYMENTS - Append-only
// =============================================================================

func (m *Memory) AppendPayment(_ context.Context, p engine.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPaymentLocked(p)
}

func (m *Memory) appendPaymentLocked(p engine.Payment) error {
	if p.IdempotencyKey != "" && m.idempotency[p.IdempotencyKey] {
		return engine.ErrDuplicateIdempotencyKey
	}

	list := m.payments[p.EnrollmentID]
	// Insert in chronological position so Payments() reads are ordered.
	i := sort.Search(len(list), func(i int) bool {
		return list[i].PaidAt.After(p.PaidAt)
	})
	list = append(list, engine.Payment{})
	copy(list[i+1:], list[i:])
	list[i] = p
	m.payments[p.EnrollmentID] = list

	if p.IdempotencyKey != "" {
		m.idempotency[p.IdempotencyKey] = true
	}
	return nil
}

func (m *Memory) Payments(_ context.Context, enrollmentID engine.EnrollmentID) ([]engine.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Payment, len(m.payments[enrollmentID]))
	copy(out, m.payments[enrollmentID])
	return out, nil
}

func (m *Memory) PaymentExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// WAIVERS
// =============================================================================

func (m *Memory) SaveWaiver(_ context.Context, w engine.Waiver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waivers[w.ID] = w
	return nil
}

func (m *Memory) GetWaiver(_ context.Context, id engine.WaiverID) (*engine.Waiver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.waivers[id]
	if !ok {
		return nil, fmt.Errorf("waiver %s: %w", id, engine.ErrWaiverNotFound)
	}
	return &w, nil
}

func (m *Memory) WaiversForEnrollment(_ context.Context, enrollmentID engine.EnrollmentID) ([]engine.Waiver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Waiver
	for _, w := range m.waivers {
		if w.EnrollmentID == enrollmentID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *Memory) ListPendingWaivers(_ context.Context) ([]engine.Waiver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.Waiver
	for _, w := range m.waivers {
		if w.Status == engine.WaiverPending {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

// =============================================================================
// FINANCIAL STATUS - Versioned
// =============================================================================

func (m *Memory) GetStatus(_ context.Context, enrollmentID engine.EnrollmentID) (*engine.FinancialStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[enrollmentID]
	if !ok {
		return nil, fmt.Errorf("enrollment %s: %w", enrollmentID, engine.ErrStatusNotFound)
	}
	return &st, nil
}

func (m *Memory) CompareAndSave(_ context.Context, status engine.FinancialStatus, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.statuses[status.EnrollmentID]
	actual := 0
	if exists {
		actual = current.Version
	}
	if actual != expectedVersion {
		return &engine.ConflictError{
			EnrollmentID:    status.EnrollmentID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   actual,
		}
	}
	status.Version = expectedVersion + 1
	m.statuses[status.EnrollmentID] = status
	return nil
}

// =============================================================================
// TRANSACTIONAL SCOPE - Snapshot and rollback
// =============================================================================

// WithTx executes fn as an atomic scope, simulated with a snapshot
// that is restored if fn fails. Scopes run one at a time, which gives
// tests the same per-enrollment serialization a row lock would.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if err := fn(&txView{parent: m}); err != nil {
		m.mu.Lock()
		m.restoreLocked(snapshot)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	programs    map[engine.ProgramID]engine.Program
	structures  map[engine.StructureID]engine.FeeStructure
	enrollments map[engine.EnrollmentID]engine.Enrollment
	payments    map[engine.EnrollmentID][]engine.Payment
	waivers     map[engine.WaiverID]engine.Waiver
	statuses    map[engine.EnrollmentID]engine.FinancialStatus
	idempotency map[string]bool
}

func (m *Memory) snapshotLocked() memorySnapshot {
	s := memorySnapshot{
		programs:    make(map[engine.ProgramID]engine.Program, len(m.programs)),
		structures:  make(map[engine.StructureID]engine.FeeStructure, len(m.structures)),
		enrollments: make(map[engine.EnrollmentID]engine.Enrollment, len(m.enrollments)),
		payments:    make(map[engine.EnrollmentID][]engine.Payment, len(m.payments)),
		waivers:     make(map[engine.WaiverID]engine.Waiver, len(m.waivers)),
		statuses:    make(map[engine.EnrollmentID]engine.FinancialStatus, len(m.statuses)),
		idempotency: make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.programs {
		s.programs[k] = v
	}
	for k, v := range m.structures {
		s.structures[k] = v
	}
	for k, v := range m.enrollments {
		s.enrollments[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = append([]engine.Payment{}, v...)
	}
	for k, v := range m.waivers {
		s.waivers[k] = v
	}
	for k, v := range m.statuses {
		s.statuses[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.programs = s.programs
	m.structures = s.structures
	m.enrollments = s.enrollments
	m.payments = s.payments
	m.waivers = s.waivers
	m.statuses = s.statuses
	m.idempotency = s.idempotency
}

// txView delegates to the parent; atomicity comes from the snapshot in
// WithTx.
type txView struct {
	parent *Memory
}

func (t *txView) SaveProgram(ctx context.Context, p engine.Program) error {
	return t.parent.SaveProgram(ctx, p)
}
func (t *txView) GetProgram(ctx context.Context, id engine.ProgramID) (*engine.Program, error) {
	return t.parent.GetProgram(ctx, id)
}
func (t *txView) ListPrograms(ctx context.Context) ([]engine.Program, error) {
	return t.parent.ListPrograms(ctx)
}
func (t *txView) SaveStructure(ctx context.Context, fs engine.FeeStructure) error {
	return t.parent.SaveStructure(ctx, fs)
}
func (t *txView) ActiveStructure(ctx context.Context, programID engine.ProgramID) (engine.FeeStructure, error) {
	return t.parent.ActiveStructure(ctx, programID)
}
func (t *txView) GetStructure(ctx context.Context, id engine.StructureID) (*engine.FeeStructure, error) {
	return t.parent.GetStructure(ctx, id)
}
func (t *txView) SaveEnrollment(ctx context.Context, e engine.Enrollment) error {
	return t.parent.SaveEnrollment(ctx, e)
}
func (t *txView) GetEnrollment(ctx context.Context, id engine.EnrollmentID) (*engine.Enrollment, error) {
	return t.parent.GetEnrollment(ctx, id)
}
func (t *txView) ListEnrollments(ctx context.Context) ([]engine.Enrollment, error) {
	return t.parent.ListEnrollments(ctx)
}
func (t *txView) AppendPayment(ctx context.Context, p engine.Payment) error {
	return t.parent.AppendPayment(ctx, p)
}
func (t *txView) Payments(ctx context.Context, id engine.EnrollmentID) ([]engine.Payment, error) {
	return t.parent.Payments(ctx, id)
}
func (t *txView) PaymentExists(ctx context.Context, key string) (bool, error) {
	return t.parent.PaymentExists(ctx, key)
}
func (t *txView) SaveWaiver(ctx context.Context, w engine.Waiver) error {
	return t.parent.SaveWaiver(ctx, w)
}
func (t *txView) GetWaiver(ctx context.Context, id engine.WaiverID) (*engine.Waiver, error) {
	return t.parent.GetWaiver(ctx, id)
}
func (t *txView) WaiversForEnrollment(ctx context.Context, id engine.EnrollmentID) ([]engine.Waiver, error) {
	return t.parent.WaiversForEnrollment(ctx, id)
}
func (t *txView) ListPendingWaivers(ctx context.Context) ([]engine.Waiver, error) {
	return t.parent.ListPendingWaivers(ctx)
}
func (t *txView) GetStatus(ctx context.Context, id engine.EnrollmentID) (*engine.FinancialStatus, error) {
	return t.parent.GetStatus(ctx, id)
}
func (t *txView) CompareAndSave(ctx context.Context, status engine.FinancialStatus, expectedVersion int) error {
	return t.parent.CompareAndSave(ctx, status, expectedVersion)
}

// Compile-time interface checks.
var (
	_ engine.Store   = (*Memory)(nil)
	_ engine.TxStore = (*Memory)(nil)
	_ engine.Store   = (*txView)(nil)
)

/*
Package sqlite provides a SQLite-backed implementation of the engine's
storage interfaces.

PURPOSE:
  Implements engine.TxStore using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The payments table is append-only:
  - No UPDATE statements on payments
  - No DELETE statements on payments
  - A unique index on idempotency_key rejects duplicates

KEY TABLES:
  programs:          Program records with flat fee fallback fields
  fee_structures:    Versioned structures; one active per program
  enrollments:       Student-program registrations
  payments:          Immutable payment log (append-only)
  waivers:           Waiver lifecycle records
  financial_status:  Derived status rows with optimistic version column

CONCURRENCY:
  financial_status writes go through a compare-and-swap on the version
  column; a stale version surfaces engine.ErrConcurrencyConflict so the
  caller can recompute once with fresh data.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers
  don't block and crash recovery is cleaner.

USAGE:
  st, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()
  rec := engine.NewReconciler(st, engine.DefaultWaiverPolicy())

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ledgerline/fee-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL,
		course_fee TEXT NOT NULL,
		registration_fee TEXT NOT NULL,
		late_fee_percent TEXT NOT NULL,
		plan TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fee_structures (
		id TEXT PRIMARY KEY,
		program_id TEXT NOT NULL REFERENCES programs(id),
		registration_fee TEXT NOT NULL,
		block1 TEXT NOT NULL,
		block2 TEXT NOT NULL,
		block3 TEXT NOT NULL,
		total TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_structures_program
		ON fee_structures(program_id, is_active);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		program_id TEXT NOT NULL REFERENCES programs(id),
		enrolled_at TEXT NOT NULL
	);

	-- Append-only payment log. Corrections are compensating facts
	-- recorded upstream, never edits here.
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		paid_at TEXT NOT NULL,
		status TEXT NOT NULL,
		invoice_ref TEXT,
		idempotency_key TEXT UNIQUE,
		recorded_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payments_enrollment
		ON payments(enrollment_id, paid_at);

	CREATE TABLE IF NOT EXISTS waivers (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
		structure_id TEXT NOT NULL,
		waiver_type TEXT NOT NULL,
		waiver_value TEXT NOT NULL,
		status TEXT NOT NULL,
		expiry_date TEXT,
		reason TEXT,
		requested_at TEXT NOT NULL,
		decided_at TEXT,
		decided_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_waivers_enrollment
		ON waivers(enrollment_id, requested_at);
	CREATE INDEX IF NOT EXISTS idx_waivers_status
		ON waivers(status);

	CREATE TABLE IF NOT EXISTS financial_status (
		enrollment_id TEXT PRIMARY KEY REFERENCES enrollments(id),
		student_id TEXT NOT NULL,
		structure_id TEXT NOT NULL,
		total_fee TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		course_fee_balance TEXT NOT NULL,
		currency TEXT NOT NULL,
		registration_paid INTEGER NOT NULL,
		registration_paid_at TEXT,
		current_block INTEGER NOT NULL,
		is_cleared INTEGER NOT NULL,
		is_suspended INTEGER NOT NULL,
		next_payment_due TEXT,
		payment_deadline TEXT,
		version INTEGER NOT NULL,
		computed_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runner abstracts *sql.DB and *sql.Tx so the same query helpers serve
// both plain calls and WithTx scopes.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// PROGRAMS
// =============================================================================

func saveProgram(ctx context.Context, r runner, p engine.Program) error {
	_, err := r.ExecContext(ctx, `
		INSERT INTO programs (id, name, currency, course_fee, registration_fee, late_fee_percent, plan, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			currency = excluded.currency,
			course_fee = excluded.course_fee,
			registration_fee = excluded.registration_fee,
			late_fee_percent = excluded.late_fee_percent,
			plan = excluded.plan`,
		string(p.ID), p.Name, string(p.Currency),
		p.CourseFee.Value.String(), p.RegistrationFee.Value.String(),
		p.LateFeePercent.String(), string(p.Plan),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func getProgram(ctx context.Context, r runner, id engine.ProgramID) (*engine.Program, error) {
	row := r.QueryRowContext(ctx, `
		SELECT id, name, currency, course_fee, registration_fee, late_fee_percent, plan
		FROM programs WHERE id = ?`, string(id))

	var p engine.Program
	var currency, courseFee, regFee, latePct, plan string
	err := row.Scan(&p.ID, &p.Name, &currency, &courseFee, &regFee, &latePct, &plan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("program %s: %w", id, engine.ErrProgramNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.Currency = engine.Currency(currency)
	p.CourseFee = engine.Money{Value: engine.MustParseDecimal(courseFee), Currency: p.Currency}
	p.RegistrationFee = engine.Money{Value: engine.MustParseDecimal(regFee), Currency: p.Currency}
	p.LateFeePercent = engine.MustParseDecimal(latePct)
	p.Plan = engine.PaymentPlan(plan)
	return &p, nil
}

func listPrograms(ctx context.Context, r runner) ([]engine.Program, error) {
	rows, err := r.QueryContext(ctx, `SELECT id FROM programs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []engine.ProgramID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, engine.ProgramID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]engine.Program, 0, len(ids))
	for _, id := range ids {
		p, err := getProgram(ctx, r, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// =============================================================================
// FEE STRUCTURES
// =============================================================================

func saveStructure(ctx context.Context, r runner, fs engine.FeeStructure) error {
	if fs.IsActive {
		// Soft-retire the previously active structure.
		if _, err := r.ExecContext(ctx, `
			UPDATE fee_structures SET is_active = 0
			WHERE program_id = ? AND is_active = 1 AND id != ?`,
			string(fs.ProgramID), string(fs.ID)); err != nil {
			return err
		}
	}
	_, err := r.ExecContext(ctx, `
		INSERT INTO fee_structures (id, program_id, registration_fee, block1, block2, block3, total, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			registration_fee = excluded.registration_fee,
			block1 = excluded.block1,
			block2 = excluded.block2,
			block3 = excluded.block3,
			total = excluded.total,
			is_active = excluded.is_active`,
		string(fs.ID), string(fs.ProgramID),
		fs.RegistrationFee.Value.String(),
		fs.Block1.Value.String(), fs.Block2.Value.String(), fs.Block3.Value.String(),
		fs.Total.Value.String(), boolToInt(fs.IsActive),
		time.Now().UTC().Format(time.RFC3339))
	return err
}

func scanStructure(row *sql.Row, currency engine.Currency) (engine.FeeStructure, error) {
	var fs engine.FeeStructure
	var reg, b1, b2, b3, total string
	var active int
	var createdAt string
	err := row.Scan(&fs.ID, &fs.ProgramID, &reg, &b1, &b2, &b3, &total, &active, &createdAt)
	if err != nil {
		return engine.FeeStructure{}, err
	}
	money := func(s string) engine.Money {
		return engine.Money{Value: engine.MustParseDecimal(s), Currency: currency}
	}
	fs.RegistrationFee = money(reg)
	fs.Block1 = money(b1)
	fs.Block2 = money(b2)
	fs.Block3 = money(b3)
	fs.Total = money(total)
	fs.IsActive = active == 1
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		fs.CreatedAt = t
	}
	return fs, nil
}

func activeStructure(ctx context.Context, r runner, programID engine.ProgramID) (engine.FeeStructure, error) {
	p, err := getProgram(ctx, r, programID)
	if err != nil {
		return engine.FeeStructure{}, err
	}
	row := r.QueryRowContext(ctx, `
		SELECT id, program_id, registration_fee, block1, block2, block3, total, is_active, created_at
		FROM fee_structures WHERE program_id = ? AND is_active = 1`, string(programID))
	fs, err := scanStructure(row, p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.FeeStructure{}, fmt.Errorf("program %s: %w", programID, engine.ErrStructureNotFound)
	}
	return fs, err
}

func getStructure(ctx context.Context, r runner, id engine.StructureID) (*engine.FeeStructure, error) {
	var programID string
	err := r.QueryRowContext(ctx, `SELECT program_id FROM fee_structures WHERE id = ?`, string(id)).Scan(&programID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("structure %s: %w", id, engine.ErrStructureNotFound)
	}
	if err != nil {
		return nil, err
	}
	p, err := getProgram(ctx, r, engine.ProgramID(programID))
	if err != nil {
		return nil, err
	}
	row := r.QueryRowContext(ctx, `
		SELECT id, program_id, registration_fee, block1, block2, block3, total, is_active, created_at
		FROM fee_structures WHERE id = ?`, string(id))
	fs, err := scanStructure(row, p.Currency)
	if err != nil {
		return nil, err
	}
	return &fs, nil
}

// =============================================================================
// ENROLLMENTS
// =============================================================================

func saveEnrollment(ctx context.Context, r runner, e engine.Enrollment) error {
	_, err := r.ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, program_id, enrolled_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			student_id = excluded.student_id,
			program_id = excluded.program_id,
			enrolled_at = excluded.enrolled_at`,
		string(e.ID), string(e.StudentID), string(e.ProgramID),
		e.EnrolledAt.UTC().Format(time.RFC3339))
	return err
}

func getEnrollment(ctx context.Context, r runner, id engine.EnrollmentID) (*engine.Enrollment, error) {
	row := r.QueryRowContext(ctx, `
		SELECT id, student_id, program_id, enrolled_at FROM enrollments WHERE id = ?`, string(id))
	var e engine.Enrollment
	var enrolledAt string
	err := row.Scan(&e.ID, &e.StudentID, &e.ProgramID, &enrolledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("enrollment %s: %w", id, engine.ErrEnrollmentNotFound)
	}
	if err != nil {
		return nil, err
	}
	if t, perr := time.Parse(time.RFC3339, enrolledAt); perr == nil {
		e.EnrolledAt = t
	}
	return &e, nil
}

func listEnrollments(ctx context.Context, r runner) ([]engine.Enrollment, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT id, student_id, program_id, enrolled_at FROM enrollments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Enrollment
	for rows.Next() {
		var e engine.Enrollment
		var enrolledAt string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.ProgramID, &enrolledAt); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339, enrolledAt); perr == nil {
			e.EnrolledAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYMENTS - Append-only
// =============================================================================

func appendPayment(ctx context.Context, r runner, p engine.Payment) error {
	key := sql.NullString{String: p.IdempotencyKey, Valid: p.IdempotencyKey != ""}
	_, err := r.ExecContext(ctx, `
		INSERT INTO payments (id, enrollment_id, amount, currency, paid_at, status, invoice_ref, idempotency_key, recorded_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), string(p.EnrollmentID),
		p.Amount.Value.String(), string(p.Amount.Currency),
		p.PaidAt.UTC().Format(time.RFC3339), string(p.Status),
		p.InvoiceRef, key, p.RecordedBy)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return engine.ErrDuplicateIdempotencyKey
	}
	return err
}

func loadPayments(ctx context.Context, r runner, enrollmentID engine.EnrollmentID) ([]engine.Payment, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT id, enrollment_id, amount, currency, paid_at, status, invoice_ref, idempotency_key, recorded_by
		FROM payments WHERE enrollment_id = ? ORDER BY paid_at, id`, string(enrollmentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []engine.Payment
	for rows.Next() {
		var p engine.Payment
		var amount, currency, paidAt string
		var invoiceRef, key, recordedBy sql.NullString
		if err := rows.Scan(&p.ID, &p.EnrollmentID, &amount, &currency, &paidAt, &p.Status, &invoiceRef, &key, &recordedBy); err != nil {
			return nil, err
		}
		p.Amount = engine.Money{Value: engine.MustParseDecimal(amount), Currency: engine.Currency(currency)}
		if t, perr := time.Parse(time.RFC3339, paidAt); perr == nil {
			p.PaidAt = t
		}
		p.InvoiceRef = invoiceRef.String
		p.IdempotencyKey = key.String
		p.RecordedBy = recordedBy.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func paymentExists(ctx context.Context, r runner, idempotencyKey string) (bool, error) {
	var n int
	err := r.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM payments WHERE idempotency_key = ?`, idempotencyKey).Scan(&n)
	return n > 0, err
}

// =============================================================================
// WAIVERS
// =============================================================================

func saveWaiver(ctx context.Context, r runner, w engine.Waiver) error {
	_, err := r.ExecContext(ctx, `
		INSERT INTO waivers (id, student_id, enrollment_id, structure_id, waiver_type, waiver_value, status, expiry_date, reason, requested_at, decided_at, decided_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			expiry_date = excluded.expiry_date,
			decided_at = excluded.decided_at,
			decided_by = excluded.decided_by`,
		string(w.ID), string(w.StudentID), string(w.EnrollmentID), string(w.StructureID),
		string(w.Type), w.Value.String(), string(w.Status),
		nullTime(w.ExpiryDate), w.Reason,
		w.RequestedAt.UTC().Format(time.RFC3339),
		nullTime(w.DecidedAt), w.DecidedBy)
	return err
}

func scanWaivers(rows *sql.Rows) ([]engine.Waiver, error) {
	defer rows.Close()
	var out []engine.Waiver
	for rows.Next() {
		var w engine.Waiver
		var value, requestedAt string
		var expiry, decidedAt, decidedBy, reason sql.NullString
		if err := rows.Scan(&w.ID, &w.StudentID, &w.EnrollmentID, &w.StructureID,
			&w.Type, &value, &w.Status, &expiry, &reason, &requestedAt, &decidedAt, &decidedBy); err != nil {
			return nil, err
		}
		w.Value = engine.MustParseDecimal(value)
		w.Reason = reason.String
		w.DecidedBy = decidedBy.String
		if t, err := time.Parse(time.RFC3339, requestedAt); err == nil {
			w.RequestedAt = t
		}
		w.ExpiryDate = parseNullTime(expiry)
		w.DecidedAt = parseNullTime(decidedAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

const waiverColumns = `id, student_id, enrollment_id, structure_id, waiver_type, waiver_value, status, expiry_date, reason, requested_at, decided_at, decided_by`

func getWaiver(ctx context.Context, r runner, id engine.WaiverID) (*engine.Waiver, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT `+waiverColumns+` FROM waivers WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	ws, err := scanWaivers(rows)
	if err != nil {
		return nil, err
	}
	if len(ws) == 0 {
		return nil, fmt.Errorf("waiver %s: %w", id, engine.ErrWaiverNotFound)
	}
	return &ws[0], nil
}

func waiversForEnrollment(ctx context.Context, r runner, enrollmentID engine.EnrollmentID) ([]engine.Waiver, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT `+waiverColumns+` FROM waivers WHERE enrollment_id = ? ORDER BY requested_at, id`,
		string(enrollmentID))
	if err != nil {
		return nil, err
	}
	return scanWaivers(rows)
}

func listPendingWaivers(ctx context.Context, r runner) ([]engine.Waiver, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT `+waiverColumns+` FROM waivers WHERE status = ? ORDER BY requested_at, id`,
		string(engine.WaiverPending))
	if err != nil {
		return nil, err
	}
	return scanWaivers(rows)
}

// =============================================================================
// FINANCIAL STATUS - Versioned compare-and-swap
// =============================================================================

func getStatus(ctx context.Context, r runner, enrollmentID engine.EnrollmentID) (*engine.FinancialStatus, error) {
	row := r.QueryRowContext(ctx, `
		SELECT enrollment_id, student_id, structure_id, total_fee, paid_amount, balance, course_fee_balance, currency,
		       registration_paid, registration_paid_at, current_block, is_cleared, is_suspended,
		       next_payment_due, payment_deadline, version, computed_at
		FROM financial_status WHERE enrollment_id = ?`, string(enrollmentID))

	var st engine.FinancialStatus
	var total, paid, balance, courseBalance, currency, computedAt string
	var regPaid, cleared, suspended int
	var regPaidAt, nextDue, deadline sql.NullString
	err := row.Scan(&st.EnrollmentID, &st.StudentID, &st.StructureID,
		&total, &paid, &balance, &courseBalance, &currency,
		&regPaid, &regPaidAt, &st.CurrentBlock, &cleared, &suspended,
		&nextDue, &deadline, &st.Version, &computedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("enrollment %s: %w", enrollmentID, engine.ErrStatusNotFound)
	}
	if err != nil {
		return nil, err
	}

	cur := engine.Currency(currency)
	money := func(s string) engine.Money {
		return engine.Money{Value: engine.MustParseDecimal(s), Currency: cur}
	}
	st.TotalFee = money(total)
	st.PaidAmount = money(paid)
	st.Balance = money(balance)
	st.CourseFeeBalance = money(courseBalance)
	st.RegistrationPaid = regPaid == 1
	st.IsCleared = cleared == 1
	st.IsSuspended = suspended == 1
	st.RegistrationPaidAt = parseNullTime(regPaidAt)
	st.NextPaymentDue = parseNullTime(nextDue)
	st.PaymentDeadline = parseNullTime(deadline)
	if t, perr := time.Parse(time.RFC3339, computedAt); perr == nil {
		st.ComputedAt = t
	}
	return &st, nil
}

func compareAndSave(ctx context.Context, r runner, status engine.FinancialStatus, expectedVersion int) error {
	current, err := getStatus(ctx, r, status.EnrollmentID)
	actual := 0
	if err == nil {
		actual = current.Version
	} else if !errors.Is(err, engine.ErrStatusNotFound) {
		return err
	}
	if actual != expectedVersion {
		return &engine.ConflictError{
			EnrollmentID:    status.EnrollmentID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   actual,
		}
	}

	_, err = r.ExecContext(ctx, `
		INSERT INTO financial_status (enrollment_id, student_id, structure_id, total_fee, paid_amount, balance, course_fee_balance, currency,
			registration_paid, registration_paid_at, current_block, is_cleared, is_suspended,
			next_payment_due, payment_deadline, version, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(enrollment_id) DO UPDATE SET
			student_id = excluded.student_id,
			structure_id = excluded.structure_id,
			total_fee = excluded.total_fee,
			paid_amount = excluded.paid_amount,
			balance = excluded.balance,
			course_fee_balance = excluded.course_fee_balance,
			currency = excluded.currency,
			registration_paid = excluded.registration_paid,
			registration_paid_at = excluded.registration_paid_at,
			current_block = excluded.current_block,
			is_cleared = excluded.is_cleared,
			is_suspended = excluded.is_suspended,
			next_payment_due = excluded.next_payment_due,
			payment_deadline = excluded.payment_deadline,
			version = excluded.version,
			computed_at = excluded.computed_at
		WHERE financial_status.version = ?`,
		string(status.EnrollmentID), string(status.StudentID), string(status.StructureID),
		status.TotalFee.Value.String(), status.PaidAmount.Value.String(),
		status.Balance.Value.String(), status.CourseFeeBalance.Value.String(),
		string(status.TotalFee.Currency),
		boolToInt(status.RegistrationPaid), nullTime(status.RegistrationPaidAt),
		status.CurrentBlock, boolToInt(status.IsCleared), boolToInt(status.IsSuspended),
		nullTime(status.NextPaymentDue), nullTime(status.PaymentDeadline),
		expectedVersion+1, status.ComputedAt.UTC().Format(time.RFC3339),
		expectedVersion)
	return err
}

// =============================================================================
// STORE INTERFACE WIRING
// =============================================================================

func (s *Store) SaveProgram(ctx context.Context, p engine.Program) error {
	return saveProgram(ctx, s.db, p)
}
func (s *Store) GetProgram(ctx context.Context, id engine.ProgramID) (*engine.Program, error) {
	return getProgram(ctx, s.db, id)
}
func (s *Store) ListPrograms(ctx context.Context) ([]engine.Program, error) {
	return listPrograms(ctx, s.db)
}
func (s *Store) SaveStructure(ctx context.Context, fs engine.FeeStructure) error {
	return saveStructure(ctx, s.db, fs)
}
func (s *Store) ActiveStructure(ctx context.Context, programID engine.ProgramID) (engine.FeeStructure, error) {
	return activeStructure(ctx, s.db, programID)
}
func (s *Store) GetStructure(ctx context.Context, id engine.StructureID) (*engine.FeeStructure, error) {
	return getStructure(ctx, s.db, id)
}
func (s *Store) SaveEnrollment(ctx context.Context, e engine.Enrollment) error {
	return saveEnrollment(ctx, s.db, e)
}
func (s *Store) GetEnrollment(ctx context.Context, id engine.EnrollmentID) (*engine.Enrollment, error) {
	return getEnrollment(ctx, s.db, id)
}
func (s *Store) ListEnrollments(ctx context.Context) ([]engine.Enrollment, error) {
	return listEnrollments(ctx, s.db)
}
func (s *Store) AppendPayment(ctx context.Context, p engine.Payment) error {
	return appendPayment(ctx, s.db, p)
}
func (s *Store) Payments(ctx context.Context, id engine.EnrollmentID) ([]engine.Payment, error) {
	return loadPayments(ctx, s.db, id)
}
func (s *Store) PaymentExists(ctx context.Context, key string) (bool, error) {
	return paymentExists(ctx, s.db, key)
}
func (s *Store) SaveWaiver(ctx context.Context, w engine.Waiver) error {
	return saveWaiver(ctx, s.db, w)
}
func (s *Store) GetWaiver(ctx context.Context, id engine.WaiverID) (*engine.Waiver, error) {
	return getWaiver(ctx, s.db, id)
}
func (s *Store) WaiversForEnrollment(ctx context.Context, id engine.EnrollmentID) ([]engine.Waiver, error) {
	return waiversForEnrollment(ctx, s.db, id)
}
func (s *Store) ListPendingWaivers(ctx context.Context) ([]engine.Waiver, error) {
	return listPendingWaivers(ctx, s.db)
}
func (s *Store) GetStatus(ctx context.Context, id engine.EnrollmentID) (*engine.FinancialStatus, error) {
	return getStatus(ctx, s.db, id)
}
func (s *Store) CompareAndSave(ctx context.Context, status engine.FinancialStatus, expectedVersion int) error {
	return compareAndSave(ctx, s.db, status, expectedVersion)
}

// WithTx executes fn inside a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txStore serves the Store interface over an open transaction.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) SaveProgram(ctx context.Context, p engine.Program) error {
	return saveProgram(ctx, t.tx, p)
}
func (t *txStore) GetProgram(ctx context.Context, id engine.ProgramID) (*engine.Program, error) {
	return getProgram(ctx, t.tx, id)
}
func (t *txStore) ListPrograms(ctx context.Context) ([]engine.Program, error) {
	return listPrograms(ctx, t.tx)
}
func (t *txStore) SaveStructure(ctx context.Context, fs engine.FeeStructure) error {
	return saveStructure(ctx, t.tx, fs)
}
func (t *txStore) ActiveStructure(ctx context.Context, programID engine.ProgramID) (engine.FeeStructure, error) {
	return activeStructure(ctx, t.tx, programID)
}
func (t *txStore) GetStructure(ctx context.Context, id engine.StructureID) (*engine.FeeStructure, error) {
	return getStructure(ctx, t.tx, id)
}
func (t *txStore) SaveEnrollment(ctx context.Context, e engine.Enrollment) error {
	return saveEnrollment(ctx, t.tx, e)
}
func (t *txStore) GetEnrollment(ctx context.Context, id engine.EnrollmentID) (*engine.Enrollment, error) {
	return getEnrollment(ctx, t.tx, id)
}
func (t *txStore) ListEnrollments(ctx context.Context) ([]engine.Enrollment, error) {
	return listEnrollments(ctx, t.tx)
}
func (t *txStore) AppendPayment(ctx context.Context, p engine.Payment) error {
	return appendPayment(ctx, t.tx, p)
}
func (t *txStore) Payments(ctx context.Context, id engine.EnrollmentID) ([]engine.Payment, error) {
	return loadPayments(ctx, t.tx, id)
}
func (t *txStore) PaymentExists(ctx context.Context, key string) (bool, error) {
	return paymentExists(ctx, t.tx, key)
}
func (t *txStore) SaveWaiver(ctx context.Context, w engine.Waiver) error {
	return saveWaiver(ctx, t.tx, w)
}
func (t *txStore) GetWaiver(ctx context.Context, id engine.WaiverID) (*engine.Waiver, error) {
	return getWaiver(ctx, t.tx, id)
}
func (t *txStore) WaiversForEnrollment(ctx context.Context, id engine.EnrollmentID) ([]engine.Waiver, error) {
	return waiversForEnrollment(ctx, t.tx, id)
}
func (t *txStore) ListPendingWaivers(ctx context.Context) ([]engine.Waiver, error) {
	return listPendingWaivers(ctx, t.tx)
}
func (t *txStore) GetStatus(ctx context.Context, id engine.EnrollmentID) (*engine.FinancialStatus, error) {
	return getStatus(ctx, t.tx, id)
}
func (t *txStore) CompareAndSave(ctx context.Context, status engine.FinancialStatus, expectedVersion int) error {
	return compareAndSave(ctx, t.tx, status, expectedVersion)
}

var (
	_ engine.Store   = (*Store)(nil)
	_ engine.TxStore = (*Store)(nil)
	_ engine.Store   = (*txStore)(nil)
)

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// Reset clears all data. Dev/test only.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM financial_status;
		DELETE FROM payments;
		DELETE FROM waivers;
		DELETE FROM enrollments;
		DELETE FROM fee_structures;
		DELETE FROM programs;`)
	return err
}

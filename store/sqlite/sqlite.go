/*
Package sqlite provides a SQLite-backed implementation of core.TxStore.

PURPOSE:
  Persists employees, shift policies, attendance records, salary
  adjustments and holiday definitions. In production, the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  employees:          Identities with enrolled face vectors (JSON)
  shift_policies:     Working-hours rules
  attendance_records: One row per employee per date, with frozen policy
  salary_adjustments: Bonuses and fines per employee-month
  holidays:           Scoped date ranges

CONSTRAINTS:
  - idx_single_active_policy: partial unique index, at most one active shift
  - UNIQUE(employee_id, date) on attendance_records
  - UNIQUE(employee_id, month, reason, kind) on salary_adjustments
  Violations surface as *core.ConstraintViolationError.

CONCURRENCY:
  The pool is capped at one connection. SQLite has a single writer anyway,
  and ":memory:" databases are per-connection. Callers must not touch the
  outer Store from inside WithTx; the tx-scoped core.Store passed to fn
  is the only valid handle there.

WAL MODE:
  File databases are opened with WAL for better crash recovery.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - core/store.go: Interface definitions
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/core"
)

// Store implements core.TxStore using SQLite.
type Store struct {
	*conn
	db *sql.DB
}

var _ core.TxStore = (*Store)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs every query against either the pool or an open transaction.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: &conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		designation TEXT NOT NULL DEFAULT '',
		monthly_salary TEXT NOT NULL DEFAULT '0',
		face_vector_json TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		inactive_since TEXT,
		hire_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_department
		ON employees(department);

	CREATE TABLE IF NOT EXISTS shift_policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		present_hours TEXT NOT NULL,
		half_day_hours TEXT NOT NULL,
		grace_minutes INTEGER NOT NULL DEFAULT 0,
		late_tracking INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one active shift at any instant
	CREATE UNIQUE INDEX IF NOT EXISTS idx_single_active_policy
		ON shift_policies(is_active) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		date TEXT NOT NULL,
		policy_json TEXT,
		check_in TEXT,
		check_out TEXT,
		status TEXT NOT NULL,
		late_ns INTEGER,
		device_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_records_date
		ON attendance_records(date);
	CREATE INDEX IF NOT EXISTS idx_records_status
		ON attendance_records(status);

	CREATE TABLE IF NOT EXISTS salary_adjustments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT NOT NULL,
		month TEXT NOT NULL,
		is_automatic INTEGER NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(employee_id, month, reason, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_month
		ON salary_adjustments(month);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		scope TEXT NOT NULL,
		department TEXT NOT NULL DEFAULT '',
		designation TEXT NOT NULL DEFAULT '',
		employee_ids_json TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1,
		is_government INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_start
		ON holidays(start_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (core.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// WithTx on a tx-scoped conn joins the surrounding transaction.
func (c *conn) WithTx(ctx context.Context, fn func(store core.Store) error) error {
	return fn(c)
}

// =============================================================================
// EMPLOYEE STORE
// =============================================================================

const employeeColumns = `id, name, email, department, designation, monthly_salary,
	face_vector_json, is_active, inactive_since, hire_date, created_at, updated_at`

// SaveEmployee upserts an employee.
func (c *conn) SaveEmployee(ctx context.Context, e core.Employee) error {
	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			department = excluded.department,
			designation = excluded.designation,
			monthly_salary = excluded.monthly_salary,
			face_vector_json = excluded.face_vector_json,
			is_active = excluded.is_active,
			inactive_since = excluded.inactive_since,
			hire_date = excluded.hire_date,
			updated_at = excluded.updated_at
	`

	var vec sql.NullString
	if e.FaceVector != nil {
		b, err := json.Marshal(e.FaceVector)
		if err != nil {
			return fmt.Errorf("failed to encode face vector: %w", err)
		}
		vec = sql.NullString{String: string(b), Valid: true}
	}

	now := formatTime(time.Now())
	_, err := c.q.ExecContext(ctx, query,
		e.ID, e.Name, e.Email, e.Department, e.Designation,
		e.MonthlySalary.String(), vec, e.Active,
		nullDate(e.InactiveSince), nullDate(e.HireDate),
		now, now,
	)
	return mapError(err, "failed to save employee")
}

// GetEmployee retrieves an employee by ID.
func (c *conn) GetEmployee(ctx context.Context, id core.EntityID) (*core.Employee, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEmployees returns employees matching the filter, ordered by ID.
func (c *conn) ListEmployees(ctx context.Context, f core.EmployeeFilter) ([]core.Employee, error) {
	var (
		where []string
		args  []any
	)
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if f.Department != "" {
		where = append(where, "department = ?")
		args = append(args, f.Department)
	}
	if f.Designation != "" {
		where = append(where, "designation = ?")
		args = append(args, f.Designation)
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN ("+placeholders(len(f.IDs))+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}

	query := "SELECT " + employeeColumns + " FROM employees"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []core.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

// DeleteEmployee removes an employee. Records and adjustments cascade.
func (c *conn) DeleteEmployee(ctx context.Context, id core.EntityID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM employees WHERE id = ?", id)
	return affected(res, err, core.ErrEmployeeNotFound)
}

func scanEmployee(sc scanner) (core.Employee, error) {
	var (
		e                    core.Employee
		salary               string
		vec                  sql.NullString
		inactive, hire       sql.NullString
		createdAt, updatedAt string
	)
	err := sc.Scan(&e.ID, &e.Name, &e.Email, &e.Department, &e.Designation, &salary,
		&vec, &e.Active, &inactive, &hire, &createdAt, &updatedAt)
	if err != nil {
		return e, err
	}
	e.MonthlySalary = parseDecimal(salary)
	if vec.Valid && vec.String != "" {
		if err := json.Unmarshal([]byte(vec.String), &e.FaceVector); err != nil {
			return e, fmt.Errorf("failed to decode face vector for %s: %w", e.ID, err)
		}
	}
	e.InactiveSince = parseNullDate(inactive)
	e.HireDate = parseNullDate(hire)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}

// =============================================================================
// SHIFT POLICY STORE
// =============================================================================

const policyColumns = `id, name, start_time, end_time, present_hours, half_day_hours,
	grace_minutes, late_tracking, is_active, created_at, updated_at`

// SavePolicy upserts a shift policy. The partial unique index rejects a
// second active row.
func (c *conn) SavePolicy(ctx context.Context, p core.ShiftPolicy) error {
	query := `
		INSERT INTO shift_policies (` + policyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			present_hours = excluded.present_hours,
			half_day_hours = excluded.half_day_hours,
			grace_minutes = excluded.grace_minutes,
			late_tracking = excluded.late_tracking,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err := c.q.ExecContext(ctx, query,
		p.ID, p.Name, p.Start.String(), p.End.String(),
		p.PresentHours.String(), p.HalfDayHours.String(),
		p.GraceMinutes, p.LateTracking, p.Active,
		now, now,
	)
	return mapError(err, "failed to save shift policy")
}

// GetPolicy retrieves a shift policy by ID.
func (c *conn) GetPolicy(ctx context.Context, id core.PolicyID) (*core.ShiftPolicy, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM shift_policies WHERE id = ?", id)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolicies returns all shift policies ordered by name.
func (c *conn) ListPolicies(ctx context.Context) ([]core.ShiftPolicy, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+policyColumns+" FROM shift_policies ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to query shift policies: %w", err)
	}
	defer rows.Close()

	var policies []core.ShiftPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// DeletePolicy removes a shift policy. Records keep their snapshots.
func (c *conn) DeletePolicy(ctx context.Context, id core.PolicyID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM shift_policies WHERE id = ?", id)
	return affected(res, err, core.ErrPolicyNotFound)
}

// ActivePolicy returns the active shift policy, or nil when none is active.
func (c *conn) ActivePolicy(ctx context.Context) (*core.ShiftPolicy, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+policyColumns+" FROM shift_policies WHERE is_active = 1")
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ClearActivePolicies deactivates every policy.
func (c *conn) ClearActivePolicies(ctx context.Context) error {
	_, err := c.q.ExecContext(ctx,
		"UPDATE shift_policies SET is_active = 0, updated_at = ? WHERE is_active = 1",
		formatTime(time.Now()))
	return mapError(err, "failed to clear active policies")
}

func scanPolicy(sc scanner) (core.ShiftPolicy, error) {
	var (
		p                    core.ShiftPolicy
		start, end           string
		present, halfDay     string
		createdAt, updatedAt string
	)
	err := sc.Scan(&p.ID, &p.Name, &start, &end, &present, &halfDay,
		&p.GraceMinutes, &p.LateTracking, &p.Active, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	if p.Start, err = core.ParseTimeOfDay(start); err != nil {
		return p, err
	}
	if p.End, err = core.ParseTimeOfDay(end); err != nil {
		return p, err
	}
	p.PresentHours = parseDecimal(present)
	p.HalfDayHours = parseDecimal(halfDay)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// ATTENDANCE RECORD STORE
// =============================================================================

const recordColumns = `id, employee_id, date, policy_json, check_in, check_out,
	status, late_ns, device_id, created_at, updated_at`

// GetRecord retrieves the record for an employee on a date.
func (c *conn) GetRecord(ctx context.Context, id core.EntityID, d core.Date) (*core.AttendanceRecord, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM attendance_records WHERE employee_id = ? AND date = ?",
		id, d.String())
	return scanOptionalRecord(row)
}

// GetRecordByID retrieves a record by its ID.
func (c *conn) GetRecordByID(ctx context.Context, id core.RecordID) (*core.AttendanceRecord, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM attendance_records WHERE id = ?", id)
	return scanOptionalRecord(row)
}

// InsertRecord adds a new record. A second record for the same employee and
// date is a constraint violation.
func (c *conn) InsertRecord(ctx context.Context, r core.AttendanceRecord) error {
	policyJSON, err := encodePolicy(r.Policy)
	if err != nil {
		return err
	}

	now := formatTime(time.Now())
	createdAt := now
	if !r.CreatedAt.IsZero() {
		createdAt = formatTime(r.CreatedAt)
	}

	_, err = c.q.ExecContext(ctx, `
		INSERT INTO attendance_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EmployeeID, r.Date.String(), policyJSON,
		nullTime(r.CheckIn), nullTime(r.CheckOut),
		r.Status, nullDuration(r.LateDuration), r.DeviceID,
		createdAt, now,
	)
	return mapError(err, "failed to insert attendance record")
}

// UpdateRecord replaces a record's mutable fields. The policy snapshot is
// written as given; the ledger is responsible for never changing it.
func (c *conn) UpdateRecord(ctx context.Context, r core.AttendanceRecord) error {
	policyJSON, err := encodePolicy(r.Policy)
	if err != nil {
		return err
	}

	res, err := c.q.ExecContext(ctx, `
		UPDATE attendance_records SET
			employee_id = ?, date = ?, policy_json = ?, check_in = ?, check_out = ?,
			status = ?, late_ns = ?, device_id = ?, updated_at = ?
		WHERE id = ?`,
		r.EmployeeID, r.Date.String(), policyJSON,
		nullTime(r.CheckIn), nullTime(r.CheckOut),
		r.Status, nullDuration(r.LateDuration), r.DeviceID,
		formatTime(time.Now()), r.ID,
	)
	return affected(res, mapError(err, "failed to update attendance record"), core.ErrRecordNotFound)
}

// DeleteRecord removes a record.
func (c *conn) DeleteRecord(ctx context.Context, id core.RecordID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM attendance_records WHERE id = ?", id)
	return affected(res, err, core.ErrRecordNotFound)
}

// ListRecords returns records matching the filter ordered by date then employee.
func (c *conn) ListRecords(ctx context.Context, f core.RecordFilter) ([]core.AttendanceRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + recordColumns + " FROM attendance_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY date, employee_id"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []core.AttendanceRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanOptionalRecord(row *sql.Row) (*core.AttendanceRecord, error) {
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanRecord(sc scanner) (core.AttendanceRecord, error) {
	var (
		r                    core.AttendanceRecord
		date                 string
		policyJSON           sql.NullString
		checkIn, checkOut    sql.NullString
		lateNS               sql.NullInt64
		createdAt, updatedAt string
	)
	err := sc.Scan(&r.ID, &r.EmployeeID, &date, &policyJSON, &checkIn, &checkOut,
		&r.Status, &lateNS, &r.DeviceID, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	if r.Date, err = core.ParseDate(date); err != nil {
		return r, err
	}
	if policyJSON.Valid && policyJSON.String != "" {
		var p core.ShiftPolicy
		if err := json.Unmarshal([]byte(policyJSON.String), &p); err != nil {
			return r, fmt.Errorf("failed to decode policy snapshot for %s: %w", r.ID, err)
		}
		r.Policy = &p
	}
	r.CheckIn = parseNullTime(checkIn)
	r.CheckOut = parseNullTime(checkOut)
	if lateNS.Valid {
		d := time.Duration(lateNS.Int64)
		r.LateDuration = &d
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

func encodePolicy(p *core.ShiftPolicy) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode policy snapshot: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// =============================================================================
// SALARY ADJUSTMENT STORE
// =============================================================================

const adjustmentColumns = `id, employee_id, kind, amount, reason, month, is_automatic,
	comment, created_at, updated_at`

// GetAdjustment retrieves the adjustment for a unique key.
func (c *conn) GetAdjustment(ctx context.Context, key core.AdjustmentKey) (*core.SalaryAdjustment, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT `+adjustmentColumns+` FROM salary_adjustments
		WHERE employee_id = ? AND month = ? AND reason = ? AND kind = ?`,
		key.EmployeeID, key.Month.String(), key.Reason, key.Kind)
	a, err := scanAdjustment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertAdjustment adds an adjustment row.
func (c *conn) InsertAdjustment(ctx context.Context, a core.SalaryAdjustment) error {
	now := formatTime(time.Now())
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO salary_adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EmployeeID, a.Kind, a.Amount.StringFixed(2), a.Reason, a.Month.String(),
		a.Automatic, a.Comment, now, now,
	)
	return mapError(err, "failed to insert salary adjustment")
}

// UpdateAdjustment replaces an adjustment's fields.
func (c *conn) UpdateAdjustment(ctx context.Context, a core.SalaryAdjustment) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE salary_adjustments SET
			employee_id = ?, kind = ?, amount = ?, reason = ?, month = ?,
			is_automatic = ?, comment = ?, updated_at = ?
		WHERE id = ?`,
		a.EmployeeID, a.Kind, a.Amount.StringFixed(2), a.Reason, a.Month.String(),
		a.Automatic, a.Comment, formatTime(time.Now()), a.ID,
	)
	return affected(res, mapError(err, "failed to update salary adjustment"), core.ErrAdjustmentNotFound)
}

// DeleteAdjustment removes an adjustment.
func (c *conn) DeleteAdjustment(ctx context.Context, id core.AdjustmentID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM salary_adjustments WHERE id = ?", id)
	return affected(res, err, core.ErrAdjustmentNotFound)
}

// ListAdjustments returns adjustments matching the filter.
func (c *conn) ListAdjustments(ctx context.Context, f core.AdjustmentFilter) ([]core.SalaryAdjustment, error) {
	var (
		where []string
		args  []any
	)
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}
	if !f.Month.IsZero() {
		where = append(where, "month = ?")
		args = append(args, f.Month.String())
	}

	query := "SELECT " + adjustmentColumns + " FROM salary_adjustments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY month, employee_id, reason"

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query salary adjustments: %w", err)
	}
	defer rows.Close()

	var out []core.SalaryAdjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAdjustment(sc scanner) (core.SalaryAdjustment, error) {
	var (
		a                    core.SalaryAdjustment
		amount, month        string
		createdAt, updatedAt string
	)
	err := sc.Scan(&a.ID, &a.EmployeeID, &a.Kind, &amount, &a.Reason, &month,
		&a.Automatic, &a.Comment, &createdAt, &updatedAt)
	if err != nil {
		return a, err
	}
	a.Amount = parseDecimal(amount)
	if a.Month, err = core.ParseDate(month); err != nil {
		return a, err
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// =============================================================================
// HOLIDAY STORE
// =============================================================================

const holidayColumns = `id, name, description, start_date, end_date, scope, department,
	designation, employee_ids_json, is_active, is_government, created_by, created_at, updated_at`

// SaveHoliday upserts a holiday definition.
func (c *conn) SaveHoliday(ctx context.Context, h core.Holiday) error {
	ids := h.EmployeeIDs
	if ids == nil {
		ids = []core.EntityID{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode holiday employees: %w", err)
	}

	now := formatTime(time.Now())
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO holidays (`+holidayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			scope = excluded.scope,
			department = excluded.department,
			designation = excluded.designation,
			employee_ids_json = excluded.employee_ids_json,
			is_active = excluded.is_active,
			is_government = excluded.is_government,
			created_by = excluded.created_by,
			updated_at = excluded.updated_at`,
		h.ID, h.Name, h.Description, h.Start.String(), h.End.String(), h.Scope,
		h.Department, h.Designation, string(idsJSON), h.Active, h.Government,
		h.CreatedBy, now, now,
	)
	return mapError(err, "failed to save holiday")
}

// GetHoliday retrieves a holiday by ID.
func (c *conn) GetHoliday(ctx context.Context, id core.HolidayID) (*core.Holiday, error) {
	row := c.q.QueryRowContext(ctx, "SELECT "+holidayColumns+" FROM holidays WHERE id = ?", id)
	h, err := scanHoliday(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHolidays returns all holidays ordered by start date.
func (c *conn) ListHolidays(ctx context.Context) ([]core.Holiday, error) {
	rows, err := c.q.QueryContext(ctx, "SELECT "+holidayColumns+" FROM holidays ORDER BY start_date, id")
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var out []core.Holiday
	for rows.Next() {
		h, err := scanHoliday(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// DeleteHoliday removes a holiday definition. Generated records are left to
// the caller.
func (c *conn) DeleteHoliday(ctx context.Context, id core.HolidayID) error {
	res, err := c.q.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return affected(res, err, core.ErrHolidayNotFound)
}

func scanHoliday(sc scanner) (core.Holiday, error) {
	var (
		h                    core.Holiday
		start, end           string
		idsJSON              string
		createdAt, updatedAt string
	)
	err := sc.Scan(&h.ID, &h.Name, &h.Description, &start, &end, &h.Scope,
		&h.Department, &h.Designation, &idsJSON, &h.Active, &h.Government,
		&h.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return h, err
	}
	if h.Start, err = core.ParseDate(start); err != nil {
		return h, err
	}
	if h.End, err = core.ParseDate(end); err != nil {
		return h, err
	}
	if idsJSON != "" {
		if err := json.Unmarshal([]byte(idsJSON), &h.EmployeeIDs); err != nil {
			return h, fmt.Errorf("failed to decode holiday employees for %s: %w", h.ID, err)
		}
	}
	if len(h.EmployeeIDs) == 0 {
		h.EmployeeIDs = nil
	}
	h.CreatedAt = parseTime(createdAt)
	h.UpdatedAt = parseTime(updatedAt)
	return h, nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullDate(d *core.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) *core.Date {
	if !s.Valid || s.String == "" {
		return nil
	}
	d, err := core.ParseDate(s.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullDuration(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// mapError translates SQLite constraint failures into core errors.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &core.ConstraintViolationError{Constraint: constraintName(sqliteErr), Err: err}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func constraintName(err sqlite3.Error) string {
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		// "UNIQUE constraint failed: shift_policies.is_active"
		if _, cols, ok := strings.Cut(err.Error(), ": "); ok {
			return "unique(" + cols + ")"
		}
		return "unique"
	case sqlite3.ErrConstraintForeignKey:
		return "foreign_key"
	default:
		return "constraint"
	}
}

// affected converts "no rows touched" into the given not-found sentinel.
func affected(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

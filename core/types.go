/*
Package core provides the domain types and contracts of the attendance engine.

PURPOSE:
  Everything the other packages agree on lives here: identities, shift
  policies, attendance records, salary adjustments, holiday definitions,
  the storage contract, the event bus and the error taxonomy. The package
  has no I/O of its own.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: an identity with optional enrolled face vector
  - ShiftPolicy: working-hours rules, at most one active at a time
  - AttendanceRecord: one row per employee per calendar date
  - SalaryAdjustment: bonus or fine for an employee-month
  - Holiday: a scoped date range that expands into Holiday records

DESIGN PRINCIPLES:
  1. Snapshots: a record carries a frozen copy of the policy it was created
     under, so later policy edits never rewrite history
  2. Precision: money and hour thresholds use decimal.Decimal
  3. Type Safety: distinct ID types for employees, policies and records

SEE ALSO:
  - time.go: Date and TimeOfDay
  - store.go: persistence contract
  - errors.go: error taxonomy
*/
package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type PolicyID string
type RecordID string
type AdjustmentID string
type HolidayID string

// DefaultVectorDimension is the length of face vectors produced by the
// standard encoder.
const DefaultVectorDimension = 128

// =============================================================================
// EMPLOYEE - Identity with biometric enrollment
// =============================================================================

type Employee struct {
	ID            EntityID
	Name          string
	Email         string
	Department    string
	Designation   string
	MonthlySalary decimal.Decimal
	FaceVector    []float64
	Active        bool
	InactiveSince *Date
	HireDate      *Date
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasFaceVector reports whether the employee carries a usable vector of
// the given dimension. Vectors of any other length never participate in
// matching.
func (e Employee) HasFaceVector(dim int) bool {
	if len(e.FaceVector) != dim {
		return false
	}
	for _, v := range e.FaceVector {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// EmployedOn reports whether d falls inside the employee's working life:
// on or after the hire date and before the deactivation date.
func (e Employee) EmployedOn(d Date) bool {
	if e.HireDate != nil && d.Before(*e.HireDate) {
		return false
	}
	if e.InactiveSince != nil && !d.Before(*e.InactiveSince) {
		return false
	}
	return true
}

// Validate checks the fields an employee must have before it is stored.
func (e Employee) Validate() error {
	if strings.TrimSpace(string(e.ID)) == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if strings.TrimSpace(e.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if e.MonthlySalary.IsNegative() {
		return &ValidationError{Field: "monthly_salary", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// SHIFT POLICY
// =============================================================================

type ShiftPolicy struct {
	ID           PolicyID        `json:"id"`
	Name         string          `json:"name"`
	Start        TimeOfDay       `json:"start"`
	End          TimeOfDay       `json:"end"`
	PresentHours decimal.Decimal `json:"present_hours"`
	HalfDayHours decimal.Decimal `json:"half_day_hours"`
	GraceMinutes int             `json:"grace_minutes"`
	LateTracking bool            `json:"late_tracking"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"-"`
	UpdatedAt    time.Time       `json:"-"`
}

// Policy defaults for fields left empty at creation.
var (
	DefaultPresentHours = decimal.NewFromInt(8)
	DefaultHalfDayHours = decimal.NewFromInt(4)
)

// Grace returns the grace period as a duration.
func (p ShiftPolicy) Grace() time.Duration {
	return time.Duration(p.GraceMinutes) * time.Minute
}

// Snapshot returns a detached copy suitable for freezing on a record.
func (p ShiftPolicy) Snapshot() *ShiftPolicy {
	cp := p
	return &cp
}

func (p ShiftPolicy) Validate() error {
	if strings.TrimSpace(string(p.ID)) == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if p.PresentHours.IsNegative() {
		return &ValidationError{Field: "present_hours", Message: "must not be negative"}
	}
	if p.HalfDayHours.IsNegative() {
		return &ValidationError{Field: "half_day_hours", Message: "must not be negative"}
	}
	if p.GraceMinutes < 0 {
		return &ValidationError{Field: "grace_minutes", Message: "must not be negative"}
	}
	return nil
}

// =============================================================================
// ATTENDANCE RECORD
// =============================================================================

type Status string

const (
	StatusPresent    Status = "Present"
	StatusEarlyLeave Status = "Early Leave"
	StatusAbsent     Status = "Absent"
	StatusHalfDay    Status = "Half Day"
	StatusOnLeave    Status = "On Leave"
	StatusHoliday    Status = "Holiday"
	StatusPending    Status = "Pending"
	StatusOffDay     Status = "Off Day"
)

var allStatuses = []Status{
	StatusPresent, StatusEarlyLeave, StatusAbsent, StatusHalfDay,
	StatusOnLeave, StatusHoliday, StatusPending, StatusOffDay,
}

// Statuses returns every recognised status in display order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus accepts the display form of a status.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

// IsManual reports whether the status is set by an administrator and must
// survive recomputation.
func (s Status) IsManual() bool {
	return s == StatusOnLeave || s == StatusHoliday || s == StatusOffDay
}

// CountsForPayroll reports whether records with this status take part in
// the monthly late-day and bonus evaluation.
func (s Status) CountsForPayroll() bool {
	return s != StatusHoliday && s != StatusOffDay
}

type AttendanceRecord struct {
	ID           RecordID
	EmployeeID   EntityID
	Date         Date
	Policy       *ShiftPolicy // frozen at creation
	CheckIn      *time.Time
	CheckOut     *time.Time
	Status       Status
	LateDuration *time.Duration
	DeviceID     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsLate reports a strictly positive late duration.
func (r AttendanceRecord) IsLate() bool {
	return r.LateDuration != nil && *r.LateDuration > 0
}

// Clone returns a deep copy so callers can mutate pointer fields safely.
func (r AttendanceRecord) Clone() AttendanceRecord {
	cp := r
	if r.Policy != nil {
		cp.Policy = r.Policy.Snapshot()
	}
	if r.CheckIn != nil {
		t := *r.CheckIn
		cp.CheckIn = &t
	}
	if r.CheckOut != nil {
		t := *r.CheckOut
		cp.CheckOut = &t
	}
	if r.LateDuration != nil {
		d := *r.LateDuration
		cp.LateDuration = &d
	}
	return cp
}

// =============================================================================
// SALARY ADJUSTMENT
// =============================================================================

type AdjustmentKind string

const (
	AdjustmentBonus AdjustmentKind = "bonus"
	AdjustmentFine  AdjustmentKind = "fine"
)

type SalaryAdjustment struct {
	ID         AdjustmentID
	EmployeeID EntityID
	Kind       AdjustmentKind
	Amount     decimal.Decimal
	Reason     string
	Month      Date // first day of the month
	Automatic  bool
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AdjustmentKey identifies the single row allowed per employee, month,
// reason and kind.
type AdjustmentKey struct {
	EmployeeID EntityID
	Month      Date
	Reason     string
	Kind       AdjustmentKind
}

func (a SalaryAdjustment) Key() AdjustmentKey {
	return AdjustmentKey{EmployeeID: a.EmployeeID, Month: a.Month, Reason: a.Reason, Kind: a.Kind}
}

func (a SalaryAdjustment) Validate() error {
	if a.EmployeeID == "" {
		return &ValidationError{Field: "employee_id", Message: "is required"}
	}
	if a.Kind != AdjustmentBonus && a.Kind != AdjustmentFine {
		return &ValidationError{Field: "kind", Message: "must be bonus or fine"}
	}
	if a.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if strings.TrimSpace(a.Reason) == "" {
		return &ValidationError{Field: "reason", Message: "is required"}
	}
	if a.Month.Day() != 1 {
		return &ValidationError{Field: "month", Message: "must be the first day of a month"}
	}
	return nil
}

// =============================================================================
// HOLIDAY
// =============================================================================

type HolidayScope string

const (
	ScopeAll         HolidayScope = "all"
	ScopeDepartment  HolidayScope = "department"
	ScopeDesignation HolidayScope = "designation"
	ScopeCustom      HolidayScope = "custom"
)

type Holiday struct {
	ID          HolidayID
	Name        string
	Description string
	Start       Date
	End         Date // inclusive
	Scope       HolidayScope
	Department  string
	Designation string
	EmployeeIDs []EntityID
	Active      bool
	Government  bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Period returns the inclusive date range of the holiday.
func (h Holiday) Period() Period {
	return Period{Start: h.Start, End: h.End}
}

// Covers reports whether the employee falls under the holiday's scope.
func (h Holiday) Covers(e Employee) bool {
	switch h.Scope {
	case ScopeAll:
		return true
	case ScopeDepartment:
		return h.Department != "" && e.Department == h.Department
	case ScopeDesignation:
		return h.Designation != "" && e.Designation == h.Designation
	case ScopeCustom:
		for _, id := range h.EmployeeIDs {
			if id == e.ID {
				return true
			}
		}
	}
	return false
}

func (h Holiday) Validate() error {
	if strings.TrimSpace(h.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if h.End.Before(h.Start) {
		return ErrInvalidPeriod
	}
	switch h.Scope {
	case ScopeAll:
	case ScopeDepartment:
		if h.Department == "" {
			return &ValidationError{Field: "department", Message: "is required for department scope"}
		}
	case ScopeDesignation:
		if h.Designation == "" {
			return &ValidationError{Field: "designation", Message: "is required for designation scope"}
		}
	case ScopeCustom:
		if len(h.EmployeeIDs) == 0 {
			return &ValidationError{Field: "employee_ids", Message: "is required for custom scope"}
		}
	default:
		return &ValidationError{Field: "scope", Message: fmt.Sprintf("unknown scope %q", h.Scope)}
	}
	return nil
}

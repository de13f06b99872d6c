/*
store.go - Persistence contract for the attendance engine

PURPOSE:
  Defines the storage interfaces used by the ledger, the payroll adjuster,
  the holiday processor and the API. Two implementations exist:
  store/memory for tests and store/sqlite for production.

CONVENTIONS:
  - Get* methods return (nil, nil) when the row does not exist
  - Insert* fails with a ConstraintViolationError on a uniqueness clash
  - Update* and Delete* return the matching Err*NotFound when absent
  - WithTx runs fn atomically; any error rolls back every write

UNIQUENESS:
  attendance_records:  (employee_id, date)
  salary_adjustments:  (employee_id, month, reason, kind)
  shift_policies:      at most one row with active = true

SEE ALSO:
  - store/memory/memory.go: In-memory implementation
  - store/sqlite/sqlite.go: SQLite implementation
*/
package core

import "context"

// EmployeeFilter narrows ListEmployees. Zero values mean "any".
type EmployeeFilter struct {
	ActiveOnly  bool
	Department  string
	Designation string
	IDs         []EntityID
}

// Matches applies the filter to a single employee.
func (f EmployeeFilter) Matches(e Employee) bool {
	if f.ActiveOnly && !e.Active {
		return false
	}
	if f.Department != "" && e.Department != f.Department {
		return false
	}
	if f.Designation != "" && e.Designation != f.Designation {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == e.ID {
				return true
			}
		}
		return false
	}
	return true
}

// RecordFilter narrows ListRecords. Zero dates leave that bound open.
type RecordFilter struct {
	EmployeeID EntityID
	From       Date
	To         Date
	Status     Status
}

func (f RecordFilter) Matches(r AttendanceRecord) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if !f.From.IsZero() && r.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(f.To) {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// AdjustmentFilter narrows ListAdjustments. A zero Month matches all months.
type AdjustmentFilter struct {
	EmployeeID EntityID
	Month      Date
}

func (f AdjustmentFilter) Matches(a SalaryAdjustment) bool {
	if f.EmployeeID != "" && a.EmployeeID != f.EmployeeID {
		return false
	}
	if !f.Month.IsZero() && !a.Month.Equal(f.Month) {
		return false
	}
	return true
}

type EmployeeStore interface {
	SaveEmployee(ctx context.Context, e Employee) error
	GetEmployee(ctx context.Context, id EntityID) (*Employee, error)
	ListEmployees(ctx context.Context, f EmployeeFilter) ([]Employee, error)
	DeleteEmployee(ctx context.Context, id EntityID) error
}

type PolicyStore interface {
	// SavePolicy upserts by ID. Saving an active policy while another is
	// active is a constraint violation; use ClearActivePolicies first.
	SavePolicy(ctx context.Context, p ShiftPolicy) error
	GetPolicy(ctx context.Context, id PolicyID) (*ShiftPolicy, error)
	ListPolicies(ctx context.Context) ([]ShiftPolicy, error)
	DeletePolicy(ctx context.Context, id PolicyID) error
	ActivePolicy(ctx context.Context) (*ShiftPolicy, error)
	ClearActivePolicies(ctx context.Context) error
}

type RecordStore interface {
	GetRecord(ctx context.Context, employeeID EntityID, date Date) (*AttendanceRecord, error)
	GetRecordByID(ctx context.Context, id RecordID) (*AttendanceRecord, error)
	InsertRecord(ctx context.Context, r AttendanceRecord) error
	UpdateRecord(ctx context.Context, r AttendanceRecord) error
	DeleteRecord(ctx context.Context, id RecordID) error
	ListRecords(ctx context.Context, f RecordFilter) ([]AttendanceRecord, error)
}

type AdjustmentStore interface {
	GetAdjustment(ctx context.Context, key AdjustmentKey) (*SalaryAdjustment, error)
	InsertAdjustment(ctx context.Context, a SalaryAdjustment) error
	UpdateAdjustment(ctx context.Context, a SalaryAdjustment) error
	DeleteAdjustment(ctx context.Context, id AdjustmentID) error
	ListAdjustments(ctx context.Context, f AdjustmentFilter) ([]SalaryAdjustment, error)
}

type HolidayStore interface {
	SaveHoliday(ctx context.Context, h Holiday) error
	GetHoliday(ctx context.Context, id HolidayID) (*Holiday, error)
	ListHolidays(ctx context.Context) ([]Holiday, error)
	DeleteHoliday(ctx context.Context, id HolidayID) error
}

// Store is the full persistence surface.
type Store interface {
	EmployeeStore
	PolicyStore
	RecordStore
	AdjustmentStore
	HolidayStore
}

// TxStore adds atomic multi-write support.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(s Store) error) error
}

/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in core/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry validator/v10 struct tags; handlers call
  decodeJSON which decodes and validates in one step. Domain validation
  (core.*.Validate) still runs behind it.

SEE ALSO:
  - handlers.go: Uses these types
  - core/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/payroll"
)

const timestampLayout = time.RFC3339

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Department    string `json:"department,omitempty"`
	Designation   string `json:"designation,omitempty"`
	MonthlySalary string `json:"monthly_salary"`
	HasFace       bool   `json:"has_face"`
	Active        bool   `json:"active"`
	InactiveSince string `json:"inactive_since,omitempty"`
	HireDate      string `json:"hire_date,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

type CreateEmployeeRequest struct {
	ID            string    `json:"id" validate:"required"`
	Name          string    `json:"name" validate:"required"`
	Email         string    `json:"email" validate:"omitempty,email"`
	Department    string    `json:"department"`
	Designation   string    `json:"designation"`
	MonthlySalary string    `json:"monthly_salary" validate:"omitempty,numeric"`
	HireDate      string    `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
	FaceVector    []float64 `json:"face_vector"`
}

// UpdateEmployeeRequest replaces the editable profile fields.
type UpdateEmployeeRequest struct {
	Name          string `json:"name" validate:"required"`
	Email         string `json:"email" validate:"omitempty,email"`
	Department    string `json:"department"`
	Designation   string `json:"designation"`
	MonthlySalary string `json:"monthly_salary" validate:"omitempty,numeric"`
	HireDate      string `json:"hire_date" validate:"omitempty,datetime=2006-01-02"`
}

type DeactivateEmployeeRequest struct {
	InactiveSince string `json:"inactive_since" validate:"omitempty,datetime=2006-01-02"`
}

type EnrollFaceRequest struct {
	FaceVector []float64 `json:"face_vector" validate:"required,min=1"`
}

func toEmployeeDTO(e core.Employee, dim int) EmployeeDTO {
	dto := EmployeeDTO{
		ID:            string(e.ID),
		Name:          e.Name,
		Email:         e.Email,
		Department:    e.Department,
		Designation:   e.Designation,
		MonthlySalary: e.MonthlySalary.StringFixed(2),
		HasFace:       e.HasFaceVector(dim),
		Active:        e.Active,
	}
	if e.InactiveSince != nil {
		dto.InactiveSince = e.InactiveSince.String()
	}
	if e.HireDate != nil {
		dto.HireDate = e.HireDate.String()
	}
	if !e.CreatedAt.IsZero() {
		dto.CreatedAt = e.CreatedAt.Format(timestampLayout)
	}
	return dto
}

// =============================================================================
// SHIFT POLICIES
// =============================================================================

type PolicyDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Start        string `json:"start"`
	End          string `json:"end"`
	PresentHours string `json:"present_hours"`
	HalfDayHours string `json:"half_day_hours"`
	GraceMinutes int    `json:"grace_minutes"`
	LateTracking bool   `json:"late_tracking"`
	Active       bool   `json:"active"`
}

type PolicyRequest struct {
	Name         string `json:"name" validate:"required"`
	Start        string `json:"start" validate:"required"`
	End          string `json:"end" validate:"required"`
	PresentHours string `json:"present_hours" validate:"omitempty,numeric"`
	HalfDayHours string `json:"half_day_hours" validate:"omitempty,numeric"`
	GraceMinutes int    `json:"grace_minutes" validate:"gte=0"`
	LateTracking *bool  `json:"late_tracking"`
	Active       bool   `json:"active"`
}

func toPolicyDTO(p core.ShiftPolicy) PolicyDTO {
	return PolicyDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		Start:        p.Start.String(),
		End:          p.End.String(),
		PresentHours: p.PresentHours.String(),
		HalfDayHours: p.HalfDayHours.String(),
		GraceMinutes: p.GraceMinutes,
		LateTracking: p.LateTracking,
		Active:       p.Active,
	}
}

// =============================================================================
// ATTENDANCE
// =============================================================================

type FaceAttendanceResponse struct {
	Status           string   `json:"status"`
	IdentityID       string   `json:"identity_id,omitempty"`
	IdentityName     string   `json:"identity_name,omitempty"`
	CheckType        string   `json:"check_type,omitempty"`
	Message          string   `json:"message"`
	MinutesRemaining *int     `json:"minutes_remaining,omitempty"`
	Distance         *float64 `json:"distance,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
}

type AttendanceDTO struct {
	ID           string            `json:"id"`
	EmployeeID   string            `json:"employee_id"`
	Date         string            `json:"date"`
	CheckIn      string            `json:"check_in,omitempty"`
	CheckOut     string            `json:"check_out,omitempty"`
	Status       string            `json:"status"`
	Late         bool              `json:"late"`
	LateDuration string            `json:"late_duration,omitempty"`
	LateSeconds  *int64            `json:"late_seconds,omitempty"`
	DeviceID     string            `json:"device_id,omitempty"`
	Policy       *core.ShiftPolicy `json:"policy,omitempty"`
}

// AttendanceRequest creates or edits a record. Check-in and check-out
// accept RFC3339 timestamps or a time of day ("09:15" / "09:15:30") on
// Date in the business location.
type AttendanceRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	Status     string `json:"status"`
	DeviceID   string `json:"device_id"`
	PolicyID   string `json:"policy_id"`
}

func toAttendanceDTO(r core.AttendanceRecord, loc *time.Location) AttendanceDTO {
	dto := AttendanceDTO{
		ID:         string(r.ID),
		EmployeeID: string(r.EmployeeID),
		Date:       r.Date.String(),
		Status:     string(r.Status),
		Late:       r.IsLate(),
		DeviceID:   r.DeviceID,
		Policy:     r.Policy,
	}
	if r.CheckIn != nil {
		dto.CheckIn = r.CheckIn.In(loc).Format(timestampLayout)
	}
	if r.CheckOut != nil {
		dto.CheckOut = r.CheckOut.In(loc).Format(timestampLayout)
	}
	if r.LateDuration != nil {
		secs := int64(*r.LateDuration / time.Second)
		dto.LateSeconds = &secs
		if *r.LateDuration > 0 {
			dto.LateDuration = attendance.FormatLate(*r.LateDuration)
		}
	}
	return dto
}

type SheetRowDTO struct {
	Employee EmployeeDTO            `json:"employee"`
	Cells    []attendance.SheetCell `json:"cells"`
	Totals   map[core.Status]int    `json:"totals"`
	Late     int                    `json:"late"`
}

type SheetDTO struct {
	Year  int           `json:"year"`
	Month int           `json:"month"`
	Days  []core.Date   `json:"days"`
	Rows  []SheetRowDTO `json:"rows"`
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type HolidayDTO struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Scope       string   `json:"scope"`
	Department  string   `json:"department,omitempty"`
	Designation string   `json:"designation,omitempty"`
	EmployeeIDs []string `json:"employee_ids,omitempty"`
	Active      bool     `json:"active"`
	Government  bool     `json:"government"`
	CreatedBy   string   `json:"created_by,omitempty"`
}

type HolidayRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Start       string   `json:"start" validate:"required,datetime=2006-01-02"`
	End         string   `json:"end" validate:"omitempty,datetime=2006-01-02"`
	Scope       string   `json:"scope" validate:"omitempty,oneof=all department designation custom"`
	Department  string   `json:"department"`
	Designation string   `json:"designation"`
	EmployeeIDs []string `json:"employee_ids"`
	Active      *bool    `json:"active"`
	Government  bool     `json:"government"`
	CreatedBy   string   `json:"created_by"`
}

type HolidayResponse struct {
	Holiday   HolidayDTO `json:"holiday"`
	Employees int        `json:"employees"`
	Created   int        `json:"created"`
	Removed   int        `json:"removed"`
}

func toHolidayDTO(h core.Holiday) HolidayDTO {
	dto := HolidayDTO{
		ID:          string(h.ID),
		Name:        h.Name,
		Description: h.Description,
		Start:       h.Start.String(),
		End:         h.End.String(),
		Scope:       string(h.Scope),
		Department:  h.Department,
		Designation: h.Designation,
		Active:      h.Active,
		Government:  h.Government,
		CreatedBy:   h.CreatedBy,
	}
	for _, id := range h.EmployeeIDs {
		dto.EmployeeIDs = append(dto.EmployeeIDs, string(id))
	}
	return dto
}

// =============================================================================
// PAYROLL
// =============================================================================

type RecomputeRequest struct {
	Year       int    `json:"year" validate:"required,gte=2000,lte=2100"`
	Month      int    `json:"month" validate:"required,gte=1,lte=12"`
	EmployeeID string `json:"employee_id"`
}

type RecomputeResponse struct {
	Count int `json:"count"`
}

type AdjustmentDTO struct {
	ID         string `json:"id"`
	EmployeeID string `json:"employee_id"`
	Kind       string `json:"kind"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason"`
	Month      string `json:"month"`
	Automatic  bool   `json:"automatic"`
	Comment    string `json:"comment,omitempty"`
}

type AdjustmentRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	Kind       string `json:"kind" validate:"required,oneof=bonus fine"`
	Amount     string `json:"amount" validate:"required,numeric"`
	Reason     string `json:"reason" validate:"required"`
	Month      string `json:"month" validate:"required,datetime=2006-01"`
	Comment    string `json:"comment"`
}

func toAdjustmentDTO(a core.SalaryAdjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:         string(a.ID),
		EmployeeID: string(a.EmployeeID),
		Kind:       string(a.Kind),
		Amount:     a.Amount.StringFixed(2),
		Reason:     a.Reason,
		Month:      a.Month.Format("2006-01"),
		Automatic:  a.Automatic,
		Comment:    a.Comment,
	}
}

type SummaryDTO struct {
	EmployeeID    string          `json:"employee_id"`
	Month         string          `json:"month"`
	BaseSalary    string          `json:"base_salary"`
	TotalBonus    string          `json:"total_bonus"`
	TotalFine     string          `json:"total_fine"`
	NetAdjustment string          `json:"net_adjustment"`
	NetSalary     string          `json:"net_salary"`
	LateDays      int             `json:"late_days"`
	WorkingDays   int             `json:"working_days"`
	Adjustments   []AdjustmentDTO `json:"adjustments"`
}

func toSummaryDTO(s payroll.Summary) SummaryDTO {
	dto := SummaryDTO{
		EmployeeID:    string(s.EmployeeID),
		Month:         s.Month.Format("2006-01"),
		BaseSalary:    s.BaseSalary.StringFixed(2),
		TotalBonus:    s.TotalBonus.StringFixed(2),
		TotalFine:     s.TotalFine.StringFixed(2),
		NetAdjustment: s.NetAdjustment.StringFixed(2),
		NetSalary:     s.NetSalary.StringFixed(2),
		LateDays:      s.LateDays,
		WorkingDays:   s.WorkingDays,
		Adjustments:   make([]AdjustmentDTO, 0, len(s.Adjustments)),
	}
	for _, a := range s.Adjustments {
		dto.Adjustments = append(dto.Adjustments, toAdjustmentDTO(a))
	}
	return dto
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

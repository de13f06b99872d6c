/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance engine via REST API. Handles HTTP request and
  response, JSON serialization, and delegates to the domain packages.

ENDPOINTS:
  Capture:
    POST   /api/face-attendance               Recognise a face and record IN/OUT

  Employees:
    GET    /api/employees                     List employees
    POST   /api/employees                     Create employee
    GET    /api/employees/{id}                Get employee
    PUT    /api/employees/{id}                Update profile
    DELETE /api/employees/{id}                Delete employee and its history
    POST   /api/employees/{id}/activate       Reactivate
    POST   /api/employees/{id}/deactivate     Deactivate (stamps inactive_since)
    POST   /api/employees/{id}/face           Enroll a face vector
    POST   /api/employees/{id}/face/image     Enroll from an uploaded image
    DELETE /api/employees/{id}/face           Remove the face vector

  Shifts:
    GET/POST /api/shifts, GET/PUT/DELETE /api/shifts/{id}
    GET    /api/shifts/active
    POST   /api/shifts/{id}/activate | deactivate

  Attendance:
    GET    /api/attendance                    List records
    POST   /api/attendance                    Manual create or edit by employee+date
    PUT    /api/attendance/{id}               Manual edit
    DELETE /api/attendance/{id}               Delete record
    GET    /api/attendance/sheet              Monthly sheet

  Holidays:
    GET/POST /api/holidays, GET/PUT/DELETE /api/holidays/{id}
    POST   /api/holidays/{id}/activate | deactivate

  Payroll:
    POST   /api/payroll/recompute             Reconcile automatic adjustments
    GET    /api/payroll/summary               Salary summary for a month
    GET    /api/adjustments                   List adjustments
    POST   /api/adjustments                   Create a manual adjustment
    DELETE /api/adjustments/{id}              Delete a manual adjustment

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, no face detected
  - 404: Resource not found, face not recognized
  - 409: Constraint violation, lock contention
  - 503: Face encoder not configured
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/biometric"
	"github.com/warp/attendance-engine/capture"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/payroll"
)

// maxUploadBytes bounds multipart image uploads.
const maxUploadBytes = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services are the domain components the handlers delegate to. Encoder and
// Capture may be nil when no face encoder is configured.
type Services struct {
	Store     core.Store
	Policies  *attendance.PolicyRegistry
	Ledger    *attendance.Ledger
	Holidays  *attendance.HolidayProcessor
	Matcher   *biometric.Matcher
	Encoder   biometric.Encoder
	Capture   *capture.Service
	Adjuster  *payroll.Adjuster
	WeeklyOff time.Weekday
	Logger    logrus.FieldLogger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Services
	validate *validator.Validate
}

func NewHandler(s Services) *Handler {
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Services: s, validate: v}
}

// =============================================================================
// FACE ATTENDANCE
// =============================================================================

// FaceAttendance recognises the uploaded face and records the next event.
func (h *Handler) FaceAttendance(w http.ResponseWriter, r *http.Request) {
	if h.Capture == nil {
		writeError(w, http.StatusServiceUnavailable, "Face encoder not configured", nil)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "No image provided.", err)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image provided.", err)
		return
	}
	defer file.Close()

	res, err := h.Capture.Process(r.Context(), capture.Request{
		Image:    file,
		DeviceID: r.FormValue("device_id"),
	})
	switch {
	case errors.Is(err, core.ErrNoFaceDetected):
		writeError(w, http.StatusBadRequest, "No face detected.", nil)
		return
	case errors.Is(err, core.ErrNoEnrollments):
		writeError(w, http.StatusInternalServerError, "No employees with registered face encodings.", nil)
		return
	case errors.Is(err, core.ErrNotRecognized):
		writeJSON(w, http.StatusNotFound, FaceAttendanceResponse{Status: "unknown", Message: "Face not recognized."})
		return
	case err != nil:
		h.writeDomainError(w, "Failed to record attendance", err)
		return
	}

	resp := FaceAttendanceResponse{
		Status:       "ok",
		IdentityID:   string(res.EmployeeID),
		IdentityName: res.EmployeeName,
		CheckType:    res.CheckType,
		Message:      res.Message,
	}
	if res.CheckType == capture.OutcomeCooldown {
		m := res.MinutesRemaining
		resp.MinutesRemaining = &m
	}
	if res.Match != nil {
		resp.Distance = &res.Match.Distance
		resp.Confidence = &res.Match.Confidence
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees supports ?active=true, ?department= and ?designation=.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	employees, err := h.Store.ListEmployees(r.Context(), core.EmployeeFilter{
		ActiveOnly:  q.Get("active") == "true",
		Department:  q.Get("department"),
		Designation: q.Get("designation"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e, h.Matcher.Dimension())
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp, h.Matcher.Dimension()))
}

func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	existing, err := h.Store.GetEmployee(r.Context(), core.EntityID(req.ID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Employee already exists", nil)
		return
	}

	emp := core.Employee{ID: core.EntityID(req.ID), Active: true}
	if err := applyProfile(&emp, req.Name, req.Email, req.Department, req.Designation, req.MonthlySalary, req.HireDate); err != nil {
		h.writeDomainError(w, "Invalid employee", err)
		return
	}
	if len(req.FaceVector) > 0 {
		if err := biometric.Validate(req.FaceVector, h.Matcher.Dimension()); err != nil {
			h.writeDomainError(w, "Invalid face vector", err)
			return
		}
		emp.FaceVector = req.FaceVector
	}
	if err := emp.Validate(); err != nil {
		h.writeDomainError(w, "Invalid employee", err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeDomainError(w, "Failed to create employee", err)
		return
	}
	h.Matcher.Invalidate()

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp, h.Matcher.Dimension()))
}

func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	var req UpdateEmployeeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if err := applyProfile(emp, req.Name, req.Email, req.Department, req.Designation, req.MonthlySalary, req.HireDate); err != nil {
		h.writeDomainError(w, "Invalid employee", err)
		return
	}
	if err := emp.Validate(); err != nil {
		h.writeDomainError(w, "Invalid employee", err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), *emp); err != nil {
		h.writeDomainError(w, "Failed to update employee", err)
		return
	}
	h.Matcher.Invalidate()
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp, h.Matcher.Dimension()))
}

func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id := core.EntityID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteEmployee(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete employee", err)
		return
	}
	h.Matcher.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// ActivateEmployee clears InactiveSince.
func (h *Handler) ActivateEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	emp.Active = true
	emp.InactiveSince = nil
	h.saveLifecycle(w, r, emp)
}

// DeactivateEmployee stamps InactiveSince with today in the business
// location unless the body or the record already carries a date.
func (h *Handler) DeactivateEmployee(w http.ResponseWriter, r *http.Request) {
	emp, ok := h.loadEmployee(w, r)
	if !ok {
		return
	}
	var req DeactivateEmployeeRequest
	if r.ContentLength > 0 && !h.decodeJSON(w, r, &req) {
		return
	}
	emp.Active = false
	switch {
	case req.InactiveSince != "":
		d, err := core.ParseDate(req.InactiveSince)
		if err != nil {
			h.writeDomainError(w, "Invalid inactive_since", err)
			return
		}
		emp.InactiveSince = &d
	case emp.InactiveSince == nil:
		today := h.Ledger.Today()
		emp.InactiveSince = &today
	}
	h.saveLifecycle(w, r, emp)
}

func (h *Handler) saveLifecycle(w http.ResponseWriter, r *http.Request, emp *core.Employee) {
	if err := h.Store.SaveEmployee(r.Context(), *emp); err != nil {
		h.writeDomainError(w, "Failed to update employee", err)
		return
	}
	h.Matcher.Invalidate()
	h.Logger.WithFields(logrus.Fields{
		"module":      "api",
		"employee_id": emp.ID,
		"active":      emp.Active,
	}).Info("employee lifecycle changed")
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp, h.Matcher.Dimension()))
}

func (h *Handler) EnrollFace(w http.ResponseWriter, r *http.Request) {
	id := core.EntityID(chi.URLParam(r, "id"))
	var req EnrollFaceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	h.enroll(w, r, id, req.FaceVector)
}

// EnrollFaceImage encodes the uploaded image and enrolls the first face.
func (h *Handler) EnrollFaceImage(w http.ResponseWriter, r *http.Request) {
	if h.Encoder == nil {
		writeError(w, http.StatusServiceUnavailable, "Face encoder not configured", nil)
		return
	}
	id := core.EntityID(chi.URLParam(r, "id"))
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "No image provided.", err)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image provided.", err)
		return
	}
	defer file.Close()

	img, err := biometric.DecodeImage(file)
	if err != nil {
		h.writeDomainError(w, "Invalid image", err)
		return
	}
	vec, err := biometric.FirstFace(r.Context(), h.Encoder, img)
	if err != nil {
		if errors.Is(err, core.ErrNoFaceDetected) {
			writeError(w, http.StatusBadRequest, "No face detected.", nil)
			return
		}
		h.writeDomainError(w, "Failed to encode face", err)
		return
	}
	h.enroll(w, r, id, vec)
}

func (h *Handler) enroll(w http.ResponseWriter, r *http.Request, id core.EntityID, vec []float64) {
	if err := h.Matcher.Enroll(r.Context(), id, vec); err != nil {
		h.writeDomainError(w, "Failed to enroll face", err)
		return
	}
	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil || emp == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp, h.Matcher.Dimension()))
}

func (h *Handler) UnenrollFace(w http.ResponseWriter, r *http.Request) {
	id := core.EntityID(chi.URLParam(r, "id"))
	if err := h.Matcher.Unenroll(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to remove face", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loadEmployee(w http.ResponseWriter, r *http.Request) (*core.Employee, bool) {
	id := core.EntityID(chi.URLParam(r, "id"))
	emp, err := h.Store.GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return nil, false
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return nil, false
	}
	return emp, true
}

func applyProfile(e *core.Employee, name, email, department, designation, salary, hireDate string) error {
	e.Name = name
	e.Email = email
	e.Department = department
	e.Designation = designation
	e.MonthlySalary = decimal.Zero
	if salary != "" {
		d, err := decimal.NewFromString(salary)
		if err != nil {
			return &core.ValidationError{Field: "monthly_salary", Message: "must be a number"}
		}
		e.MonthlySalary = d
	}
	e.HireDate = nil
	if hireDate != "" {
		d, err := core.ParseDate(hireDate)
		if err != nil {
			return &core.ValidationError{Field: "hire_date", Message: "must be YYYY-MM-DD"}
		}
		e.HireDate = &d
	}
	return nil
}

// =============================================================================
// SHIFT POLICY HANDLERS
// =============================================================================

func (h *Handler) ListShifts(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Policies.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list shifts", err)
		return
	}
	dtos := make([]PolicyDTO, len(policies))
	for i, p := range policies {
		dtos[i] = toPolicyDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetShift(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Get(r.Context(), core.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get shift", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

// GetActiveShift returns 404 when no shift is active.
func (h *Handler) GetActiveShift(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.CurrentActive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get active shift", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "No active shift", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) CreateShift(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	p := core.ShiftPolicy{ID: core.NewPolicyID()}
	h.saveShift(w, r, p, req, http.StatusCreated)
}

func (h *Handler) UpdateShift(w http.ResponseWriter, r *http.Request) {
	existing, err := h.Policies.Get(r.Context(), core.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get shift", err)
		return
	}
	var req PolicyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	h.saveShift(w, r, *existing, req, http.StatusOK)
}

func (h *Handler) saveShift(w http.ResponseWriter, r *http.Request, p core.ShiftPolicy, req PolicyRequest, status int) {
	if err := applyPolicyRequest(&p, req); err != nil {
		h.writeDomainError(w, "Invalid shift", err)
		return
	}
	saved, err := h.Policies.Save(r.Context(), p)
	if err != nil {
		h.writeDomainError(w, "Failed to save shift", err)
		return
	}
	writeJSON(w, status, toPolicyDTO(*saved))
}

func (h *Handler) DeleteShift(w http.ResponseWriter, r *http.Request) {
	if err := h.Policies.Delete(r.Context(), core.PolicyID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, "Failed to delete shift", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateShift makes the shift the single active one.
func (h *Handler) ActivateShift(w http.ResponseWriter, r *http.Request) {
	p, err := h.Policies.Activate(r.Context(), core.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to activate shift", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) DeactivateShift(w http.ResponseWriter, r *http.Request) {
	id := core.PolicyID(chi.URLParam(r, "id"))
	if err := h.Policies.Deactivate(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to deactivate shift", err)
		return
	}
	p, err := h.Policies.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get shift", err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

func applyPolicyRequest(p *core.ShiftPolicy, req PolicyRequest) error {
	start, err := core.ParseTimeOfDay(req.Start)
	if err != nil {
		return &core.ValidationError{Field: "start", Message: "must be HH:MM or HH:MM:SS"}
	}
	end, err := core.ParseTimeOfDay(req.End)
	if err != nil {
		return &core.ValidationError{Field: "end", Message: "must be HH:MM or HH:MM:SS"}
	}
	p.Name = req.Name
	p.Start, p.End = start, end
	p.GraceMinutes = req.GraceMinutes
	p.Active = req.Active
	p.LateTracking = req.LateTracking == nil || *req.LateTracking

	p.PresentHours = core.DefaultPresentHours
	if req.PresentHours != "" {
		if p.PresentHours, err = decimal.NewFromString(req.PresentHours); err != nil {
			return &core.ValidationError{Field: "present_hours", Message: "must be a number"}
		}
	}
	p.HalfDayHours = core.DefaultHalfDayHours
	if req.HalfDayHours != "" {
		if p.HalfDayHours, err = decimal.NewFromString(req.HalfDayHours); err != nil {
			return &core.ValidationError{Field: "half_day_hours", Message: "must be a number"}
		}
	}
	return nil
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// ListAttendance supports ?employee_id=, ?from=, ?to= and ?status=.
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.RecordFilter{EmployeeID: core.EntityID(q.Get("employee_id"))}
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = core.ParseDate(v); err != nil {
			h.writeDomainError(w, "Invalid from", err)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = core.ParseDate(v); err != nil {
			h.writeDomainError(w, "Invalid to", err)
			return
		}
	}
	if v := q.Get("status"); v != "" {
		if f.Status, err = core.ParseStatus(v); err != nil {
			h.writeDomainError(w, "Invalid status", err)
			return
		}
	}

	records, err := h.Store.ListRecords(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attendance", err)
		return
	}
	loc := h.Ledger.Location()
	dtos := make([]AttendanceDTO, len(records))
	for i, rec := range records {
		dtos[i] = toAttendanceDTO(rec, loc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveAttendance creates the record for employee+date or edits it.
func (h *Handler) SaveAttendance(w http.ResponseWriter, r *http.Request) {
	var req AttendanceRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		h.writeDomainError(w, "Invalid date", err)
		return
	}
	in, err := h.saveInput(r, req, date)
	if err != nil {
		h.writeDomainError(w, "Invalid attendance", err)
		return
	}
	in.EmployeeID = core.EntityID(req.EmployeeID)
	in.Date = date
	h.saveRecord(w, r, in)
}

// UpdateAttendance edits a record by ID. Employee and date are fixed.
func (h *Handler) UpdateAttendance(w http.ResponseWriter, r *http.Request) {
	id := core.RecordID(chi.URLParam(r, "id"))
	existing, err := h.Store.GetRecordByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get attendance", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Attendance record not found", nil)
		return
	}

	var req AttendanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EmployeeID != "" && core.EntityID(req.EmployeeID) != existing.EmployeeID {
		h.writeDomainError(w, "Invalid attendance", &core.ValidationError{Field: "employee_id", Message: "cannot be changed on an existing record"})
		return
	}
	in, err := h.saveInput(r, req, existing.Date)
	if err != nil {
		h.writeDomainError(w, "Invalid attendance", err)
		return
	}
	in.ID = id
	h.saveRecord(w, r, in)
}

func (h *Handler) saveInput(r *http.Request, req AttendanceRequest, date core.Date) (attendance.SaveInput, error) {
	loc := h.Ledger.Location()
	in := attendance.SaveInput{DeviceID: req.DeviceID}
	var err error
	if in.CheckIn, err = parseClock(req.CheckIn, date, loc); err != nil {
		return in, &core.ValidationError{Field: "check_in", Message: err.Error()}
	}
	if in.CheckOut, err = parseClock(req.CheckOut, date, loc); err != nil {
		return in, &core.ValidationError{Field: "check_out", Message: err.Error()}
	}
	if req.Status != "" {
		if in.Status, err = core.ParseStatus(req.Status); err != nil {
			return in, err
		}
	}
	if req.PolicyID != "" {
		p, err := h.Policies.Get(r.Context(), core.PolicyID(req.PolicyID))
		if err != nil {
			return in, err
		}
		in.Policy = p.Snapshot()
	}
	return in, nil
}

func (h *Handler) saveRecord(w http.ResponseWriter, r *http.Request, in attendance.SaveInput) {
	rec, err := h.Ledger.Save(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Failed to save attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceDTO(*rec, h.Ledger.Location()))
}

func (h *Handler) DeleteAttendance(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Delete(r.Context(), core.RecordID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, "Failed to delete attendance", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSheet returns the monthly grid. ?month=YYYY-MM defaults to the current
// month in the business location.
func (h *Handler) GetSheet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := h.Ledger.Today()
	month := today.MonthStart()
	if v := q.Get("month"); v != "" {
		m, err := parseMonth(v)
		if err != nil {
			h.writeDomainError(w, "Invalid month", err)
			return
		}
		month = m
	}

	sheet, err := attendance.BuildSheet(r.Context(), h.Store, attendance.SheetOptions{
		Year:        month.Year(),
		Month:       month.Month(),
		Department:  q.Get("department"),
		Designation: q.Get("designation"),
		WeeklyOff:   h.WeeklyOff,
		Today:       today,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to build sheet", err)
		return
	}

	dto := SheetDTO{Year: sheet.Year, Month: int(sheet.Month), Days: sheet.Days, Rows: make([]SheetRowDTO, len(sheet.Rows))}
	for i, row := range sheet.Rows {
		dto.Rows[i] = SheetRowDTO{
			Employee: toEmployeeDTO(row.Employee, h.Matcher.Dimension()),
			Cells:    row.Cells,
			Totals:   row.Totals,
			Late:     row.Late,
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HOLIDAY HANDLERS
// =============================================================================

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list holidays", err)
		return
	}
	dtos := make([]HolidayDTO, len(holidays))
	for i, hol := range holidays {
		dtos[i] = toHolidayDTO(hol)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetHoliday(w http.ResponseWriter, r *http.Request) {
	hol, err := h.Store.GetHoliday(r.Context(), core.HolidayID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holiday", err)
		return
	}
	if hol == nil {
		writeError(w, http.StatusNotFound, "Holiday not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toHolidayDTO(*hol))
}

// CreateHoliday stores the definition and expands it into Holiday records.
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	hol, err := holidayFromRequest(req)
	if err != nil {
		h.writeDomainError(w, "Invalid holiday", err)
		return
	}
	h.applyHoliday(w, r, hol, http.StatusCreated)
}

func (h *Handler) UpdateHoliday(w http.ResponseWriter, r *http.Request) {
	id := core.HolidayID(chi.URLParam(r, "id"))
	existing, err := h.Store.GetHoliday(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holiday", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Holiday not found", nil)
		return
	}
	var req HolidayRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	hol, err := holidayFromRequest(req)
	if err != nil {
		h.writeDomainError(w, "Invalid holiday", err)
		return
	}
	hol.ID = id
	hol.CreatedAt = existing.CreatedAt
	h.applyHoliday(w, r, hol, http.StatusOK)
}

func (h *Handler) applyHoliday(w http.ResponseWriter, r *http.Request, hol core.Holiday, status int) {
	saved, res, err := h.Holidays.Apply(r.Context(), hol)
	if err != nil {
		h.writeDomainError(w, "Failed to save holiday", err)
		return
	}
	writeJSON(w, status, HolidayResponse{
		Holiday:   toHolidayDTO(*saved),
		Employees: res.Employees,
		Created:   res.Created,
		Removed:   res.Removed,
	})
}

func (h *Handler) ActivateHoliday(w http.ResponseWriter, r *http.Request) {
	h.setHolidayActive(w, r, true)
}

func (h *Handler) DeactivateHoliday(w http.ResponseWriter, r *http.Request) {
	h.setHolidayActive(w, r, false)
}

func (h *Handler) setHolidayActive(w http.ResponseWriter, r *http.Request, active bool) {
	saved, res, err := h.Holidays.SetActive(r.Context(), core.HolidayID(chi.URLParam(r, "id")), active)
	if err != nil {
		h.writeDomainError(w, "Failed to update holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, HolidayResponse{
		Holiday:   toHolidayDTO(*saved),
		Employees: res.Employees,
		Created:   res.Created,
		Removed:   res.Removed,
	})
}

// DeleteHoliday retracts its Holiday records before deleting it.
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	res, err := h.Holidays.Remove(r.Context(), core.HolidayID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": res.Removed})
}

func holidayFromRequest(req HolidayRequest) (core.Holiday, error) {
	start, err := core.ParseDate(req.Start)
	if err != nil {
		return core.Holiday{}, &core.ValidationError{Field: "start", Message: "must be YYYY-MM-DD"}
	}
	end := start
	if req.End != "" {
		if end, err = core.ParseDate(req.End); err != nil {
			return core.Holiday{}, &core.ValidationError{Field: "end", Message: "must be YYYY-MM-DD"}
		}
	}
	scope := core.ScopeAll
	if req.Scope != "" {
		scope = core.HolidayScope(req.Scope)
	}
	hol := core.Holiday{
		Name:        req.Name,
		Description: req.Description,
		Start:       start,
		End:         end,
		Scope:       scope,
		Department:  req.Department,
		Designation: req.Designation,
		Active:      req.Active == nil || *req.Active,
		Government:  req.Government,
		CreatedBy:   req.CreatedBy,
	}
	for _, id := range req.EmployeeIDs {
		hol.EmployeeIDs = append(hol.EmployeeIDs, core.EntityID(id))
	}
	return hol, hol.Validate()
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// RecomputePayroll reconciles automatic adjustments for a month, for one
// employee when employee_id is given. Count is the number of mutations.
func (h *Handler) RecomputePayroll(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	if req.EmployeeID != "" {
		out, err := h.Adjuster.Recompute(r.Context(), core.EntityID(req.EmployeeID), core.NewDate(req.Year, time.Month(req.Month), 1))
		if err != nil {
			h.writeDomainError(w, "Failed to recompute payroll", err)
			return
		}
		writeJSON(w, http.StatusOK, RecomputeResponse{Count: out.Mutations()})
		return
	}

	count, err := h.Adjuster.RecomputeMonth(r.Context(), req.Year, time.Month(req.Month))
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"module": "api",
			"year":   req.Year,
			"month":  req.Month,
		}).WithError(err).Error("payroll recompute finished with errors")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Recompute finished with errors after %d change(s)", count), err)
		return
	}
	writeJSON(w, http.StatusOK, RecomputeResponse{Count: count})
}

// GetSummary requires ?employee_id= and accepts ?month=YYYY-MM.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("employee_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "employee_id is required", nil)
		return
	}
	month := h.Ledger.Today().MonthStart()
	if v := q.Get("month"); v != "" {
		m, err := parseMonth(v)
		if err != nil {
			h.writeDomainError(w, "Invalid month", err)
			return
		}
		month = m
	}

	s, err := payroll.Summarize(r.Context(), h.Store, core.EntityID(id), month)
	if err != nil {
		h.writeDomainError(w, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(*s))
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.AdjustmentFilter{EmployeeID: core.EntityID(q.Get("employee_id"))}
	if v := q.Get("month"); v != "" {
		m, err := parseMonth(v)
		if err != nil {
			h.writeDomainError(w, "Invalid month", err)
			return
		}
		f.Month = m
	}
	adjustments, err := h.Store.ListAdjustments(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list adjustments", err)
		return
	}
	dtos := make([]AdjustmentDTO, len(adjustments))
	for i, a := range adjustments {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment stores a manual (non-automatic) adjustment.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	month, err := parseMonth(req.Month)
	if err != nil {
		h.writeDomainError(w, "Invalid month", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.writeDomainError(w, "Invalid amount", &core.ValidationError{Field: "amount", Message: "must be a number"})
		return
	}

	emp, err := h.Store.GetEmployee(r.Context(), core.EntityID(req.EmployeeID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}

	now := time.Now()
	a := core.SalaryAdjustment{
		ID:         core.NewAdjustmentID(),
		EmployeeID: emp.ID,
		Kind:       core.AdjustmentKind(req.Kind),
		Amount:     amount.Round(2),
		Reason:     req.Reason,
		Month:      month,
		Comment:    req.Comment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.Validate(); err != nil {
		h.writeDomainError(w, "Invalid adjustment", err)
		return
	}
	if err := h.Store.InsertAdjustment(r.Context(), a); err != nil {
		h.writeDomainError(w, "Failed to create adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(a))
}

// DeleteAdjustment removes a manual adjustment. Automatic rows belong to
// the payroll adjuster and are rejected.
func (h *Handler) DeleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id := core.AdjustmentID(chi.URLParam(r, "id"))
	all, err := h.Store.ListAdjustments(r.Context(), core.AdjustmentFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list adjustments", err)
		return
	}
	for _, a := range all {
		if a.ID != id {
			continue
		}
		if a.Automatic {
			writeError(w, http.StatusConflict, "Automatic adjustments are managed by payroll recompute", nil)
			return
		}
		if err := h.Store.DeleteAdjustment(r.Context(), id); err != nil {
			h.writeDomainError(w, "Failed to delete adjustment", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeError(w, http.StatusNotFound, "Adjustment not found", nil)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case core.IsClientError(err):
		return http.StatusBadRequest
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsConflict(err), errors.Is(err, core.ErrPolicyMissing):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.WithFields(logrus.Fields{"module": "api"}).WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

// decodeJSON decodes and validates the body, writing a 400 on failure.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			writeError(w, http.StatusBadRequest, "Invalid request body",
				&core.ValidationError{Field: fe.Field(), Message: "failed " + fe.Tag()})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// parseClock accepts an RFC3339 instant or a time of day on date in loc.
// An empty value yields nil.
func parseClock(v string, date core.Date, loc *time.Location) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	tod, err := core.ParseTimeOfDay(v)
	if err != nil {
		return nil, errors.New("must be RFC3339 or HH:MM[:SS]")
	}
	t := tod.On(date, loc)
	return &t, nil
}

// parseMonth accepts YYYY-MM and returns the first day of that month.
func parseMonth(v string) (core.Date, error) {
	t, err := time.Parse("2006-01", v)
	if err != nil {
		return core.Date{}, &core.ValidationError{Field: "month", Message: "must be YYYY-MM"}
	}
	return core.NewDate(t.Year(), t.Month(), 1), nil
}

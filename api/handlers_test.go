/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Face attendance responses (check-in, cooldown, unknown, misconfigured)
- Employee lifecycle and validation
- Payroll recompute counts and adjustment rules
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/biometric"
	"github.com/warp/attendance-engine/blob"
	"github.com/warp/attendance-engine/capture"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/store/sqlite"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type stubEncoder struct{ faces [][]float64 }

func (s *stubEncoder) Encode(context.Context, image.Image) ([][]float64, error) {
	return s.faces, nil
}

type harness struct {
	store   *sqlite.Store
	handler *Handler
	router  http.Handler
	encoder *stubEncoder
}

func newHarness(t *testing.T, withCapture bool) *harness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	loc, err := core.LoadLocation(core.DefaultLocationName)
	require.NoError(t, err)

	policies := attendance.NewPolicyRegistry(store)
	_, err = policies.Save(ctx, core.ShiftPolicy{
		ID:           "day",
		Name:         "Day",
		Start:        core.MustParseTimeOfDay("09:00"),
		End:          core.MustParseTimeOfDay("17:00"),
		PresentHours: decimal.NewFromInt(8),
		HalfDayHours: decimal.NewFromInt(4),
		GraceMinutes: 10,
		LateTracking: true,
		Active:       true,
	})
	require.NoError(t, err)

	ledger := attendance.NewLedger(store, policies, attendance.WithLocation(loc), attendance.WithLogger(logger))
	matcher := biometric.NewMatcher(store, biometric.WithDimension(3), biometric.WithMatcherLogger(logger))
	encoder := &stubEncoder{}

	s := Services{
		Store:     store,
		Policies:  policies,
		Ledger:    ledger,
		Holidays:  attendance.NewHolidayProcessor(store, ledger, logger),
		Matcher:   matcher,
		Adjuster:  payroll.NewAdjuster(store, payroll.DefaultRules(), logger),
		WeeklyOff: time.Friday,
		Logger:    logger,
	}
	if withCapture {
		s.Encoder = encoder
		s.Capture = capture.NewService(encoder, matcher, ledger, blob.Discard{}, logger)
	}
	h := NewHandler(s)
	return &harness{store: store, handler: h, router: NewRouter(h, nil), encoder: encoder}
}

func (hs *harness) addEmployee(t *testing.T, id core.EntityID, salary int64, vector []float64) {
	t.Helper()
	require.NoError(t, hs.store.SaveEmployee(context.Background(), core.Employee{
		ID: id, Name: "Employee " + string(id), Active: true,
		MonthlySalary: decimal.NewFromInt(salary), FaceVector: vector,
	}))
}

func (hs *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	hs.router.ServeHTTP(rec, req)
	return rec
}

func (hs *harness) upload(t *testing.T, withImage bool) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("device_id", "kiosk-1"))
	if withImage {
		part, err := mw.CreateFormFile("image", "face.png")
		require.NoError(t, err)
		img := image.NewRGBA(image.Rect(0, 0, 16, 16))
		img.Set(8, 8, color.White)
		require.NoError(t, png.Encode(part, img))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/face-attendance", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	hs.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// FACE ATTENDANCE
// =============================================================================

func TestFaceAttendance_CheckInThenCooldown(t *testing.T) {
	// GIVEN: One enrolled employee and an encoder that sees their face
	hs := newHarness(t, true)
	hs.addEmployee(t, "e1", 3000, []float64{0.1, 0.2, 0.3})
	hs.encoder.faces = [][]float64{{0.1, 0.2, 0.35}}

	// WHEN: The kiosk uploads twice in a row
	first := hs.upload(t, true)
	second := hs.upload(t, true)

	// THEN: Check-in, then a cooldown with the remaining minutes
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	in := decode[FaceAttendanceResponse](t, first)
	assert.Equal(t, "ok", in.Status)
	assert.Equal(t, "IN", in.CheckType)
	assert.Equal(t, "e1", in.IdentityID)
	assert.Equal(t, "Welcome Employee e1", in.Message)
	assert.Nil(t, in.MinutesRemaining)
	require.NotNil(t, in.Confidence)
	assert.InDelta(t, 0.95, *in.Confidence, 1e-9)

	require.Equal(t, http.StatusOK, second.Code)
	cd := decode[FaceAttendanceResponse](t, second)
	assert.Equal(t, "cooldown", cd.CheckType)
	require.NotNil(t, cd.MinutesRemaining)
	assert.Equal(t, 60, *cd.MinutesRemaining)
}

func TestFaceAttendance_Failures(t *testing.T) {
	t.Run("encoder not configured", func(t *testing.T) {
		hs := newHarness(t, false)
		assert.Equal(t, http.StatusServiceUnavailable, hs.upload(t, true).Code)
	})

	t.Run("missing image", func(t *testing.T) {
		hs := newHarness(t, true)
		rec := hs.upload(t, false)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No image provided.", decode[ErrorResponse](t, rec).Error)
	})

	t.Run("no face", func(t *testing.T) {
		hs := newHarness(t, true)
		rec := hs.upload(t, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No face detected.", decode[ErrorResponse](t, rec).Error)
	})

	t.Run("no enrollments", func(t *testing.T) {
		hs := newHarness(t, true)
		hs.encoder.faces = [][]float64{{0, 0, 0}}
		rec := hs.upload(t, true)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("unknown face", func(t *testing.T) {
		hs := newHarness(t, true)
		hs.addEmployee(t, "e1", 3000, []float64{0, 0, 0})
		hs.encoder.faces = [][]float64{{1, 1, 1}}
		rec := hs.upload(t, true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		resp := decode[FaceAttendanceResponse](t, rec)
		assert.Equal(t, "unknown", resp.Status)
		assert.Equal(t, "Face not recognized.", resp.Message)
	})
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func TestEmployees_Lifecycle(t *testing.T) {
	hs := newHarness(t, false)

	rec := hs.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{ID: "e1", Name: "Rahim", MonthlySalary: "3000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, decode[EmployeeDTO](t, rec).Active)

	rec = hs.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{ID: "e1", Name: "Again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = hs.do(t, http.MethodPost, "/api/employees", CreateEmployeeRequest{ID: "e2", Name: "Bad", Email: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Deactivation defaults to today in the business location
	rec = hs.do(t, http.MethodPost, "/api/employees/e1/deactivate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decode[EmployeeDTO](t, rec)
	assert.False(t, dto.Active)
	assert.Equal(t, hs.handler.Ledger.Today().String(), dto.InactiveSince)

	rec = hs.do(t, http.MethodPost, "/api/employees/e1/face", EnrollFaceRequest{FaceVector: []float64{1, 2}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hs.do(t, http.MethodGet, "/api/employees/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PAYROLL
// =============================================================================

func seedLateMonth(t *testing.T, hs *harness, id core.EntityID) {
	t.Helper()
	loc := hs.handler.Ledger.Location()
	for _, day := range []string{"2025-03-03", "2025-03-04", "2025-03-05", "2025-03-06"} {
		d := core.MustParseDate(day)
		in := core.MustParseTimeOfDay("09:30").On(d, loc)
		out := core.MustParseTimeOfDay("17:45").On(d, loc)
		_, err := hs.handler.Ledger.Save(context.Background(), attendance.SaveInput{EmployeeID: id, Date: d, CheckIn: &in, CheckOut: &out})
		require.NoError(t, err)
	}
}

func TestRecomputePayroll_CountsMutations(t *testing.T) {
	// GIVEN: Four late days in March for a 3000 salary
	hs := newHarness(t, false)
	hs.addEmployee(t, "e1", 3000, nil)
	hs.addEmployee(t, "e2", 3000, nil)
	seedLateMonth(t, hs, "e1")

	// WHEN: The month is recomputed twice
	first := hs.do(t, http.MethodPost, "/api/payroll/recompute", RecomputeRequest{Year: 2025, Month: 3})
	second := hs.do(t, http.MethodPost, "/api/payroll/recompute", RecomputeRequest{Year: 2025, Month: 3})

	// THEN: One fine is created, then nothing changes
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, 1, decode[RecomputeResponse](t, first).Count)
	assert.Equal(t, 0, decode[RecomputeResponse](t, second).Count)

	rec := hs.do(t, http.MethodGet, "/api/payroll/summary?employee_id=e1&month=2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[SummaryDTO](t, rec)
	assert.Equal(t, "100.00", summary.TotalFine)
	assert.Equal(t, "2900.00", summary.NetSalary)

	rec = hs.do(t, http.MethodPost, "/api/payroll/recompute", RecomputeRequest{Year: 2025, Month: 3, EmployeeID: "e1"})
	assert.Equal(t, 0, decode[RecomputeResponse](t, rec).Count)

	rec = hs.do(t, http.MethodPost, "/api/payroll/recompute", RecomputeRequest{Year: 2025, Month: 13})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjustments_ManualAndAutomatic(t *testing.T) {
	hs := newHarness(t, false)
	hs.addEmployee(t, "e1", 3000, nil)
	seedLateMonth(t, hs, "e1")
	_, err := hs.handler.Adjuster.Recompute(context.Background(), "e1", core.MustParseDate("2025-03-01"))
	require.NoError(t, err)

	req := AdjustmentRequest{EmployeeID: "e1", Kind: "bonus", Amount: "250", Reason: "Referral", Month: "2025-03"}
	rec := hs.do(t, http.MethodPost, "/api/adjustments", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	manual := decode[AdjustmentDTO](t, rec)
	assert.False(t, manual.Automatic)
	assert.Equal(t, "250.00", manual.Amount)

	// Same employee, month, reason and kind
	rec = hs.do(t, http.MethodPost, "/api/adjustments", req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = hs.do(t, http.MethodGet, "/api/adjustments?employee_id=e1&month=2025-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[[]AdjustmentDTO](t, rec)
	require.Len(t, rows, 2)

	for _, row := range rows {
		want := http.StatusNoContent
		if row.Automatic {
			want = http.StatusConflict
		}
		assert.Equal(t, want, hs.do(t, http.MethodDelete, "/api/adjustments/"+row.ID, nil).Code, row.Reason)
	}
}

func TestHealthz(t *testing.T) {
	hs := newHarness(t, false)
	assert.Equal(t, http.StatusOK, hs.do(t, http.MethodGet, "/healthz", nil).Code)
}

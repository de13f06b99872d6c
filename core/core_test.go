package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/core"
)

// =============================================================================
// DATES AND TIMES
// =============================================================================

func TestDateOf_UsesBusinessLocation(t *testing.T) {
	// GIVEN: 20:30 UTC on March 9, which is 02:30 on March 10 in Dhaka
	loc, err := core.LoadLocation(core.DefaultLocationName)
	require.NoError(t, err)
	instant := time.Date(2025, time.March, 9, 20, 30, 0, 0, time.UTC)

	// THEN: The business date is March 10
	assert.Equal(t, "2025-03-10", core.DateOf(instant, loc).String())
	assert.Equal(t, "2025-03-09", core.DateOf(instant, time.UTC).String())
}

func TestDate_JSONRoundTrip(t *testing.T) {
	d := core.MustParseDate("2025-02-28")

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2025-02-28"`, string(raw))

	var back core.Date
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, d.Equal(back))

	zero, err := json.Marshal(core.Date{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(zero))
}

func TestParseDate_Invalid(t *testing.T) {
	_, err := core.ParseDate("2025-13-01")
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.True(t, core.IsClientError(err))
}

func TestMonthPeriod(t *testing.T) {
	p := core.MonthPeriod(2024, time.February)
	assert.Equal(t, "2024-02-01", p.Start.String())
	assert.Equal(t, "2024-02-29", p.End.String())
	assert.Len(t, p.Days(), 29)
	assert.True(t, p.Contains(core.MustParseDate("2024-02-15")))
	assert.False(t, p.Contains(core.MustParseDate("2024-03-01")))
}

func TestPeriod_ValidateRejectsInverted(t *testing.T) {
	p := core.Period{Start: core.MustParseDate("2025-01-05"), End: core.MustParseDate("2025-01-04")}
	assert.ErrorIs(t, p.Validate(), core.ErrInvalidPeriod)
}

func TestTimeOfDay_ParseAndPlace(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"09:00", "09:00:00", false},
		{"17:30:15", "17:30:15", false},
		{"25:00", "", true},
		{"nine", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tod, err := core.ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tod.String())
		})
	}

	loc := time.FixedZone("+06", 6*60*60)
	at := core.MustParseTimeOfDay("09:00").On(core.MustParseDate("2025-03-10"), loc)
	assert.Equal(t, time.Date(2025, time.March, 10, 3, 0, 0, 0, time.UTC), at.UTC())
}

func TestLoadLocation_FallsBackForDefault(t *testing.T) {
	loc, err := core.LoadLocation(core.DefaultLocationName)
	require.NoError(t, err)
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 6*60*60, offset)

	_, err = core.LoadLocation("Not/AZone")
	assert.Error(t, err)
}

// =============================================================================
// DOMAIN TYPES
// =============================================================================

func TestEmployee_EmployedOn(t *testing.T) {
	hire := core.MustParseDate("2025-03-05")
	gone := core.MustParseDate("2025-03-20")
	e := core.Employee{ID: "e1", Name: "A", HireDate: &hire, InactiveSince: &gone}

	assert.False(t, e.EmployedOn(core.MustParseDate("2025-03-04")))
	assert.True(t, e.EmployedOn(core.MustParseDate("2025-03-05")))
	assert.True(t, e.EmployedOn(core.MustParseDate("2025-03-19")))
	assert.False(t, e.EmployedOn(core.MustParseDate("2025-03-20")))
}

func TestEmployee_HasFaceVector(t *testing.T) {
	e := core.Employee{FaceVector: []float64{0.1, 0.2, 0.3}}
	assert.True(t, e.HasFaceVector(3))
	assert.False(t, e.HasFaceVector(128))
}

func TestHoliday_Covers(t *testing.T) {
	sales := core.Employee{ID: "e1", Department: "Sales", Designation: "Lead"}
	ops := core.Employee{ID: "e2", Department: "Ops", Designation: "Engineer"}

	tests := []struct {
		name  string
		h     core.Holiday
		sales bool
		ops   bool
	}{
		{"all", core.Holiday{Scope: core.ScopeAll}, true, true},
		{"department", core.Holiday{Scope: core.ScopeDepartment, Department: "Sales"}, true, false},
		{"designation", core.Holiday{Scope: core.ScopeDesignation, Designation: "Engineer"}, false, true},
		{"custom", core.Holiday{Scope: core.ScopeCustom, EmployeeIDs: []core.EntityID{"e2"}}, false, true},
		{"department without name", core.Holiday{Scope: core.ScopeDepartment}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sales, tt.h.Covers(sales))
			assert.Equal(t, tt.ops, tt.h.Covers(ops))
		})
	}
}

func TestStatus_ParseAndFlags(t *testing.T) {
	s, err := core.ParseStatus("Half Day")
	require.NoError(t, err)
	assert.Equal(t, core.StatusHalfDay, s)

	_, err = core.ParseStatus("Sick")
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.True(t, core.StatusHoliday.IsManual())
	assert.True(t, core.StatusOnLeave.IsManual())
	assert.False(t, core.StatusPresent.IsManual())

	assert.False(t, core.StatusHoliday.CountsForPayroll())
	assert.False(t, core.StatusOffDay.CountsForPayroll())
	assert.True(t, core.StatusOnLeave.CountsForPayroll())
}

func TestAttendanceRecord_CloneIsDeep(t *testing.T) {
	in := time.Now()
	late := 5 * time.Minute
	r := core.AttendanceRecord{
		CheckIn:      &in,
		LateDuration: &late,
		Policy:       &core.ShiftPolicy{Name: "Day"},
	}
	cp := r.Clone()
	*cp.LateDuration = 0
	cp.Policy.Name = "Night"

	assert.Equal(t, 5*time.Minute, *r.LateDuration)
	assert.Equal(t, "Day", r.Policy.Name)
	assert.True(t, r.IsLate())
	assert.False(t, cp.IsLate())
}

// =============================================================================
// ERRORS
// =============================================================================

func TestCooldownError_MinutesRemaining(t *testing.T) {
	err := error(&core.CooldownError{Elapsed: 30*time.Minute + 20*time.Second, Window: time.Hour})

	var ce *core.CooldownError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, core.ErrCooldown)
	assert.Equal(t, 30, ce.MinutesRemaining())
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("saving: %w", &core.ConstraintViolationError{Constraint: "x"})
	assert.True(t, core.IsConflict(wrapped))
	assert.True(t, core.IsNotFound(fmt.Errorf("x: %w", core.ErrHolidayNotFound)))
	assert.True(t, core.IsClientError(&core.ValidationError{Field: "f", Message: "bad"}))
	assert.False(t, core.IsClientError(errors.New("boom")))
}

// =============================================================================
// EVENT BUS
// =============================================================================

func TestBus_FailingSubscriberIsCountedNotPropagated(t *testing.T) {
	// GIVEN: A bus with one failing, one panicking and one healthy subscriber
	logger, hook := test.NewNullLogger()
	bus := core.NewBus(logger)

	var seen []core.EntityID
	bus.Subscribe("broken", func(context.Context, core.Event) error { return errors.New("downstream unavailable") })
	bus.Subscribe("panicky", func(context.Context, core.Event) error { panic("nil map") })
	bus.Subscribe("healthy", func(_ context.Context, e core.Event) error {
		seen = append(seen, e.EmployeeID)
		return nil
	})

	// WHEN: An event is published twice
	e := core.Event{Type: core.EventAttendanceChanged, EmployeeID: "e1", Date: core.MustParseDate("2025-03-10")}
	bus.Publish(context.Background(), e)
	bus.Publish(context.Background(), e)

	// THEN: Failures are counted per subscriber and logged; the healthy one still ran
	assert.Equal(t, 2, bus.Failures("broken"))
	assert.Equal(t, 2, bus.Failures("panicky"))
	assert.Equal(t, 0, bus.Failures("healthy"))
	assert.Equal(t, []core.EntityID{"e1", "e1"}, seen)

	last := bus.LastError("panicky")
	require.NotNil(t, last)
	assert.Contains(t, last.Error(), "panic")
	assert.Equal(t, core.EntityID("e1"), last.Event.EmployeeID)

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "events", hook.LastEntry().Data["module"])
}

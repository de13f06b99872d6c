// Package storetest holds the behavioural contract every core.TxStore
// implementation must satisfy. Store packages call Run from their tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/core"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) core.TxStore

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Employees", func(t *testing.T) { testEmployees(t, newStore(t)) })
	t.Run("SingleActivePolicy", func(t *testing.T) { testSingleActivePolicy(t, newStore(t)) })
	t.Run("RecordRoundTrip", func(t *testing.T) { testRecordRoundTrip(t, newStore(t)) })
	t.Run("RecordUniqueness", func(t *testing.T) { testRecordUniqueness(t, newStore(t)) })
	t.Run("AdjustmentUniqueness", func(t *testing.T) { testAdjustmentUniqueness(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("DeleteEmployeeCascades", func(t *testing.T) { testCascade(t, newStore(t)) })
	t.Run("Holidays", func(t *testing.T) { testHolidays(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func employee(id, dept string) core.Employee {
	hire := core.MustParseDate("2024-01-15")
	return core.Employee{
		ID:            core.EntityID(id),
		Name:          "Employee " + id,
		Email:         id + "@example.com",
		Department:    dept,
		Designation:   "Engineer",
		MonthlySalary: decimal.NewFromInt(30000),
		FaceVector:    []float64{0.1, 0.2, 0.3},
		Active:        true,
		HireDate:      &hire,
	}
}

func policy(id string, active bool) core.ShiftPolicy {
	return core.ShiftPolicy{
		ID:           core.PolicyID(id),
		Name:         "Shift " + id,
		Start:        core.MustParseTimeOfDay("09:00"),
		End:          core.MustParseTimeOfDay("17:00"),
		PresentHours: decimal.NewFromInt(8),
		HalfDayHours: decimal.RequireFromString("4.5"),
		GraceMinutes: 10,
		LateTracking: true,
		Active:       active,
	}
}

// =============================================================================
// CONTRACT
// =============================================================================

func testEmployees(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, employee("e1", "Sales")))
	require.NoError(t, s.SaveEmployee(ctx, employee("e2", "Ops")))

	inactive := employee("e3", "Sales")
	inactive.Active = false
	since := core.MustParseDate("2025-02-01")
	inactive.InactiveSince = &since
	require.NoError(t, s.SaveEmployee(ctx, inactive))

	got, err := s.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Employee e1", got.Name)
	assert.True(t, got.MonthlySalary.Equal(decimal.NewFromInt(30000)))
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.FaceVector)
	require.NotNil(t, got.HireDate)
	assert.Equal(t, "2024-01-15", got.HireDate.String())

	missing, err := s.GetEmployee(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	sales, err := s.ListEmployees(ctx, core.EmployeeFilter{Department: "Sales"})
	require.NoError(t, err)
	assert.Len(t, sales, 2)

	active, err := s.ListEmployees(ctx, core.EmployeeFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	byID, err := s.ListEmployees(ctx, core.EmployeeFilter{IDs: []core.EntityID{"e3"}})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	require.NotNil(t, byID[0].InactiveSince)
	assert.Equal(t, "2025-02-01", byID[0].InactiveSince.String())

	assert.ErrorIs(t, s.DeleteEmployee(ctx, "nobody"), core.ErrEmployeeNotFound)
}

func testSingleActivePolicy(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SavePolicy(ctx, policy("p1", true)))

	// A second active policy violates the single-active constraint
	err := s.SavePolicy(ctx, policy("p2", true))
	assert.ErrorIs(t, err, core.ErrConstraintViolation)

	require.NoError(t, s.ClearActivePolicies(ctx))
	require.NoError(t, s.SavePolicy(ctx, policy("p2", true)))

	active, err := s.ActivePolicy(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, core.PolicyID("p2"), active.ID)
	assert.True(t, active.HalfDayHours.Equal(decimal.RequireFromString("4.5")))
	assert.Equal(t, 10, active.GraceMinutes)

	all, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, s.DeletePolicy(ctx, "missing"), core.ErrPolicyNotFound)
}

func testRecordRoundTrip(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, employee("e1", "Sales")))

	in := time.Date(2025, time.March, 10, 3, 15, 30, 123000000, time.UTC)
	late := 5*time.Minute + 30*time.Second
	snap := policy("p1", true)
	rec := core.AttendanceRecord{
		ID:           "r1",
		EmployeeID:   "e1",
		Date:         core.MustParseDate("2025-03-10"),
		Policy:       &snap,
		CheckIn:      &in,
		Status:       core.StatusPending,
		LateDuration: &late,
		DeviceID:     "kiosk-1",
	}
	require.NoError(t, s.InsertRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "e1", core.MustParseDate("2025-03-10"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.RecordID("r1"), got.ID)
	require.NotNil(t, got.CheckIn)
	assert.True(t, in.Equal(*got.CheckIn))
	assert.Nil(t, got.CheckOut)
	require.NotNil(t, got.LateDuration)
	assert.Equal(t, late, *got.LateDuration)
	require.NotNil(t, got.Policy)
	assert.Equal(t, "Shift p1", got.Policy.Name)
	assert.Equal(t, core.MustParseTimeOfDay("09:00"), got.Policy.Start)

	out := in.Add(8 * time.Hour)
	got.CheckOut = &out
	got.Status = core.StatusPresent
	require.NoError(t, s.UpdateRecord(ctx, *got))

	byID, err := s.GetRecordByID(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, core.StatusPresent, byID.Status)
	require.NotNil(t, byID.CheckOut)
	assert.True(t, out.Equal(*byID.CheckOut))

	list, err := s.ListRecords(ctx, core.RecordFilter{Status: core.StatusPresent})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteRecord(ctx, "r1"))
	assert.ErrorIs(t, s.DeleteRecord(ctx, "r1"), core.ErrRecordNotFound)
}

func testRecordUniqueness(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, employee("e1", "Sales")))
	d := core.MustParseDate("2025-03-10")

	require.NoError(t, s.InsertRecord(ctx, core.AttendanceRecord{ID: "r1", EmployeeID: "e1", Date: d, Status: core.StatusAbsent}))
	err := s.InsertRecord(ctx, core.AttendanceRecord{ID: "r2", EmployeeID: "e1", Date: d, Status: core.StatusAbsent})

	var cv *core.ConstraintViolationError
	assert.ErrorAs(t, err, &cv)

	list, err := s.ListRecords(ctx, core.RecordFilter{EmployeeID: "e1", From: d, To: d})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testAdjustmentUniqueness(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, employee("e1", "Sales")))
	month := core.MustParseDate("2025-03-01")

	a := core.SalaryAdjustment{
		ID:         "a1",
		EmployeeID: "e1",
		Kind:       core.AdjustmentFine,
		Amount:     decimal.RequireFromString("333.33"),
		Reason:     "Attendance Issues Fine",
		Month:      month,
		Automatic:  true,
		Comment:    "4 late days",
	}
	require.NoError(t, s.InsertAdjustment(ctx, a))

	dup := a
	dup.ID = "a2"
	assert.ErrorIs(t, s.InsertAdjustment(ctx, dup), core.ErrConstraintViolation)

	// Same reason, different kind is a distinct row
	bonus := a
	bonus.ID = "a3"
	bonus.Kind = core.AdjustmentBonus
	require.NoError(t, s.InsertAdjustment(ctx, bonus))

	got, err := s.GetAdjustment(ctx, a.Key())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("333.33")))
	assert.True(t, got.Automatic)

	got.Amount = decimal.NewFromInt(100)
	require.NoError(t, s.UpdateAdjustment(ctx, *got))

	list, err := s.ListAdjustments(ctx, core.AdjustmentFilter{EmployeeID: "e1", Month: month})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	missing, err := s.GetAdjustment(ctx, core.AdjustmentKey{EmployeeID: "e1", Month: month, Reason: "other", Kind: core.AdjustmentFine})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testTxRollback(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx core.Store) error {
		require.NoError(t, tx.SaveEmployee(ctx, employee("e1", "Sales")))
		got, err := tx.GetEmployee(ctx, "e1")
		require.NoError(t, err)
		require.NotNil(t, got, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	assert.Nil(t, got, "rolled back writes must not be visible")

	require.NoError(t, s.WithTx(ctx, func(tx core.Store) error {
		return tx.SaveEmployee(ctx, employee("e2", "Ops"))
	}))
	got, err = s.GetEmployee(ctx, "e2")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func testCascade(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, employee("e1", "Sales")))
	require.NoError(t, s.InsertRecord(ctx, core.AttendanceRecord{
		ID: "r1", EmployeeID: "e1", Date: core.MustParseDate("2025-03-10"), Status: core.StatusAbsent,
	}))
	require.NoError(t, s.InsertAdjustment(ctx, core.SalaryAdjustment{
		ID: "a1", EmployeeID: "e1", Kind: core.AdjustmentBonus, Amount: decimal.NewFromInt(1000),
		Reason: "manual", Month: core.MustParseDate("2025-03-01"),
	}))

	require.NoError(t, s.DeleteEmployee(ctx, "e1"))

	records, err := s.ListRecords(ctx, core.RecordFilter{EmployeeID: "e1"})
	require.NoError(t, err)
	assert.Empty(t, records)
	adjustments, err := s.ListAdjustments(ctx, core.AdjustmentFilter{EmployeeID: "e1"})
	require.NoError(t, err)
	assert.Empty(t, adjustments)
}

func testHolidays(t *testing.T, s core.TxStore) {
	ctx := context.Background()
	h := core.Holiday{
		ID:          "h1",
		Name:        "Victory Day",
		Start:       core.MustParseDate("2025-12-16"),
		End:         core.MustParseDate("2025-12-17"),
		Scope:       core.ScopeCustom,
		EmployeeIDs: []core.EntityID{"e1", "e2"},
		Active:      true,
		Government:  true,
	}
	require.NoError(t, s.SaveHoliday(ctx, h))

	got, err := s.GetHoliday(ctx, "h1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []core.EntityID{"e1", "e2"}, got.EmployeeIDs)
	assert.Equal(t, "2025-12-17", got.End.String())
	assert.True(t, got.Government)

	got.Active = false
	require.NoError(t, s.SaveHoliday(ctx, *got))
	list, err := s.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)

	require.NoError(t, s.DeleteHoliday(ctx, "h1"))
	assert.ErrorIs(t, s.DeleteHoliday(ctx, "h1"), core.ErrHolidayNotFound)
}

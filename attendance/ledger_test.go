package attendance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/store/memory"
)

type fixture struct {
	store    *memory.Memory
	policies *attendance.PolicyRegistry
	ledger   *attendance.Ledger
	bus      *core.Bus
	loc      *time.Location
}

func newFixture(t *testing.T, withPolicy bool) *fixture {
	t.Helper()
	loc := dhaka(t)
	logger, _ := test.NewNullLogger()
	store := memory.New()
	ctx := context.Background()

	for _, id := range []core.EntityID{"e1", "e2", "e3"} {
		require.NoError(t, store.SaveEmployee(ctx, core.Employee{ID: id, Name: string(id), Active: true, Department: "Ops"}))
	}

	policies := attendance.NewPolicyRegistry(store)
	if withPolicy {
		_, err := policies.Save(ctx, dayPolicy())
		require.NoError(t, err)
	}

	bus := core.NewBus(logger)
	ledger := attendance.NewLedger(store, policies,
		attendance.WithBus(bus),
		attendance.WithLocation(loc),
		attendance.WithLogger(logger),
		attendance.WithClock(func() time.Time { return at(loc, "2025-03-12", "12:00") }),
	)
	return &fixture{store: store, policies: policies, ledger: ledger, bus: bus, loc: loc}
}

// =============================================================================
// CAPTURE EVENTS
// =============================================================================

func TestRecordEvent_StateMachine(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// WHEN: First capture of the day
	res, err := f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "09:00"), "kiosk-1")

	// THEN: Checked in, pending, not late, policy frozen
	require.NoError(t, err)
	assert.Equal(t, attendance.CheckIn, res.CheckType)
	assert.Equal(t, core.StatusPending, res.Record.Status)
	assert.Equal(t, "e1", res.Employee.Name)
	require.NotNil(t, res.Record.LateDuration)
	assert.Zero(t, *res.Record.LateDuration)
	require.NotNil(t, res.Record.Policy)
	assert.Equal(t, core.PolicyID("day"), res.Record.Policy.ID)

	// WHEN: A second capture 30 minutes later
	_, err = f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "09:30"), "kiosk-1")

	// THEN: Rejected by the cooldown with 30 minutes remaining
	var ce *core.CooldownError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 30, ce.MinutesRemaining())

	// WHEN: A capture after the cooldown
	res, err = f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "10:01"), "kiosk-1")

	// THEN: Checked out and classified
	require.NoError(t, err)
	assert.Equal(t, attendance.CheckOut, res.CheckType)
	assert.Equal(t, core.StatusEarlyLeave, res.Record.Status)

	// WHEN: Any further capture that day
	_, err = f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "18:00"), "kiosk-1")

	// THEN: The day is complete
	assert.ErrorIs(t, err, core.ErrAlreadyComplete)

	records, err := f.store.ListRecords(ctx, core.RecordFilter{EmployeeID: "e1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordEvent_BucketsByBusinessDate(t *testing.T) {
	f := newFixture(t, true)

	// 20:30 UTC on the 9th is 02:30 on the 10th in Dhaka
	res, err := f.ledger.RecordEvent(context.Background(), "e1", time.Date(2025, 3, 9, 20, 30, 0, 0, time.UTC), "")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", res.Record.Date.String())
}

func TestRecordEvent_UnknownEmployee(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.ledger.RecordEvent(context.Background(), "ghost", at(f.loc, "2025-03-10", "09:00"), "")
	assert.ErrorIs(t, err, core.ErrEmployeeNotFound)
}

func TestRecordEvent_SnapshotSurvivesPolicyEdit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// GIVEN: A check-in at 09:30 under a 10 minute grace
	_, err := f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "09:30"), "")
	require.NoError(t, err)

	// WHEN: The active policy is widened to a 60 minute grace, then check-out
	widened := dayPolicy()
	widened.GraceMinutes = 60
	_, err = f.policies.Save(ctx, widened)
	require.NoError(t, err)

	res, err := f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "17:45"), "")
	require.NoError(t, err)

	// THEN: The record keeps its frozen policy
	assert.Equal(t, 10, res.Record.Policy.GraceMinutes)
	require.NotNil(t, res.Record.LateDuration)
	assert.Equal(t, 20*time.Minute, *res.Record.LateDuration)
	assert.Equal(t, core.StatusPresent, res.Record.Status)
}

func TestRecordEvent_ConcurrentCapturesCreateOneRecord(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	when := at(f.loc, "2025-03-10", "09:00")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		checkIns int
		cooldown int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.RecordEvent(ctx, "e1", when, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.CheckType == attendance.CheckIn:
				checkIns++
			case errors.Is(err, core.ErrCooldown):
				cooldown++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, checkIns)
	assert.Equal(t, 9, cooldown)
	records, err := f.store.ListRecords(ctx, core.RecordFilter{EmployeeID: "e1"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRecordEvent_FailingSubscriberDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, true)
	var published []core.Event
	f.bus.Subscribe("payroll", func(context.Context, core.Event) error {
		return errors.New("payroll store unavailable")
	})
	f.bus.Subscribe("recorder", func(_ context.Context, e core.Event) error {
		published = append(published, e)
		return nil
	})

	res, err := f.ledger.RecordEvent(context.Background(), "e1", at(f.loc, "2025-03-10", "09:00"), "")

	require.NoError(t, err)
	assert.Equal(t, 1, f.bus.Failures("payroll"))
	require.Len(t, published, 1)
	assert.Equal(t, res.Record.ID, published[0].RecordID)
	assert.Equal(t, core.EventAttendanceChanged, published[0].Type)
}

type ctxKey struct{}

func TestRecordEvent_SubscribersOutliveRequestCancellation(t *testing.T) {
	// GIVEN: A subscriber that cancels the request as soon as it runs
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	defer cancel()

	var (
		errAfterCancel error
		requestID      any
	)
	f.bus.Subscribe("disconnect", func(context.Context, core.Event) error {
		cancel()
		return nil
	})
	f.bus.Subscribe("payroll", func(ctx context.Context, _ core.Event) error {
		errAfterCancel = ctx.Err()
		requestID = ctx.Value(ctxKey{})
		return ctx.Err()
	})

	// WHEN: A capture commits
	_, err := f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "09:00"), "")

	// THEN: Later subscribers still see a live context carrying request values
	require.NoError(t, err)
	assert.NoError(t, errAfterCancel)
	assert.Equal(t, "req-1", requestID)
	assert.Zero(t, f.bus.Failures("payroll"))
}

// =============================================================================
// MANUAL OPERATIONS
// =============================================================================

func TestSave_CreateAndEdit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	in := at(f.loc, "2025-03-10", "09:20")
	out := at(f.loc, "2025-03-10", "14:00")

	rec, err := f.ledger.Save(ctx, attendance.SaveInput{
		EmployeeID: "e1",
		Date:       core.MustParseDate("2025-03-10"),
		CheckIn:    &in,
		CheckOut:   &out,
		Status:     core.StatusPresent,
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusHalfDay, rec.Status, "automatic statuses are recomputed")
	assert.Equal(t, 10*time.Minute, *rec.LateDuration)

	// WHEN: The check-out is corrected by ID
	later := at(f.loc, "2025-03-10", "17:30")
	edited, err := f.ledger.Save(ctx, attendance.SaveInput{ID: rec.ID, CheckIn: &in, CheckOut: &later})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, edited.ID)
	assert.Equal(t, core.StatusPresent, edited.Status)

	// Changing the date of an existing record is rejected
	_, err = f.ledger.Save(ctx, attendance.SaveInput{ID: rec.ID, Date: core.MustParseDate("2025-03-11")})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSave_ManualStatusIsSticky(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	in := at(f.loc, "2025-03-10", "11:00")
	out := at(f.loc, "2025-03-10", "12:00")

	rec, err := f.ledger.Save(ctx, attendance.SaveInput{
		EmployeeID: "e1",
		Date:       core.MustParseDate("2025-03-10"),
		CheckIn:    &in,
		CheckOut:   &out,
		Status:     core.StatusOnLeave,
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusOnLeave, rec.Status)
	assert.Nil(t, rec.LateDuration)
}

func TestSave_WithoutPolicyIsPending(t *testing.T) {
	f := newFixture(t, false)
	in := at(f.loc, "2025-03-10", "09:00")
	out := at(f.loc, "2025-03-10", "17:00")

	rec, err := f.ledger.Save(context.Background(), attendance.SaveInput{
		EmployeeID: "e1",
		Date:       core.MustParseDate("2025-03-10"),
		CheckIn:    &in,
		CheckOut:   &out,
	})
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, rec.Status)
	assert.Nil(t, rec.LateDuration)
	assert.Nil(t, rec.Policy)
}

func TestSave_Validation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.ledger.Save(ctx, attendance.SaveInput{Date: core.MustParseDate("2025-03-10")})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.ledger.Save(ctx, attendance.SaveInput{EmployeeID: "e1"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.ledger.Save(ctx, attendance.SaveInput{EmployeeID: "e1", Date: core.MustParseDate("2025-03-10"), Status: "Sick"})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.ledger.Save(ctx, attendance.SaveInput{ID: "missing"})
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestEnsureAndRemoveStatus(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	day := core.MustParseDate("2025-03-10")

	created, err := f.ledger.EnsureStatus(ctx, "e1", day, core.StatusHoliday)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.ledger.EnsureStatus(ctx, "e1", day, core.StatusHoliday)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = f.ledger.EnsureStatus(ctx, "e1", day, core.StatusPresent)
	assert.ErrorIs(t, err, core.ErrValidation)

	removed, err := f.ledger.RemoveIfStatus(ctx, "e1", day, core.StatusOnLeave)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = f.ledger.RemoveIfStatus(ctx, "e1", day, core.StatusHoliday)
	require.NoError(t, err)
	assert.True(t, removed)

	// A stamped Holiday record holds worked time and is kept
	_, err = f.ledger.EnsureStatus(ctx, "e2", day, core.StatusHoliday)
	require.NoError(t, err)
	_, err = f.ledger.RecordEvent(ctx, "e2", at(f.loc, "2025-03-10", "09:00"), "")
	require.NoError(t, err)
	removed, err = f.ledger.RemoveIfStatus(ctx, "e2", day, core.StatusHoliday)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	res, err := f.ledger.RecordEvent(ctx, "e1", at(f.loc, "2025-03-10", "09:00"), "")
	require.NoError(t, err)

	var deleted bool
	f.bus.Subscribe("recorder", func(_ context.Context, e core.Event) error {
		deleted = e.Deleted
		return nil
	})

	require.NoError(t, f.ledger.Delete(ctx, res.Record.ID))
	assert.True(t, deleted)
	assert.ErrorIs(t, f.ledger.Delete(ctx, res.Record.ID), core.ErrRecordNotFound)
}

func TestToday(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, "2025-03-12", f.ledger.Today().String())
	assert.Equal(t, f.loc, f.ledger.Location())
}

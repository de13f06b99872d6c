/*
ledger.go - Per-day attendance state machine

PURPOSE:
  Turns identified capture events and manual edits into attendance records.
  Every transition runs under a per (employee, date) lock and inside one
  store transaction. Once the transaction commits an attendance-changed
  event is published; subscribers (payroll) run after the write is durable
  and cannot fail it.

STATE MACHINE (per employee per business date):
  Empty      --event-->                      CheckedIn  (check-in stamped)
  CheckedIn  --event, elapsed >= cooldown--> Complete   (check-out stamped)
  CheckedIn  --event, elapsed <  cooldown--> CheckedIn  (CooldownError)
  Complete   --event-->                      Complete   (ErrAlreadyComplete)

POLICY SNAPSHOT:
  A record created here freezes a copy of the policy passed by the caller
  or, when none is given, the policy active at that moment. Later edits
  never replace the snapshot.

SEE ALSO:
  - classify.go: Derive
  - policy.go: PolicySource
  - payroll/adjuster.go: event subscriber
*/
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/locking"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCooldown is the minimum time between check-in and check-out.
const DefaultCooldown = time.Hour

type CheckType string

const (
	CheckIn  CheckType = "IN"
	CheckOut CheckType = "OUT"
)

// EventResult reports what a capture event did to the day's record.
type EventResult struct {
	CheckType CheckType
	Record    core.AttendanceRecord
	Employee  core.Employee
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    core.TxStore
	policies PolicySource
	locker   core.Locker
	bus      *core.Bus
	loc      *time.Location
	cooldown time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time
	tracer   trace.Tracer
}

type Option func(*Ledger)

func WithLocker(l core.Locker) Option        { return func(x *Ledger) { x.locker = l } }
func WithBus(b *core.Bus) Option             { return func(x *Ledger) { x.bus = b } }
func WithLocation(loc *time.Location) Option { return func(x *Ledger) { x.loc = loc } }
func WithCooldown(d time.Duration) Option    { return func(x *Ledger) { x.cooldown = d } }
func WithLogger(l logrus.FieldLogger) Option { return func(x *Ledger) { x.logger = l } }
func WithClock(now func() time.Time) Option  { return func(x *Ledger) { x.now = now } }

func NewLedger(store core.TxStore, policies PolicySource, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		policies: policies,
		locker:   locking.NewLocal(),
		loc:      time.UTC,
		cooldown: DefaultCooldown,
		logger:   logrus.StandardLogger(),
		now:      time.Now,
		tracer:   otel.Tracer("github.com/warp/attendance-engine/attendance"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Location returns the business location used for date bucketing.
func (l *Ledger) Location() *time.Location { return l.loc }

// Today returns the current business date.
func (l *Ledger) Today() core.Date { return core.DateOf(l.now(), l.loc) }

// RecordEvent applies an identified capture at instant at.
func (l *Ledger) RecordEvent(ctx context.Context, employeeID core.EntityID, at time.Time, deviceID string) (res *EventResult, err error) {
	date := core.DateOf(at, l.loc)
	ctx, span := l.tracer.Start(ctx, "Ledger.RecordEvent", trace.WithAttributes(
		attribute.String("employee_id", string(employeeID)),
		attribute.String("date", date.String()),
	))
	defer func() { endSpan(span, err) }()

	emp, err := l.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, core.ErrEmployeeNotFound
	}

	unlock, err := l.locker.Lock(ctx, core.DayLockKey(employeeID, date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Resolved before the transaction opens; see store/sqlite CONCURRENCY.
	active, err := l.policies.CurrentActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active policy: %w", err)
	}

	var (
		result  EventResult
		derived Classification
	)
	err = l.store.WithTx(ctx, func(s core.Store) error {
		rec, err := s.GetRecord(ctx, employeeID, date)
		if err != nil {
			return err
		}

		switch {
		case rec == nil:
			rec = &core.AttendanceRecord{
				ID:         core.NewRecordID(),
				EmployeeID: employeeID,
				Date:       date,
				CheckIn:    &at,
				DeviceID:   deviceID,
			}
			if active != nil {
				rec.Policy = active.Snapshot()
			}
			derived = Derive(rec, active, l.loc)
			result.CheckType = CheckIn
			result.Record = *rec
			return s.InsertRecord(ctx, *rec)

		case rec.CheckIn == nil:
			rec.CheckIn = &at
			if rec.DeviceID == "" {
				rec.DeviceID = deviceID
			}
			result.CheckType = CheckIn

		case rec.CheckOut != nil:
			return fmt.Errorf("%w for %s on %s", core.ErrAlreadyComplete, employeeID, date)

		default:
			elapsed := at.Sub(*rec.CheckIn)
			if elapsed < l.cooldown {
				if elapsed < 0 {
					elapsed = 0
				}
				return &core.CooldownError{EmployeeID: employeeID, Date: date, Elapsed: elapsed, Window: l.cooldown}
			}
			rec.CheckOut = &at
			result.CheckType = CheckOut
		}

		derived = Derive(rec, active, l.loc)
		result.Record = *rec
		return s.UpdateRecord(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}

	l.warnDerivation(result.Record, derived)
	l.logger.WithFields(logrus.Fields{
		"module":      "ledger",
		"employee_id": employeeID,
		"date":        date.String(),
		"check_type":  result.CheckType,
		"status":      result.Record.Status,
		"device_id":   deviceID,
	}).Info("attendance event recorded")

	l.publish(ctx, result.Record, false)
	result.Employee = *emp
	return &result, nil
}

// =============================================================================
// MANUAL OPERATIONS
// =============================================================================

// SaveInput describes a manual create or edit.
type SaveInput struct {
	// ID selects an existing record. When empty the record is located by
	// EmployeeID and Date and created if absent.
	ID         core.RecordID
	EmployeeID core.EntityID
	Date       core.Date
	CheckIn    *time.Time
	CheckOut   *time.Time
	// Status is optional. Manual statuses are stored verbatim; any other
	// value is replaced by the classifier.
	Status   core.Status
	DeviceID string
	// Policy is the snapshot frozen on a newly created record. When nil the
	// currently active policy is used. Ignored for existing records.
	Policy *core.ShiftPolicy
}

// Save creates or edits a record and recomputes derived fields.
func (l *Ledger) Save(ctx context.Context, in SaveInput) (rec *core.AttendanceRecord, err error) {
	ctx, span := l.tracer.Start(ctx, "Ledger.Save")
	defer func() { endSpan(span, err) }()

	if in.ID != "" {
		existing, err := l.store.GetRecordByID(ctx, in.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, core.ErrRecordNotFound
		}
		if in.EmployeeID != "" && in.EmployeeID != existing.EmployeeID {
			return nil, &core.ValidationError{Field: "employee_id", Message: "cannot be changed on an existing record"}
		}
		if !in.Date.IsZero() && !in.Date.Equal(existing.Date) {
			return nil, &core.ValidationError{Field: "date", Message: "cannot be changed on an existing record"}
		}
		in.EmployeeID, in.Date = existing.EmployeeID, existing.Date
	}
	if in.EmployeeID == "" {
		return nil, &core.ValidationError{Field: "employee_id", Message: "is required"}
	}
	if in.Date.IsZero() {
		return nil, &core.ValidationError{Field: "date", Message: "is required"}
	}
	if in.Status != "" {
		if _, err := core.ParseStatus(string(in.Status)); err != nil {
			return nil, err
		}
	}

	emp, err := l.store.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, core.ErrEmployeeNotFound
	}

	unlock, err := l.locker.Lock(ctx, core.DayLockKey(in.EmployeeID, in.Date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	active, err := l.policies.CurrentActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active policy: %w", err)
	}

	var (
		saved   core.AttendanceRecord
		derived Classification
	)
	err = l.store.WithTx(ctx, func(s core.Store) error {
		existing, err := s.GetRecord(ctx, in.EmployeeID, in.Date)
		if err != nil {
			return err
		}

		if existing == nil {
			snapshot := in.Policy
			if snapshot == nil {
				snapshot = active
			}
			r := core.AttendanceRecord{
				ID:         core.NewRecordID(),
				EmployeeID: in.EmployeeID,
				Date:       in.Date,
				CheckIn:    in.CheckIn,
				CheckOut:   in.CheckOut,
				Status:     in.Status,
				DeviceID:   in.DeviceID,
			}
			if snapshot != nil {
				r.Policy = snapshot.Snapshot()
			}
			derived = Derive(&r, active, l.loc)
			saved = r
			return s.InsertRecord(ctx, r)
		}

		r := *existing
		r.CheckIn = in.CheckIn
		r.CheckOut = in.CheckOut
		if in.DeviceID != "" {
			r.DeviceID = in.DeviceID
		}
		if in.Status != "" {
			r.Status = in.Status
		}
		derived = Derive(&r, active, l.loc)
		saved = r
		return s.UpdateRecord(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	l.warnDerivation(saved, derived)
	l.publish(ctx, saved, false)
	return &saved, nil
}

// Delete removes a record by ID.
func (l *Ledger) Delete(ctx context.Context, id core.RecordID) error {
	rec, err := l.store.GetRecordByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return core.ErrRecordNotFound
	}

	unlock, err := l.locker.Lock(ctx, core.DayLockKey(rec.EmployeeID, rec.Date))
	if err != nil {
		return err
	}
	defer unlock()

	if err := l.store.DeleteRecord(ctx, id); err != nil {
		return err
	}
	l.publish(ctx, *rec, true)
	return nil
}

// EnsureStatus creates a record carrying a manual status when none exists
// for the day. Existing records are never modified.
func (l *Ledger) EnsureStatus(ctx context.Context, employeeID core.EntityID, date core.Date, status core.Status) (bool, error) {
	if !status.IsManual() {
		return false, &core.ValidationError{Field: "status", Message: "must be a manual status"}
	}

	unlock, err := l.locker.Lock(ctx, core.DayLockKey(employeeID, date))
	if err != nil {
		return false, err
	}
	defer unlock()

	active, err := l.policies.CurrentActive(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to resolve active policy: %w", err)
	}

	var created *core.AttendanceRecord
	err = l.store.WithTx(ctx, func(s core.Store) error {
		existing, err := s.GetRecord(ctx, employeeID, date)
		if err != nil || existing != nil {
			return err
		}
		r := core.AttendanceRecord{
			ID:         core.NewRecordID(),
			EmployeeID: employeeID,
			Date:       date,
			Status:     status,
		}
		if active != nil {
			r.Policy = active.Snapshot()
		}
		created = &r
		return s.InsertRecord(ctx, r)
	})
	if err != nil || created == nil {
		return false, err
	}
	l.publish(ctx, *created, false)
	return true, nil
}

// RemoveIfStatus deletes the day's record only when its status is exactly
// status and it carries no check-in or check-out. Stamped records hold
// worked time and are kept.
func (l *Ledger) RemoveIfStatus(ctx context.Context, employeeID core.EntityID, date core.Date, status core.Status) (bool, error) {
	unlock, err := l.locker.Lock(ctx, core.DayLockKey(employeeID, date))
	if err != nil {
		return false, err
	}
	defer unlock()

	var removed *core.AttendanceRecord
	err = l.store.WithTx(ctx, func(s core.Store) error {
		existing, err := s.GetRecord(ctx, employeeID, date)
		if err != nil || existing == nil || existing.Status != status {
			return err
		}
		if existing.CheckIn != nil || existing.CheckOut != nil {
			return nil
		}
		removed = existing
		return s.DeleteRecord(ctx, existing.ID)
	})
	if err != nil || removed == nil {
		return false, err
	}
	l.publish(ctx, *removed, true)
	return true, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// publish runs after commit. Subscribers get a context detached from the
// request's cancellation.
func (l *Ledger) publish(ctx context.Context, r core.AttendanceRecord, deleted bool) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(context.WithoutCancel(ctx), core.Event{
		Type:       core.EventAttendanceChanged,
		EmployeeID: r.EmployeeID,
		Date:       r.Date,
		RecordID:   r.ID,
		Status:     r.Status,
		Deleted:    deleted,
		At:         l.now().UTC(),
	})
}

func (l *Ledger) warnDerivation(r core.AttendanceRecord, c Classification) {
	fields := logrus.Fields{
		"module":      "ledger",
		"employee_id": r.EmployeeID,
		"date":        r.Date.String(),
		"record_id":   r.ID,
	}
	if c.InvertedSpan {
		l.logger.WithFields(fields).Warn("check-out precedes check-in; worked time clamped to zero")
	}
	if c.PolicyMissing {
		l.logger.WithFields(fields).WithError(core.ErrPolicyMissing).Warn("record classified without a shift policy")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil && !isExpected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// isExpected marks outcomes that are normal business responses rather
// than failures.
func isExpected(err error) bool {
	return errors.Is(err, core.ErrCooldown) || errors.Is(err, core.ErrAlreadyComplete)
}

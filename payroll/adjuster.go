/*
Package payroll maintains the automatic salary adjustments derived from
attendance.

PURPOSE:
  For each employee-month the adjuster owns at most one automatic fine and
  one automatic bonus. It recomputes them from the month's attendance
  records, writing only when the computed value differs from what is
  stored, so repeated runs converge with zero mutations.

RULES (defaults):
  Late day:  a record outside {Holiday, Off Day} with late duration > 0
  Fine:      late days >= 3 -> (salary / 30) x (late days div 3)
  Bonus:     1000 when no late days, every counted day Present and at
             least one counted day

TRIGGERS:
  - core.EventAttendanceChanged via the event bus (per employee-month)
  - RecomputeMonth for bulk reconciliation (API and scheduler)

Manual (non-automatic) adjustments are never modified or deleted.

SEE ALSO:
  - summary.go: monthly salary summary
  - attendance/ledger.go: event publisher
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/core"
)

const (
	ReasonFine  = "Attendance Issues Fine"
	ReasonBonus = "100% On Time Bonus"

	// SubscriberName identifies the adjuster on the event bus.
	SubscriberName = "payroll"
)

// =============================================================================
// RULES - Pure assessment of one employee-month
// =============================================================================

type Rules struct {
	LateDaysPerFine int
	DaysPerMonth    int
	OnTimeBonus     decimal.Decimal
	Currency        string
}

func DefaultRules() Rules {
	return Rules{
		LateDaysPerFine: 3,
		DaysPerMonth:    30,
		OnTimeBonus:     decimal.NewFromInt(1000),
		Currency:        "BDT",
	}
}

// Assessment is what the rules conclude for one employee-month.
type Assessment struct {
	LateDays    int
	CountedDays int
	AllPresent  bool

	FineGroups  int
	Fine        decimal.Decimal
	FineComment string

	BonusEarned  bool
	Bonus        decimal.Decimal
	BonusComment string
}

// Assess applies the rules to a month of records. Records with status
// Holiday or Off Day are ignored.
func (r Rules) Assess(salary decimal.Decimal, records []core.AttendanceRecord) Assessment {
	a := Assessment{AllPresent: true}
	for _, rec := range records {
		if !rec.Status.CountsForPayroll() {
			continue
		}
		a.CountedDays++
		if rec.IsLate() {
			a.LateDays++
		}
		if rec.Status != core.StatusPresent {
			a.AllPresent = false
		}
	}

	if r.LateDaysPerFine > 0 && a.LateDays >= r.LateDaysPerFine {
		a.FineGroups = a.LateDays / r.LateDaysPerFine
		daily := salary.Div(decimal.NewFromInt(int64(r.DaysPerMonth)))
		a.Fine = daily.Mul(decimal.NewFromInt(int64(a.FineGroups))).Round(2)
		a.FineComment = fmt.Sprintf("%d late days - %d fine(s) of %s %s each",
			a.LateDays, a.FineGroups, daily.StringFixed(2), r.Currency)
	}

	if a.LateDays == 0 && a.AllPresent && a.CountedDays > 0 {
		a.BonusEarned = true
		a.Bonus = r.OnTimeBonus.Round(2)
		a.BonusComment = "100% Present + No Late Days"
	}
	return a
}

// =============================================================================
// ADJUSTER
// =============================================================================

// Outcome counts row mutations from one recompute.
type Outcome struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Mutations is the number of rows written.
func (o Outcome) Mutations() int { return o.Created + o.Updated + o.Deleted }

func (o *Outcome) add(other Outcome) {
	o.Created += other.Created
	o.Updated += other.Updated
	o.Deleted += other.Deleted
	o.Unchanged += other.Unchanged
}

type Adjuster struct {
	store  core.TxStore
	rules  Rules
	logger logrus.FieldLogger
}

func NewAdjuster(store core.TxStore, rules Rules, logger logrus.FieldLogger) *Adjuster {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Adjuster{store: store, rules: rules, logger: logger}
}

// Subscribe registers the adjuster for attendance-changed events.
func (a *Adjuster) Subscribe(bus *core.Bus) {
	bus.Subscribe(SubscriberName, a.HandleEvent)
}

// HandleEvent recomputes the month containing the event's date.
func (a *Adjuster) HandleEvent(ctx context.Context, e core.Event) error {
	if e.Type != core.EventAttendanceChanged {
		return nil
	}
	_, err := a.Recompute(ctx, e.EmployeeID, e.Date.MonthStart())
	return err
}

// Recompute brings one employee-month's automatic rows in line with its
// records, in a single transaction.
func (a *Adjuster) Recompute(ctx context.Context, employeeID core.EntityID, month core.Date) (Outcome, error) {
	month = month.MonthStart()
	var out Outcome
	err := a.store.WithTx(ctx, func(s core.Store) error {
		var err error
		out, err = a.recompute(ctx, s, employeeID, month)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to recompute payroll for %s %s: %w", employeeID, month.Format("2006-01"), err)
	}

	if out.Mutations() > 0 {
		a.logger.WithFields(logrus.Fields{
			"module":      "payroll",
			"employee_id": employeeID,
			"month":       month.Format("2006-01"),
			"created":     out.Created,
			"updated":     out.Updated,
			"deleted":     out.Deleted,
		}).Info("automatic adjustments recomputed")
	}
	return out, nil
}

func (a *Adjuster) recompute(ctx context.Context, s core.Store, employeeID core.EntityID, month core.Date) (Outcome, error) {
	var out Outcome
	emp, err := s.GetEmployee(ctx, employeeID)
	if err != nil {
		return out, err
	}
	if emp == nil {
		return out, core.ErrEmployeeNotFound
	}

	period := core.MonthPeriod(month.Year(), month.Month())
	records, err := s.ListRecords(ctx, core.RecordFilter{
		EmployeeID: employeeID,
		From:       period.Start,
		To:         period.End,
	})
	if err != nil {
		return out, err
	}

	assessment := a.rules.Assess(emp.MonthlySalary, records)

	fineKey := core.AdjustmentKey{EmployeeID: employeeID, Month: month, Reason: ReasonFine, Kind: core.AdjustmentFine}
	if assessment.FineGroups > 0 {
		err = upsert(ctx, s, fineKey, assessment.Fine, assessment.FineComment, &out)
	} else {
		err = remove(ctx, s, fineKey, &out)
	}
	if err != nil {
		return out, err
	}

	bonusKey := core.AdjustmentKey{EmployeeID: employeeID, Month: month, Reason: ReasonBonus, Kind: core.AdjustmentBonus}
	if assessment.BonusEarned {
		err = upsert(ctx, s, bonusKey, assessment.Bonus, assessment.BonusComment, &out)
	} else {
		err = remove(ctx, s, bonusKey, &out)
	}
	return out, err
}

// RecomputeMonth reconciles every employee for the month and returns the
// number of rows created, updated or deleted. A failure for one employee
// is logged and does not stop the others; all failures are returned
// joined.
func (a *Adjuster) RecomputeMonth(ctx context.Context, year int, month time.Month) (int, error) {
	employees, err := a.store.ListEmployees(ctx, core.EmployeeFilter{})
	if err != nil {
		return 0, err
	}

	first := core.StartOfMonth(year, month)
	var (
		total Outcome
		errs  []error
	)
	for _, e := range employees {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		out, err := a.Recompute(ctx, e.ID, first)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"module":      "payroll",
				"employee_id": e.ID,
				"month":       first.Format("2006-01"),
			}).WithError(err).Error("bulk payroll recompute failed for employee")
			errs = append(errs, err)
			continue
		}
		total.add(out)
	}

	a.logger.WithFields(logrus.Fields{
		"module":    "payroll",
		"month":     first.Format("2006-01"),
		"employees": len(employees),
		"mutations": total.Mutations(),
		"failures":  len(errs),
	}).Info("bulk payroll recompute finished")
	return total.Mutations(), errors.Join(errs...)
}

func upsert(ctx context.Context, s core.Store, key core.AdjustmentKey, amount decimal.Decimal, comment string, out *Outcome) error {
	existing, err := s.GetAdjustment(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		out.Created++
		return s.InsertAdjustment(ctx, core.SalaryAdjustment{
			ID:         core.NewAdjustmentID(),
			EmployeeID: key.EmployeeID,
			Kind:       key.Kind,
			Amount:     amount,
			Reason:     key.Reason,
			Month:      key.Month,
			Automatic:  true,
			Comment:    comment,
		})
	}
	if !existing.Automatic || (existing.Amount.Equal(amount) && existing.Comment == comment) {
		out.Unchanged++
		return nil
	}
	existing.Amount = amount
	existing.Comment = comment
	out.Updated++
	return s.UpdateAdjustment(ctx, *existing)
}

func remove(ctx context.Context, s core.Store, key core.AdjustmentKey, out *Outcome) error {
	existing, err := s.GetAdjustment(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil || !existing.Automatic {
		return nil
	}
	out.Deleted++
	return s.DeleteAdjustment(ctx, existing.ID)
}

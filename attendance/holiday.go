package attendance

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/core"
)

// =============================================================================
// HOLIDAY BATCH PROCESSOR
// =============================================================================

// HolidayResult counts the records touched by one holiday operation.
type HolidayResult struct {
	Employees int `json:"employees"`
	Created   int `json:"created"`
	Removed   int `json:"removed"`
}

// HolidayProcessor expands holiday definitions into Holiday records and
// retracts them. Both directions are idempotent: expansion never touches
// an existing record and retraction only deletes records whose status is
// exactly Holiday.
type HolidayProcessor struct {
	store  core.Store
	ledger *Ledger
	logger logrus.FieldLogger
}

func NewHolidayProcessor(store core.Store, ledger *Ledger, logger logrus.FieldLogger) *HolidayProcessor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HolidayProcessor{store: store, ledger: ledger, logger: logger}
}

// AffectedEmployees resolves the holiday's scope to employees. Only active
// employees are included unless includeInactive is set.
func (p *HolidayProcessor) AffectedEmployees(ctx context.Context, h core.Holiday, includeInactive bool) ([]core.Employee, error) {
	f := core.EmployeeFilter{ActiveOnly: !includeInactive}
	switch h.Scope {
	case core.ScopeDepartment:
		f.Department = h.Department
	case core.ScopeDesignation:
		f.Designation = h.Designation
	case core.ScopeCustom:
		f.IDs = h.EmployeeIDs
	}

	employees, err := p.store.ListEmployees(ctx, f)
	if err != nil {
		return nil, err
	}
	out := employees[:0]
	for _, e := range employees {
		if h.Covers(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Expand creates a Holiday record for every affected employee and day in
// range that has no record yet. Days outside an employee's working life
// are skipped.
func (p *HolidayProcessor) Expand(ctx context.Context, h core.Holiday) (HolidayResult, error) {
	var res HolidayResult
	if err := h.Validate(); err != nil {
		return res, err
	}
	employees, err := p.AffectedEmployees(ctx, h, false)
	if err != nil {
		return res, err
	}
	res.Employees = len(employees)

	days := h.Period().Days()
	for _, e := range employees {
		for _, d := range days {
			if !e.EmployedOn(d) {
				continue
			}
			created, err := p.ledger.EnsureStatus(ctx, e.ID, d, core.StatusHoliday)
			if err != nil {
				return res, fmt.Errorf("failed to expand holiday %s for %s on %s: %w", h.ID, e.ID, d, err)
			}
			if created {
				res.Created++
			}
		}
	}

	p.logger.WithFields(logrus.Fields{
		"module":     "holiday",
		"holiday_id": h.ID,
		"period":     h.Period().String(),
		"employees":  res.Employees,
		"created":    res.Created,
	}).Info("holiday expanded")
	return res, nil
}

// Retract deletes Holiday records for every employee in scope, inactive
// ones included, and every day in range. Records with any other status,
// and Holiday records that carry a check-in or check-out, are left alone.
func (p *HolidayProcessor) Retract(ctx context.Context, h core.Holiday) (HolidayResult, error) {
	var res HolidayResult
	employees, err := p.AffectedEmployees(ctx, h, true)
	if err != nil {
		return res, err
	}
	res.Employees = len(employees)

	days := h.Period().Days()
	for _, e := range employees {
		for _, d := range days {
			removed, err := p.ledger.RemoveIfStatus(ctx, e.ID, d, core.StatusHoliday)
			if err != nil {
				return res, fmt.Errorf("failed to retract holiday %s for %s on %s: %w", h.ID, e.ID, d, err)
			}
			if removed {
				res.Removed++
			}
		}
	}

	p.logger.WithFields(logrus.Fields{
		"module":     "holiday",
		"holiday_id": h.ID,
		"period":     h.Period().String(),
		"employees":  res.Employees,
		"removed":    res.Removed,
	}).Info("holiday retracted")
	return res, nil
}

// Apply stores the definition, then expands it when active or retracts it
// when inactive. When an existing definition changed its range or scope,
// the old footprint is retracted first.
func (p *HolidayProcessor) Apply(ctx context.Context, h core.Holiday) (*core.Holiday, HolidayResult, error) {
	if h.ID == "" {
		h.ID = core.NewHolidayID()
	}
	if err := h.Validate(); err != nil {
		return nil, HolidayResult{}, err
	}

	prev, err := p.store.GetHoliday(ctx, h.ID)
	if err != nil {
		return nil, HolidayResult{}, err
	}
	if err := p.store.SaveHoliday(ctx, h); err != nil {
		return nil, HolidayResult{}, err
	}

	var total HolidayResult
	if prev != nil && prev.Active && footprintChanged(*prev, h) {
		r, err := p.Retract(ctx, *prev)
		if err != nil {
			return nil, total, err
		}
		total.Removed += r.Removed
	}

	var r HolidayResult
	if h.Active {
		r, err = p.Expand(ctx, h)
	} else {
		r, err = p.Retract(ctx, h)
	}
	if err != nil {
		return nil, total, err
	}
	total.Employees = r.Employees
	total.Created += r.Created
	total.Removed += r.Removed

	saved, err := p.store.GetHoliday(ctx, h.ID)
	return saved, total, err
}

// SetActive toggles a definition and applies the change.
func (p *HolidayProcessor) SetActive(ctx context.Context, id core.HolidayID, active bool) (*core.Holiday, HolidayResult, error) {
	h, err := p.store.GetHoliday(ctx, id)
	if err != nil {
		return nil, HolidayResult{}, err
	}
	if h == nil {
		return nil, HolidayResult{}, core.ErrHolidayNotFound
	}
	h.Active = active
	return p.Apply(ctx, *h)
}

// Remove retracts the definition's records and deletes it.
func (p *HolidayProcessor) Remove(ctx context.Context, id core.HolidayID) (HolidayResult, error) {
	h, err := p.store.GetHoliday(ctx, id)
	if err != nil {
		return HolidayResult{}, err
	}
	if h == nil {
		return HolidayResult{}, core.ErrHolidayNotFound
	}
	res, err := p.Retract(ctx, *h)
	if err != nil {
		return res, err
	}
	return res, p.store.DeleteHoliday(ctx, id)
}

func footprintChanged(a, b core.Holiday) bool {
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) || a.Scope != b.Scope ||
		a.Department != b.Department || a.Designation != b.Designation ||
		len(a.EmployeeIDs) != len(b.EmployeeIDs) {
		return true
	}
	for i := range a.EmployeeIDs {
		if a.EmployeeIDs[i] != b.EmployeeIDs[i] {
			return true
		}
	}
	return false
}

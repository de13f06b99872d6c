package payroll

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/attendance-engine/core"
)

// Summary is the salary picture of one employee-month, including manual
// adjustments.
type Summary struct {
	EmployeeID    core.EntityID
	Month         core.Date
	BaseSalary    decimal.Decimal
	TotalBonus    decimal.Decimal
	TotalFine     decimal.Decimal
	NetAdjustment decimal.Decimal
	NetSalary     decimal.Decimal
	LateDays      int
	WorkingDays   int
	Adjustments   []core.SalaryAdjustment
}

// Summarize totals the month's adjustments and attendance. Working days
// exclude Holiday, Off Day and On Leave records.
func Summarize(ctx context.Context, store core.Store, employeeID core.EntityID, month core.Date) (*Summary, error) {
	month = month.MonthStart()
	emp, err := store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, core.ErrEmployeeNotFound
	}

	adjustments, err := store.ListAdjustments(ctx, core.AdjustmentFilter{EmployeeID: employeeID, Month: month})
	if err != nil {
		return nil, err
	}
	period := core.MonthPeriod(month.Year(), month.Month())
	records, err := store.ListRecords(ctx, core.RecordFilter{EmployeeID: employeeID, From: period.Start, To: period.End})
	if err != nil {
		return nil, err
	}

	s := &Summary{
		EmployeeID:  employeeID,
		Month:       month,
		BaseSalary:  emp.MonthlySalary,
		TotalBonus:  decimal.Zero,
		TotalFine:   decimal.Zero,
		Adjustments: adjustments,
	}
	for _, a := range adjustments {
		switch a.Kind {
		case core.AdjustmentBonus:
			s.TotalBonus = s.TotalBonus.Add(a.Amount)
		case core.AdjustmentFine:
			s.TotalFine = s.TotalFine.Add(a.Amount)
		}
	}
	s.NetAdjustment = s.TotalBonus.Sub(s.TotalFine)
	s.NetSalary = s.BaseSalary.Add(s.NetAdjustment)

	for _, r := range records {
		if r.Status.CountsForPayroll() && r.IsLate() {
			s.LateDays++
		}
		if r.Status.CountsForPayroll() && r.Status != core.StatusOnLeave {
			s.WorkingDays++
		}
	}
	return s, nil
}

package attendance

import (
	"context"
	"time"

	"github.com/warp/attendance-engine/core"
)

// =============================================================================
// MONTHLY SHEET - Per-employee, per-day display grid
// =============================================================================

// StatusNotJoined marks days before an employee's hire date. It only
// appears on sheets and is never stored.
const StatusNotJoined core.Status = "Not Joined"

type SheetOptions struct {
	Year        int
	Month       time.Month
	Department  string
	Designation string
	// WeeklyOff is shown as Off Day regardless of stored records.
	WeeklyOff time.Weekday
	// Today separates past days (Absent when empty) from future ones (blank).
	Today core.Date
}

type SheetCell struct {
	Date        core.Date   `json:"date"`
	Status      core.Status `json:"status,omitempty"`
	Late        bool        `json:"late"`
	LateDisplay string      `json:"late_display,omitempty"`
	CheckIn     *time.Time  `json:"check_in,omitempty"`
	CheckOut    *time.Time  `json:"check_out,omitempty"`
}

type SheetRow struct {
	Employee core.Employee
	Cells    []SheetCell
	Totals   map[core.Status]int
	Late     int
}

type Sheet struct {
	Year  int
	Month time.Month
	Days  []core.Date
	Rows  []SheetRow
}

// BuildSheet assembles the monthly grid for every employee matching the
// department and designation filters. Active employees come first.
func BuildSheet(ctx context.Context, store core.Store, opts SheetOptions) (*Sheet, error) {
	period := core.MonthPeriod(opts.Year, opts.Month)

	employees, err := store.ListEmployees(ctx, core.EmployeeFilter{
		Department:  opts.Department,
		Designation: opts.Designation,
	})
	if err != nil {
		return nil, err
	}
	records, err := store.ListRecords(ctx, core.RecordFilter{From: period.Start, To: period.End})
	if err != nil {
		return nil, err
	}

	byDay := make(map[core.EntityID]map[string]core.AttendanceRecord)
	for _, r := range records {
		if byDay[r.EmployeeID] == nil {
			byDay[r.EmployeeID] = make(map[string]core.AttendanceRecord)
		}
		byDay[r.EmployeeID][r.Date.String()] = r
	}

	sheet := &Sheet{Year: opts.Year, Month: opts.Month, Days: period.Days()}
	var active, inactive []SheetRow
	for _, e := range employees {
		row := SheetRow{Employee: e, Totals: make(map[core.Status]int)}
		for _, d := range sheet.Days {
			var rec *core.AttendanceRecord
			if r, ok := byDay[e.ID][d.String()]; ok {
				rec = &r
			}
			cell := sheetCell(e, d, rec, opts)
			if cell.Status != "" {
				row.Totals[cell.Status]++
			}
			if cell.Late {
				row.Late++
			}
			row.Cells = append(row.Cells, cell)
		}
		if e.Active {
			active = append(active, row)
		} else {
			inactive = append(inactive, row)
		}
	}
	sheet.Rows = append(active, inactive...)
	return sheet, nil
}

func sheetCell(e core.Employee, d core.Date, rec *core.AttendanceRecord, opts SheetOptions) SheetCell {
	cell := SheetCell{Date: d}
	switch {
	case !e.Active && e.InactiveSince != nil && !d.Before(*e.InactiveSince):
		// blank
	case e.HireDate != nil && d.Before(*e.HireDate):
		cell.Status = StatusNotJoined
	case d.Weekday() == opts.WeeklyOff:
		cell.Status = core.StatusOffDay
	case rec == nil:
		if !d.After(opts.Today) {
			cell.Status = core.StatusAbsent
		}
	default:
		cell.Status = rec.Status
		if cell.Status == "" {
			cell.Status = core.StatusPending
		}
		cell.CheckIn = rec.CheckIn
		cell.CheckOut = rec.CheckOut
		if rec.IsLate() {
			cell.Late = true
			cell.LateDisplay = FormatLate(*rec.LateDuration)
		}
	}
	return cell
}

package core

// =============================================================================
// PERIOD - Inclusive range of calendar dates
// =============================================================================

// Period is an inclusive date range used for holidays, monthly payroll and
// record queries.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the date is within [Start, End].
func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns every day in the period in order.
func (p Period) Days() []Date {
	var days []Date
	for cur := p.Start; !cur.After(p.End); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	return days
}

// Validate rejects periods whose end precedes their start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

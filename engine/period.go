package engine

// =============================================================================
// PERIOD - Closed date range [Start, End]
// =============================================================================

// Period is the date range shared by terms and timetable queries.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Overlaps reports whether two closed ranges share at least one day:
// e1 >= s2 and s1 <= e2.
func (p Period) Overlaps(o Period) bool {
	return p.End.AfterOrEqual(o.Start) && p.Start.BeforeOrEqual(o.End)
}

// Days returns all days in the period.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

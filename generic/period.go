package generic

// =============================================================================
// PERIOD - Inclusive window of calendar days
// =============================================================================

// Period is the window [Start, End]. A zero End means open-ended.
//
// Examples:
//   - Expansion horizon: start date .. start + 18 months
//   - Upcoming report: as-of .. as-of + 30 days
//   - CSV export filter: from .. to
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within the period [Start, End].
func (p Period) Contains(d Date) bool {
	if !p.Start.IsZero() && d.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && d.After(p.End) {
		return false
	}
	return true
}

// IsValid reports whether the period is well formed (end not before start).
func (p Period) IsValid() bool {
	return p.Start.IsZero() || p.End.IsZero() || !p.End.Before(p.Start)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthsFrom is the period starting at start and spanning n calendar months.
func MonthsFrom(start Date, n int) Period {
	return Period{Start: start, End: start.AddMonths(n)}
}

// DaysFrom is the period starting at start and spanning n calendar days.
func DaysFrom(start Date, n int) Period {
	return Period{Start: start, End: start.AddDays(n)}
}

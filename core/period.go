package core

// =============================================================================
// PERIOD - Closed date interval [Start, End]
// =============================================================================

// Period is the date range of a fiscal year or a closing period.
// Both bounds are inclusive.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Valid reports whether Start <= End.
func (p Period) Valid() bool { return p.Start.BeforeOrEqual(p.End) }

// Clamp restricts d to the period bounds.
func (p Period) Clamp(d Date) Date {
	return MinDate(MaxDate(d, p.Start), p.End)
}

// Follows reports whether p starts the day after prev ends.
func (p Period) Follows(prev Period) bool {
	return p.Start.Equal(prev.End.AddDays(1))
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

package billing

import "time"

const dateLayout = "2006-01-02"

// Period is an inclusive range of calendar dates. Start and End carry no
// time-of-day; they are normalised to midnight UTC.
type Period struct {
	Start time.Time
	End   time.Time
}

// NewPeriod builds a period from two dates.
func NewPeriod(start, end time.Time) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, ErrInvalidPeriod
	}
	p := Period{Start: truncateDate(start), End: truncateDate(end)}
	if p.End.Before(p.Start) {
		return Period{}, ErrInvalidPeriod
	}
	return p, nil
}

// ParsePeriod parses two YYYY-MM-DD dates.
func ParsePeriod(start, end string) (Period, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return Period{}, ErrInvalidPeriod
	}
	return NewPeriod(s, e)
}

// Days is the number of standing-charge days. A same-day period counts as one.
func (p Period) Days() int64 {
	days := int64(p.End.Sub(p.Start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// ContainsLocalDate reports whether t, seen in loc, falls on a date inside the period.
func (p Period) ContainsLocalDate(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(p.Start) && !day.After(p.End)
}

// Bounds returns the half-open instant range [from, to) covering the period in loc.
func (p Period) Bounds(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	from := time.Date(p.Start.Year(), p.Start.Month(), p.Start.Day(), 0, 0, 0, 0, loc)
	to := time.Date(p.End.Year(), p.End.Month(), p.End.Day()+1, 0, 0, 0, 0, loc)
	return from, to
}

// String formats the period as start/end dates.
func (p Period) String() string {
	return p.Start.Format(dateLayout) + "/" + p.End.Format(dateLayout)
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

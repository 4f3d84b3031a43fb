package timeline

import "time"

// DefaultHorizonDays is how many days past today the default window reaches.
const DefaultHorizonDays = 3

// Window is the half-open range [Start, End) that gets bucketed by day.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DefaultWindow starts at the beginning of now's day and ends at the end
// of the day horizonDays later, which yields horizonDays+1 buckets.
func DefaultWindow(now time.Time, horizonDays int) Window {
	if horizonDays < 0 {
		horizonDays = DefaultHorizonDays
	}
	start := StartOfDay(now)
	return Window{
		Start: start,
		End:   EndOfDay(start.AddDate(0, 0, horizonDays)),
	}
}

// DaysWindow covers exactly days calendar days starting at start's day.
func DaysWindow(start time.Time, days int) Window {
	s := StartOfDay(start)
	return Window{Start: s, End: s.AddDate(0, 0, days)}
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

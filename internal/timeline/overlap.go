// Package timeline turns fetched feeds into a day-bucketed event timeline.
package timeline

import "time"

// Interval is a closed time range [Start, End].
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether a and b share at least one instant. Both ends
// are inclusive, so intervals that only touch at a boundary overlap.
// Inverted intervals (Start after End) never panic; they simply compare
// by the same rule.
func Overlaps(a, b Interval) bool {
	if a.End.Before(b.Start) {
		return false
	}
	if b.End.Before(a.Start) {
		return false
	}
	return true
}

package timeline

import (
	"fmt"
	"slices"
	"strings"
	"time"

	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
)

// Order controls how events are ordered inside a day bucket.
type Order int

const (
	// OrderStart sorts by start time; ties keep merge order.
	OrderStart Order = iota
	// OrderMerge keeps the order in which feeds and events were merged.
	OrderMerge
)

// ParseOrder maps "start" and "merge" to an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "start":
		return OrderStart, nil
	case "merge":
		return OrderMerge, nil
	default:
		return OrderStart, fmt.Errorf("unknown event order %q", s)
	}
}

func (o Order) String() string {
	if o == OrderMerge {
		return "merge"
	}
	return "start"
}

// Bucket walks win one calendar day at a time, starting at win.Start, and
// collects every event overlapping each day. The day interval runs from
// the cursor to the last instant of its calendar day, both inclusive, so
// an event ending exactly at a day's start still counts for that day. A
// zero-length event at midnight belongs to both days it separates.
//
// Events with an unusable time span are dropped before bucketing. Bucket
// has no hidden state: identical inputs give identical output.
func Bucket(win Window, events []model.TaggedEvent, order Order) []model.DayBucket {
	usable := make([]model.TaggedEvent, 0, len(events))
	for _, te := range events {
		if te.Event.SpanErr != nil {
			appLog.Debug("bucket: skipping event with invalid span", "source", te.SourceSubscriptionID, "uid", te.Event.UID)
			continue
		}
		usable = append(usable, te)
	}
	if order == OrderStart {
		slices.SortStableFunc(usable, func(a, b model.TaggedEvent) int {
			return a.Event.Start.Compare(b.Event.Start)
		})
	}

	days := make([]model.DayBucket, 0)
	for cursor := win.Start; cursor.Before(win.End); cursor = cursor.AddDate(0, 0, 1) {
		day := Interval{
			Start: cursor,
			End:   EndOfDay(cursor),
		}
		nextMidnight := StartOfDay(cursor).AddDate(0, 0, 1)

		bucket := model.DayBucket{
			Day:    StartOfDay(cursor),
			Events: make([]model.TaggedEvent, 0),
		}
		for _, te := range usable {
			if Overlaps(day, Interval{Start: te.Event.Start, End: te.Event.End}) ||
				isInstantAt(te.Event, nextMidnight) {
				bucket.Events = append(bucket.Events, te)
			}
		}
		days = append(days, bucket)
	}
	return days
}

func isInstantAt(ev model.EventRecord, t time.Time) bool {
	return ev.Start.Equal(ev.End) && ev.Start.Equal(t)
}

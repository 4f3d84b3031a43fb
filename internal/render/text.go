// Package render turns an aggregation result into plain text for the
// terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aizatto/ical-debugger/internal/model"
	"github.com/aizatto/ical-debugger/internal/timeline"
)

const (
	clockLayout    = "15:04"
	dayClockLayout = "01-02 15:04"
	triggerLayout  = "2006-01-02 15:04"
)

// Text writes every day of res followed by the feeds that failed.
func Text(w io.Writer, res timeline.Result) error {
	var b strings.Builder
	writeDays(&b, res.Days)
	writeFailures(&b, res.Feeds)
	_, err := io.WriteString(w, b.String())
	return err
}

// Days writes only the day listing.
func Days(w io.Writer, days []model.DayBucket) error {
	var b strings.Builder
	writeDays(&b, days)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeDays(b *strings.Builder, days []model.DayBucket) {
	for i, day := range days {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(day.Label())
		b.WriteByte('\n')

		if len(day.Events) == 0 {
			b.WriteString("  (no events)\n")
			continue
		}
		for _, te := range day.Events {
			writeEvent(b, day.Day, te)
		}
	}
}

func writeEvent(b *strings.Builder, day time.Time, te model.TaggedEvent) {
	ev := te.Event
	title := ev.Summary
	if title == "" {
		title = "(untitled)"
	}

	fmt.Fprintf(b, "  %s  %s\n", span(day, ev), title)
	if ev.Location != nil && *ev.Location != "" {
		fmt.Fprintf(b, "      @ %s\n", *ev.Location)
	}
	if ev.Description != nil && *ev.Description != "" {
		for _, line := range strings.Split(strings.TrimRight(*ev.Description, "\n"), "\n") {
			fmt.Fprintf(b, "      %s\n", line)
		}
	}
	if ev.RecurrenceRule != "" {
		fmt.Fprintf(b, "      (repeats: %s)\n", ev.RecurrenceRule)
	}
	for _, a := range ev.Alarms {
		writeAlarm(b, day.Location(), a)
	}
}

// span renders the event's time range as seen from day. Endpoints that
// fall on another day carry their date.
func span(day time.Time, ev model.EventRecord) string {
	if ev.AllDay {
		return "all day      "
	}
	loc := day.Location()
	return stamp(day, ev.Start.In(loc)) + " - " + stamp(day, ev.End.In(loc))
}

func stamp(day, t time.Time) string {
	if sameDay(day, t) {
		return t.Format(clockLayout)
	}
	return t.Format(dayClockLayout)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func writeAlarm(b *strings.Builder, loc *time.Location, a model.AlarmRecord) {
	action := a.Action
	if action == "" {
		action = "ALARM"
	}
	line := "      ! " + action
	if a.Description != nil && *a.Description != "" {
		line += fmt.Sprintf(" %q", *a.Description)
	}
	switch {
	case a.Trigger != nil:
		line += " at " + a.Trigger.In(loc).Format(triggerLayout)
	case a.TriggerRaw != "":
		line += " trigger " + a.TriggerRaw
	}
	b.WriteString(line)
	b.WriteByte('\n')
}

func writeFailures(b *strings.Builder, feeds []timeline.FeedStatus) {
	var failed []timeline.FeedStatus
	for _, f := range feeds {
		if !f.OK() {
			failed = append(failed, f)
		}
	}
	if len(failed) == 0 {
		return
	}

	b.WriteString("\nUnavailable feeds:\n")
	for _, f := range failed {
		stage := "fetch"
		if f.Fetched {
			stage = "parse"
		}
		fmt.Fprintf(b, "  - %s (%s failed): %s\n", f.SubscriptionID, stage, f.Error)
	}
}

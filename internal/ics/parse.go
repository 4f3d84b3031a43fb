package ics

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
)

// ParseFeed parses an ICS payload into EventRecords, in document order.
//
//   - The payload may hold several VCALENDAR blocks; events from all of
//     them are returned.
//   - Text without any calendar block, or a block the underlying library
//     rejects, fails the whole feed with ErrParse.
//   - An event whose DTSTART/DTEND cannot be read is still returned, with
//     SpanErr set, so the caller can exclude it from bucketing.
//   - RRULE is normalized but never expanded.
//   - DATE values and floating DATE-TIMEs are read in loc (time.Local when
//     nil), so all-day events land on the day they name in that zone.
func ParseFeed(src Source, text string, loc *time.Location) ([]model.EventRecord, error) {
	if loc == nil {
		loc = time.Local
	}
	blocks := splitCalendars(text)
	if len(blocks) == 0 {
		err := fmt.Errorf("%w: no VCALENDAR block", ErrParse)
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]model.EventRecord, 0)
	for i, block := range blocks {
		cal, err := ical.ParseCalendar(strings.NewReader(block))
		if err != nil {
			err = fmt.Errorf("%w: calendar %d: %w", ErrParse, i, err)
			appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
			return nil, err
		}

		for _, ve := range cal.Events() {
			ev := parseVEvent(ve, loc)
			if ev.SpanErr != nil {
				appLog.Error("ics vevent has unusable time span", ev.SpanErr, "id", src.ID, "uid", ev.UID)
			}
			events = append(events, ev)
		}
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "calendars", len(blocks), "event_count", len(events))
	return events, nil
}

// splitCalendars cuts text into BEGIN:VCALENDAR..END:VCALENDAR blocks.
// Anything outside a block is ignored. An unterminated trailing block is
// returned as-is and left for the parser to reject.
func splitCalendars(text string) []string {
	text = strings.TrimPrefix(text, "\uFEFF")

	var (
		blocks  []string
		current strings.Builder
		inBlock bool
	)

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), len(text)+1)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		marker := strings.ToUpper(strings.TrimSpace(line))

		if !inBlock {
			if marker == "BEGIN:VCALENDAR" {
				inBlock = true
				current.Reset()
				current.WriteString(line)
				current.WriteString("\r\n")
			}
			continue
		}

		current.WriteString(line)
		current.WriteString("\r\n")
		if marker == "END:VCALENDAR" {
			blocks = append(blocks, current.String())
			inBlock = false
		}
	}
	if inBlock {
		blocks = append(blocks, current.String())
	}
	return blocks
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) model.EventRecord {
	var out model.EventRecord

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = stringPtr(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = stringPtr(p.Value)
	}

	// SEQUENCE (optional, used for versioning)
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Sequence = &n
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyCreated); p != nil {
		if t, err := parsePropTime(p, loc); err == nil {
			out.Created = &t
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyDtstamp); p != nil {
		if t, err := parsePropTime(p, loc); err == nil {
			out.Stamp = &t
		}
	}

	out.Start, out.End, out.AllDay, out.SpanErr = parseSpan(ve, loc)

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		opt, err := rrule.StrToROption(p.Value)
		if err != nil {
			appLog.Debug("ics dropping invalid RRULE", "uid", out.UID, "rrule", p.Value, "err", err)
		} else {
			out.RecurrenceRule = opt.RRuleString()
		}
	}

	for _, comp := range ve.Components {
		alarm, ok := comp.(*ical.VAlarm)
		if !ok {
			continue
		}
		out.Alarms = append(out.Alarms, parseVAlarm(alarm, out, loc))
	}

	return out
}

// parseSpan reads DTSTART/DTEND. A missing DTEND means a one-day event for
// DATE values and a zero-length event otherwise.
func parseSpan(ve *ical.VEvent, loc *time.Location) (start, end time.Time, allDay bool, err error) {
	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil {
		return start, end, false, fmt.Errorf("%w: missing DTSTART", ErrEventField)
	}
	allDay = isDateValue(startProp)

	start, err = spanTime(startProp, ve.GetStartAt, loc)
	if err != nil {
		return start, end, allDay, fmt.Errorf("%w: DTSTART %q: %w", ErrEventField, startProp.Value, err)
	}

	endProp := ve.GetProperty(ical.ComponentPropertyDtEnd)
	if endProp == nil {
		if allDay {
			return start, start.AddDate(0, 0, 1), allDay, nil
		}
		return start, start, allDay, nil
	}

	end, err = spanTime(endProp, ve.GetEndAt, loc)
	if err != nil {
		return start, end, allDay, fmt.Errorf("%w: DTEND %q: %w", ErrEventField, endProp.Value, err)
	}
	return start, end, allDay, nil
}

func parseVAlarm(va *ical.VAlarm, ev model.EventRecord, loc *time.Location) model.AlarmRecord {
	var out model.AlarmRecord

	if p := va.GetProperty(ical.ComponentPropertyAction); p != nil {
		out.Action = p.Value
	}
	if p := va.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = stringPtr(p.Value)
	}

	p := va.GetProperty(ical.ComponentPropertyTrigger)
	if p == nil {
		return out
	}
	out.TriggerRaw = p.Value

	if strings.EqualFold(paramValue(p, "VALUE"), "DATE-TIME") {
		if t, err := parsePropTime(p, loc); err == nil {
			out.Trigger = &t
		}
		return out
	}

	d, err := parseDuration(p.Value)
	if err != nil {
		// Some producers omit VALUE=DATE-TIME on absolute triggers.
		if t, terr := parsePropTime(p, loc); terr == nil {
			out.Trigger = &t
		}
		return out
	}
	if ev.SpanErr != nil {
		return out
	}

	anchor := ev.Start
	if strings.EqualFold(paramValue(p, "RELATED"), "END") {
		anchor = ev.End
	}
	t := anchor.Add(d)
	out.Trigger = &t
	return out
}

func isDateValue(p *ical.IANAProperty) bool {
	if strings.EqualFold(paramValue(p, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func paramValue(p *ical.IANAProperty, name string) string {
	if p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// spanTime reads DTSTART/DTEND. Zoned and UTC values go through the
// library; floating and DATE values are anchored in loc.
func spanTime(p *ical.IANAProperty, zoned func() (time.Time, error), loc *time.Location) (time.Time, error) {
	if isFloating(p) {
		return parseICSTime(p.Value, loc)
	}
	return zoned()
}

// isFloating reports a value with neither TZID nor a UTC suffix.
func isFloating(p *ical.IANAProperty) bool {
	if paramValue(p, "TZID") != "" {
		return false
	}
	return !strings.HasSuffix(strings.ToUpper(strings.TrimSpace(p.Value)), "Z")
}

// parsePropTime parses a DATE or DATE-TIME property, honouring TZID when
// the zone is known to the system tz database. Floating values use loc.
func parsePropTime(p *ical.IANAProperty, loc *time.Location) (time.Time, error) {
	if tzid := paramValue(p, "TZID"); tzid != "" {
		l, err := time.LoadLocation(strings.Trim(tzid, `"`))
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown TZID %q: %w", tzid, err)
		}
		loc = l
	}
	return parseICSTime(p.Value, loc)
}

// parseICSTime parses a basic ICS date/date-time string into time.Time.
// Floating and date-only values are interpreted in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}

// parseDuration parses an RFC 5545 dur-value such as "-PT15M", "P1D" or
// "P1W".
func parseDuration(v string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToUpper(v))
	if s == "" {
		return 0, errors.New("empty duration")
	}

	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) == 1 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var (
		total   time.Duration
		inTime  bool
		num     int
		haveNum bool
		units   int
	)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			haveNum = true
			continue
		case r == 'T':
			if inTime || haveNum {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}

		if !haveNum {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n := time.Duration(num)
		switch {
		case r == 'W' && !inTime:
			total += n * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += n * 24 * time.Hour
		case r == 'H' && inTime:
			total += n * time.Hour
		case r == 'M' && inTime:
			total += n * time.Minute
		case r == 'S' && inTime:
			total += n * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num, haveNum = 0, false
		units++
	}
	if haveNum || units == 0 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}

func stringPtr(s string) *string {
	return &s
}

package model

import "time"

// Subscription is a single calendar feed the user registered.
// Identity is ID; URL and Enabled are edited in place.
type Subscription struct {
	ID      string `yaml:"id" json:"id"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
	URL     string `yaml:"url" json:"url"`
}

// FetchResult is the outcome of one fetch attempt for one subscription.
// RawText is nil iff Success is false.
type FetchResult struct {
	SubscriptionID string
	URL            string
	Success        bool
	RawText        *string

	// FromCache is true when a 304 reply let us reuse the cached body.
	FromCache bool
	// Err holds the failure cause when Success is false.
	Err error
}

// EventRecord is a VEVENT normalized out of a feed. Optional properties
// are pointers so that "not present" differs from "present but empty".
type EventRecord struct {
	// UID is unique within its source feed only.
	UID     string `json:"uid"`
	Summary string `json:"summary"`

	Description *string `json:"description,omitempty"`
	Location    *string `json:"location,omitempty"`

	Created  *time.Time `json:"created,omitempty"`
	Stamp    *time.Time `json:"stamp,omitempty"`
	Sequence *int       `json:"sequence,omitempty"`

	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`

	// RecurrenceRule is the normalized RRULE, if the event declared a valid
	// one. Occurrences are never expanded; the event is bucketed once.
	RecurrenceRule string `json:"recurrence_rule,omitempty"`

	// Alarms is nil when the event has no VALARM components.
	Alarms []AlarmRecord `json:"alarms,omitempty"`

	// SpanErr is set when DTSTART/DTEND could not be parsed. Such events
	// are never placed in a day bucket.
	SpanErr error `json:"-"`
}

// AlarmRecord is a VALARM nested in an event.
type AlarmRecord struct {
	Action      string     `json:"action"`
	Description *string    `json:"description,omitempty"`
	Trigger     *time.Time `json:"trigger,omitempty"`
	// TriggerRaw is the TRIGGER value as written in the feed.
	TriggerRaw string `json:"trigger_raw,omitempty"`
}

// TaggedEvent carries an event together with the subscription it came from.
type TaggedEvent struct {
	SourceSubscriptionID string      `json:"source_subscription_id"`
	Event                EventRecord `json:"event"`
}

// DayBucket holds every event overlapping one calendar day. Day is
// midnight of that day in the window's location.
type DayBucket struct {
	Day    time.Time     `json:"day"`
	Events []TaggedEvent `json:"events"`
}

// Label renders the bucket's day as "2006-01-02 Monday".
func (b DayBucket) Label() string {
	return b.Day.Format("2006-01-02 Monday")
}

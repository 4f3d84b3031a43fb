package ics

import "errors"

// Failure classes. Feed-scoped failures (ErrFetch, ErrParse) drop a single
// feed's contribution; ErrEventField drops a single event.
var (
	ErrFetch      = errors.New("ics: fetch failed")
	ErrParse      = errors.New("ics: malformed calendar")
	ErrEventField = errors.New("ics: invalid event field")
)

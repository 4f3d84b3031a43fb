// Package scheduler drives periodic feed refreshes from a cron expression.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/aizatto/ical-debugger/internal/log"
)

type Scheduler struct {
	cron *cron.Cron
	spec string
	loc  *time.Location
}

// New registers job to run on spec, evaluated in loc. Accepts the standard
// five-field syntax and descriptors such as "@every 10m".
func New(spec string, loc *time.Location, job func()) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	if job == nil {
		return nil, fmt.Errorf("scheduler: nil job")
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		appLog.Debug("scheduled refresh", "spec", spec)
		job()
	}); err != nil {
		return nil, fmt.Errorf("add refresh job %q: %w", spec, err)
	}

	return &Scheduler{cron: c, spec: spec, loc: loc}, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("scheduler started", "spec", s.spec, "timezone", s.loc.String())
}

// Stop halts the schedule and waits for a running job to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("scheduler stopped")
}

// Next reports when the job fires next. Zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

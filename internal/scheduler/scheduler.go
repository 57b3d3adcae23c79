// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package scheduler fires named jobs on cron schedules. It only decides WHEN
// work happens; the orchestrator consumes the fire channel and decides WHAT
// runs, including skipping fires that land while the same job is in flight.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/arkivist/internal/logging"
)

// Fire is one due job occurrence.
type Fire struct {
	// Job is the registered job name.
	Job string

	// Due is the schedule time the fire represents.
	Due time.Time
}

// job is one registered schedule.
type job struct {
	name     string
	spec     string
	schedule cron.Schedule
	next     time.Time
}

// Scheduler drives registered cron schedules and emits fires on a channel.
// It implements suture.Service.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job

	fires chan Fire

	// now and after are swappable for tests.
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		jobs:  make(map[string]*job),
		fires: make(chan Fire, 16),
		now:   time.Now,
		after: func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
}

// Add registers a job under a standard 5-field cron spec. Jobs must be
// registered before Serve starts.
func (s *Scheduler) Add(name, spec string) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q for job %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job already registered: %s", name)
	}
	s.jobs[name] = &job{name: name, spec: spec, schedule: schedule}
	return nil
}

// Fires is the channel due jobs are emitted on.
func (s *Scheduler) Fires() <-chan Fire {
	return s.fires
}

// NextRuns reports each job's next fire time.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make(map[string]time.Time, len(s.jobs))
	for name, j := range s.jobs {
		if j.next.IsZero() {
			j.next = j.schedule.Next(s.now())
		}
		runs[name] = j.next
	}
	return runs
}

// Serve runs the timer loop until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	now := s.now()
	for _, j := range s.jobs {
		j.next = j.schedule.Next(now)
		logging.Debug().Str("job", j.name).Str("spec", j.spec).Time("next", j.next).Msg("Job scheduled")
	}
	s.mu.Unlock()

	for {
		wait, due := s.soonest()
		if due == nil {
			// Nothing registered; idle until shutdown.
			<-ctx.Done()
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(wait):
			s.fireDue()
		}
	}
}

// soonest returns the wait until the earliest next fire.
func (s *Scheduler) soonest() (time.Duration, *job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var earliest *job
	for _, j := range s.jobs {
		if earliest == nil || j.next.Before(earliest.next) {
			earliest = j
		}
	}
	if earliest == nil {
		return 0, nil
	}

	wait := earliest.next.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	return wait, earliest
}

// fireDue emits every job whose next time has arrived and advances it. A
// full fire channel drops the occurrence rather than stalling the loop; the
// consumer was still busy with the previous one.
func (s *Scheduler) fireDue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].name < due[k].name })

	for _, j := range due {
		fire := Fire{Job: j.name, Due: j.next}
		j.next = j.schedule.Next(now)

		select {
		case s.fires <- fire:
		default:
			logging.Warn().Str("job", j.name).Time("due", fire.Due).Msg("Fire channel full, occurrence dropped")
		}
	}
}

func (s *Scheduler) String() string { return "scheduler" }

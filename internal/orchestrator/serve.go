// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/logging"
	"github.com/tomtom215/arkivist/internal/metrics"
	"github.com/tomtom215/arkivist/internal/scheduler"
)

// Scheduled job names consumed from the scheduler's fire channel.
const (
	JobFileFull        = "file-full"
	JobFileIncremental = "file-incremental"
	JobDatabase        = "database"
	JobRetention       = "retention"
	JobHarnessDaily    = "harness-daily"
	JobHarnessWeekly   = "harness-weekly"
	JobHarnessMonthly  = "harness-monthly"
)

// SuiteRunner runs one validation suite tier. Suite runs are sandboxed and
// read-only with respect to production artifacts, so they bypass the
// per-kind in-flight guard entirely.
type SuiteRunner interface {
	Run(ctx context.Context, tier string) error
}

// SetSuiteRunner attaches the validation harness. Harness fires are dropped
// with a warning when no runner is attached.
func (o *Orchestrator) SetSuiteRunner(suites SuiteRunner) {
	o.suites = suites
}

// Serve consumes scheduler fires until ctx is cancelled. Each fire runs in
// its own goroutine; the per-kind in-flight guard turns overlapping fires
// into skip-and-log, never a queue. It implements suture.Service.
func (o *Orchestrator) Serve(ctx context.Context) error {
	if o.sched == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fire, ok := <-o.sched.Fires():
			if !ok {
				return ctx.Err()
			}
			go o.dispatch(ctx, fire)
		}
	}
}

func (o *Orchestrator) String() string { return "orchestrator" }

// dispatch runs one scheduled fire.
func (o *Orchestrator) dispatch(ctx context.Context, fire scheduler.Fire) {
	var err error
	switch fire.Job {
	case JobFileFull:
		_, err = o.RunFullBackup(ctx, artifact.TriggerScheduled)
	case JobFileIncremental:
		_, err = o.RunIncrementalBackup(ctx, artifact.TriggerScheduled)
	case JobDatabase:
		_, err = o.RunDatabaseBackup(ctx, artifact.TriggerScheduled)
	case JobRetention:
		_, err = o.RunRetention(ctx)
	case JobHarnessDaily, JobHarnessWeekly, JobHarnessMonthly:
		if o.suites == nil {
			logging.Warn().Str("job", fire.Job).Msg("No suite runner attached, harness fire dropped")
			return
		}
		err = o.suites.Run(ctx, strings.TrimPrefix(fire.Job, "harness-"))
	default:
		logging.Warn().Str("job", fire.Job).Msg("Unknown scheduled job")
		return
	}

	if errors.Is(err, ErrJobInFlight) {
		metrics.RecordFire(fire.Job, false)
		logging.Warn().
			Str("job", fire.Job).
			Time("due", fire.Due).
			Msg("Scheduled fire skipped, previous run still in flight")
		return
	}
	metrics.RecordFire(fire.Job, true)
	if err != nil {
		logging.Err(err).Str("job", fire.Job).Msg("Scheduled run failed")
	}
}

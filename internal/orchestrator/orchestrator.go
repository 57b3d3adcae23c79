// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package orchestrator coordinates the backup engines, retention, and the
// scheduler into complete runs: full backups (file plus database,
// concurrently), incrementals, database-only backups, fleet-wide
// verification, and the backup health assessment.
//
// At most one run per artifact kind is in flight at any time. A scheduled
// fire that lands while the same kind is busy is skipped and logged, never
// queued; a manual trigger in the same situation gets ErrJobInFlight.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/arkivist/internal/alerting"
	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/dbback"
	"github.com/tomtom215/arkivist/internal/fileback"
	"github.com/tomtom215/arkivist/internal/logging"
	"github.com/tomtom215/arkivist/internal/metrics"
	"github.com/tomtom215/arkivist/internal/retention"
	"github.com/tomtom215/arkivist/internal/scheduler"
)

// ErrJobInFlight indicates a run of the same kind is already in progress.
var ErrJobInFlight = errors.New("a job of this kind is already in flight")

// FileEngine is the file backup surface the orchestrator drives.
type FileEngine interface {
	CreateBackup(ctx context.Context, manifest artifact.Manifest, typ artifact.Type, trigger artifact.Trigger) (*artifact.Artifact, error)
	Verify(ctx context.Context, id string) (*fileback.VerifyResult, error)
}

// DatabaseEngine is the database backup surface the orchestrator drives.
type DatabaseEngine interface {
	CreateBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error)
	Verify(ctx context.Context, id string) (*dbback.VerifyResult, error)
}

// Pruner is the retention surface the orchestrator drives.
type Pruner interface {
	Prune(ctx context.Context) (*retention.Result, error)
}

// Options configures the orchestrator.
type Options struct {
	// Manifest is the file backup rule set.
	Manifest artifact.Manifest

	// EngineTimeout bounds each engine run.
	EngineTimeout time.Duration

	// StaleAfter is the backup freshness SLA.
	StaleAfter time.Duration

	// HistoryLimit bounds the in-memory run log.
	HistoryLimit int
}

// Orchestrator coordinates backup runs.
type Orchestrator struct {
	catalog *artifact.Catalog
	files   FileEngine
	db      DatabaseEngine
	pruner  Pruner
	sched   *scheduler.Scheduler
	bus     *alerting.Bus
	suites  SuiteRunner
	opts    Options

	history *history

	mu         sync.Mutex
	inflight   map[artifact.Kind]bool
	lastHealth map[artifact.Kind]HealthState

	// now is swappable for tests.
	now func() time.Time
}

// New creates an orchestrator.
func New(catalog *artifact.Catalog, files FileEngine, db DatabaseEngine, pruner Pruner, sched *scheduler.Scheduler, bus *alerting.Bus, opts Options) *Orchestrator {
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = time.Hour
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 36 * time.Hour
	}
	return &Orchestrator{
		catalog:  catalog,
		files:    files,
		db:       db,
		pruner:   pruner,
		sched:    sched,
		bus:      bus,
		opts:     opts,
		history:  newHistory(opts.HistoryLimit),
		inflight: make(map[artifact.Kind]bool),
		now:      time.Now,
	}
}

// acquire claims the kinds for one run.
func (o *Orchestrator) acquire(kinds ...artifact.Kind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, k := range kinds {
		if o.inflight[k] {
			return fmt.Errorf("%w: %s", ErrJobInFlight, k)
		}
	}
	for _, k := range kinds {
		o.inflight[k] = true
	}
	return nil
}

func (o *Orchestrator) release(kinds ...artifact.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, k := range kinds {
		o.inflight[k] = false
	}
}

// RunFullBackup runs a full file backup and a database backup concurrently.
// Partial failure is reported but does not cancel the surviving half.
func (o *Orchestrator) RunFullBackup(ctx context.Context, trigger artifact.Trigger) ([]*artifact.Artifact, error) {
	if err := o.acquire(artifact.KindFile, artifact.KindDatabase); err != nil {
		return nil, err
	}
	defer o.release(artifact.KindFile, artifact.KindDatabase)

	start := o.now()
	var wg sync.WaitGroup
	var fileArt, dbArt *artifact.Artifact
	var fileErr, dbErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		fileArt, fileErr = o.runFile(ctx, artifact.TypeFull, trigger)
	}()
	go func() {
		defer wg.Done()
		dbArt, dbErr = o.runDatabase(ctx, trigger)
	}()
	wg.Wait()

	var artifacts []*artifact.Artifact
	for _, a := range []*artifact.Artifact{fileArt, dbArt} {
		if a != nil {
			artifacts = append(artifacts, a)
		}
	}
	err := errors.Join(fileErr, dbErr)

	o.finishRun("full_backup", trigger, start, artifacts, err)
	if fileErr == nil || dbErr == nil {
		o.runRetention(ctx)
	}
	o.publishHealth()
	return artifacts, err
}

// RunIncrementalBackup runs an incremental file backup.
func (o *Orchestrator) RunIncrementalBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error) {
	if err := o.acquire(artifact.KindFile); err != nil {
		return nil, err
	}
	defer o.release(artifact.KindFile)

	start := o.now()
	a, err := o.runFile(ctx, artifact.TypeIncremental, trigger)

	var artifacts []*artifact.Artifact
	if a != nil {
		artifacts = append(artifacts, a)
	}
	o.finishRun("incremental_backup", trigger, start, artifacts, err)
	if err == nil {
		o.runRetention(ctx)
	}
	o.publishHealth()
	return a, err
}

// RunDifferentialBackup runs a differential file backup.
func (o *Orchestrator) RunDifferentialBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error) {
	if err := o.acquire(artifact.KindFile); err != nil {
		return nil, err
	}
	defer o.release(artifact.KindFile)

	start := o.now()
	a, err := o.runFile(ctx, artifact.TypeDifferential, trigger)

	var artifacts []*artifact.Artifact
	if a != nil {
		artifacts = append(artifacts, a)
	}
	o.finishRun("differential_backup", trigger, start, artifacts, err)
	if err == nil {
		o.runRetention(ctx)
	}
	o.publishHealth()
	return a, err
}

// RunDatabaseBackup runs a database-only backup.
func (o *Orchestrator) RunDatabaseBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error) {
	if err := o.acquire(artifact.KindDatabase); err != nil {
		return nil, err
	}
	defer o.release(artifact.KindDatabase)

	start := o.now()
	a, err := o.runDatabase(ctx, trigger)

	var artifacts []*artifact.Artifact
	if a != nil {
		artifacts = append(artifacts, a)
	}
	o.finishRun("database_backup", trigger, start, artifacts, err)
	if err == nil {
		o.runRetention(ctx)
	}
	o.publishHealth()
	return a, err
}

// runFile executes one file engine run under the engine timeout.
func (o *Orchestrator) runFile(ctx context.Context, typ artifact.Type, trigger artifact.Trigger) (*artifact.Artifact, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.opts.EngineTimeout)
	defer cancel()

	start := o.now()
	a, err := o.files.CreateBackup(runCtx, o.opts.Manifest, typ, trigger)

	var size int64
	var warnings int
	if a != nil {
		size = a.SizeBytes
		warnings = len(a.Warnings)
	}
	metrics.RecordBackup(string(artifact.KindFile), string(typ), o.now().Sub(start), size, warnings, err)

	if err != nil {
		o.alertBackupFailed(artifact.KindFile, a, err)
	}
	return a, err
}

// runDatabase executes one database engine run under the engine timeout.
func (o *Orchestrator) runDatabase(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.opts.EngineTimeout)
	defer cancel()

	start := o.now()
	a, err := o.db.CreateBackup(runCtx, trigger)

	var size int64
	if a != nil {
		size = a.SizeBytes
	}
	metrics.RecordBackup(string(artifact.KindDatabase), string(artifact.TypeFull), o.now().Sub(start), size, 0, err)

	if err != nil {
		o.alertBackupFailed(artifact.KindDatabase, a, err)
	}
	return a, err
}

// runRetention prunes after a successful run. Retention failures never fail
// the backup that triggered them.
func (o *Orchestrator) runRetention(ctx context.Context) {
	result, err := o.pruner.Prune(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("Retention pass failed")
		return
	}
	metrics.RecordRetention(len(result.Deleted), result.BytesFreed)
	if len(result.Deleted) > 0 && o.bus != nil {
		o.publish(alerting.Event{
			Type:     alerting.EventRetentionCompleted,
			Severity: alerting.SeverityInfo,
			Message:  fmt.Sprintf("retention deleted %d artifacts", len(result.Deleted)),
			Fields:   map[string]string{"bytes_freed": fmt.Sprintf("%d", result.BytesFreed)},
		})
	}
}

// RunRetention runs a pruning pass on demand.
func (o *Orchestrator) RunRetention(ctx context.Context) (*retention.Result, error) {
	result, err := o.pruner.Prune(ctx)
	if err != nil {
		return nil, err
	}
	metrics.RecordRetention(len(result.Deleted), result.BytesFreed)
	return result, nil
}

// finishRun records history and logs the outcome.
func (o *Orchestrator) finishRun(operation string, trigger artifact.Trigger, start time.Time, artifacts []*artifact.Artifact, err error) {
	rec := RunRecord{
		Operation:  operation,
		Trigger:    string(trigger),
		StartedAt:  start,
		FinishedAt: o.now(),
		Outcome:    "success",
	}
	for _, a := range artifacts {
		rec.ArtifactIDs = append(rec.ArtifactIDs, a.ID)
	}
	if err != nil {
		rec.Outcome = "failure"
		rec.Error = err.Error()
	}
	o.history.add(rec)

	evt := logging.Info()
	if err != nil {
		evt = logging.Err(err)
	}
	evt.Str("operation", operation).
		Str("trigger", string(trigger)).
		Dur("took", rec.FinishedAt.Sub(start)).
		Strs("artifacts", rec.ArtifactIDs).
		Msg("Run finished")
}

func (o *Orchestrator) alertBackupFailed(kind artifact.Kind, a *artifact.Artifact, err error) {
	if o.bus == nil {
		return
	}
	fields := map[string]string{"kind": string(kind)}
	if a != nil {
		fields["artifact_id"] = a.ID
	}
	o.publish(alerting.Event{
		Type:     alerting.EventBackupFailed,
		Severity: alerting.SeverityCritical,
		Message:  fmt.Sprintf("%s backup failed: %v", kind, err),
		Fields:   fields,
	})
}

func (o *Orchestrator) publish(event alerting.Event) {
	if err := o.bus.Publish(event); err != nil {
		logging.Warn().Err(err).Str("type", string(event.Type)).Msg("Failed to publish alert")
	}
}

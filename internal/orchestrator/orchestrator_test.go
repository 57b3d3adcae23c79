// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/dbback"
	"github.com/tomtom215/arkivist/internal/fileback"
	"github.com/tomtom215/arkivist/internal/retention"
)

// fakeFileEngine records calls and returns canned artifacts.
type fakeFileEngine struct {
	mu      sync.Mutex
	calls   []artifact.Type
	err     error
	block   chan struct{}
	invalid map[string]bool
}

func (f *fakeFileEngine) CreateBackup(ctx context.Context, _ artifact.Manifest, typ artifact.Type, trigger artifact.Trigger) (*artifact.Artifact, error) {
	f.mu.Lock()
	f.calls = append(f.calls, typ)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Artifact{
		ID:     uuid.New().String(),
		Kind:   artifact.KindFile,
		Type:   typ,
		Status: artifact.StatusCompleted,
	}, nil
}

func (f *fakeFileEngine) Verify(_ context.Context, id string) (*fileback.VerifyResult, error) {
	if f.invalid[id] {
		return &fileback.VerifyResult{ArtifactID: id, Valid: false, Problems: []string{"digest mismatch"}}, nil
	}
	return &fileback.VerifyResult{ArtifactID: id, Valid: true}, nil
}

func (f *fakeFileEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeDBEngine mirrors fakeFileEngine for the database side.
type fakeDBEngine struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeDBEngine) CreateBackup(_ context.Context, trigger artifact.Trigger) (*artifact.Artifact, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &artifact.Artifact{
		ID:     uuid.New().String(),
		Kind:   artifact.KindDatabase,
		Type:   artifact.TypeFull,
		Status: artifact.StatusCompleted,
	}, nil
}

func (f *fakeDBEngine) Verify(_ context.Context, id string) (*dbback.VerifyResult, error) {
	return &dbback.VerifyResult{ArtifactID: id, Valid: true}, nil
}

// fakePruner counts pruning passes.
type fakePruner struct {
	mu    sync.Mutex
	calls int
}

func (f *fakePruner) Prune(_ context.Context) (*retention.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return &retention.Result{}, nil
}

func (f *fakePruner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestOrchestrator(t *testing.T, files FileEngine, db DatabaseEngine, pruner Pruner) (*Orchestrator, *artifact.Catalog) {
	t.Helper()

	catalog, err := artifact.OpenCatalog(filepath.Join(t.TempDir(), "catalog"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() }) //nolint:errcheck // Test cleanup

	o := New(catalog, files, db, pruner, nil, nil, Options{
		Manifest:   artifact.Manifest{Include: []string{"/srv/data"}},
		StaleAfter: 36 * time.Hour,
	})
	return o, catalog
}

func TestRunFullBackupRunsBothAndPrunes(t *testing.T) {
	files := &fakeFileEngine{}
	db := &fakeDBEngine{}
	pruner := &fakePruner{}
	o, _ := newTestOrchestrator(t, files, db, pruner)

	artifacts, err := o.RunFullBackup(context.Background(), artifact.TriggerManual)
	if err != nil {
		t.Fatalf("RunFullBackup failed: %v", err)
	}
	if len(artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(artifacts))
	}
	if files.callCount() != 1 || db.calls != 1 {
		t.Errorf("expected one call per engine, got file=%d db=%d", files.callCount(), db.calls)
	}
	if pruner.callCount() != 1 {
		t.Errorf("expected a retention pass, got %d", pruner.callCount())
	}

	runs := o.history.recent(10)
	if len(runs) != 1 || runs[0].Operation != "full_backup" || runs[0].Outcome != "success" {
		t.Errorf("unexpected history: %+v", runs)
	}
}

func TestRunFullBackupPartialFailure(t *testing.T) {
	files := &fakeFileEngine{}
	db := &fakeDBEngine{err: errors.New("connection refused")}
	pruner := &fakePruner{}
	o, _ := newTestOrchestrator(t, files, db, pruner)

	artifacts, err := o.RunFullBackup(context.Background(), artifact.TriggerScheduled)
	if err == nil {
		t.Fatal("expected the database failure to surface")
	}
	if len(artifacts) != 1 || artifacts[0].Kind != artifact.KindFile {
		t.Fatalf("expected the file artifact to survive, got %+v", artifacts)
	}
	// One half succeeded, so retention still runs.
	if pruner.callCount() != 1 {
		t.Errorf("expected a retention pass, got %d", pruner.callCount())
	}

	runs := o.history.recent(1)
	if runs[0].Outcome != "failure" {
		t.Errorf("expected a failure record, got %+v", runs[0])
	}
}

func TestInFlightGuard(t *testing.T) {
	files := &fakeFileEngine{block: make(chan struct{})}
	db := &fakeDBEngine{}
	o, _ := newTestOrchestrator(t, files, db, &fakePruner{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = o.RunIncrementalBackup(context.Background(), artifact.TriggerScheduled)
	}()

	// Wait for the first run to hold the file kind.
	for i := 0; files.callCount() == 0 && i < 200; i++ {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := o.RunIncrementalBackup(context.Background(), artifact.TriggerManual); !errors.Is(err, ErrJobInFlight) {
		t.Fatalf("expected ErrJobInFlight, got %v", err)
	}
	// A full backup needs the file kind too.
	if _, err := o.RunFullBackup(context.Background(), artifact.TriggerManual); !errors.Is(err, ErrJobInFlight) {
		t.Fatalf("expected ErrJobInFlight for the full backup, got %v", err)
	}
	// The database kind is free.
	if _, err := o.RunDatabaseBackup(context.Background(), artifact.TriggerManual); err != nil {
		t.Fatalf("database backup should not be blocked: %v", err)
	}

	close(files.block)
	<-done

	// The guard releases once the run finishes.
	if _, err := o.RunIncrementalBackup(context.Background(), artifact.TriggerManual); err != nil {
		t.Fatalf("guard did not release: %v", err)
	}
}

func TestVerifyAll(t *testing.T) {
	files := &fakeFileEngine{invalid: make(map[string]bool)}
	db := &fakeDBEngine{}
	o, catalog := newTestOrchestrator(t, files, db, &fakePruner{})

	good := &artifact.Artifact{ID: uuid.New().String(), Kind: artifact.KindFile, Type: artifact.TypeFull, Status: artifact.StatusCompleted, CreatedAt: time.Now()}
	bad := &artifact.Artifact{ID: uuid.New().String(), Kind: artifact.KindFile, Type: artifact.TypeFull, Status: artifact.StatusCompleted, CreatedAt: time.Now()}
	failed := &artifact.Artifact{ID: uuid.New().String(), Kind: artifact.KindFile, Type: artifact.TypeFull, Status: artifact.StatusFailed, CreatedAt: time.Now()}
	dbArt := &artifact.Artifact{ID: uuid.New().String(), Kind: artifact.KindDatabase, Type: artifact.TypeFull, Status: artifact.StatusVerified, CreatedAt: time.Now()}
	for _, a := range []*artifact.Artifact{good, bad, failed, dbArt} {
		if err := catalog.Put(a); err != nil {
			t.Fatalf("failed to seed catalog: %v", err)
		}
	}
	files.invalid[bad.ID] = true

	summary, err := o.VerifyAll(context.Background())
	if err != nil {
		t.Fatalf("VerifyAll failed: %v", err)
	}
	// The failed artifact is not usable and must be skipped.
	if summary.Checked != 3 {
		t.Errorf("expected 3 checked, got %d", summary.Checked)
	}
	if summary.Valid != 2 || summary.Invalid != 1 {
		t.Errorf("expected 2 valid / 1 invalid, got %d/%d", summary.Valid, summary.Invalid)
	}
	if problems := summary.Failures[bad.ID]; len(problems) == 0 {
		t.Errorf("expected problems for %s, got %v", bad.ID, summary.Failures)
	}
}

func TestAssessHealth(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	sla := 36 * time.Hour

	mk := func(age time.Duration) *artifact.Artifact {
		return &artifact.Artifact{ID: "a", CreatedAt: now.Add(-age)}
	}

	tests := []struct {
		name      string
		latest    *artifact.Artifact
		attempted bool
		want      HealthState
	}{
		{"never attempted", nil, false, HealthUnknown},
		{"attempted but never succeeded", nil, true, HealthCritical},
		{"fresh", mk(2 * time.Hour), true, HealthHealthy},
		{"at the SLA boundary", mk(36 * time.Hour), true, HealthHealthy},
		{"stale", mk(48 * time.Hour), true, HealthStale},
		{"long overdue is still stale, not critical", mk(500 * time.Hour), true, HealthStale},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assessHealth(tt.latest, tt.attempted, now, sla)
			if got.State != tt.want {
				t.Errorf("assessHealth() = %s, want %s", got.State, tt.want)
			}
		})
	}
}

func TestCurrentStatus(t *testing.T) {
	files := &fakeFileEngine{}
	db := &fakeDBEngine{}
	o, catalog := newTestOrchestrator(t, files, db, &fakePruner{})

	status, err := o.CurrentStatus()
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.Health[artifact.KindFile].State != HealthUnknown {
		t.Errorf("expected unknown health on an empty catalog, got %s", status.Health[artifact.KindFile].State)
	}

	// A usable artifact flips the kind to healthy.
	a := &artifact.Artifact{ID: uuid.New().String(), Kind: artifact.KindFile, Type: artifact.TypeFull, Status: artifact.StatusCompleted, CreatedAt: time.Now()}
	if err := catalog.Put(a); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}

	status, err = o.CurrentStatus()
	if err != nil {
		t.Fatalf("CurrentStatus failed: %v", err)
	}
	if status.Health[artifact.KindFile].State != HealthHealthy {
		t.Errorf("expected healthy, got %s", status.Health[artifact.KindFile].State)
	}
	if status.Health[artifact.KindFile].LastArtifactID != a.ID {
		t.Errorf("expected latest artifact %s, got %s", a.ID, status.Health[artifact.KindFile].LastArtifactID)
	}
}

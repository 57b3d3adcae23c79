// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package retention

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arkivist/internal/artifact"
)

func newTestManager(t *testing.T, filePolicy, dbPolicy Policy) (*Manager, *artifact.Catalog, *artifact.FilesystemStore) {
	t.Helper()

	catalog, err := artifact.OpenCatalog(filepath.Join(t.TempDir(), "catalog"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() }) //nolint:errcheck // Test cleanup

	store, err := artifact.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return NewManager(catalog, store, filePolicy, dbPolicy), catalog, store
}

// seedArtifact registers a terminal artifact with stored bytes.
func seedArtifact(t *testing.T, catalog *artifact.Catalog, store artifact.Store, kind artifact.Kind, status artifact.Status, age time.Duration, parentID string) *artifact.Artifact {
	t.Helper()

	id := uuid.New().String()
	key := fmt.Sprintf("%s/seed-%s", kind, id[:8])
	size, err := store.Put(key, strings.NewReader("seeded artifact bytes"))
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}

	now := time.Now()
	created := now.Add(-age)
	a := &artifact.Artifact{
		ID:          id,
		Kind:        kind,
		Type:        artifact.TypeFull,
		Status:      status,
		Trigger:     artifact.TriggerScheduled,
		CreatedAt:   created,
		CompletedAt: &created,
		StoreKey:    key,
		SizeBytes:   size,
		Checksum:    "seeded",
		ParentID:    parentID,
	}
	if parentID != "" {
		a.Type = artifact.TypeIncremental
	}
	if err := catalog.Put(a); err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}
	return a
}

func remaining(t *testing.T, catalog *artifact.Catalog, kind artifact.Kind) map[string]bool {
	t.Helper()
	list, err := catalog.List(artifact.ListOptions{Kind: kind})
	if err != nil {
		t.Fatalf("failed to list artifacts: %v", err)
	}
	ids := make(map[string]bool, len(list))
	for _, a := range list {
		ids[a.ID] = true
	}
	return ids
}

func TestPruneMaxCount(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxCount: 2}, Policy{})

	oldest := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 72*time.Hour, "")
	middle := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 48*time.Hour, "")
	newest := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusVerified, 24*time.Hour, "")

	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != oldest.ID {
		t.Fatalf("expected only the oldest deleted, got %v", result.Deleted)
	}
	if result.BytesFreed <= 0 {
		t.Error("expected freed bytes to be reported")
	}

	ids := remaining(t, catalog, artifact.KindFile)
	if !ids[newest.ID] || !ids[middle.ID] || ids[oldest.ID] {
		t.Errorf("unexpected survivors: %v", ids)
	}
	if _, err := store.Get(oldest.StoreKey); err == nil {
		t.Error("expected the pruned artifact's bytes to be removed")
	}
}

func TestPruneCountsFullAndIncrementalChainsSeparately(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxCount: 2}, Policy{})

	oldFull := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 96*time.Hour, "")
	newFull := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 72*time.Hour, "")
	incr1 := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 48*time.Hour, newFull.ID)
	incr2 := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 24*time.Hour, incr1.ID)

	// Two fulls and two incrementals: each bucket is within policy, so the
	// newer incrementals must not push the fulls over the count.
	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 0 {
		t.Fatalf("both chains are within policy, expected nothing deleted, got %v", result.Deleted)
	}

	// A third full tips only the full bucket over; the incremental chain is
	// untouched.
	seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 6*time.Hour, "")

	result, err = m.Prune(context.Background())
	if err != nil {
		t.Fatalf("second Prune failed: %v", err)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != oldFull.ID {
		t.Fatalf("expected only the oldest full deleted, got %v", result.Deleted)
	}

	ids := remaining(t, catalog, artifact.KindFile)
	if !ids[newFull.ID] || !ids[incr1.ID] || !ids[incr2.ID] {
		t.Errorf("unexpected survivors: %v", ids)
	}
}

func TestPruneMaxAge(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxAgeDays: 7}, Policy{})

	stale := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 30*24*time.Hour, "")
	fresh := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 24*time.Hour, "")

	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != stale.ID {
		t.Fatalf("expected only the stale artifact deleted, got %v", result.Deleted)
	}

	ids := remaining(t, catalog, artifact.KindFile)
	if !ids[fresh.ID] {
		t.Error("fresh artifact was deleted")
	}
}

func TestPruneFloorOfOne(t *testing.T) {
	// Keep zero, delete everything older than a day: the latest usable
	// artifact must still survive.
	m, catalog, store := newTestManager(t, Policy{MaxCount: 1, MaxAgeDays: 1}, Policy{})

	only := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 90*24*time.Hour, "")

	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 0 {
		t.Fatalf("expected nothing deleted, got %v", result.Deleted)
	}

	ids := remaining(t, catalog, artifact.KindFile)
	if !ids[only.ID] {
		t.Error("the only usable artifact was deleted")
	}
}

func TestPruneSparesDiffBases(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxAgeDays: 7}, Policy{})

	base := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 30*24*time.Hour, "")
	child := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 24*time.Hour, base.ID)

	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 0 {
		t.Fatalf("expected the referenced base to survive, got %v", result.Deleted)
	}

	ids := remaining(t, catalog, artifact.KindFile)
	if !ids[base.ID] || !ids[child.ID] {
		t.Errorf("unexpected survivors: %v", ids)
	}
}

func TestPruneSparesPinned(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxCount: 1}, Policy{})

	old := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 72*time.Hour, "")
	seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 24*time.Hour, "")

	catalog.Pin(old.ID)
	defer catalog.Unpin(old.ID)

	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 0 {
		t.Fatalf("expected the pinned artifact to survive, got %v", result.Deleted)
	}
}

func TestPruneFailedArtifactsByAge(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxAgeDays: 7}, Policy{})

	failed := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusFailed, 30*24*time.Hour, "")
	ok := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 24*time.Hour, "")

	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != failed.ID {
		t.Fatalf("expected the old failed artifact deleted, got %v", result.Deleted)
	}

	ids := remaining(t, catalog, artifact.KindFile)
	if !ids[ok.ID] {
		t.Error("completed artifact was deleted")
	}
}

func TestPruneIdempotent(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxCount: 1}, Policy{MaxCount: 1})

	seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 72*time.Hour, "")
	seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 24*time.Hour, "")
	seedArtifact(t, catalog, store, artifact.KindDatabase, artifact.StatusCompleted, 72*time.Hour, "")
	seedArtifact(t, catalog, store, artifact.KindDatabase, artifact.StatusCompleted, 24*time.Hour, "")

	first, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("first Prune failed: %v", err)
	}
	if len(first.Deleted) != 2 {
		t.Fatalf("expected 2 deletions, got %v", first.Deleted)
	}

	second, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("second Prune failed: %v", err)
	}
	if len(second.Deleted) != 0 {
		t.Fatalf("expected an idempotent second pass, got %v", second.Deleted)
	}
}

func TestPreviewDeletesNothing(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{MaxCount: 1}, Policy{})

	old := seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 72*time.Hour, "")
	seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 24*time.Hour, "")

	preview, err := m.Preview(context.Background())
	if err != nil {
		t.Fatalf("Preview failed: %v", err)
	}
	if len(preview.Deleted) != 1 || preview.Deleted[0] != old.ID {
		t.Fatalf("expected the old artifact to be previewed, got %v", preview.Deleted)
	}

	if _, err := catalog.Get(old.ID); errors.Is(err, artifact.ErrNotFound) {
		t.Fatal("preview must not delete")
	}
	if _, err := store.Get(old.StoreKey); err != nil {
		t.Fatal("preview must not touch stored bytes")
	}
}

func TestPruneDisabledPolicyKeepsEverything(t *testing.T) {
	m, catalog, store := newTestManager(t, Policy{}, Policy{})

	seedArtifact(t, catalog, store, artifact.KindFile, artifact.StatusCompleted, 365*24*time.Hour, "")

	result, err := m.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if len(result.Deleted) != 0 {
		t.Fatalf("disabled policy must not delete, got %v", result.Deleted)
	}
	if result.Retained != 1 {
		t.Errorf("expected 1 retained, got %d", result.Retained)
	}
}

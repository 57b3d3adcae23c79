// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package fileback implements the file backup engine: full, incremental, and
// differential snapshots of a configured set of directories into tar.gz
// archives in the artifact store.
//
// Backup semantics:
//
//	Full:         every file matched by the manifest
//	Incremental:  changes since the immediately preceding artifact in the
//	              chain; fails fast with ErrNoBaseArtifact when none exists
//	Differential: all changes since the most recent full artifact
//
// Unreadable source files are skipped and recorded in the artifact's warning
// list; a file backup may partially succeed. Write failures abort the whole
// job and mark the artifact failed, never leaving a partial archive claiming
// to be completed.
package fileback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/checksum"
	"github.com/tomtom215/arkivist/internal/logging"
)

// ErrNoBaseArtifact indicates an incremental or differential backup has no
// eligible parent; the engine never silently falls back to a full backup.
var ErrNoBaseArtifact = errors.New("no base artifact for incremental/differential backup")

// Options configures the engine.
type Options struct {
	// ScratchDir holds archives while they are being written, before the
	// atomic commit into the store.
	ScratchDir string

	// CompressionEnabled wraps archives in gzip.
	CompressionEnabled bool

	// CompressionLevel is the gzip level (1-9).
	CompressionLevel int
}

// Engine creates, verifies, and restores file backup artifacts.
type Engine struct {
	catalog *artifact.Catalog
	store   artifact.Store
	opts    Options
}

// NewEngine creates a file backup engine.
func NewEngine(catalog *artifact.Catalog, store artifact.Store, opts Options) (*Engine, error) {
	if opts.ScratchDir == "" {
		return nil, fmt.Errorf("scratch directory is required")
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if opts.CompressionEnabled && (opts.CompressionLevel < 1 || opts.CompressionLevel > 9) {
		return nil, fmt.Errorf("compression level must be 1-9, got: %d", opts.CompressionLevel)
	}
	return &Engine{catalog: catalog, store: store, opts: opts}, nil
}

// CreateBackup snapshots the manifest into a new artifact of the given type.
// The returned artifact is always registered in the catalog, in completed or
// failed status; the error mirrors the failure recorded on the artifact.
func (e *Engine) CreateBackup(ctx context.Context, manifest artifact.Manifest, typ artifact.Type, trigger artifact.Trigger) (*artifact.Artifact, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unsupported backup type: %s", typ)
	}

	start := time.Now()
	a := &artifact.Artifact{
		ID:             uuid.New().String(),
		Kind:           artifact.KindFile,
		Type:           typ,
		Status:         artifact.StatusPending,
		Trigger:        trigger,
		CreatedAt:      start,
		SourceManifest: &manifest,
	}

	// Resolve the diff base before doing any work so a missing base fails
	// fast without touching the store.
	base, baseState, err := e.resolveBase(typ)
	if err != nil {
		a.Status = artifact.StatusFailed
		a.Error = err.Error()
		now := time.Now()
		a.CompletedAt = &now
		if putErr := e.catalog.Put(a); putErr != nil {
			logging.Error().Err(putErr).Str("artifact_id", a.ID).Msg("Failed to record failed artifact")
		}
		return a, err
	}
	if base != nil {
		a.ParentID = base.ID
	}

	a.StoreKey = storeKey(typ, start, a.ID, e.opts.CompressionEnabled)
	if err := e.catalog.Put(a); err != nil {
		return nil, fmt.Errorf("failed to register artifact: %w", err)
	}
	if err := e.catalog.UpdateStatus(a.ID, artifact.StatusPending, artifact.StatusInProgress); err != nil {
		return nil, err
	}
	a.Status = artifact.StatusInProgress

	if err := e.produce(ctx, a, manifest, baseState); err != nil {
		return e.fail(a, err)
	}

	if err := e.catalog.Update(a.ID, func(stored *artifact.Artifact) error {
		stored.Status = artifact.StatusCompleted
		stored.StoreKey = a.StoreKey
		stored.SizeBytes = a.SizeBytes
		stored.ItemCount = a.ItemCount
		stored.Checksum = a.Checksum
		stored.Warnings = a.Warnings
		stored.Files = a.Files
		return nil
	}); err != nil {
		return e.fail(a, err)
	}
	a.Status = artifact.StatusCompleted
	now := time.Now()
	a.CompletedAt = &now
	a.Duration = now.Sub(start)

	logging.Info().
		Str("artifact_id", a.ID).
		Str("type", string(typ)).
		Int("files", a.ItemCount).
		Int("warnings", len(a.Warnings)).
		Int64("size_bytes", a.SizeBytes).
		Msg("File backup completed")

	return a, nil
}

// fail marks the artifact failed in the catalog, removes any committed bytes,
// and returns the artifact together with the original error.
func (e *Engine) fail(a *artifact.Artifact, cause error) (*artifact.Artifact, error) {
	if err := e.catalog.Update(a.ID, func(stored *artifact.Artifact) error {
		stored.Status = artifact.StatusFailed
		stored.Error = cause.Error()
		stored.Warnings = a.Warnings
		return nil
	}); err != nil {
		logging.Error().Err(err).Str("artifact_id", a.ID).Msg("Failed to record artifact failure")
	}
	if a.StoreKey != "" {
		if err := e.store.Delete(a.StoreKey); err != nil {
			logging.Warn().Err(err).Str("artifact_id", a.ID).Msg("Failed to remove partial artifact bytes")
		}
	}
	a.Status = artifact.StatusFailed
	a.Error = cause.Error()
	return a, cause
}

// produce walks the manifest, writes the archive in the scratch directory,
// and commits it atomically into the store.
func (e *Engine) produce(ctx context.Context, a *artifact.Artifact, manifest artifact.Manifest, baseState map[string]artifact.File) error {
	entries, warnings, err := walkManifest(manifest)
	if err != nil {
		return err
	}
	a.Warnings = warnings

	if baseState != nil {
		entries = selectChanged(entries, baseState)
	}

	scratchPath := filepath.Join(e.opts.ScratchDir, filepath.Base(a.StoreKey))
	files, warnings, err := e.writeArchive(ctx, scratchPath, entries)
	defer os.Remove(scratchPath) //nolint:errcheck // Best effort cleanup
	a.Warnings = append(a.Warnings, warnings...)
	if err != nil {
		return err
	}
	a.Files = files
	a.ItemCount = len(files)

	digest, err := checksum.SumFile(scratchPath)
	if err != nil {
		return fmt.Errorf("failed to checksum archive: %w", err)
	}
	a.Checksum = digest

	// The commit reopens the archive per attempt so a transient write failure
	// retries from the start of the stream.
	if err := artifact.WithRetry(ctx, "commit archive", func() error {
		//nolint:gosec // G304: scratchPath is built from internal configuration
		f, err := os.Open(scratchPath)
		if err != nil {
			return fmt.Errorf("failed to reopen archive: %w", err)
		}
		defer f.Close() //nolint:errcheck // Best effort cleanup

		size, err := e.store.Put(a.StoreKey, f)
		if err != nil {
			return fmt.Errorf("failed to commit archive to store: %w", err)
		}
		a.SizeBytes = size
		return nil
	}); err != nil {
		return err
	}

	return nil
}

// resolveBase picks the diff base for the backup type and materializes the
// cumulative file state of its chain. Full backups have no base.
func (e *Engine) resolveBase(typ artifact.Type) (*artifact.Artifact, map[string]artifact.File, error) {
	var base *artifact.Artifact
	var err error

	switch typ {
	case artifact.TypeFull:
		return nil, nil, nil
	case artifact.TypeIncremental:
		// Immediately preceding usable artifact in the chain, of any type.
		base, err = e.catalog.LatestUsable(artifact.KindFile)
	case artifact.TypeDifferential:
		// Always the most recent full, not the most recent of any type.
		base, err = e.catalog.LatestUsableOfType(artifact.KindFile, artifact.TypeFull)
	}
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNoBaseArtifact, typ)
		}
		return nil, nil, err
	}

	state, err := e.chainState(base.ID)
	if err != nil {
		return nil, nil, err
	}
	return base, state, nil
}

// chainState merges the recorded file lists of the chain ending at id,
// oldest first, into the cumulative path -> file state at that point.
func (e *Engine) chainState(id string) (map[string]artifact.File, error) {
	chain, err := e.catalog.Chain(id)
	if err != nil {
		return nil, err
	}

	state := make(map[string]artifact.File)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Files {
			state[f.Path] = f
		}
	}
	return state, nil
}

// selectChanged filters walk entries down to those whose modification time,
// size, or digest differs from the recorded base state.
func selectChanged(entries []walkEntry, base map[string]artifact.File) []walkEntry {
	var changed []walkEntry
	for _, entry := range entries {
		prev, ok := base[entry.archivePath]
		if !ok {
			changed = append(changed, entry)
			continue
		}
		if entry.info.Size() != prev.Size || entry.info.ModTime().After(prev.ModTime) {
			changed = append(changed, entry)
			continue
		}
		// Same size and mtime not newer: fall back to digest comparison to
		// catch backdated edits.
		digest, err := checksum.SumFile(entry.sourcePath)
		if err != nil || digest != prev.Checksum {
			changed = append(changed, entry)
		}
	}
	return changed
}

// storeKey builds the artifact's store key.
func storeKey(typ artifact.Type, start time.Time, id string, compressed bool) string {
	name := fmt.Sprintf("backup-%s-%s-%s", typ, start.Format("20060102-150405"), id[:8])
	if compressed {
		name += ".tar.gz"
	} else {
		name += ".tar"
	}
	return "file/" + name
}

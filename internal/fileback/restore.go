// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package fileback

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/checksum"
	"github.com/tomtom215/arkivist/internal/logging"
)

// RestoreResult reports a completed restore.
type RestoreResult struct {
	ArtifactID string `json:"artifact_id"`

	// ChainLength is the number of artifacts applied, base first.
	ChainLength int `json:"chain_length"`

	// FilesRestored counts distinct files present after the final layer.
	FilesRestored int `json:"files_restored"`
}

// Restore materializes the artifact's full file state under targetDir. For
// incremental and differential artifacts the whole chain is applied, oldest
// first, so later layers overwrite earlier ones. Every restored file is
// checked against the digest recorded by the layer that owns it; any mismatch
// fails the restore with ErrIntegrityViolation.
//
// targetDir must be empty or absent. Restores never write into source paths.
func (e *Engine) Restore(ctx context.Context, id, targetDir string) (*RestoreResult, error) {
	if err := ensureFreshTarget(targetDir); err != nil {
		return nil, err
	}

	chain, err := e.catalog.Chain(id)
	if err != nil {
		return nil, err
	}

	// Pin every layer up front so retention cannot remove a base mid-restore.
	for _, a := range chain {
		e.catalog.Pin(a.ID)
	}
	defer func() {
		for _, a := range chain {
			e.catalog.Unpin(a.ID)
		}
	}()

	// Chain returns newest first; apply oldest first.
	for i := len(chain) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.applyLayer(chain[i], targetDir); err != nil {
			return nil, fmt.Errorf("failed to apply artifact %s: %w", chain[i].ID, err)
		}
	}

	finalState, err := e.chainState(id)
	if err != nil {
		return nil, err
	}
	if err := verifyRestoredState(targetDir, finalState); err != nil {
		return nil, err
	}

	logging.Info().
		Str("artifact_id", id).
		Str("target", targetDir).
		Int("chain_length", len(chain)).
		Int("files", len(finalState)).
		Msg("File restore completed")

	return &RestoreResult{
		ArtifactID:    id,
		ChainLength:   len(chain),
		FilesRestored: len(finalState),
	}, nil
}

// applyLayer extracts one artifact's archive into targetDir.
func (e *Engine) applyLayer(a *artifact.Artifact, targetDir string) error {
	r, err := e.store.Get(a.StoreKey)
	if err != nil {
		return fmt.Errorf("failed to read artifact bytes: %w", err)
	}
	tr, closers, err := openArchive(r, a.StoreKey)
	if err != nil {
		return err
	}
	defer closeAll(closers)

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if err := extractMember(tr, header, targetDir); err != nil {
			return err
		}
	}
}

// verifyRestoredState checks every file the chain claims against its digest.
func verifyRestoredState(targetDir string, state map[string]artifact.File) error {
	for path, want := range state {
		dest := filepath.Join(targetDir, filepath.FromSlash(path))
		if err := checksum.VerifyFile(dest, want.Checksum); err != nil {
			if errors.Is(err, checksum.ErrMismatch) {
				return fmt.Errorf("%w: restored file %s: %v", artifact.ErrIntegrityViolation, path, err)
			}
			return fmt.Errorf("%w: restored file %s unreadable: %v", artifact.ErrIntegrityViolation, path, err)
		}
	}
	return nil
}

// ensureFreshTarget creates targetDir if needed and requires it to be empty,
// so a restore never silently merges into live data.
func ensureFreshTarget(targetDir string) error {
	if targetDir == "" {
		return fmt.Errorf("restore target directory is required")
	}

	entries, err := os.ReadDir(targetDir)
	if errors.Is(err, os.ErrNotExist) {
		return os.MkdirAll(targetDir, 0o750)
	}
	if err != nil {
		return fmt.Errorf("failed to inspect restore target: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("restore target %s is not empty", targetDir)
	}
	return nil
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package harness

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/checksum"
	"github.com/tomtom215/arkivist/internal/retention"
)

// caseFileCreation backs up the sandbox source tree and checks the artifact
// came out completed with the expected contents.
func caseFileCreation(ctx context.Context, sb *sandbox) error {
	a, err := sb.files.CreateBackup(ctx, sb.manifest, artifact.TypeFull, artifact.TriggerHarness)
	if err != nil {
		return fmt.Errorf("backup creation failed: %w", err)
	}
	if a.Status != artifact.StatusCompleted {
		return fmt.Errorf("artifact status is %s, want completed", a.Status)
	}
	if a.ItemCount != 3 {
		return fmt.Errorf("archived %d files, want 3 (excludes applied)", a.ItemCount)
	}
	if a.Checksum == "" || a.SizeBytes == 0 {
		return fmt.Errorf("artifact missing checksum or size")
	}
	return nil
}

// caseFileVerification verifies the newest file artifact end to end.
func caseFileVerification(ctx context.Context, sb *sandbox) error {
	latest, err := sb.catalog.LatestUsable(artifact.KindFile)
	if err != nil {
		return fmt.Errorf("no usable file artifact to verify: %w", err)
	}
	result, err := sb.files.Verify(ctx, latest.ID)
	if err != nil {
		return fmt.Errorf("verification errored: %w", err)
	}
	if !result.Valid {
		return fmt.Errorf("artifact failed verification: %s", strings.Join(result.Problems, "; "))
	}
	return nil
}

// caseFileRestoreRoundTrip restores the newest file artifact into a fresh
// target and checks every restored file's digest against the live source.
func caseFileRestoreRoundTrip(ctx context.Context, sb *sandbox) error {
	latest, err := sb.catalog.LatestUsable(artifact.KindFile)
	if err != nil {
		return fmt.Errorf("no usable file artifact to restore: %w", err)
	}

	target := sb.freshRestoreDir()
	result, err := sb.files.Restore(ctx, latest.ID, target)
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	if result.FilesRestored == 0 {
		return fmt.Errorf("restore produced no files")
	}

	return compareTrees(filepath.Join(sb.root, "source", "data"), filepath.Join(target, "data"), sb.manifest.Exclude)
}

// compareTrees checks that every non-excluded source file exists in the
// restored tree with an identical digest.
func compareTrees(sourceRoot, restoredRoot string, excludes []string) error {
	return filepath.WalkDir(sourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(sourceRoot, path)
		if err != nil {
			return err
		}
		for _, pattern := range excludes {
			if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
				return nil
			}
		}

		want, err := checksum.SumFile(path)
		if err != nil {
			return err
		}
		restored := filepath.Join(restoredRoot, rel)
		if err := checksum.VerifyFile(restored, want); err != nil {
			return fmt.Errorf("round trip mismatch for %s: %w", rel, err)
		}
		return nil
	})
}

// caseDatabaseRoundTrip dumps the loopback database, verifies the artifact,
// restores it into a scratch database, and checks the replayed SQL carries
// the dumped table data.
func caseDatabaseRoundTrip(ctx context.Context, sb *sandbox) error {
	a, err := sb.db.CreateBackup(ctx, artifact.TriggerHarness)
	if err != nil {
		return fmt.Errorf("database backup failed: %w", err)
	}

	result, err := sb.db.Verify(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("dump verification errored: %w", err)
	}
	if !result.Valid {
		return fmt.Errorf("dump failed verification: %s", strings.Join(result.Problems, "; "))
	}

	const scratch = "arkivist_sandbox_scratch"
	if err := sb.db.Restore(ctx, a.ID, scratch, false); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	replayed := sb.conn.Restored(scratch)
	for _, fragment := range []string{"startup", "retention\t30"} {
		if !strings.Contains(replayed, fragment) {
			return fmt.Errorf("replayed SQL is missing dumped row %q", fragment)
		}
	}
	return nil
}

// caseIncrementalChain edits the source, takes an incremental on top of the
// existing full, and round-trips the whole chain.
func caseIncrementalChain(ctx context.Context, sb *sandbox) error {
	edited := filepath.Join(sb.root, "source", "data", "notes.txt")
	content := []byte("sandbox fixture content\nedited for incremental\n")
	if err := os.WriteFile(edited, content, 0o600); err != nil {
		return err
	}
	// Force the mtime forward so change detection cannot miss the edit on
	// coarse-grained filesystems.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(edited, future, future); err != nil {
		return err
	}

	inc, err := sb.files.CreateBackup(ctx, sb.manifest, artifact.TypeIncremental, artifact.TriggerHarness)
	if err != nil {
		return fmt.Errorf("incremental backup failed: %w", err)
	}
	if inc.ParentID == "" {
		return fmt.Errorf("incremental has no parent artifact")
	}
	if inc.ItemCount != 1 {
		return fmt.Errorf("incremental archived %d files, want only the edited one", inc.ItemCount)
	}

	target := sb.freshRestoreDir()
	result, err := sb.files.Restore(ctx, inc.ID, target)
	if err != nil {
		return fmt.Errorf("chain restore failed: %w", err)
	}
	if result.ChainLength < 2 {
		return fmt.Errorf("chain length %d, want at least 2", result.ChainLength)
	}

	restored := filepath.Join(target, "data", "notes.txt")
	if err := checksum.VerifyFile(restored, checksum.SumBytes(content)); err != nil {
		return fmt.Errorf("incremental round trip mismatch: %w", err)
	}
	return nil
}

// caseRetentionSweep runs a tight retention policy inside the sandbox and
// checks it prunes old artifacts while sparing the newest usable one.
func caseRetentionSweep(ctx context.Context, sb *sandbox) error {
	// An extra full makes the earlier chain prunable.
	if _, err := sb.files.CreateBackup(ctx, sb.manifest, artifact.TypeFull, artifact.TriggerHarness); err != nil {
		return fmt.Errorf("backup creation failed: %w", err)
	}

	policy := retention.Policy{MaxCount: 1}
	manager := retention.NewManager(sb.catalog, sb.store, policy, policy)
	result, err := manager.Prune(ctx)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}
	if len(result.Deleted) == 0 {
		return fmt.Errorf("prune deleted nothing despite maxCount 1")
	}
	if _, err := sb.catalog.LatestUsable(artifact.KindFile); err != nil {
		return fmt.Errorf("prune removed the newest usable artifact: %w", err)
	}
	return nil
}

// caseSimulatedDisaster corrupts a stored archive in place and checks that
// verification catches it. The corrupted artifact lives only in the sandbox.
func caseSimulatedDisaster(ctx context.Context, sb *sandbox) error {
	a, err := sb.files.CreateBackup(ctx, sb.manifest, artifact.TypeFull, artifact.TriggerHarness)
	if err != nil {
		return fmt.Errorf("backup creation failed: %w", err)
	}

	path := filepath.Join(sb.store.Root(), filepath.FromSlash(a.StoreKey))
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the sandbox store
	if err != nil {
		return fmt.Errorf("failed to read stored archive: %w", err)
	}
	if len(data) < 64 {
		return fmt.Errorf("stored archive implausibly small: %d bytes", len(data))
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to corrupt stored archive: %w", err)
	}

	result, err := sb.files.Verify(ctx, a.ID)
	if err != nil {
		// The flipped byte broke the compression stream outright, which is
		// detection all the same.
		return nil
	}
	if result.Valid {
		return fmt.Errorf("verification did not detect the corrupted archive")
	}
	return nil
}

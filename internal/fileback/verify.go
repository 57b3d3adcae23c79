// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package fileback

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/checksum"
	"github.com/tomtom215/arkivist/internal/logging"
)

// VerifyResult reports the outcome of verifying one artifact.
type VerifyResult struct {
	ArtifactID string   `json:"artifact_id"`
	Valid      bool     `json:"valid"`
	Members    int      `json:"members"`
	Problems   []string `json:"problems,omitempty"`
}

// Verify recomputes the artifact's archive digest and every member digest and
// compares them against the values recorded at creation time. A successful
// verification promotes a completed artifact to verified; a failed one
// produces a result with Valid false and the detected problems, not an error.
// Errors are reserved for being unable to verify at all.
func (e *Engine) Verify(ctx context.Context, id string) (*VerifyResult, error) {
	a, err := e.catalog.Get(id)
	if err != nil {
		return nil, err
	}
	if a.Kind != artifact.KindFile {
		return nil, fmt.Errorf("artifact %s is not a file artifact", id)
	}
	if !a.Status.Usable() {
		return nil, fmt.Errorf("%w: artifact %s is %s", artifact.ErrStatusConflict, id, a.Status)
	}

	// Pin for the duration so the retention pass cannot delete the bytes
	// out from under the read.
	e.catalog.Pin(id)
	defer e.catalog.Unpin(id)

	result := &VerifyResult{ArtifactID: id, Members: a.ItemCount}

	archiveDigest, err := e.storeDigest(a.StoreKey)
	if err != nil {
		return nil, err
	}
	if archiveDigest != a.Checksum {
		result.Problems = append(result.Problems,
			fmt.Sprintf("archive digest mismatch: recorded %s, computed %s", a.Checksum, archiveDigest))
	}

	memberProblems, err := e.verifyMembers(ctx, a)
	if err != nil {
		return nil, err
	}
	result.Problems = append(result.Problems, memberProblems...)
	result.Valid = len(result.Problems) == 0

	if !result.Valid {
		logging.Error().
			Str("artifact_id", id).
			Strs("problems", result.Problems).
			Msg("Artifact verification failed")
		return result, nil
	}

	if a.Status == artifact.StatusCompleted {
		if err := e.catalog.UpdateStatus(id, artifact.StatusCompleted, artifact.StatusVerified); err != nil {
			// Lost a race with another verifier; the artifact is already
			// verified so the result stands.
			if !errors.Is(err, artifact.ErrStatusConflict) {
				return nil, err
			}
		}
	}

	logging.Debug().Str("artifact_id", id).Int("members", result.Members).Msg("Artifact verified")
	return result, nil
}

// storeDigest computes the SHA-256 of the stored artifact bytes.
func (e *Engine) storeDigest(key string) (string, error) {
	r, err := e.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact bytes: %w", err)
	}
	defer r.Close() //nolint:errcheck // Best effort cleanup

	return checksum.Sum(r)
}

// verifyMembers re-reads the archive and checks each member against the
// recorded file list.
func (e *Engine) verifyMembers(ctx context.Context, a *artifact.Artifact) ([]string, error) {
	recorded := make(map[string]artifact.File, len(a.Files))
	for _, f := range a.Files {
		recorded[f.Path] = f
	}

	r, err := e.store.Get(a.StoreKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact bytes: %w", err)
	}
	tr, closers, err := openArchive(r, a.StoreKey)
	if err != nil {
		return nil, err
	}
	defer closeAll(closers)

	var problems []string
	seen := make(map[string]struct{}, len(recorded))

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		want, ok := recorded[header.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unexpected member: %s", header.Name))
			continue
		}
		seen[header.Name] = struct{}{}

		hasher := sha256.New()
		size, err := io.Copy(hasher, tr) //nolint:gosec // G110: verification reads the whole member
		if err != nil {
			return nil, fmt.Errorf("failed to read member %s: %w", header.Name, err)
		}
		if size != want.Size {
			problems = append(problems, fmt.Sprintf("member %s: recorded %d bytes, found %d", header.Name, want.Size, size))
		}
		if got := hex.EncodeToString(hasher.Sum(nil)); got != want.Checksum {
			problems = append(problems, fmt.Sprintf("member %s: digest mismatch", header.Name))
		}
	}

	for path := range recorded {
		if _, ok := seen[path]; !ok {
			problems = append(problems, fmt.Sprintf("missing member: %s", path))
		}
	}

	return problems, nil
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package retention prunes old backup artifacts from the catalog and store
// under per-kind count and age policies.
//
// Safety rules, in order of precedence:
//
//   - The most recent usable artifact of a kind is never deleted, even when
//     the policy says keep zero.
//   - An artifact another artifact depends on as its diff base is never
//     deleted while the dependent exists.
//   - A pinned artifact (one currently being read by verification, restore,
//     or the test harness) is never deleted.
//
// Pruning is idempotent: a second pass over an already-pruned catalog
// deletes nothing.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/logging"
)

// Policy is the per-kind retention policy. Zero values disable the
// corresponding rule.
type Policy struct {
	// MaxCount keeps at most this many usable artifacts, counted separately
	// for full and for incremental/differential artifacts.
	MaxCount int

	// MaxAgeDays deletes artifacts older than this.
	MaxAgeDays int
}

// enabled reports whether the policy does anything at all.
func (p Policy) enabled() bool {
	return p.MaxCount > 0 || p.MaxAgeDays > 0
}

// Result summarizes one pruning pass.
type Result struct {
	// Examined counts artifacts considered.
	Examined int `json:"examined"`

	// Deleted lists removed artifact IDs.
	Deleted []string `json:"deleted,omitempty"`

	// Retained counts artifacts kept.
	Retained int `json:"retained"`

	// BytesFreed is the total stored size of the deleted artifacts.
	BytesFreed int64 `json:"bytes_freed"`
}

// Manager prunes artifacts per kind.
type Manager struct {
	catalog  *artifact.Catalog
	store    artifact.Store
	policies map[artifact.Kind]Policy

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a retention manager with per-kind policies.
func NewManager(catalog *artifact.Catalog, store artifact.Store, filePolicy, dbPolicy Policy) *Manager {
	return &Manager{
		catalog: catalog,
		store:   store,
		policies: map[artifact.Kind]Policy{
			artifact.KindFile:     filePolicy,
			artifact.KindDatabase: dbPolicy,
		},
		now: time.Now,
	}
}

// Prune applies both kinds' policies and deletes what they select.
func (m *Manager) Prune(ctx context.Context) (*Result, error) {
	return m.run(ctx, false)
}

// Preview reports what Prune would delete without deleting anything.
func (m *Manager) Preview(ctx context.Context) (*Result, error) {
	return m.run(ctx, true)
}

func (m *Manager) run(ctx context.Context, dryRun bool) (*Result, error) {
	result := &Result{}

	for _, kind := range []artifact.Kind{artifact.KindFile, artifact.KindDatabase} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := m.pruneKind(kind, dryRun, result); err != nil {
			return nil, err
		}
	}

	if !dryRun && len(result.Deleted) > 0 {
		logging.Info().
			Int("deleted", len(result.Deleted)).
			Int("retained", result.Retained).
			Int64("bytes_freed", result.BytesFreed).
			Msg("Retention pass completed")
	}
	return result, nil
}

// pruneKind applies one kind's policy.
func (m *Manager) pruneKind(kind artifact.Kind, dryRun bool, result *Result) error {
	policy := m.policies[kind]

	all, err := m.catalog.List(artifact.ListOptions{Kind: kind, SortDesc: true})
	if err != nil {
		return fmt.Errorf("failed to list %s artifacts: %w", kind, err)
	}
	result.Examined += len(all)

	if !policy.enabled() {
		result.Retained += len(all)
		return nil
	}

	victims, err := m.selectVictims(all, policy)
	if err != nil {
		return err
	}

	retained := len(all) - len(victims)
	for _, v := range victims {
		if dryRun {
			result.Deleted = append(result.Deleted, v.ID)
			result.BytesFreed += v.SizeBytes
			continue
		}
		if err := m.delete(v); err != nil {
			// A pin can appear between selection and deletion; skip and
			// let the next pass retry.
			if errors.Is(err, artifact.ErrPinned) {
				logging.Debug().Str("artifact_id", v.ID).Msg("Artifact pinned, deferred to next pass")
				retained++
				continue
			}
			return err
		}
		result.Deleted = append(result.Deleted, v.ID)
		result.BytesFreed += v.SizeBytes
	}
	result.Retained += retained

	return nil
}

// countBucket groups types for the count policy: fulls are counted in one
// bucket, incremental and differential chain links in the other, so a long
// diff chain never consumes the full budget.
func countBucket(t artifact.Type) artifact.Type {
	if t == artifact.TypeFull {
		return artifact.TypeFull
	}
	return artifact.TypeIncremental
}

// selectVictims picks deletable artifacts under the policy and safety rules.
// all is sorted newest first. MaxCount applies independently to full and to
// incremental/differential artifacts.
func (m *Manager) selectVictims(all []*artifact.Artifact, policy Policy) ([]*artifact.Artifact, error) {
	var latestUsable string
	usableRank := map[artifact.Type]int{}
	cutoff := time.Time{}
	if policy.MaxAgeDays > 0 {
		cutoff = m.now().AddDate(0, 0, -policy.MaxAgeDays)
	}

	var victims []*artifact.Artifact
	for _, a := range all {
		usable := a.Status.Usable()
		if usable {
			usableRank[countBucket(a.Type)]++
			if latestUsable == "" {
				latestUsable = a.ID
			}
		}

		// Active jobs are never retention's business.
		if !a.Status.Terminal() {
			continue
		}

		overCount := usable && policy.MaxCount > 0 && usableRank[countBucket(a.Type)] > policy.MaxCount
		overAge := policy.MaxAgeDays > 0 && a.CreatedAt.Before(cutoff)
		if !overCount && !overAge {
			continue
		}

		// Floor of one: the newest usable artifact survives any policy.
		if a.ID == latestUsable {
			continue
		}
		if m.catalog.Pinned(a.ID) {
			continue
		}
		dependents, err := m.catalog.HasDependents(a.ID)
		if err != nil {
			return nil, err
		}
		if dependents {
			continue
		}

		victims = append(victims, a)
	}

	return victims, nil
}

// delete removes the artifact's record and bytes, record first so a crash
// between the two leaves only unreferenced bytes, never a dangling record.
func (m *Manager) delete(a *artifact.Artifact) error {
	if err := m.catalog.Delete(a.ID); err != nil {
		return err
	}
	if a.StoreKey != "" {
		if err := m.store.Delete(a.StoreKey); err != nil {
			logging.Warn().Err(err).Str("artifact_id", a.ID).Str("key", a.StoreKey).
				Msg("Failed to remove artifact bytes")
		}
	}
	logging.Debug().
		Str("artifact_id", a.ID).
		Str("kind", string(a.Kind)).
		Time("created_at", a.CreatedAt).
		Msg("Artifact pruned")
	return nil
}

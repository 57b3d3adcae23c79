// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package dbback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/checksum"
	"github.com/tomtom215/arkivist/internal/logging"
)

var (
	// ErrConnectionUnavailable indicates the pre-flight connection check
	// failed or the circuit breaker is open.
	ErrConnectionUnavailable = errors.New("database connection unavailable")

	// ErrDumpIncomplete indicates a dump stream without its completeness
	// trailer: the producing job died mid-dump.
	ErrDumpIncomplete = errors.New("dump is incomplete")

	// ErrRestoreConflict indicates a restore aimed at the production
	// database without the explicit force flag.
	ErrRestoreConflict = errors.New("restore into production database requires force")
)

// Options configures the database engine.
type Options struct {
	// ProductionName is the production database name; restores into it are
	// refused without force.
	ProductionName string

	// Format is the dump serialization format.
	Format Format

	// ScratchDir holds dumps while they are written.
	ScratchDir string

	// ConnectTimeout bounds the pre-flight connection check.
	ConnectTimeout time.Duration
}

// Engine creates, verifies, and restores database backup artifacts.
type Engine struct {
	catalog *artifact.Catalog
	store   artifact.Store
	conn    Conn
	breaker *gobreaker.CircuitBreaker[struct{}]
	opts    Options
}

// NewEngine creates a database backup engine.
func NewEngine(catalog *artifact.Catalog, store artifact.Store, conn Conn, opts Options) (*Engine, error) {
	if !opts.Format.Valid() {
		return nil, fmt.Errorf("unknown dump format: %q", opts.Format)
	}
	if opts.ProductionName == "" {
		return nil, fmt.Errorf("production database name is required")
	}
	if opts.ScratchDir == "" {
		return nil, fmt.Errorf("scratch directory is required")
	}
	if err := os.MkdirAll(opts.ScratchDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:     "database-preflight",
		Interval: time.Minute,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Database breaker state changed")
		},
	}

	return &Engine{
		catalog: catalog,
		store:   store,
		conn:    conn,
		breaker: gobreaker.NewCircuitBreaker[struct{}](cbSettings),
		opts:    opts,
	}, nil
}

// TestConnection runs the pre-flight reachability check through the circuit
// breaker. While the breaker is open the database is not touched at all.
func (e *Engine) TestConnection(ctx context.Context) error {
	_, err := e.breaker.Execute(func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, e.opts.ConnectTimeout)
		defer cancel()
		return struct{}{}, e.conn.Ping(pingCtx)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionUnavailable, err)
	}
	return nil
}

// CreateBackup dumps the production database into a new full artifact. Like
// the file engine, the artifact is always registered, completed or failed.
func (e *Engine) CreateBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error) {
	start := time.Now()
	a := &artifact.Artifact{
		ID:        uuid.New().String(),
		Kind:      artifact.KindDatabase,
		Type:      artifact.TypeFull,
		Status:    artifact.StatusPending,
		Trigger:   trigger,
		CreatedAt: start,
		Format:    string(e.opts.Format),
	}

	if err := e.TestConnection(ctx); err != nil {
		a.Status = artifact.StatusFailed
		a.Error = err.Error()
		now := time.Now()
		a.CompletedAt = &now
		if putErr := e.catalog.Put(a); putErr != nil {
			logging.Error().Err(putErr).Str("artifact_id", a.ID).Msg("Failed to record failed artifact")
		}
		return a, err
	}

	a.StoreKey = fmt.Sprintf("database/dump-%s-%s%s",
		start.Format("20060102-150405"), a.ID[:8], e.opts.Format.Extension())
	if err := e.catalog.Put(a); err != nil {
		return nil, fmt.Errorf("failed to register artifact: %w", err)
	}
	if err := e.catalog.UpdateStatus(a.ID, artifact.StatusPending, artifact.StatusInProgress); err != nil {
		return nil, err
	}
	a.Status = artifact.StatusInProgress

	if err := e.produce(ctx, a); err != nil {
		return e.fail(a, err)
	}

	if err := e.catalog.Update(a.ID, func(stored *artifact.Artifact) error {
		stored.Status = artifact.StatusCompleted
		stored.SizeBytes = a.SizeBytes
		stored.ItemCount = a.ItemCount
		stored.Checksum = a.Checksum
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
		Str("format", a.Format).
		Int("tables", a.ItemCount).
		Int64("size_bytes", a.SizeBytes).
		Msg("Database backup completed")

	return a, nil
}

func (e *Engine) fail(a *artifact.Artifact, cause error) (*artifact.Artifact, error) {
	if err := e.catalog.Update(a.ID, func(stored *artifact.Artifact) error {
		stored.Status = artifact.StatusFailed
		stored.Error = cause.Error()
		return nil
	}); err != nil {
		logging.Error().Err(err).Str("artifact_id", a.ID).Msg("Failed to record artifact failure")
	}
	if a.StoreKey != "" {
		if err := e.store.Delete(a.StoreKey); err != nil {
			logging.Warn().Err(err).Str("artifact_id", a.ID).Msg("Failed to remove partial dump bytes")
		}
	}
	a.Status = artifact.StatusFailed
	a.Error = cause.Error()
	return a, cause
}

// produce writes the serialized dump in the scratch directory and commits it
// into the store.
func (e *Engine) produce(ctx context.Context, a *artifact.Artifact) error {
	scratchPath := filepath.Join(e.opts.ScratchDir, filepath.Base(a.StoreKey))
	defer os.Remove(scratchPath) //nolint:errcheck // Best effort cleanup

	// writeDump truncates its output files, so a transient connection hiccup
	// retries the dump from scratch.
	var info DumpInfo
	if err := artifact.WithRetry(ctx, "dump database", func() error {
		dumped, err := e.writeDump(ctx, scratchPath)
		if err != nil {
			return err
		}
		info = dumped
		return nil
	}); err != nil {
		return err
	}
	a.ItemCount = info.Tables

	digest, err := checksum.SumFile(scratchPath)
	if err != nil {
		return fmt.Errorf("failed to checksum dump: %w", err)
	}
	a.Checksum = digest

	if err := artifact.WithRetry(ctx, "commit dump", func() error {
		//nolint:gosec // G304: scratchPath is built from internal configuration
		f, err := os.Open(scratchPath)
		if err != nil {
			return fmt.Errorf("failed to reopen dump: %w", err)
		}
		defer f.Close() //nolint:errcheck // Best effort cleanup

		size, err := e.store.Put(a.StoreKey, f)
		if err != nil {
			return fmt.Errorf("failed to commit dump to store: %w", err)
		}
		a.SizeBytes = size
		return nil
	}); err != nil {
		return err
	}

	return nil
}

// Verify recomputes the stored dump's digest and checks the completeness
// trailer. Like the file engine, detected corruption is a result, not an
// error.
func (e *Engine) Verify(ctx context.Context, id string) (*VerifyResult, error) {
	a, err := e.catalog.Get(id)
	if err != nil {
		return nil, err
	}
	if a.Kind != artifact.KindDatabase {
		return nil, fmt.Errorf("artifact %s is not a database artifact", id)
	}
	if !a.Status.Usable() {
		return nil, fmt.Errorf("%w: artifact %s is %s", artifact.ErrStatusConflict, id, a.Status)
	}

	e.catalog.Pin(id)
	defer e.catalog.Unpin(id)

	result := &VerifyResult{ArtifactID: id}

	digest, err := e.storeDigest(a.StoreKey)
	if err != nil {
		return nil, err
	}
	if digest != a.Checksum {
		result.Problems = append(result.Problems,
			fmt.Sprintf("dump digest mismatch: recorded %s, computed %s", a.Checksum, digest))
	}

	complete, err := e.dumpComplete(ctx, a)
	if err != nil {
		return nil, err
	}
	if !complete {
		result.Problems = append(result.Problems, ErrDumpIncomplete.Error())
	}

	result.Valid = len(result.Problems) == 0
	if !result.Valid {
		logging.Error().
			Str("artifact_id", id).
			Strs("problems", result.Problems).
			Msg("Database artifact verification failed")
		return result, nil
	}

	if a.Status == artifact.StatusCompleted {
		if err := e.catalog.UpdateStatus(id, artifact.StatusCompleted, artifact.StatusVerified); err != nil {
			if !errors.Is(err, artifact.ErrStatusConflict) {
				return nil, err
			}
		}
	}
	return result, nil
}

// Restore replays the artifact's dump into targetDB. Restoring into the
// production database is destructive and requires force.
func (e *Engine) Restore(ctx context.Context, id, targetDB string, force bool) error {
	if targetDB == "" {
		return fmt.Errorf("restore target database is required")
	}
	if targetDB == e.opts.ProductionName && !force {
		return fmt.Errorf("%w: target %s", ErrRestoreConflict, targetDB)
	}

	a, err := e.catalog.Get(id)
	if err != nil {
		return err
	}
	if a.Kind != artifact.KindDatabase {
		return fmt.Errorf("artifact %s is not a database artifact", id)
	}
	if !a.Status.Usable() {
		return fmt.Errorf("%w: artifact %s is %s", artifact.ErrStatusConflict, id, a.Status)
	}

	e.catalog.Pin(id)
	defer e.catalog.Unpin(id)

	complete, err := e.dumpComplete(ctx, a)
	if err != nil {
		return err
	}
	if !complete {
		return fmt.Errorf("%w: artifact %s", ErrDumpIncomplete, id)
	}

	r, closers, err := e.openDump(a)
	if err != nil {
		return err
	}
	defer closeAll(closers)

	if err := e.conn.Restore(ctx, r, targetDB); err != nil {
		return fmt.Errorf("failed to restore into %s: %w", targetDB, err)
	}

	logging.Info().
		Str("artifact_id", id).
		Str("target", targetDB).
		Bool("force", force).
		Msg("Database restore completed")
	return nil
}

// VerifyResult reports the outcome of verifying one database artifact.
type VerifyResult struct {
	ArtifactID string   `json:"artifact_id"`
	Valid      bool     `json:"valid"`
	Problems   []string `json:"problems,omitempty"`
}

func (e *Engine) storeDigest(key string) (string, error) {
	r, err := e.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("failed to read dump bytes: %w", err)
	}
	defer r.Close() //nolint:errcheck // Best effort cleanup

	return checksum.Sum(r)
}

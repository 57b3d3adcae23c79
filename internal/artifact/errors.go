// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package artifact

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
	"time"

	"github.com/tomtom215/arkivist/internal/logging"
)

// Error taxonomy shared across the backup subsystem. Engines wrap these
// sentinels so the orchestrator can pick a propagation policy with errors.Is
// instead of string matching.
var (
	// ErrNotFound indicates the artifact ID is not in the catalog.
	ErrNotFound = errors.New("artifact not found")

	// ErrStatusConflict indicates a compare-and-set status update observed a
	// different current status than expected.
	ErrStatusConflict = errors.New("artifact status conflict")

	// ErrInvalidTransition indicates a status change that the lifecycle
	// transition table forbids.
	ErrInvalidTransition = errors.New("invalid artifact status transition")

	// ErrChainBroken indicates an incremental/differential chain has a missing
	// or unusable ancestor. Never silently restore past a broken chain.
	ErrChainBroken = errors.New("artifact chain broken")

	// ErrTransientIO is a disk or network hiccup worth a capped retry.
	ErrTransientIO = errors.New("transient i/o failure")

	// ErrResourceExhausted is disk-full or out-of-memory; fail fast, no retry.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrSourceUnavailable is a missing path or unreachable database; fail fast.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrIntegrityViolation is a checksum mismatch on verify or restore;
	// fail fast, never auto-repair.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrTimeout indicates an engine call exceeded its wall-clock budget.
	ErrTimeout = errors.New("operation timed out")
)

// Classify maps an arbitrary error onto the taxonomy sentinel that governs
// its retry policy. Errors already wrapping a sentinel are returned as that
// sentinel; OS-level errors are translated by errno.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrResourceExhausted), errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return ErrResourceExhausted
	case errors.Is(err, ErrSourceUnavailable), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return ErrSourceUnavailable
	case errors.Is(err, ErrIntegrityViolation):
		return ErrIntegrityViolation
	case errors.Is(err, ErrChainBroken):
		return ErrChainBroken
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, ErrTransientIO), errors.Is(err, syscall.EIO), errors.Is(err, syscall.EAGAIN):
		return ErrTransientIO
	default:
		return err
	}
}

// Retryable reports whether the taxonomy allows retrying err with backoff.
// Only transient I/O qualifies; everything else fails fast.
func Retryable(err error) bool {
	return errors.Is(Classify(err), ErrTransientIO)
}

// Retry policy for transient I/O.
const (
	retryAttempts  = 3
	retryBaseDelay = 200 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// WithRetry runs fn, retrying up to three attempts when it fails with a
// transient I/O error. The backoff doubles from 200ms and is capped at 2s.
// Non-retryable errors and context cancellation return immediately.
func WithRetry(ctx context.Context, op string, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) || attempt == retryAttempts {
			return err
		}

		logging.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Transient I/O failure, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusFailed, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusCompleted, StatusVerified, true},
		// Forbidden: backwards or skipping moves
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusVerified, false},
		{StatusInProgress, StatusVerified, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInProgress, false},
		{StatusFailed, StatusCompleted, false},
		{StatusVerified, StatusCompleted, false},
		{StatusVerified, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestStatusVerifiedOnlyFromCompleted(t *testing.T) {
	for _, from := range []Status{StatusPending, StatusInProgress, StatusFailed, StatusVerified} {
		if from.CanTransition(StatusVerified) {
			t.Errorf("verified must only be reachable from completed, but %s allows it", from)
		}
	}
	if !StatusCompleted.CanTransition(StatusVerified) {
		t.Error("completed -> verified must be allowed")
	}
}

func TestStatusPredicates(t *testing.T) {
	if StatusInProgress.Terminal() {
		t.Error("in_progress must not be terminal")
	}
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusVerified} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusVerified} {
		if !s.Usable() {
			t.Errorf("%s must be usable", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusInProgress, StatusFailed} {
		if s.Usable() {
			t.Errorf("%s must not be usable", s)
		}
	}
}

func TestKindAndTypeValidity(t *testing.T) {
	if !KindFile.Valid() || !KindDatabase.Valid() {
		t.Error("known kinds must be valid")
	}
	if Kind("tape").Valid() {
		t.Error("unknown kind must be invalid")
	}
	if !TypeFull.Valid() || !TypeIncremental.Valid() || !TypeDifferential.Valid() {
		t.Error("known types must be valid")
	}
	if Type("snapshot").Valid() {
		t.Error("unknown type must be invalid")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"enospc", fmt.Errorf("write: %w", syscall.ENOSPC), ErrResourceExhausted},
		{"not exist", fmt.Errorf("open: %w", fs.ErrNotExist), ErrSourceUnavailable},
		{"permission", fmt.Errorf("open: %w", fs.ErrPermission), ErrSourceUnavailable},
		{"integrity", fmt.Errorf("verify: %w", ErrIntegrityViolation), ErrIntegrityViolation},
		{"chain", fmt.Errorf("restore: %w", ErrChainBroken), ErrChainBroken},
		{"timeout", fmt.Errorf("dump: %w", ErrTimeout), ErrTimeout},
		{"eio", fmt.Errorf("read: %w", syscall.EIO), ErrTransientIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.want == nil {
				if got != nil {
					t.Errorf("Classify = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("flaky: %w", syscall.EIO)) {
		t.Error("transient i/o must be retryable")
	}
	if Retryable(fmt.Errorf("full: %w", syscall.ENOSPC)) {
		t.Error("resource exhaustion must not be retryable")
	}
	if Retryable(fmt.Errorf("bad: %w", ErrIntegrityViolation)) {
		t.Error("integrity violations must never be retried")
	}
}

func TestWithRetryRecoversFromTransientFailure(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("flaky: %w", syscall.EIO)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestWithRetryFailsFastOnNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", func() error {
		calls++
		return fmt.Errorf("full: %w", syscall.ENOSPC)
	})
	if !errors.Is(err, syscall.ENOSPC) {
		t.Fatalf("expected the original error back, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable errors must not be retried, got %d attempts", calls)
	}
}

func TestWithRetryGivesUpAfterCappedAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), "test", func() error {
		calls++
		return fmt.Errorf("flaky: %w", syscall.EIO)
	})
	if !errors.Is(err, syscall.EIO) {
		t.Fatalf("expected the last error back, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestWithRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, "test", func() error {
		calls++
		cancel()
		return fmt.Errorf("flaky: %w", syscall.EIO)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt before cancellation, got %d", calls)
	}
}

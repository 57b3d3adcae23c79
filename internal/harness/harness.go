// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

/*
Package harness runs scheduled validation suites against sandboxed copies of
the backup engines. Every run builds a throwaway environment (its own
catalog, byte store, source tree, and loopback database), drives the real
engine code through it, and tears it down afterwards. The production
artifact set is never touched; a failed suite raises an alert and is
recorded for trend analysis, nothing more.
*/
package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/arkivist/internal/alerting"
	"github.com/tomtom215/arkivist/internal/logging"
	"github.com/tomtom215/arkivist/internal/metrics"
)

// Options configures the harness.
type Options struct {
	// SandboxDir is where per-run throwaway environments are built.
	SandboxDir string

	// HistoryDir receives the append-only execution log.
	HistoryDir string
}

// Harness runs validation suites in sandboxes.
type Harness struct {
	opts Options
	bus  *alerting.Bus

	// mu serializes suite runs; overlapping tiers share the sandbox
	// parent directory budget, not each other's environments.
	mu sync.Mutex
}

// New creates a harness. bus may be nil to disable alerting.
func New(bus *alerting.Bus, opts Options) (*Harness, error) {
	if opts.SandboxDir == "" {
		return nil, fmt.Errorf("sandbox directory is required")
	}
	if opts.HistoryDir == "" {
		return nil, fmt.Errorf("history directory is required")
	}
	for _, dir := range []string{opts.SandboxDir, opts.HistoryDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Harness{opts: opts, bus: bus}, nil
}

// testCase is one named check run against a sandbox.
type testCase struct {
	name string
	run  func(ctx context.Context, sb *sandbox) error
}

// cases returns the tier's case catalog. The restore round trip is part of
// every tier; it is the strongest correctness signal the subsystem has.
func (h *Harness) cases(tier Tier) []testCase {
	base := []testCase{
		{"file-creation", caseFileCreation},
		{"file-verification", caseFileVerification},
		{"file-restore-round-trip", caseFileRestoreRoundTrip},
		{"database-restore-round-trip", caseDatabaseRoundTrip},
	}
	if tier == TierDaily {
		return base
	}
	weekly := append(base,
		testCase{"incremental-chain", caseIncrementalChain},
		testCase{"retention-sweep", caseRetentionSweep},
	)
	if tier == TierWeekly {
		return weekly
	}
	return append(weekly,
		testCase{"simulated-disaster", caseSimulatedDisaster},
	)
}

// RunSuite builds a fresh sandbox, runs the tier's cases in order, records
// the execution, and alerts when any case failed. Case failures never
// surface as an error; the error return covers only environment problems.
func (h *Harness) RunSuite(ctx context.Context, tier Tier) (*TestExecution, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("unknown suite tier: %q", tier)
	}
	return h.runSuiteCases(ctx, tier, h.cases(tier))
}

func (h *Harness) runSuiteCases(ctx context.Context, tier Tier, cases []testCase) (*TestExecution, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	exec := &TestExecution{
		ID:        uuid.New().String(),
		Tier:      tier,
		StartedAt: time.Now(),
	}

	sb, err := newSandbox(filepath.Join(h.opts.SandboxDir, "run-"+exec.ID[:8]))
	if err != nil {
		return nil, fmt.Errorf("failed to build sandbox: %w", err)
	}
	defer sb.teardown()

	for _, tc := range cases {
		start := time.Now()
		caseErr := tc.run(ctx, sb)
		result := CaseResult{
			Name:     tc.name,
			Passed:   caseErr == nil,
			Duration: time.Since(start),
		}
		if caseErr != nil {
			result.Error = caseErr.Error()
			exec.Failed++
			logging.Warn().
				Str("tier", string(tier)).
				Str("case", tc.name).
				Err(caseErr).
				Msg("Harness case failed")
		} else {
			exec.Passed++
		}
		exec.Cases = append(exec.Cases, result)
	}
	exec.FinishedAt = time.Now()

	metrics.RecordHarnessSuite(string(tier), exec.Failed)
	if err := h.record(exec); err != nil {
		logging.Warn().Err(err).Msg("Failed to record harness execution")
	}
	if exec.Failed > 0 {
		h.alert(exec)
	}

	logging.Info().
		Str("tier", string(tier)).
		Int("passed", exec.Passed).
		Int("failed", exec.Failed).
		Dur("duration", exec.FinishedAt.Sub(exec.StartedAt)).
		Msg("Harness suite finished")
	return exec, nil
}

// Run adapts RunSuite onto scheduler job dispatch.
func (h *Harness) Run(ctx context.Context, tier string) error {
	t, err := ParseTier(tier)
	if err != nil {
		return err
	}
	_, err = h.RunSuite(ctx, t)
	return err
}

func (h *Harness) alert(exec *TestExecution) {
	if h.bus == nil {
		return
	}
	failing := make([]string, 0, exec.Failed)
	for _, c := range exec.Cases {
		if !c.Passed {
			failing = append(failing, c.Name)
		}
	}
	err := h.bus.Publish(alerting.Event{
		Type:     alerting.EventSuiteFailed,
		Severity: alerting.SeverityWarning,
		Message:  fmt.Sprintf("%s validation suite failed %d of %d cases", exec.Tier, exec.Failed, len(exec.Cases)),
		Fields: map[string]string{
			"execution_id": exec.ID,
			"tier":         string(exec.Tier),
			"failed_cases": strconv.Itoa(exec.Failed),
			"cases":        fmt.Sprintf("%v", failing),
		},
	})
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to publish suite alert")
	}
}

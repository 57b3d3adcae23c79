// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/arkivist/internal/alerting"
	"github.com/tomtom215/arkivist/internal/artifact"
)

func newTestHarness(t *testing.T, bus *alerting.Bus) *Harness {
	t.Helper()
	root := t.TempDir()
	h, err := New(bus, Options{
		SandboxDir: filepath.Join(root, "sandbox"),
		HistoryDir: filepath.Join(root, "history"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestRunSuiteDailyAllCasesPass(t *testing.T) {
	h := newTestHarness(t, nil)

	exec, err := h.RunSuite(context.Background(), TierDaily)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	if exec.Failed != 0 {
		t.Fatalf("failed cases = %d: %+v", exec.Failed, exec.Cases)
	}
	if exec.Passed != 4 {
		t.Fatalf("passed = %d, want 4 daily cases", exec.Passed)
	}
	for _, want := range []string{"file-creation", "file-verification", "file-restore-round-trip", "database-restore-round-trip"} {
		found := false
		for _, c := range exec.Cases {
			if c.Name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("daily suite is missing case %s", want)
		}
	}
}

func TestRunSuiteMonthlyIncludesAllTiers(t *testing.T) {
	h := newTestHarness(t, nil)

	exec, err := h.RunSuite(context.Background(), TierMonthly)
	if err != nil {
		t.Fatalf("RunSuite: %v", err)
	}
	if exec.Failed != 0 {
		t.Fatalf("failed cases = %d: %+v", exec.Failed, exec.Cases)
	}
	if len(exec.Cases) != 7 {
		t.Fatalf("monthly suite ran %d cases, want 7", len(exec.Cases))
	}
	last := exec.Cases[len(exec.Cases)-1]
	if last.Name != "simulated-disaster" || !last.Passed {
		t.Fatalf("simulated disaster case = %+v", last)
	}
}

func TestRunSuiteRejectsUnknownTier(t *testing.T) {
	h := newTestHarness(t, nil)
	if _, err := h.RunSuite(context.Background(), Tier("hourly")); err == nil {
		t.Fatal("expected error for unknown tier")
	}
	if err := h.Run(context.Background(), "hourly"); err == nil {
		t.Fatal("expected error from job adapter for unknown tier")
	}
}

func TestFailedCaseAlertsAndIsIsolated(t *testing.T) {
	bus := alerting.NewBus()
	defer bus.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// A production catalog the harness knows nothing about; it must be
	// byte-identical after a failing suite.
	prodDir := t.TempDir()
	prodCatalog, err := artifact.OpenCatalog(prodDir)
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	prod := &artifact.Artifact{
		ID:     "prod-1",
		Kind:   artifact.KindFile,
		Type:   artifact.TypeFull,
		Status: artifact.StatusCompleted,
	}
	if err := prodCatalog.Put(prod); err != nil {
		t.Fatalf("Put: %v", err)
	}

	h := newTestHarness(t, bus)
	cases := []testCase{
		{"file-creation", caseFileCreation},
		{"broken-restore-target", func(context.Context, *sandbox) error {
			return errors.New("restored content does not match source")
		}},
	}

	exec, err := h.runSuiteCases(context.Background(), TierDaily, cases)
	if err != nil {
		t.Fatalf("runSuiteCases: %v", err)
	}
	if exec.Failed != 1 || exec.Passed != 1 {
		t.Fatalf("failed = %d passed = %d, want 1 and 1", exec.Failed, exec.Passed)
	}

	select {
	case event := <-events:
		if event.Type != alerting.EventSuiteFailed {
			t.Fatalf("event type = %s, want suite_failed", event.Type)
		}
		if event.Fields["failed_cases"] != "1" {
			t.Fatalf("failed_cases field = %q", event.Fields["failed_cases"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no suite failure alert published")
	}

	// Production state is untouched by a failing suite.
	got, err := prodCatalog.Get("prod-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != artifact.StatusCompleted {
		t.Fatalf("production artifact status changed to %s", got.Status)
	}
	if err := prodCatalog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	h := newTestHarness(t, nil)

	for range 2 {
		if _, err := h.RunSuite(context.Background(), TierDaily); err != nil {
			t.Fatalf("RunSuite: %v", err)
		}
	}

	all, err := h.History(0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("history entries = %d, want 2", len(all))
	}
	if all[0].ID == all[1].ID {
		t.Fatal("history entries share an ID")
	}

	limited, err := h.History(1)
	if err != nil {
		t.Fatalf("History(1): %v", err)
	}
	if len(limited) != 1 || limited[0].ID != all[1].ID {
		t.Fatalf("History(1) = %+v, want only the newest entry", limited)
	}
}

func TestSandboxTeardownRemovesEnvironment(t *testing.T) {
	h := newTestHarness(t, nil)

	if _, err := h.RunSuite(context.Background(), TierDaily); err != nil {
		t.Fatalf("RunSuite: %v", err)
	}

	entries, err := os.ReadDir(h.opts.SandboxDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("sandbox dir still holds %d entries after the run", len(entries))
	}
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/arkivist/internal/alerting"
	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/logging"
	"github.com/tomtom215/arkivist/internal/metrics"
	"github.com/tomtom215/arkivist/internal/orchestrator"
)

var (
	// ErrExecutionActive indicates a recovery execution is already in
	// progress; only one runs at a time.
	ErrExecutionActive = errors.New("a recovery execution is already active")

	// ErrNoExecution indicates there is no execution to operate on.
	ErrNoExecution = errors.New("no active recovery execution")

	// ErrExecutionTerminal indicates the execution already ended.
	ErrExecutionTerminal = errors.New("recovery execution already ended")
)

// stateFile is the persisted execution state inside the state directory.
const stateFile = "execution.json"

// FleetVerifier is the orchestrator surface consulted before an execution
// is declared completed.
type FleetVerifier interface {
	VerifyAll(ctx context.Context) (*orchestrator.VerifySummary, error)
	CurrentStatus() (*orchestrator.Status, error)
}

// Engine interprets recovery procedures step by step.
type Engine struct {
	procedures *ProcedureCatalog
	runner     CommandRunner
	verifier   FleetVerifier
	bus        *alerting.Bus
	stateDir   string

	mu        sync.Mutex
	execution *Execution
	procedure *Procedure
}

// NewEngine creates a recovery engine and resumes any persisted mid-flight
// execution from the state directory.
func NewEngine(procedures *ProcedureCatalog, runner CommandRunner, verifier FleetVerifier, bus *alerting.Bus, stateDir string) (*Engine, error) {
	if stateDir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	if runner == nil {
		runner = LogRunner{}
	}

	e := &Engine{
		procedures: procedures,
		runner:     runner,
		verifier:   verifier,
		bus:        bus,
		stateDir:   stateDir,
	}
	if err := e.resume(); err != nil {
		return nil, err
	}
	return e, nil
}

// resume reloads persisted execution state after a restart.
func (e *Engine) resume() error {
	path := filepath.Join(e.stateDir, stateFile)
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the configured state dir
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read recovery state: %w", err)
	}

	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return fmt.Errorf("failed to decode recovery state: %w", err)
	}

	proc, err := e.procedures.Find(exec.DisasterType, exec.ProcedureName)
	if err != nil {
		// The catalog changed underneath a persisted execution; surface it
		// rather than resuming against the wrong steps.
		return fmt.Errorf("cannot resume execution %s: %w", exec.ID, err)
	}
	if !exec.Status.Terminal() && (exec.CurrentStepIndex < 0 || exec.CurrentStepIndex >= len(proc.Steps)) {
		// The procedure shrank underneath a persisted execution.
		return fmt.Errorf("cannot resume execution %s: step index %d out of range for procedure %s (%d steps)",
			exec.ID, exec.CurrentStepIndex, proc.Name, len(proc.Steps))
	}

	e.execution = &exec
	e.procedure = proc

	if !exec.Status.Terminal() {
		logging.Warn().
			Str("execution_id", exec.ID).
			Str("procedure", exec.ProcedureName).
			Int("next_step", exec.CurrentStepIndex).
			Msg("Resuming recovery execution after restart")
	}
	return nil
}

// persist writes the execution state atomically.
func (e *Engine) persist() error {
	data, err := json.MarshalIndent(e.execution, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode recovery state: %w", err)
	}

	path := filepath.Join(e.stateDir, stateFile)
	tmp, err := os.CreateTemp(e.stateDir, ".state-*")
	if err != nil {
		return fmt.Errorf("failed to create state temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck // Best effort cleanup on error
		os.Remove(tmp.Name()) //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("failed to write recovery state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("failed to finalize recovery state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to commit recovery state: %w", err)
	}
	return nil
}

// Start begins a new execution for the disaster type. procedureName may be
// empty to select the first registered procedure for that type.
func (e *Engine) Start(disasterType DisasterType, procedureName string) (*Execution, error) {
	if !disasterType.Valid() {
		return nil, fmt.Errorf("unknown disaster type: %q", disasterType)
	}

	proc, err := e.procedures.Find(disasterType, procedureName)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.execution != nil && !e.execution.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrExecutionActive, e.execution.ID)
	}

	e.execution = &Execution{
		ID:            uuid.New().String(),
		ProcedureName: proc.Name,
		DisasterType:  disasterType,
		Status:        StatusInProgress,
		StartedAt:     time.Now(),
	}
	e.procedure = proc

	if err := e.persist(); err != nil {
		return nil, err
	}

	logging.Info().
		Str("execution_id", e.execution.ID).
		Str("procedure", proc.Name).
		Str("disaster_type", string(disasterType)).
		Int("steps", len(proc.Steps)).
		Msg("Recovery execution started")
	return e.snapshotLocked(), nil
}

// ExecuteNextStep runs the next pending step: its commands, then its
// verification. A failed verification ends the execution in failed unless
// force is set, which records the step as forced and advances anyway.
func (e *Engine) ExecuteNextStep(ctx context.Context, force bool) (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.execution == nil {
		return nil, ErrNoExecution
	}
	if e.execution.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrExecutionTerminal, e.execution.Status)
	}

	step := e.procedure.Steps[e.execution.CurrentStepIndex]
	result := StepResult{
		Index:     e.execution.CurrentStepIndex,
		StepID:    step.ID,
		StartedAt: time.Now(),
	}

	output, stepErr := e.runStep(ctx, step)
	result.FinishedAt = time.Now()
	result.Output = output
	metrics.RecoveryStepDuration.WithLabelValues(string(e.execution.DisasterType)).
		Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())

	if stepErr != nil && !force {
		result.Error = stepErr.Error()
		e.execution.FailedSteps = append(e.execution.FailedSteps, result)
		e.failLocked(fmt.Sprintf("step %s failed: %v", step.ID, stepErr))
		if err := e.persist(); err != nil {
			return nil, err
		}
		return e.snapshotLocked(), nil
	}

	if stepErr != nil {
		result.Forced = true
		result.Error = stepErr.Error()
		logging.Warn().
			Str("execution_id", e.execution.ID).
			Str("step", step.ID).
			Err(stepErr).
			Msg("Step verification failed, force-advanced by operator")
	}

	e.execution.CompletedSteps = append(e.execution.CompletedSteps, result)
	e.execution.CurrentStepIndex++

	if e.execution.CurrentStepIndex >= len(e.procedure.Steps) {
		e.finalizeLocked(ctx)
	}

	if err := e.persist(); err != nil {
		return nil, err
	}
	return e.snapshotLocked(), nil
}

// runStep executes a step's commands and verification.
func (e *Engine) runStep(ctx context.Context, step Step) (string, error) {
	var output strings.Builder

	for _, command := range step.Commands {
		out, err := e.runner.Run(ctx, command)
		output.WriteString(out)
		if out != "" && !strings.HasSuffix(out, "\n") {
			output.WriteByte('\n')
		}
		if err != nil {
			return output.String(), err
		}
	}

	if step.Verification != "" {
		out, err := e.runner.Run(ctx, step.Verification)
		output.WriteString(out)
		if err != nil {
			return output.String(), fmt.Errorf("verification failed: %w", err)
		}
	}

	return output.String(), nil
}

// finalizeLocked runs the post-recovery checks and settles the terminal
// state. Called with the lock held, after the last step completed.
func (e *Engine) finalizeLocked(ctx context.Context) {
	if e.verifier == nil {
		e.completeLocked(nil)
		return
	}

	summary, err := e.verifier.VerifyAll(ctx)
	if err != nil {
		e.failLocked(fmt.Sprintf("post-recovery verification errored: %v", err))
		return
	}

	report := &PostVerifyReport{Checked: summary.Checked, Invalid: summary.Invalid}
	if status, err := e.verifier.CurrentStatus(); err == nil {
		report.Health = string(status.Health[artifact.KindFile].State)
	}
	e.execution.PostVerify = report

	if summary.Invalid > 0 {
		e.failLocked(fmt.Sprintf("post-recovery verification found %d invalid artifacts", summary.Invalid))
		return
	}
	e.completeLocked(report)
}

func (e *Engine) completeLocked(report *PostVerifyReport) {
	now := time.Now()
	e.execution.Status = StatusCompleted
	e.execution.FinishedAt = &now
	e.execution.PostVerify = report
	metrics.RecordRecovery(string(e.execution.DisasterType), nil)
	logging.Info().
		Str("execution_id", e.execution.ID).
		Str("procedure", e.execution.ProcedureName).
		Int("steps", len(e.execution.CompletedSteps)).
		Msg("Recovery execution completed")
}

func (e *Engine) failLocked(reason string) {
	now := time.Now()
	e.execution.Status = StatusFailed
	e.execution.FinishedAt = &now
	e.execution.Error = reason
	metrics.RecordRecovery(string(e.execution.DisasterType), errors.New(reason))
	logging.Error().
		Str("execution_id", e.execution.ID).
		Str("procedure", e.execution.ProcedureName).
		Str("reason", reason).
		Msg("Recovery execution failed")

	if e.bus != nil {
		if err := e.bus.Publish(alerting.Event{
			Type:     alerting.EventRecoveryFailed,
			Severity: alerting.SeverityCritical,
			Message:  "recovery execution failed: " + reason,
			Fields: map[string]string{
				"execution_id":  e.execution.ID,
				"disaster_type": string(e.execution.DisasterType),
			},
		}); err != nil {
			logging.Warn().Err(err).Msg("Failed to publish recovery alert")
		}
	}
}

// Abort cancels the execution between steps.
func (e *Engine) Abort() (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.execution == nil {
		return nil, ErrNoExecution
	}
	if e.execution.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrExecutionTerminal, e.execution.Status)
	}

	now := time.Now()
	e.execution.Status = StatusAborted
	e.execution.FinishedAt = &now
	if err := e.persist(); err != nil {
		return nil, err
	}

	logging.Warn().
		Str("execution_id", e.execution.ID).
		Int("completed_steps", len(e.execution.CompletedSteps)).
		Msg("Recovery execution aborted by operator")
	return e.snapshotLocked(), nil
}

// Current returns the present execution, terminal or not.
func (e *Engine) Current() (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execution == nil {
		return nil, ErrNoExecution
	}
	return e.snapshotLocked(), nil
}

// Steps exposes the active procedure's steps for status displays.
func (e *Engine) Steps() []Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.procedure == nil {
		return nil
	}
	out := make([]Step, len(e.procedure.Steps))
	copy(out, e.procedure.Steps)
	return out
}

// snapshotLocked copies the execution for callers outside the lock.
func (e *Engine) snapshotLocked() *Execution {
	cp := *e.execution
	cp.CompletedSteps = append([]StepResult(nil), e.execution.CompletedSteps...)
	cp.FailedSteps = append([]StepResult(nil), e.execution.FailedSteps...)
	return &cp
}

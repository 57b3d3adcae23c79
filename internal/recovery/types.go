// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package recovery drives declarative disaster recovery procedures through a
// resumable step-by-step execution state machine.
//
// Procedures are data, not code: they are loaded from a YAML catalog and
// interpreted generically, so adding a disaster type is a configuration
// change. Execution state is persisted after every step, and a process
// restart resumes mid-procedure instead of starting over.
package recovery

import (
	"fmt"
	"time"
)

// DisasterType categorizes the failure a procedure recovers from.
type DisasterType string

const (
	DisasterCompleteSystemFailure   DisasterType = "complete_system_failure"
	DisasterDatabaseCorruption      DisasterType = "database_corruption"
	DisasterFileSystemCorruption    DisasterType = "file_system_corruption"
	DisasterConfigurationCorruption DisasterType = "configuration_corruption"
	DisasterPartialDataLoss         DisasterType = "partial_data_loss"
	DisasterSecurityBreach          DisasterType = "security_breach"
)

// Valid reports whether d is a known disaster type.
func (d DisasterType) Valid() bool {
	switch d {
	case DisasterCompleteSystemFailure, DisasterDatabaseCorruption,
		DisasterFileSystemCorruption, DisasterConfigurationCorruption,
		DisasterPartialDataLoss, DisasterSecurityBreach:
		return true
	}
	return false
}

// Step is one ordered action within a procedure.
type Step struct {
	// ID identifies the step within its procedure.
	ID string `koanf:"id" json:"id"`

	Title       string `koanf:"title" json:"title"`
	Description string `koanf:"description" json:"description,omitempty"`

	// Commands run in order when the step executes.
	Commands []string `koanf:"commands" json:"commands,omitempty"`

	// Verification is an optional check command run after the commands.
	// A non-zero exit fails the step.
	Verification string `koanf:"verification" json:"verification,omitempty"`
}

// Procedure is one declarative recovery plan.
type Procedure struct {
	DisasterType DisasterType `koanf:"disaster_type" json:"disaster_type"`
	Name         string       `koanf:"name" json:"name"`
	Description  string       `koanf:"description" json:"description,omitempty"`

	// EstimatedDuration is advisory.
	EstimatedDuration time.Duration `koanf:"estimated_duration" json:"estimated_duration,omitempty"`

	// Prerequisites are advisory only, never machine-checked.
	Prerequisites []string `koanf:"prerequisites" json:"prerequisites,omitempty"`

	Steps []Step `koanf:"steps" json:"steps"`
}

// validate checks a loaded procedure for structural problems.
func (p *Procedure) validate() error {
	if !p.DisasterType.Valid() {
		return fmt.Errorf("procedure %q: unknown disaster type %q", p.Name, p.DisasterType)
	}
	if p.Name == "" {
		return fmt.Errorf("procedure for %s has no name", p.DisasterType)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("procedure %q has no steps", p.Name)
	}
	seen := make(map[string]struct{}, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("procedure %q: step %d has no id", p.Name, i)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("procedure %q: duplicate step id %q", p.Name, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// ExecutionStatus is the execution state machine's state.
type ExecutionStatus string

const (
	StatusNotStarted ExecutionStatus = "not_started"
	StatusInProgress ExecutionStatus = "in_progress"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
	StatusAborted    ExecutionStatus = "aborted"
)

// Terminal reports whether the execution can no longer advance.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// StepResult records one executed step.
type StepResult struct {
	Index      int       `json:"index"`
	StepID     string    `json:"step_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Output is the combined command and verification output.
	Output string `json:"output,omitempty"`

	// Forced marks a step the operator advanced past a failed verification.
	Forced bool `json:"forced,omitempty"`

	// Error is set when the step failed.
	Error string `json:"error,omitempty"`
}

// Execution is one run of a procedure.
type Execution struct {
	ID            string          `json:"id"`
	ProcedureName string          `json:"procedure_name"`
	DisasterType  DisasterType    `json:"disaster_type"`
	Status        ExecutionStatus `json:"status"`

	// CurrentStepIndex is the next step to execute.
	CurrentStepIndex int `json:"current_step_index"`

	CompletedSteps []StepResult `json:"completed_steps,omitempty"`
	FailedSteps    []StepResult `json:"failed_steps,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error is the execution-level failure reason.
	Error string `json:"error,omitempty"`

	// PostVerify summarizes the fleet verification run before completion.
	PostVerify *PostVerifyReport `json:"post_verify,omitempty"`
}

// PostVerifyReport is the condensed post-recovery verification outcome.
type PostVerifyReport struct {
	Checked int    `json:"checked"`
	Invalid int    `json:"invalid"`
	Health  string `json:"health,omitempty"`
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package recovery

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/tomtom215/arkivist/internal/logging"
)

// CommandRunner executes one step command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, command string) (string, error)
}

// LogRunner is the default runner: it logs each command as an operator
// instruction without executing anything. Procedures stay advisory runbooks
// until a deployment explicitly opts into execution.
type LogRunner struct{}

func (LogRunner) Run(_ context.Context, command string) (string, error) {
	logging.Info().Str("command", command).Msg("Recovery step command (manual execution required)")
	return fmt.Sprintf("logged: %s", command), nil
}

// ShellRunner executes commands through the shell. Only wire it in for
// deployments whose procedure catalogs contain trusted automation.
type ShellRunner struct {
	// Shell defaults to /bin/sh.
	Shell string
}

func (r ShellRunner) Run(ctx context.Context, command string) (string, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	//nolint:gosec // G204: commands come from the operator's procedure catalog
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command %q failed: %w", command, err)
	}
	return string(out), nil
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomtom215/arkivist/internal/alerting"
	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/logging"
	"github.com/tomtom215/arkivist/internal/metrics"
)

// VerifySummary reports a fleet-wide verification sweep.
type VerifySummary struct {
	Checked int `json:"checked"`
	Valid   int `json:"valid"`
	Invalid int `json:"invalid"`

	// Failures maps artifact ID to its detected problems.
	Failures map[string][]string `json:"failures,omitempty"`
}

// VerifyAll verifies every usable artifact of both kinds. Invalid artifacts
// are reported and alerted on; the sweep continues past them. An error is
// returned only when the sweep itself cannot proceed.
func (o *Orchestrator) VerifyAll(ctx context.Context) (*VerifySummary, error) {
	summary := &VerifySummary{Failures: make(map[string][]string)}

	for _, kind := range []artifact.Kind{artifact.KindFile, artifact.KindDatabase} {
		artifacts, err := o.catalog.List(artifact.ListOptions{Kind: kind, SortDesc: true})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s artifacts: %w", kind, err)
		}

		for _, a := range artifacts {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !a.Status.Usable() {
				continue
			}

			valid, problems, err := o.verifyOne(ctx, a)
			if err != nil {
				logging.Err(err).Str("artifact_id", a.ID).Msg("Verification errored")
				summary.Checked++
				summary.Invalid++
				summary.Failures[a.ID] = []string{err.Error()}
				continue
			}

			summary.Checked++
			metrics.RecordVerification(string(kind), valid)
			if valid {
				summary.Valid++
				continue
			}

			summary.Invalid++
			summary.Failures[a.ID] = problems
			o.alertVerificationFailed(a, problems)
		}
	}

	logging.Info().
		Int("checked", summary.Checked).
		Int("invalid", summary.Invalid).
		Msg("Verification sweep finished")
	return summary, nil
}

func (o *Orchestrator) verifyOne(ctx context.Context, a *artifact.Artifact) (bool, []string, error) {
	switch a.Kind {
	case artifact.KindFile:
		result, err := o.files.Verify(ctx, a.ID)
		if err != nil {
			return false, nil, err
		}
		return result.Valid, result.Problems, nil
	case artifact.KindDatabase:
		result, err := o.db.Verify(ctx, a.ID)
		if err != nil {
			return false, nil, err
		}
		return result.Valid, result.Problems, nil
	default:
		return false, nil, fmt.Errorf("unknown artifact kind: %s", a.Kind)
	}
}

func (o *Orchestrator) alertVerificationFailed(a *artifact.Artifact, problems []string) {
	if o.bus == nil {
		return
	}
	o.publish(alerting.Event{
		Type:     alerting.EventVerificationFailed,
		Severity: alerting.SeverityCritical,
		Message:  fmt.Sprintf("artifact %s failed verification", a.ID),
		Fields: map[string]string{
			"artifact_id": a.ID,
			"kind":        string(a.Kind),
			"problems":    strings.Join(problems, "; "),
		},
	})
}

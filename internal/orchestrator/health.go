// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package orchestrator

import (
	"time"

	"github.com/tomtom215/arkivist/internal/artifact"
)

// HealthState classifies how current a kind's backups are.
type HealthState string

const (
	// HealthUnknown means no backup has ever been attempted.
	HealthUnknown HealthState = "unknown"

	// HealthHealthy means the last successful backup is within the SLA.
	HealthHealthy HealthState = "healthy"

	// HealthStale means the last successful backup is older than the SLA.
	HealthStale HealthState = "stale"

	// HealthCritical means backups have been attempted but none has ever
	// succeeded.
	HealthCritical HealthState = "critical"
)

// gaugeValue maps the state onto the exported metric scale.
func (h HealthState) gaugeValue() int {
	switch h {
	case HealthHealthy:
		return 1
	case HealthStale:
		return 2
	case HealthCritical:
		return 3
	default:
		return 0
	}
}

// KindHealth is one kind's health assessment.
type KindHealth struct {
	State HealthState `json:"state"`

	// LastSuccess is the creation time of the newest usable artifact.
	LastSuccess *time.Time `json:"last_success,omitempty"`

	// LastArtifactID identifies the newest usable artifact.
	LastArtifactID string `json:"last_artifact_id,omitempty"`

	// Age is how far behind the newest usable artifact is.
	Age time.Duration `json:"age_seconds,omitempty"`
}

// assessHealth derives a kind's health from its newest usable artifact and
// whether any backup was ever attempted. It is a pure function of its
// inputs.
//
// The ladder: no data at all is unknown; attempts with zero successful
// backups ever is critical; a success older than staleAfter is stale;
// otherwise healthy.
func assessHealth(latest *artifact.Artifact, attempted bool, now time.Time, staleAfter time.Duration) KindHealth {
	if latest == nil {
		if !attempted {
			return KindHealth{State: HealthUnknown}
		}
		return KindHealth{State: HealthCritical}
	}

	age := now.Sub(latest.CreatedAt)
	h := KindHealth{
		LastSuccess:    &latest.CreatedAt,
		LastArtifactID: latest.ID,
		Age:            age,
	}

	if age > staleAfter {
		h.State = HealthStale
	} else {
		h.State = HealthHealthy
	}
	return h
}

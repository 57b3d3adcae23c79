// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package alerting carries operational alert events over an in-process
// pub/sub bus. Producers (orchestrator, recovery, harness) publish typed
// events; subscribers fan them out to the log and to API consumers.
package alerting

import "time"

// Severity classifies an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EventType identifies what happened.
type EventType string

const (
	// EventBackupFailed fires when a backup job ends in failure.
	EventBackupFailed EventType = "backup_failed"

	// EventVerificationFailed fires when an artifact fails integrity
	// verification.
	EventVerificationFailed EventType = "verification_failed"

	// EventHealthChanged fires on any backup health state transition.
	EventHealthChanged EventType = "health_changed"

	// EventRecoveryFailed fires when a recovery procedure step fails.
	EventRecoveryFailed EventType = "recovery_failed"

	// EventSuiteFailed fires when a harness test suite has failing cases.
	EventSuiteFailed EventType = "suite_failed"

	// EventRetentionCompleted fires after a pruning pass that deleted
	// something.
	EventRetentionCompleted EventType = "retention_completed"
)

// Event is one alert occurrence.
type Event struct {
	ID       string            `json:"id"`
	Type     EventType         `json:"type"`
	Severity Severity          `json:"severity"`
	Message  string            `json:"message"`
	Time     time.Time         `json:"time"`
	Fields   map[string]string `json:"fields,omitempty"`
}

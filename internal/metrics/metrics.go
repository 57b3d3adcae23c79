// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package metrics provides Prometheus instrumentation for backup, retention,
// recovery, and harness operations, exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Backup Metrics
	BackupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkivist_backup_runs_total",
			Help: "Total backup runs by kind, type, and outcome",
		},
		[]string{"kind", "type", "outcome"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arkivist_backup_duration_seconds",
			Help:    "Duration of backup runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"kind", "type"},
	)

	BackupSizeBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arkivist_backup_size_bytes",
			Help:    "Size of produced backup artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"kind", "type"},
	)

	BackupWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkivist_backup_warnings_total",
			Help: "Per-item warnings accumulated during partially successful backups",
		},
		[]string{"kind"},
	)

	LastSuccessTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arkivist_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup per kind",
		},
		[]string{"kind"},
	)

	// Health Metrics
	HealthState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arkivist_health_state",
			Help: "Backup health state (0=unknown, 1=healthy, 2=stale, 3=critical)",
		},
		[]string{"kind"},
	)

	// Verification Metrics
	VerificationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkivist_verification_runs_total",
			Help: "Total artifact verifications by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// Retention Metrics
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arkivist_retention_deleted_total",
			Help: "Total artifacts deleted by retention",
		},
	)

	RetentionBytesFreed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arkivist_retention_bytes_freed_total",
			Help: "Total stored bytes freed by retention",
		},
	)

	// Recovery Metrics
	RecoveryExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkivist_recovery_executions_total",
			Help: "Total recovery procedure executions by disaster type and outcome",
		},
		[]string{"disaster_type", "outcome"},
	)

	RecoveryStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arkivist_recovery_step_duration_seconds",
			Help:    "Duration of individual recovery steps in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"disaster_type"},
	)

	// Harness Metrics
	HarnessSuites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkivist_harness_suites_total",
			Help: "Total harness suite executions by tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	HarnessCaseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkivist_harness_case_failures_total",
			Help: "Total failed harness test cases by tier",
		},
		[]string{"tier"},
	)

	// Scheduler Metrics
	ScheduledFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arkivist_scheduled_fires_total",
			Help: "Total scheduler fires by job and disposition",
		},
		[]string{"job", "disposition"}, // "run", "skipped"
	)
)

// outcome converts an error into an outcome label.
func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordBackup records one finished backup run.
func RecordBackup(kind, typ string, duration time.Duration, sizeBytes int64, warnings int, err error) {
	BackupRuns.WithLabelValues(kind, typ, outcome(err)).Inc()
	if err == nil {
		BackupDuration.WithLabelValues(kind, typ).Observe(duration.Seconds())
		BackupSizeBytes.WithLabelValues(kind, typ).Observe(float64(sizeBytes))
		LastSuccessTimestamp.WithLabelValues(kind).SetToCurrentTime()
	}
	if warnings > 0 {
		BackupWarnings.WithLabelValues(kind).Add(float64(warnings))
	}
}

// RecordVerification records one artifact verification.
func RecordVerification(kind string, valid bool) {
	label := "valid"
	if !valid {
		label = "invalid"
	}
	VerificationRuns.WithLabelValues(kind, label).Inc()
}

// RecordRetention records one pruning pass.
func RecordRetention(deleted int, bytesFreed int64) {
	RetentionDeleted.Add(float64(deleted))
	RetentionBytesFreed.Add(float64(bytesFreed))
}

// SetHealthState publishes a kind's health as a numeric gauge.
func SetHealthState(kind string, state int) {
	HealthState.WithLabelValues(kind).Set(float64(state))
}

// RecordRecovery records one finished recovery execution.
func RecordRecovery(disasterType string, err error) {
	RecoveryExecutions.WithLabelValues(disasterType, outcome(err)).Inc()
}

// RecordHarnessSuite records one finished harness suite.
func RecordHarnessSuite(tier string, failedCases int) {
	label := "success"
	if failedCases > 0 {
		label = "failure"
		HarnessCaseFailures.WithLabelValues(tier).Add(float64(failedCases))
	}
	HarnessSuites.WithLabelValues(tier, label).Inc()
}

// RecordFire records a scheduler fire and whether it ran or was skipped.
func RecordFire(job string, ran bool) {
	disposition := "run"
	if !ran {
		disposition = "skipped"
	}
	ScheduledFires.WithLabelValues(job, disposition).Inc()
}

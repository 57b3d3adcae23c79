// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/harness"
	"github.com/tomtom215/arkivist/internal/orchestrator"
	"github.com/tomtom215/arkivist/internal/retention"
)

// Orchestrator is the backup coordination surface the API drives.
type Orchestrator interface {
	RunFullBackup(ctx context.Context, trigger artifact.Trigger) ([]*artifact.Artifact, error)
	RunIncrementalBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error)
	RunDifferentialBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error)
	RunDatabaseBackup(ctx context.Context, trigger artifact.Trigger) (*artifact.Artifact, error)
	RunRetention(ctx context.Context) (*retention.Result, error)
	VerifyAll(ctx context.Context) (*orchestrator.VerifySummary, error)
	CurrentStatus() (*orchestrator.Status, error)
}

// RetentionPreviewer reports what retention would delete without deleting.
type RetentionPreviewer interface {
	Preview(ctx context.Context) (*retention.Result, error)
}

// SuiteRunner runs harness suites and exposes their history.
type SuiteRunner interface {
	RunSuite(ctx context.Context, tier harness.Tier) (*harness.TestExecution, error)
	History(limit int) ([]harness.TestExecution, error)
}

// Handler serves the HTTP endpoints.
type Handler struct {
	catalog      *artifact.Catalog
	orchestrator Orchestrator
	previewer    RetentionPreviewer
	recovery     RecoveryEngine
	suites       SuiteRunner
}

// NewHandler wires the endpoint dependencies. Optional collaborators may be
// nil; their endpoints answer 503.
func NewHandler(catalog *artifact.Catalog, orch Orchestrator, previewer RetentionPreviewer, rec RecoveryEngine, suites SuiteRunner) *Handler {
	return &Handler{
		catalog:      catalog,
		orchestrator: orch,
		previewer:    previewer,
		recovery:     rec,
		suites:       suites,
	}
}

// healthFeed is the monitoring-facing summary.
type healthFeed struct {
	BackupHealth         orchestrator.HealthState                  `json:"backup_health"`
	HoursSinceLastBackup *float64                                  `json:"hours_since_last_backup,omitempty"`
	RecentHistory        []historyEntry                            `json:"recent_history"`
	Kinds                map[artifact.Kind]orchestrator.KindHealth `json:"kinds"`
}

type historyEntry struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Errors    string `json:"errors,omitempty"`
}

// healthRank orders states worst-last for aggregation.
var healthRank = map[orchestrator.HealthState]int{
	orchestrator.HealthHealthy:  0,
	orchestrator.HealthUnknown:  1,
	orchestrator.HealthStale:    2,
	orchestrator.HealthCritical: 3,
}

// Health answers the aggregated health feed.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.CurrentStatus()
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to assess backup health", err)
		return
	}

	feed := healthFeed{
		BackupHealth:  orchestrator.HealthUnknown,
		Kinds:         status.Health,
		RecentHistory: make([]historyEntry, 0, len(status.RecentRuns)),
	}

	first := true
	for _, kh := range status.Health {
		if first || healthRank[kh.State] > healthRank[feed.BackupHealth] {
			feed.BackupHealth = kh.State
			first = false
		}
		if kh.LastSuccess != nil {
			hours := kh.Age.Hours()
			if feed.HoursSinceLastBackup == nil || hours < *feed.HoursSinceLastBackup {
				feed.HoursSinceLastBackup = &hours
			}
		}
	}

	for _, rec := range status.RecentRuns {
		feed.RecentHistory = append(feed.RecentHistory, historyEntry{
			Timestamp: rec.FinishedAt.UTC().Format(time.RFC3339),
			Type:      rec.Operation,
			Success:   rec.Outcome == "success",
			Errors:    rec.Error,
		})
	}

	respondSuccess(w, http.StatusOK, feed)
}

// Status answers the full orchestrator status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.CurrentStatus()
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to assemble status", err)
		return
	}
	respondSuccess(w, http.StatusOK, status)
}

// TriggerBackup runs the backup named by the {operation} route parameter.
func (h *Handler) TriggerBackup(w http.ResponseWriter, r *http.Request) {
	var (
		artifacts []*artifact.Artifact
		err       error
	)

	operation := chi.URLParam(r, "operation")
	switch operation {
	case "full":
		artifacts, err = h.orchestrator.RunFullBackup(r.Context(), artifact.TriggerManual)
	case "incremental":
		var a *artifact.Artifact
		a, err = h.orchestrator.RunIncrementalBackup(r.Context(), artifact.TriggerManual)
		artifacts = appendArtifact(artifacts, a)
	case "differential":
		var a *artifact.Artifact
		a, err = h.orchestrator.RunDifferentialBackup(r.Context(), artifact.TriggerManual)
		artifacts = appendArtifact(artifacts, a)
	case "database":
		var a *artifact.Artifact
		a, err = h.orchestrator.RunDatabaseBackup(r.Context(), artifact.TriggerManual)
		artifacts = appendArtifact(artifacts, a)
	default:
		respondError(w, http.StatusBadRequest, errCodeBadRequest, "unknown backup operation: "+operation, nil)
		return
	}

	if errors.Is(err, orchestrator.ErrJobInFlight) {
		respondError(w, http.StatusConflict, errCodeConflict, "a backup of this kind is already running", nil)
		return
	}
	if err != nil && len(artifacts) == 0 {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "backup failed: "+err.Error(), err)
		return
	}

	// Partial success still returns the surviving artifacts.
	payload := map[string]interface{}{"artifacts": artifacts}
	if err != nil {
		payload["error"] = err.Error()
	}
	respondSuccess(w, http.StatusAccepted, payload)
}

func appendArtifact(artifacts []*artifact.Artifact, a *artifact.Artifact) []*artifact.Artifact {
	if a != nil {
		artifacts = append(artifacts, a)
	}
	return artifacts
}

// ListArtifacts answers catalog listings with optional filters.
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := artifact.ListOptions{Limit: 100, SortDesc: true}

	if kind := query.Get("kind"); kind != "" {
		opts.Kind = artifact.Kind(kind)
	}
	if typ := query.Get("type"); typ != "" {
		t := artifact.Type(typ)
		opts.Type = &t
	}
	if status := query.Get("status"); status != "" {
		s := artifact.Status(status)
		opts.Status = &s
	}
	if limit := query.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	artifacts, err := h.catalog.List(opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to list artifacts", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"artifacts": artifacts,
		"count":     len(artifacts),
	})
}

// GetArtifact answers one artifact by ID.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.catalog.Get(id)
	if errors.Is(err, artifact.ErrNotFound) {
		respondError(w, http.StatusNotFound, errCodeNotFound, "no artifact with ID "+id, nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load artifact", err)
		return
	}
	respondSuccess(w, http.StatusOK, a)
}

// VerifyAll sweeps every usable artifact.
func (h *Handler) VerifyAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.orchestrator.VerifyAll(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "verification sweep failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, summary)
}

// RetentionPrune applies the retention policies now.
func (h *Handler) RetentionPrune(w http.ResponseWriter, r *http.Request) {
	result, err := h.orchestrator.RunRetention(r.Context())
	if errors.Is(err, orchestrator.ErrJobInFlight) {
		respondError(w, http.StatusConflict, errCodeConflict, "a retention pass is already running", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "retention pass failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, result)
}

// RetentionPreview reports what a prune would delete.
func (h *Handler) RetentionPreview(w http.ResponseWriter, r *http.Request) {
	if h.previewer == nil {
		respondError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "retention is not configured", nil)
		return
	}
	result, err := h.previewer.Preview(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "retention preview failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, result)
}

// RunSuite triggers one harness tier.
func (h *Handler) RunSuite(w http.ResponseWriter, r *http.Request) {
	if h.suites == nil {
		respondError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "the test harness is not configured", nil)
		return
	}

	tier, err := harness.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeBadRequest, err.Error(), nil)
		return
	}

	exec, err := h.suites.RunSuite(r.Context(), tier)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "suite run failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, exec)
}

// SuiteHistory answers recent harness executions.
func (h *Handler) SuiteHistory(w http.ResponseWriter, r *http.Request) {
	if h.suites == nil {
		respondError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "the test harness is not configured", nil)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	executions, err := h.suites.History(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to read suite history", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

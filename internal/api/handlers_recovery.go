// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/arkivist/internal/recovery"
)

// RecoveryEngine is the disaster recovery surface the API drives.
type RecoveryEngine interface {
	Start(disasterType recovery.DisasterType, procedureName string) (*recovery.Execution, error)
	ExecuteNextStep(ctx context.Context, force bool) (*recovery.Execution, error)
	Abort() (*recovery.Execution, error)
	Current() (*recovery.Execution, error)
	Steps() []recovery.Step
}

type startRecoveryRequest struct {
	DisasterType string `json:"disaster_type"`
	Procedure    string `json:"procedure,omitempty"`
}

type stepRecoveryRequest struct {
	Force bool `json:"force,omitempty"`
}

func (h *Handler) recoveryAvailable(w http.ResponseWriter) bool {
	if h.recovery == nil {
		respondError(w, http.StatusServiceUnavailable, errCodeServiceUnavailable, "disaster recovery is not configured", nil)
		return false
	}
	return true
}

// StartRecovery begins a recovery execution.
func (h *Handler) StartRecovery(w http.ResponseWriter, r *http.Request) {
	if !h.recoveryAvailable(w) {
		return
	}

	var req startRecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body", err)
		return
	}

	exec, err := h.recovery.Start(recovery.DisasterType(req.DisasterType), req.Procedure)
	if errors.Is(err, recovery.ErrExecutionActive) {
		respondError(w, http.StatusConflict, errCodeConflict, err.Error(), nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, errCodeBadRequest, err.Error(), nil)
		return
	}
	respondSuccess(w, http.StatusCreated, exec)
}

// RecoveryStep executes the next pending step.
func (h *Handler) RecoveryStep(w http.ResponseWriter, r *http.Request) {
	if !h.recoveryAvailable(w) {
		return
	}

	var req stepRecoveryRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body", err)
			return
		}
	}

	exec, err := h.recovery.ExecuteNextStep(r.Context(), req.Force)
	if errors.Is(err, recovery.ErrNoExecution) {
		respondError(w, http.StatusNotFound, errCodeNotFound, err.Error(), nil)
		return
	}
	if errors.Is(err, recovery.ErrExecutionTerminal) {
		respondError(w, http.StatusConflict, errCodeConflict, err.Error(), nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to execute step", err)
		return
	}
	respondSuccess(w, http.StatusOK, exec)
}

// AbortRecovery cancels the active execution between steps.
func (h *Handler) AbortRecovery(w http.ResponseWriter, r *http.Request) {
	if !h.recoveryAvailable(w) {
		return
	}

	exec, err := h.recovery.Abort()
	if errors.Is(err, recovery.ErrNoExecution) {
		respondError(w, http.StatusNotFound, errCodeNotFound, err.Error(), nil)
		return
	}
	if errors.Is(err, recovery.ErrExecutionTerminal) {
		respondError(w, http.StatusConflict, errCodeConflict, err.Error(), nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to abort execution", err)
		return
	}
	respondSuccess(w, http.StatusOK, exec)
}

// RecoveryStatus answers the current execution and its procedure's steps.
func (h *Handler) RecoveryStatus(w http.ResponseWriter, r *http.Request) {
	if !h.recoveryAvailable(w) {
		return
	}

	exec, err := h.recovery.Current()
	if errors.Is(err, recovery.ErrNoExecution) {
		respondError(w, http.StatusNotFound, errCodeNotFound, "no recovery execution", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, errCodeInternalError, "failed to load execution", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"execution": exec,
		"steps":     h.recovery.Steps(),
	})
}

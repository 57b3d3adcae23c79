// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package api provides the HTTP surface: the health feed, manual backup
// triggers, artifact listings, verification, retention, recovery control,
// and validation suite runs.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/arkivist/internal/logging"
)

// Error codes for API responses
const (
	errCodeBadRequest         = "BAD_REQUEST"
	errCodeNotFound           = "NOT_FOUND"
	errCodeConflict           = "CONFLICT"
	errCodeInternalError      = "INTERNAL_ERROR"
	errCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// apiResponse is the envelope every endpoint answers with.
type apiResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Error    *apiError   `json:"error,omitempty"`
	Metadata metadata    `json:"metadata"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

func respondJSON(w http.ResponseWriter, status int, response *apiResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, &apiResponse{
		Status:   "success",
		Data:     data,
		Metadata: metadata{Timestamp: time.Now()},
	})
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API Error")
	}
	respondJSON(w, status, &apiResponse{
		Status:   "error",
		Error:    &apiError{Code: code, Message: message},
		Metadata: metadata{Timestamp: time.Now()},
	})
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunRecord is one finished orchestrated run.
type RunRecord struct {
	ID         string    `json:"id"`
	Operation  string    `json:"operation"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`

	// ArtifactIDs lists artifacts the run produced or touched.
	ArtifactIDs []string `json:"artifact_ids,omitempty"`
}

// history is a bounded in-memory run log, newest first.
type history struct {
	mu      sync.Mutex
	records []RunRecord
	limit   int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = 100
	}
	return &history{limit: limit}
}

// add records one finished run.
func (h *history) add(rec RunRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append([]RunRecord{rec}, h.records...)
	if len(h.records) > h.limit {
		h.records = h.records[:h.limit]
	}
}

// recent returns up to n newest records.
func (h *history) recent(n int) []RunRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.records) {
		n = len(h.records)
	}
	out := make([]RunRecord, n)
	copy(out, h.records[:n])
	return out
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package harness

import (
	"fmt"
	"time"
)

// Tier identifies a suite schedule tier. Each tier runs a fixed catalog of
// cases; higher tiers include everything the lower ones run.
type Tier string

const (
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierDaily, TierWeekly, TierMonthly:
		return true
	}
	return false
}

// ParseTier converts a job or request string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown suite tier: %q", s)
	}
	return t, nil
}

// CaseResult is the outcome of one test case within a suite run.
type CaseResult struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// TestExecution is one complete suite run, recorded append-only.
type TestExecution struct {
	ID         string       `json:"id"`
	Tier       Tier         `json:"tier"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Cases      []CaseResult `json:"cases"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
}

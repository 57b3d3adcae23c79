// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package orchestrator

import (
	"errors"
	"time"

	"github.com/tomtom215/arkivist/internal/alerting"
	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/metrics"
)

// Status is the orchestrator's externally visible state.
type Status struct {
	// Health per kind.
	Health map[artifact.Kind]KindHealth `json:"health"`

	// NextRuns maps scheduled job names to their next fire time.
	NextRuns map[string]time.Time `json:"next_runs,omitempty"`

	// InFlight lists kinds with a run currently in progress.
	InFlight []artifact.Kind `json:"in_flight,omitempty"`

	// RecentRuns is the newest-first run log.
	RecentRuns []RunRecord `json:"recent_runs,omitempty"`
}

// CurrentStatus assembles health, schedule, and history.
func (o *Orchestrator) CurrentStatus() (*Status, error) {
	status := &Status{
		Health:     make(map[artifact.Kind]KindHealth, 2),
		RecentRuns: o.history.recent(20),
	}

	for _, kind := range []artifact.Kind{artifact.KindFile, artifact.KindDatabase} {
		h, err := o.healthOf(kind)
		if err != nil {
			return nil, err
		}
		status.Health[kind] = h
	}

	if o.sched != nil {
		status.NextRuns = o.sched.NextRuns()
	}

	o.mu.Lock()
	for kind, busy := range o.inflight {
		if busy {
			status.InFlight = append(status.InFlight, kind)
		}
	}
	o.mu.Unlock()

	return status, nil
}

// healthOf assesses one kind from the catalog.
func (o *Orchestrator) healthOf(kind artifact.Kind) (KindHealth, error) {
	latest, err := o.catalog.LatestUsable(kind)
	if err != nil && !errors.Is(err, artifact.ErrNotFound) {
		return KindHealth{}, err
	}

	attempted := latest != nil
	if !attempted {
		// No usable artifact; check whether anything was ever tried.
		any, listErr := o.catalog.List(artifact.ListOptions{Kind: kind, Limit: 1})
		if listErr != nil {
			return KindHealth{}, listErr
		}
		attempted = len(any) > 0
	}

	return assessHealth(latest, attempted, o.now(), o.opts.StaleAfter), nil
}

// publishHealth refreshes the health gauges and alerts on transitions.
func (o *Orchestrator) publishHealth() {
	for _, kind := range []artifact.Kind{artifact.KindFile, artifact.KindDatabase} {
		h, err := o.healthOf(kind)
		if err != nil {
			continue
		}
		metrics.SetHealthState(string(kind), h.State.gaugeValue())
		o.noteHealthTransition(kind, h.State)
	}
}

// noteHealthTransition publishes an alert when a kind's health changes.
func (o *Orchestrator) noteHealthTransition(kind artifact.Kind, state HealthState) {
	o.mu.Lock()
	if o.lastHealth == nil {
		o.lastHealth = make(map[artifact.Kind]HealthState)
	}
	prev, seen := o.lastHealth[kind]
	o.lastHealth[kind] = state
	o.mu.Unlock()

	if !seen || prev == state || o.bus == nil {
		return
	}

	severity := alerting.SeverityInfo
	if state == HealthStale {
		severity = alerting.SeverityWarning
	}
	if state == HealthCritical {
		severity = alerting.SeverityCritical
	}
	o.publish(alerting.Event{
		Type:     alerting.EventHealthChanged,
		Severity: severity,
		Message:  string(kind) + " backup health is now " + string(state),
		Fields: map[string]string{
			"kind": string(kind),
			"from": string(prev),
			"to":   string(state),
		},
	})
}

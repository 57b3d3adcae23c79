// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package artifact defines the backup artifact data model, the persistent
// artifact catalog, and the abstract artifact byte store.
//
// An Artifact is one produced backup unit (a file archive or a database dump).
// Its status advances forward only, through an explicit transition table:
//
//	pending -> in_progress -> completed -> verified
//	                       -> failed
//
// The catalog is the one piece of truly shared mutable state in the
// subsystem; all status mutations go through compare-and-set updates keyed by
// artifact ID so a finishing job and a concurrent retention sweep cannot lose
// updates to the same record.
package artifact

import (
	"time"
)

// Kind identifies which engine produced an artifact.
type Kind string

const (
	// KindFile is a filesystem snapshot artifact.
	KindFile Kind = "file"

	// KindDatabase is a logical database dump artifact.
	KindDatabase Kind = "database"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindFile || k == KindDatabase
}

// Type identifies the backup strategy used to produce an artifact.
type Type string

const (
	// TypeFull is a complete snapshot of the source set.
	TypeFull Type = "full"

	// TypeIncremental contains only changes since its immediate parent artifact.
	TypeIncremental Type = "incremental"

	// TypeDifferential contains all changes since the last full backup.
	TypeDifferential Type = "differential"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t == TypeFull || t == TypeIncremental || t == TypeDifferential
}

// Status represents the lifecycle state of an artifact.
type Status string

const (
	// StatusPending indicates the artifact record exists but work has not started.
	StatusPending Status = "pending"

	// StatusInProgress indicates the producing job is running.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates the artifact was written and checksummed.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the producing job failed; the artifact is unusable.
	StatusFailed Status = "failed"

	// StatusVerified indicates a post-completion verification pass succeeded.
	// Only reachable from StatusCompleted.
	StatusVerified Status = "verified"
)

// transitions is the closed table of legal forward status transitions.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusFailed},
	StatusInProgress: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusVerified},
	StatusVerified:   {},
	StatusFailed:     {},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// advance. The lifecycle only moves forward; terminal states have no exits
// except completed -> verified.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal state for the producing job.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusVerified
}

// Usable reports whether an artifact in this status may serve as a restore
// source or as a parent for an incremental/differential chain.
func (s Status) Usable() bool {
	return s == StatusCompleted || s == StatusVerified
}

// Trigger indicates what initiated the producing job.
type Trigger string

const (
	// TriggerManual indicates the backup was triggered by operator request.
	TriggerManual Trigger = "manual"

	// TriggerScheduled indicates the backup was triggered by the scheduler.
	TriggerScheduled Trigger = "scheduled"

	// TriggerHarness indicates the backup was created by the test harness
	// against a sandbox catalog, never the production one.
	TriggerHarness Trigger = "harness"
)

// Manifest is the inclusion/exclusion rule set a file backup was created from.
// It is recorded on the artifact so verification and restore interpret the
// archive with the same rules that produced it.
type Manifest struct {
	// Include is the ordered list of root paths to snapshot.
	Include []string `json:"include"`

	// Exclude is a list of glob patterns (doublestar syntax) matched against
	// paths relative to their include root.
	Exclude []string `json:"exclude,omitempty"`

	// MaxFileSizeBytes skips files larger than this (0 = no ceiling).
	MaxFileSizeBytes int64 `json:"max_file_size_bytes,omitempty"`
}

// Artifact is one produced backup unit.
type Artifact struct {
	// ID is an opaque unique identifier (UUID).
	ID string `json:"id"`

	// Kind is file or database.
	Kind Kind `json:"kind"`

	// Type is full, incremental, or differential.
	Type Type `json:"type"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Trigger records what initiated the producing job.
	Trigger Trigger `json:"trigger"`

	// CreatedAt is when the producing job started.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the producing job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration of the producing job.
	Duration time.Duration `json:"duration_ms"`

	// StoreKey is the artifact's key in the byte store.
	StoreKey string `json:"store_key"`

	// SizeBytes is the stored artifact size.
	SizeBytes int64 `json:"size_bytes"`

	// ItemCount summarizes contents: files for file artifacts, tables for
	// database artifacts.
	ItemCount int `json:"item_count"`

	// Checksum is the hex SHA-256 of the stored artifact bytes.
	Checksum string `json:"checksum"`

	// SourceManifest is the rule set used for file artifacts.
	SourceManifest *Manifest `json:"source_manifest,omitempty"`

	// ParentID points at the base artifact for incremental/differential types.
	ParentID string `json:"parent_id,omitempty"`

	// Format is the dump format for database artifacts (custom, plain, archive).
	Format string `json:"format,omitempty"`

	// Error is the job-level failure reason, set only on StatusFailed.
	Error string `json:"error,omitempty"`

	// Warnings accumulates per-item problems that did not fail the job
	// (unreadable files skipped during a partial-success file backup).
	Warnings []string `json:"warnings,omitempty"`

	// Files lists archive members for file artifacts.
	Files []File `json:"files,omitempty"`
}

// File is one member recorded inside a file artifact.
type File struct {
	// Path within the archive, relative to its include root.
	Path string `json:"path"`

	// OriginalPath on the source filesystem.
	OriginalPath string `json:"original_path"`

	// Size in bytes.
	Size int64 `json:"size"`

	// ModTime of the source file at backup time.
	ModTime time.Time `json:"mod_time"`

	// Checksum is the hex SHA-256 of the member's bytes.
	Checksum string `json:"checksum"`
}

// ListOptions filters catalog listings.
type ListOptions struct {
	Kind     Kind    `json:"kind,omitempty"`
	Type     *Type   `json:"type,omitempty"`
	Status   *Status `json:"status,omitempty"`
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
	SortDesc bool    `json:"sort_desc"`
}

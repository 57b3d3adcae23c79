// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package dbback

import (
	"context"
	"io"
)

// DumpInfo summarizes a completed logical dump.
type DumpInfo struct {
	// Tables is the number of tables dumped.
	Tables int

	// ServerVersion is the database server version string.
	ServerVersion string
}

// Conn abstracts the database the engine dumps and restores. The production
// implementation is pgx-backed; tests substitute a mock.
type Conn interface {
	// Ping checks reachability and credentials.
	Ping(ctx context.Context) error

	// Dump streams a logical SQL dump of the production database to w.
	// The stream ends with the completeness trailer.
	Dump(ctx context.Context, w io.Writer) (DumpInfo, error)

	// Restore replays a SQL dump stream into the named target database.
	Restore(ctx context.Context, r io.Reader, targetDB string) error
}

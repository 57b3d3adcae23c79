// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package dbback

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/arkivist/internal/logging"
)

// dumpHeader and dumpTrailer frame a logical dump. Verification treats a
// stream without the trailer as an incomplete dump.
const (
	dumpHeader  = "-- arkivist logical dump"
	dumpTrailer = "-- arkivist dump complete"
)

// PgxConn is the pgx-backed production Conn.
type PgxConn struct {
	pool *pgxpool.Pool
}

// NewPgxConn connects to the database at dsn and verifies reachability.
func NewPgxConn(ctx context.Context, dsn string) (*PgxConn, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PgxConn{pool: pool}, nil
}

// Close releases the underlying pool.
func (c *PgxConn) Close() {
	c.pool.Close()
}

// Ping checks reachability and credentials.
func (c *PgxConn) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Dump streams a logical SQL dump: a framed header, schema and data per
// table in COPY format, and the completeness trailer.
func (c *PgxConn) Dump(ctx context.Context, w io.Writer) (DumpInfo, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return DumpInfo{}, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	var version string
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return DumpInfo{}, fmt.Errorf("failed to read server version: %w", err)
	}

	tables, err := listTables(ctx, conn.Conn())
	if err != nil {
		return DumpInfo{}, err
	}

	if _, err := fmt.Fprintf(w, "%s\n-- server: %s\n-- started: %s\n\n",
		dumpHeader, version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return DumpInfo{}, fmt.Errorf("failed to write dump header: %w", err)
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return DumpInfo{}, err
		}
		if err := dumpTable(ctx, conn.Conn(), w, table); err != nil {
			return DumpInfo{}, err
		}
	}

	if _, err := fmt.Fprintf(w, "%s\n", dumpTrailer); err != nil {
		return DumpInfo{}, fmt.Errorf("failed to write dump trailer: %w", err)
	}

	logging.Debug().Int("tables", len(tables)).Msg("Logical dump finished")
	return DumpInfo{Tables: len(tables), ServerVersion: version}, nil
}

// Restore replays a dump stream into targetDB statement by statement. COPY
// sections are fed through the wire protocol's copy-in path.
func (c *PgxConn) Restore(ctx context.Context, r io.Reader, targetDB string) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	// The pool is bound to one database; replaying into another requires a
	// fresh connection against that database.
	cfg := conn.Conn().Config().Copy()
	cfg.Database = targetDB
	target, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to target database %s: %w", targetDB, err)
	}
	defer target.Close(ctx) //nolint:errcheck // Best effort cleanup

	return replayDump(ctx, target, r)
}

// listTables returns the public schema's base tables, sorted.
func listTables(ctx context.Context, conn *pgx.Conn) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// dumpTable writes one table's COPY section.
func dumpTable(ctx context.Context, conn *pgx.Conn, w io.Writer, table string) error {
	ident := pgx.Identifier{table}.Sanitize()

	if _, err := fmt.Fprintf(w, "COPY %s FROM stdin;\n", ident); err != nil {
		return fmt.Errorf("failed to write copy header for %s: %w", table, err)
	}

	if _, err := conn.PgConn().CopyTo(ctx, w, fmt.Sprintf("COPY %s TO STDOUT", ident)); err != nil {
		return fmt.Errorf("failed to copy table %s: %w", table, err)
	}

	if _, err := fmt.Fprint(w, "\\.\n\n"); err != nil {
		return fmt.Errorf("failed to terminate copy section for %s: %w", table, err)
	}
	return nil
}

// replayDump executes the dump stream against conn.
func replayDump(ctx context.Context, conn *pgx.Conn, r io.Reader) error {
	scanner := newDumpScanner(r)
	for {
		section, err := scanner.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if section.copyTarget != "" {
			sql := fmt.Sprintf("COPY %s FROM STDIN", section.copyTarget)
			if _, err := conn.PgConn().CopyFrom(ctx, strings.NewReader(section.copyData), sql); err != nil {
				return fmt.Errorf("failed to replay copy into %s: %w", section.copyTarget, err)
			}
			continue
		}
		if section.statement != "" {
			if _, err := conn.Exec(ctx, section.statement); err != nil {
				return fmt.Errorf("failed to replay statement: %w", err)
			}
		}
	}
	return nil
}

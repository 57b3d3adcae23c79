// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package dbback

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// LoopbackConn is an in-memory Conn used by the sandboxed test harness.
// Dump serializes the held tables as a well-formed logical dump; Restore
// captures the replayed SQL per target database so round trips can be
// checked without a live server.
type LoopbackConn struct {
	mu       sync.Mutex
	tables   map[string]string
	restored map[string]string
}

// NewLoopbackConn creates a loopback connection holding the given tables,
// keyed by table name with COPY-style row data as the value.
func NewLoopbackConn(tables map[string]string) *LoopbackConn {
	cp := make(map[string]string, len(tables))
	for k, v := range tables {
		cp[k] = v
	}
	return &LoopbackConn{tables: cp, restored: make(map[string]string)}
}

func (c *LoopbackConn) Ping(_ context.Context) error { return nil }

func (c *LoopbackConn) Dump(_ context.Context, w io.Writer) (DumpInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(w, "%s\n-- server: loopback\n-- started: %s\n\n",
		dumpHeader, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return DumpInfo{}, err
	}

	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := fmt.Fprintf(w, "COPY %s FROM stdin;\n%s\\.\n\n", name, c.tables[name]); err != nil {
			return DumpInfo{}, err
		}
	}
	if _, err := fmt.Fprintf(w, "%s\n", dumpTrailer); err != nil {
		return DumpInfo{}, err
	}
	return DumpInfo{Tables: len(names), ServerVersion: "loopback"}, nil
}

func (c *LoopbackConn) Restore(_ context.Context, r io.Reader, targetDB string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restored[targetDB] = string(data)
	return nil
}

// Restored returns the SQL replayed into targetDB, or empty if none.
func (c *LoopbackConn) Restored(targetDB string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.restored[targetDB]
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package dbback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/tomtom215/arkivist/internal/artifact"
)

// mockConn is a Conn that serves a canned dump, optionally failing the first
// dumpFailures attempts with a transient error.
type mockConn struct {
	pingErr      error
	dumpBody     string
	omitTrailer  bool
	dumpFailures int
	dumps        int
	restored     []string
	restoredSQL  string
}

func (m *mockConn) Ping(_ context.Context) error { return m.pingErr }

func (m *mockConn) Dump(_ context.Context, w io.Writer) (DumpInfo, error) {
	m.dumps++
	if m.dumps <= m.dumpFailures {
		return DumpInfo{}, fmt.Errorf("connection reset: %w", syscall.EIO)
	}
	fmt.Fprintf(w, "%s\n-- server: mock\n\n", dumpHeader)
	fmt.Fprint(w, m.dumpBody)
	if !m.omitTrailer {
		fmt.Fprintf(w, "%s\n", dumpTrailer)
	}
	return DumpInfo{Tables: 2, ServerVersion: "mock"}, nil
}

func (m *mockConn) Restore(_ context.Context, r io.Reader, targetDB string) error {
	m.restored = append(m.restored, targetDB)
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.restoredSQL = string(data)
	return nil
}

func newTestDBEngine(t *testing.T, conn Conn, format Format) (*Engine, *artifact.Catalog) {
	t.Helper()

	catalog, err := artifact.OpenCatalog(filepath.Join(t.TempDir(), "catalog"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { catalog.Close() }) //nolint:errcheck // Test cleanup

	store, err := artifact.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	engine, err := NewEngine(catalog, store, conn, Options{
		ProductionName: "arkivist_prod",
		Format:         format,
		ScratchDir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine, catalog
}

func TestCreateBackupAndVerify(t *testing.T) {
	for _, format := range []Format{FormatPlain, FormatCustom, FormatArchive} {
		t.Run(string(format), func(t *testing.T) {
			conn := &mockConn{dumpBody: "CREATE TABLE t (id int);\n"}
			engine, _ := newTestDBEngine(t, conn, format)

			a, err := engine.CreateBackup(context.Background(), artifact.TriggerManual)
			if err != nil {
				t.Fatalf("CreateBackup failed: %v", err)
			}
			if a.Status != artifact.StatusCompleted {
				t.Errorf("expected completed, got %s", a.Status)
			}
			if a.Kind != artifact.KindDatabase {
				t.Errorf("expected database kind, got %s", a.Kind)
			}
			if a.ItemCount != 2 {
				t.Errorf("expected 2 tables, got %d", a.ItemCount)
			}
			if a.Format != string(format) {
				t.Errorf("expected format %s, got %s", format, a.Format)
			}

			result, err := engine.Verify(context.Background(), a.ID)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if !result.Valid {
				t.Fatalf("expected valid dump, got problems: %v", result.Problems)
			}
		})
	}
}

func TestVerifyDetectsIncompleteDump(t *testing.T) {
	conn := &mockConn{dumpBody: "CREATE TABLE t (id int);\n", omitTrailer: true}
	engine, _ := newTestDBEngine(t, conn, FormatCustom)

	a, err := engine.CreateBackup(context.Background(), artifact.TriggerManual)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	result, err := engine.Verify(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected truncated dump to be flagged")
	}
	found := false
	for _, p := range result.Problems {
		if strings.Contains(p, "incomplete") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an incomplete-dump problem, got %v", result.Problems)
	}
}

func TestCreateBackupConnectionUnavailable(t *testing.T) {
	conn := &mockConn{pingErr: errors.New("connection refused")}
	engine, catalog := newTestDBEngine(t, conn, FormatCustom)

	a, err := engine.CreateBackup(context.Background(), artifact.TriggerScheduled)
	if !errors.Is(err, ErrConnectionUnavailable) {
		t.Fatalf("expected ErrConnectionUnavailable, got %v", err)
	}
	if a.Status != artifact.StatusFailed {
		t.Errorf("expected a failed artifact, got %s", a.Status)
	}

	stored, err := catalog.Get(a.ID)
	if err != nil {
		t.Fatalf("failed artifact was not recorded: %v", err)
	}
	if stored.Error == "" {
		t.Error("expected the failure reason to be recorded")
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	conn := &mockConn{pingErr: errors.New("connection refused")}
	engine, _ := newTestDBEngine(t, conn, FormatCustom)

	for i := 0; i < 3; i++ {
		if err := engine.TestConnection(context.Background()); !errors.Is(err, ErrConnectionUnavailable) {
			t.Fatalf("attempt %d: expected ErrConnectionUnavailable, got %v", i, err)
		}
	}

	// Breaker is now open; the next check must fail without touching Ping.
	conn.pingErr = nil
	if err := engine.TestConnection(context.Background()); !errors.Is(err, ErrConnectionUnavailable) {
		t.Fatalf("expected the open breaker to refuse, got %v", err)
	}
}

func TestRestoreGuardsProduction(t *testing.T) {
	conn := &mockConn{dumpBody: "CREATE TABLE t (id int);\n"}
	engine, _ := newTestDBEngine(t, conn, FormatCustom)

	a, err := engine.CreateBackup(context.Background(), artifact.TriggerManual)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	if err := engine.Restore(context.Background(), a.ID, "arkivist_prod", false); !errors.Is(err, ErrRestoreConflict) {
		t.Fatalf("expected ErrRestoreConflict, got %v", err)
	}
	if len(conn.restored) != 0 {
		t.Fatal("guarded restore must not reach the database")
	}

	if err := engine.Restore(context.Background(), a.ID, "arkivist_scratch", false); err != nil {
		t.Fatalf("restore into scratch database failed: %v", err)
	}
	if err := engine.Restore(context.Background(), a.ID, "arkivist_prod", true); err != nil {
		t.Fatalf("forced restore into production failed: %v", err)
	}
	if len(conn.restored) != 2 {
		t.Fatalf("expected 2 restores, got %v", conn.restored)
	}
	if !strings.Contains(conn.restoredSQL, "CREATE TABLE t") {
		t.Errorf("restored stream missing dump body: %q", conn.restoredSQL)
	}
}

func TestRestoreRefusesIncompleteDump(t *testing.T) {
	conn := &mockConn{dumpBody: "CREATE TABLE t (id int);\n", omitTrailer: true}
	engine, _ := newTestDBEngine(t, conn, FormatPlain)

	a, err := engine.CreateBackup(context.Background(), artifact.TriggerManual)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	if err := engine.Restore(context.Background(), a.ID, "arkivist_scratch", false); !errors.Is(err, ErrDumpIncomplete) {
		t.Fatalf("expected ErrDumpIncomplete, got %v", err)
	}
	if len(conn.restored) != 0 {
		t.Fatal("incomplete dump must not be replayed")
	}
}

func TestCreateBackupRetriesTransientDumpFailure(t *testing.T) {
	conn := &mockConn{dumpBody: "CREATE TABLE t (id int);\n", dumpFailures: 1}
	engine, _ := newTestDBEngine(t, conn, FormatPlain)

	a, err := engine.CreateBackup(context.Background(), artifact.TriggerManual)
	if err != nil {
		t.Fatalf("expected the dump to succeed after a retry, got %v", err)
	}
	if a.Status != artifact.StatusCompleted {
		t.Errorf("expected completed, got %s", a.Status)
	}
	if conn.dumps != 2 {
		t.Errorf("expected 2 dump attempts, got %d", conn.dumps)
	}

	result, err := engine.Verify(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected a valid dump after retry, got problems: %v", result.Problems)
	}
}

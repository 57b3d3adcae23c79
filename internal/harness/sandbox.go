// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package harness

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/dbback"
	"github.com/tomtom215/arkivist/internal/fileback"
	"github.com/tomtom215/arkivist/internal/logging"
)

// sandboxProductionDB names the loopback "production" database. Restores in
// the sandbox always target a different name, mirroring the production
// safety guard.
const sandboxProductionDB = "arkivist_sandbox"

// sandbox is one throwaway suite environment: its own catalog, byte store,
// source tree, and loopback database, fully separate from production state.
type sandbox struct {
	root    string
	catalog *artifact.Catalog
	store   *artifact.FilesystemStore
	files   *fileback.Engine
	db      *dbback.Engine
	conn    *dbback.LoopbackConn

	manifest artifact.Manifest
	restores int
}

func newSandbox(root string) (*sandbox, error) {
	sb := &sandbox{root: root}

	for _, dir := range []string{"catalog", "store", "scratch", "source", "restore"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o750); err != nil {
			return nil, err
		}
	}

	catalog, err := artifact.OpenCatalog(filepath.Join(root, "catalog"))
	if err != nil {
		return nil, err
	}
	sb.catalog = catalog

	store, err := artifact.NewFilesystemStore(filepath.Join(root, "store"))
	if err != nil {
		sb.teardown()
		return nil, err
	}
	sb.store = store

	sb.files, err = fileback.NewEngine(catalog, store, fileback.Options{
		ScratchDir:         filepath.Join(root, "scratch"),
		CompressionEnabled: true,
		CompressionLevel:   1,
	})
	if err != nil {
		sb.teardown()
		return nil, err
	}

	sb.conn = dbback.NewLoopbackConn(map[string]string{
		"events":   "1\tstartup\n2\tshutdown\n",
		"settings": "retention\t30\n",
	})
	sb.db, err = dbback.NewEngine(catalog, store, sb.conn, dbback.Options{
		ProductionName: sandboxProductionDB,
		Format:         dbback.FormatPlain,
		ScratchDir:     filepath.Join(root, "scratch"),
	})
	if err != nil {
		sb.teardown()
		return nil, err
	}

	if err := sb.seedSource(); err != nil {
		sb.teardown()
		return nil, err
	}

	sb.manifest = artifact.Manifest{
		Include: []string{filepath.Join(root, "source", "data")},
		Exclude: []string{"*.tmp"},
	}
	return sb, nil
}

// seedSource lays down a small deterministic source tree.
func (sb *sandbox) seedSource() error {
	files := map[string]string{
		"data/app.conf":       "listen = :8080\nworkers = 4\n",
		"data/notes.txt":      "sandbox fixture content\n",
		"data/sub/nested.dat": "0123456789abcdef\n",
		"data/skip.tmp":       "never backed up\n",
	}
	for rel, content := range files {
		path := filepath.Join(sb.root, "source", rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return err
		}
	}
	return nil
}

// freshRestoreDir returns a new empty directory for one restore.
func (sb *sandbox) freshRestoreDir() string {
	sb.restores++
	return filepath.Join(sb.root, "restore", fmt.Sprintf("target-%d", sb.restores))
}

func (sb *sandbox) teardown() {
	if sb.catalog != nil {
		if err := sb.catalog.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close sandbox catalog")
		}
	}
	if err := os.RemoveAll(sb.root); err != nil {
		logging.Warn().Err(err).Str("path", sb.root).Msg("Failed to remove sandbox")
	}
}

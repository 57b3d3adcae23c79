// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package artifact

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store is the abstract sink backup bytes are moved to. The design is
// agnostic to whether it is backed by a local filesystem or a remote object
// store; engines only ever see this narrow interface.
type Store interface {
	// Put streams r into the store under key atomically: a reader never
	// observes a partially written object.
	Put(key string, r io.Reader) (int64, error)

	// Get opens the object at key for reading.
	Get(key string) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(key string) error

	// List returns all keys with the given prefix, sorted.
	List(prefix string) ([]string, error)
}

// FilesystemStore is a Store backed by a local directory. Writes go to a
// temp file first and are renamed into place, so an interrupted process
// leaves no object claiming to be valid.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates a store rooted at dir, creating it if needed.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("store root must be an absolute path, got: %s", dir)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store root %s: %w", dir, err)
	}
	return &FilesystemStore{root: dir}, nil
}

// Root returns the store's root directory.
func (s *FilesystemStore) Root() string {
	return s.root
}

func (s *FilesystemStore) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid store key: %s", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put implements Store.
func (s *FilesystemStore) Put(key string, r io.Reader) (int64, error) {
	dest, err := s.path(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()          //nolint:errcheck // Best effort cleanup
		os.Remove(tmpName)   //nolint:errcheck // Best effort cleanup
		return 0, fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()        //nolint:errcheck // Best effort cleanup
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		return 0, fmt.Errorf("failed to sync object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		return 0, fmt.Errorf("failed to close object %s: %w", key, err)
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		return 0, fmt.Errorf("failed to commit object %s: %w", key, err)
	}
	return n, nil
}

// Get implements Store.
//
//nolint:gosec // G304: key is validated against the store root
func (s *FilesystemStore) Get(key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return f, nil
}

// Delete implements Store.
func (s *FilesystemStore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// List implements Store.
func (s *FilesystemStore) List(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".partial-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list store: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package fileback

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/logging"
)

// walkEntry is one regular file selected by the manifest.
type walkEntry struct {
	// sourcePath is the path on the source filesystem.
	sourcePath string

	// archivePath is the member name inside the archive: the include root's
	// base name joined with the path relative to that root, slash separated.
	archivePath string

	info fs.FileInfo
}

// walkManifest resolves the manifest's include roots into the list of files
// to archive. Unreadable roots and files are skipped with a warning so a
// backup can partially succeed; only a completely broken walk is an error.
func walkManifest(manifest artifact.Manifest) ([]walkEntry, []string, error) {
	if len(manifest.Include) == 0 {
		return nil, nil, fmt.Errorf("manifest has no include paths")
	}

	var entries []walkEntry
	var warnings []string
	seen := make(map[string]struct{})

	for _, root := range manifest.Include {
		rootEntries, rootWarnings, err := walkRoot(root, manifest)
		warnings = append(warnings, rootWarnings...)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("include root %s skipped: %v", root, err))
			logging.Warn().Err(err).Str("root", root).Msg("Include root skipped")
			continue
		}
		for _, entry := range rootEntries {
			// First include root wins on archive path collisions.
			if _, dup := seen[entry.archivePath]; dup {
				warnings = append(warnings, fmt.Sprintf("duplicate archive path %s from %s skipped", entry.archivePath, entry.sourcePath))
				continue
			}
			seen[entry.archivePath] = struct{}{}
			entries = append(entries, entry)
		}
	}

	return entries, warnings, nil
}

// walkRoot walks a single include root.
func walkRoot(root string, manifest artifact.Manifest) ([]walkEntry, []string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, nil, err
	}

	prefix := archivePrefix(root)

	if !info.IsDir() {
		if excluded(filepath.Base(root), manifest.Exclude) {
			return nil, nil, nil
		}
		if tooLarge(info, manifest) {
			return nil, []string{fmt.Sprintf("%s exceeds size ceiling, skipped", root)}, nil
		}
		return []walkEntry{{sourcePath: root, archivePath: prefix, info: info}}, nil, nil
	}

	var entries []walkEntry
	var warnings []string

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s unreadable, skipped: %v", path, err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		// Symlinks and other non-regular files are not archived.
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if excluded(rel, manifest.Exclude) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s unreadable, skipped: %v", path, err))
			return nil
		}
		if tooLarge(fi, manifest) {
			warnings = append(warnings, fmt.Sprintf("%s exceeds size ceiling, skipped", path))
			return nil
		}

		entries = append(entries, walkEntry{
			sourcePath:  path,
			archivePath: prefix + "/" + rel,
			info:        fi,
		})
		return nil
	})
	if walkErr != nil {
		return nil, warnings, walkErr
	}

	return entries, warnings, nil
}

// excluded matches an exclude pattern against the relative path and, for
// convenience with patterns like "*.tmp", against each path element.
func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			for _, elem := range strings.Split(rel, "/") {
				if ok, err := doublestar.Match(pattern, elem); err == nil && ok {
					return true
				}
			}
		}
	}
	return false
}

func tooLarge(info fs.FileInfo, manifest artifact.Manifest) bool {
	return manifest.MaxFileSizeBytes > 0 && info.Size() > manifest.MaxFileSizeBytes
}

// archivePrefix derives the member name prefix for an include root. Distinct
// roots with the same base name collide; the duplicate filter in walkManifest
// keeps the first and records a warning for the rest.
func archivePrefix(root string) string {
	base := filepath.Base(filepath.Clean(root))
	if base == "/" || base == "." {
		return "root"
	}
	return base
}

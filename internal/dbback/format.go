// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package dbback implements the database backup engine: logical dumps of the
// configured PostgreSQL database into the artifact store, verification of
// dump completeness, and guarded restores.
package dbback

import "fmt"

// Format is the dump serialization format.
type Format string

const (
	// FormatPlain is an uncompressed SQL text dump.
	FormatPlain Format = "plain"

	// FormatCustom is a gzip-compressed SQL dump, the default.
	FormatCustom Format = "custom"

	// FormatArchive is a tar archive holding the dump and its metadata.
	FormatArchive Format = "archive"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatPlain, FormatCustom, FormatArchive:
		return true
	}
	return false
}

// Extension returns the store key suffix for the format.
func (f Format) Extension() string {
	switch f {
	case FormatPlain:
		return ".sql"
	case FormatCustom:
		return ".sql.gz"
	case FormatArchive:
		return ".tar"
	default:
		return ".bin"
	}
}

// ParseFormat validates a configured format string.
func ParseFormat(s string) (Format, error) {
	f := Format(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown dump format: %q", s)
	}
	return f, nil
}

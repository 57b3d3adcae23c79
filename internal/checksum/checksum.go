// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package checksum computes and verifies SHA-256 content digests for backup
// artifacts. It is the leaf integrity utility used by both backup engines and
// by artifact verification.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Algorithm is the digest algorithm recorded alongside every checksum.
const Algorithm = "sha256"

// ErrMismatch is returned when a recomputed digest differs from the stored one.
var ErrMismatch = fmt.Errorf("checksum mismatch")

// Sum computes the hex-encoded SHA-256 digest of everything read from r.
func Sum(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SumBytes computes the hex-encoded SHA-256 digest of b.
func SumBytes(b []byte) string {
	digest := sha256.Sum256(b)
	return hex.EncodeToString(digest[:])
}

// SumFile computes the hex-encoded SHA-256 digest of the file at path.
//
//nolint:gosec // G304: path comes from internal backup storage
func SumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // Best effort cleanup

	return Sum(file)
}

// VerifyFile recomputes the digest of the file at path and compares it to
// expected. A mismatch returns ErrMismatch; read failures return the
// underlying error.
func VerifyFile(path, expected string) error {
	actual, err := SumFile(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: %s: expected %s, got %s", ErrMismatch, path, expected, actual)
	}
	return nil
}

// TeeWriter wraps w so that bytes written to it are simultaneously hashed.
// Call Digest after writing to obtain the hex-encoded SHA-256 of the stream.
// Archive members are hashed this way while they are copied out.
type TeeWriter struct {
	w      io.Writer
	hasher hash.Hash
}

// NewTeeWriter creates a TeeWriter over w.
func NewTeeWriter(w io.Writer) *TeeWriter {
	return &TeeWriter{w: w, hasher: sha256.New()}
}

// Write implements io.Writer.
func (t *TeeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.hasher.Write(p[:n]) //nolint:errcheck // hash.Hash never errors
	}
	return n, err
}

// Digest returns the hex-encoded SHA-256 of all bytes written so far.
func (t *TeeWriter) Digest() string {
	return hex.EncodeToString(t.hasher.Sum(nil))
}

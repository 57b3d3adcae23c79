// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

/*
archive.go - Tar Archive Creation and Extraction

Archives are tar streams with optional gzip compression. Member names are the
include root's base name joined with the source path relative to that root:

	backup-full-20260830-020000-1a2b3c4d.tar.gz
	├── config/
	│   └── app.yaml
	└── data/
	    ├── accounts.db
	    └── journal/2026-08.log

Writers are closed in reverse order so the tar trailer and gzip footer land
before the file is handed to the store. Each member is hashed with SHA-256
while it is copied; the digests are recorded on the artifact and recomputed
during verification.
*/

//nolint:staticcheck // File documentation, not package doc
package fileback

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/checksum"
)

// archiveWriters holds the writer stack for archive creation.
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
}

// Close closes all writers in reverse order, returning the first error encountered.
func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// setupArchiveWriters creates the file, compression, and tar writers.
//
//nolint:gosec // G304: path is built from internal configuration
func (e *Engine) setupArchiveWriters(path string) (*archiveWriters, error) {
	outFile, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	aw := &archiveWriters{
		closers: []io.Closer{outFile},
	}

	var tarDest io.Writer = outFile
	if e.opts.CompressionEnabled {
		gzWriter, err := gzip.NewWriterLevel(outFile, e.opts.CompressionLevel)
		if err != nil {
			outFile.Close() //nolint:errcheck // Best effort cleanup on error
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		aw.closers = append(aw.closers, gzWriter)
		tarDest = gzWriter
	}

	aw.tarWriter = tar.NewWriter(tarDest)
	aw.closers = append(aw.closers, aw.tarWriter)

	return aw, nil
}

// writeArchive archives the entries into path. Files that disappear or become
// unreadable between walk and copy are skipped with a warning; write-side
// failures abort.
func (e *Engine) writeArchive(ctx context.Context, path string, entries []walkEntry) (files []artifact.File, warnings []string, err error) {
	aw, err := e.setupArchiveWriters(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		closeErr := aw.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to finalize archive: %w", closeErr)
		}
	}()

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, warnings, err
		}

		recorded, addErr := addFileToArchive(aw.tarWriter, entry)
		if addErr != nil {
			if artifact.Classify(addErr) == artifact.ErrSourceUnavailable {
				warnings = append(warnings, fmt.Sprintf("%s unreadable, skipped: %v", entry.sourcePath, addErr))
				continue
			}
			return nil, warnings, addErr
		}
		files = append(files, recorded)
	}

	return files, warnings, nil
}

// addFileToArchive copies one source file into the tar stream, hashing it on
// the way through.
//
//nolint:gosec // G304: sourcePath comes from the manifest walk
func addFileToArchive(tw *tar.Writer, entry walkEntry) (artifact.File, error) {
	file, err := os.Open(entry.sourcePath)
	if err != nil {
		return artifact.File{}, fmt.Errorf("failed to open %s: %w", entry.sourcePath, err)
	}
	defer file.Close() //nolint:errcheck // Best effort cleanup

	// Re-stat through the open handle: the walk snapshot may be stale.
	info, err := file.Stat()
	if err != nil {
		return artifact.File{}, fmt.Errorf("failed to stat %s: %w", entry.sourcePath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return artifact.File{}, fmt.Errorf("failed to create tar header for %s: %w", entry.sourcePath, err)
	}
	header.Name = entry.archivePath

	if err := tw.WriteHeader(header); err != nil {
		return artifact.File{}, fmt.Errorf("failed to write tar header for %s: %w", entry.sourcePath, err)
	}

	tee := checksum.NewTeeWriter(tw)
	written, err := io.Copy(tee, file)
	if err != nil {
		return artifact.File{}, fmt.Errorf("failed to archive %s: %w", entry.sourcePath, err)
	}

	return artifact.File{
		Path:         entry.archivePath,
		OriginalPath: entry.sourcePath,
		Size:         written,
		ModTime:      info.ModTime(),
		Checksum:     tee.Digest(),
	}, nil
}

// openArchive wraps a stored artifact stream in the matching reader stack.
// The caller closes the returned closers in reverse order.
func openArchive(r io.ReadCloser, storeKey string) (*tar.Reader, []io.Closer, error) {
	closers := []io.Closer{r}
	var tarSrc io.Reader = r

	if strings.HasSuffix(storeKey, ".gz") {
		gzReader, err := gzip.NewReader(r)
		if err != nil {
			r.Close() //nolint:errcheck // Best effort cleanup on error
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		closers = append(closers, gzReader)
		tarSrc = gzReader
	}

	return tar.NewReader(tarSrc), closers, nil
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close() //nolint:errcheck // Best effort cleanup
	}
}

// extractMember writes one tar member under targetDir, refusing names that
// would escape it.
func extractMember(tr *tar.Reader, header *tar.Header, targetDir string) error {
	dest := filepath.Join(targetDir, filepath.FromSlash(header.Name))
	rel, err := filepath.Rel(targetDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("archive member escapes target directory: %s", header.Name)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", header.Name, err)
	}

	//nolint:gosec // G304: dest is confined to targetDir above
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode)&0o777)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	//nolint:gosec // G110: restore intentionally decompresses operator-produced archives
	if _, err := io.Copy(out, tr); err != nil {
		out.Close() //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("failed to extract %s: %w", header.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", dest, err)
	}

	if !header.ModTime.IsZero() {
		os.Chtimes(dest, header.ModTime, header.ModTime) //nolint:errcheck // Mtime restoration is best effort
	}

	return nil
}

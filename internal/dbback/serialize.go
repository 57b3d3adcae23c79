// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

/*
serialize.go - Dump Serialization Formats

A logical dump is produced once as SQL text, then packaged per the configured
format:

	plain:   the SQL text as-is                      (.sql)
	custom:  gzip-compressed SQL text                 (.sql.gz)
	archive: tar holding dump.sql and dump-info.json  (.tar)

All three decode back to the identical SQL stream, so verification and
restore are format-agnostic once the stream is open.
*/

//nolint:staticcheck // File documentation, not package doc
package dbback

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/arkivist/internal/artifact"
)

// dumpMemberName is the SQL member inside archive-format dumps.
const dumpMemberName = "dump.sql"

// dumpArchiveInfo is the metadata member inside archive-format dumps.
type dumpArchiveInfo struct {
	Tables        int       `json:"tables"`
	ServerVersion string    `json:"server_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// writeDump produces the dump and serializes it to path in the engine's
// format.
func (e *Engine) writeDump(ctx context.Context, path string) (DumpInfo, error) {
	// Dump to raw SQL first; packaging needs the final size for tar and a
	// second pass costs nothing next to the dump itself.
	rawPath := path + ".raw"
	defer os.Remove(rawPath) //nolint:errcheck // Best effort cleanup

	info, err := e.dumpToFile(ctx, rawPath)
	if err != nil {
		return DumpInfo{}, err
	}

	switch e.opts.Format {
	case FormatPlain:
		if err := os.Rename(rawPath, path); err != nil {
			return DumpInfo{}, fmt.Errorf("failed to place dump: %w", err)
		}
	case FormatCustom:
		if err := gzipFile(rawPath, path); err != nil {
			return DumpInfo{}, err
		}
	case FormatArchive:
		if err := tarDump(rawPath, path, info); err != nil {
			return DumpInfo{}, err
		}
	}

	return info, nil
}

// dumpToFile streams the logical dump into path.
//
//nolint:gosec // G304: path is built from internal configuration
func (e *Engine) dumpToFile(ctx context.Context, path string) (info DumpInfo, err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return DumpInfo{}, fmt.Errorf("failed to create dump file: %w", err)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to finalize dump file: %w", closeErr)
		}
	}()

	w := bufio.NewWriter(f)
	info, err = e.conn.Dump(ctx, w)
	if err != nil {
		return DumpInfo{}, fmt.Errorf("dump failed: %w", err)
	}
	if err := w.Flush(); err != nil {
		return DumpInfo{}, fmt.Errorf("failed to flush dump: %w", err)
	}
	return info, nil
}

// gzipFile compresses src into dest.
//
//nolint:gosec // G304: paths are built from internal configuration
func gzipFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open raw dump: %w", err)
	}
	defer in.Close() //nolint:errcheck // Best effort cleanup

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create compressed dump: %w", err)
	}
	defer func() {
		closeErr := out.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	gz, err := gzip.NewWriterLevel(out, gzip.BestSpeed)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close() //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("failed to compress dump: %w", err)
	}
	return gz.Close()
}

// tarDump packages the raw dump and its metadata into a tar at dest.
//
//nolint:gosec // G304: paths are built from internal configuration
func tarDump(src, dest string, info DumpInfo) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open raw dump: %w", err)
	}
	defer in.Close() //nolint:errcheck // Best effort cleanup

	stat, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat raw dump: %w", err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to create dump archive: %w", err)
	}
	defer func() {
		closeErr := out.Close()
		if err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	tw := tar.NewWriter(out)

	metaJSON, err := json.MarshalIndent(dumpArchiveInfo{
		Tables:        info.Tables,
		ServerVersion: info.ServerVersion,
		CreatedAt:     time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dump metadata: %w", err)
	}
	if err := writeTarMember(tw, "dump-info.json", metaJSON); err != nil {
		return err
	}

	header := &tar.Header{
		Name:    dumpMemberName,
		Size:    stat.Size(),
		Mode:    0o640,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write dump header: %w", err)
	}
	if _, err := io.Copy(tw, in); err != nil {
		tw.Close() //nolint:errcheck // Best effort cleanup on error
		return fmt.Errorf("failed to write dump member: %w", err)
	}
	return tw.Close()
}

func writeTarMember(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0o640,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// openDump opens the artifact's stored bytes and unwraps them back to the
// raw SQL stream. The caller closes the returned closers.
func (e *Engine) openDump(a *artifact.Artifact) (io.Reader, []io.Closer, error) {
	r, err := e.store.Get(a.StoreKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read dump bytes: %w", err)
	}
	closers := []io.Closer{r}

	switch Format(a.Format) {
	case FormatPlain:
		return r, closers, nil
	case FormatCustom:
		gz, err := gzip.NewReader(r)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("failed to open compressed dump: %w", err)
		}
		return gz, append(closers, gz), nil
	case FormatArchive:
		tr := tar.NewReader(r)
		for {
			header, err := tr.Next()
			if errors.Is(err, io.EOF) {
				closeAll(closers)
				return nil, nil, fmt.Errorf("dump archive has no %s member", dumpMemberName)
			}
			if err != nil {
				closeAll(closers)
				return nil, nil, fmt.Errorf("failed to read dump archive: %w", err)
			}
			if header.Name == dumpMemberName {
				return tr, closers, nil
			}
		}
	default:
		closeAll(closers)
		return nil, nil, fmt.Errorf("unknown dump format: %q", a.Format)
	}
}

// dumpComplete reports whether the artifact's SQL stream ends with the
// completeness trailer.
func (e *Engine) dumpComplete(ctx context.Context, a *artifact.Artifact) (bool, error) {
	r, closers, err := e.openDump(a)
	if err != nil {
		return false, err
	}
	defer closeAll(closers)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var lastLine string
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lastLine = line
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("failed to scan dump: %w", err)
	}

	return lastLine == dumpTrailer, nil
}

func closeAll(closers []io.Closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close() //nolint:errcheck // Best effort cleanup
	}
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package dbback

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// dumpSection is one replayable unit of a dump stream: either a COPY block
// with its data, or a plain SQL statement.
type dumpSection struct {
	copyTarget string
	copyData   string
	statement  string
}

// dumpScanner splits a dump stream into replayable sections. Comment lines
// (including the header and trailer frame) are skipped.
type dumpScanner struct {
	scanner *bufio.Scanner
	sawEOF  bool
}

func newDumpScanner(r io.Reader) *dumpScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &dumpScanner{scanner: s}
}

// next returns the next section, or io.EOF at the end of the stream.
func (d *dumpScanner) next() (dumpSection, error) {
	for {
		if d.sawEOF {
			return dumpSection{}, io.EOF
		}
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return dumpSection{}, fmt.Errorf("failed to read dump stream: %w", err)
			}
			d.sawEOF = true
			return dumpSection{}, io.EOF
		}

		line := strings.TrimSpace(d.scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}

		if target, ok := copySectionTarget(line); ok {
			data, err := d.readCopyData()
			if err != nil {
				return dumpSection{}, err
			}
			return dumpSection{copyTarget: target, copyData: data}, nil
		}

		return dumpSection{statement: line}, nil
	}
}

// readCopyData collects COPY rows up to the terminating "\." line.
func (d *dumpScanner) readCopyData() (string, error) {
	var b strings.Builder
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if strings.TrimSpace(line) == `\.` {
			return b.String(), nil
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := d.scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read copy data: %w", err)
	}
	return "", fmt.Errorf("copy section not terminated")
}

// copySectionTarget recognizes the "COPY <ident> FROM stdin;" section opener
// and extracts the target identifier.
func copySectionTarget(line string) (string, bool) {
	upper := strings.ToUpper(line)
	if !strings.HasPrefix(upper, "COPY ") || !strings.HasSuffix(upper, " FROM STDIN;") {
		return "", false
	}
	target := strings.TrimSpace(line[len("COPY ") : len(line)-len(" FROM stdin;")])
	if target == "" {
		return "", false
	}
	return target, true
}

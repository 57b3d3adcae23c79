// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package harness

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// historyFile is the append-only execution log, one JSON document per line.
const historyFile = "executions.jsonl"

// record appends the execution to the history log.
func (h *Harness) record(exec *TestExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}

	path := filepath.Join(h.opts.HistoryDir, historyFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // G304: path is inside the configured history dir
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close() //nolint:errcheck // Best effort cleanup

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

// History returns up to limit executions, newest last. Unparseable lines
// are skipped so one bad entry cannot hide the rest of the trend.
func (h *Harness) History(limit int) ([]TestExecution, error) {
	path := filepath.Join(h.opts.HistoryDir, historyFile)
	f, err := os.Open(path) //nolint:gosec // G304: path is inside the configured history dir
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close() //nolint:errcheck // Best effort cleanup

	var all []TestExecution
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var exec TestExecution
		if err := json.Unmarshal(scanner.Bytes(), &exec); err != nil {
			continue
		}
		all = append(all, exec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

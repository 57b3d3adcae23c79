// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package recovery

import (
	"os"
	"path/filepath"
	"testing"
)

const catalogYAML = `procedures:
  - disaster_type: database_corruption
    name: pg-restore
    description: Restore the production database from the newest dump
    estimated_duration: 30m
    prerequisites:
      - A verified database artifact exists
    steps:
      - id: stop
        title: Stop writers
        commands:
          - systemctl stop app
      - id: restore
        title: Restore dump
        commands:
          - arkivist restore database --latest --target scratch
        verification: psql -d scratch -c 'SELECT 1'
  - disaster_type: database_corruption
    name: pg-pitr
    steps:
      - id: replay
        title: Replay WAL to a point in time
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "procedures.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadCatalogFromYAML(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, catalogYAML))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got := len(c.Procedures()); got != 2 {
		t.Fatalf("procedures = %d, want 2", got)
	}

	p, err := c.Find(DisasterDatabaseCorruption, "pg-restore")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(p.Steps))
	}
	if p.Steps[1].Verification == "" {
		t.Fatal("verification command not parsed")
	}
	if p.EstimatedDuration.Minutes() != 30 {
		t.Fatalf("estimated duration = %s, want 30m", p.EstimatedDuration)
	}
}

func TestLoadCatalogFallsBackToDefaults(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.yaml")} {
		c, err := LoadCatalog(path)
		if err != nil {
			t.Fatalf("LoadCatalog(%q): %v", path, err)
		}
		for _, dt := range []DisasterType{
			DisasterCompleteSystemFailure,
			DisasterDatabaseCorruption,
			DisasterFileSystemCorruption,
			DisasterConfigurationCorruption,
			DisasterPartialDataLoss,
			DisasterSecurityBreach,
		} {
			if _, err := c.Find(dt, ""); err != nil {
				t.Errorf("no default procedure for %s: %v", dt, err)
			}
		}
	}
}

func TestLoadCatalogRejectsInvalidProcedure(t *testing.T) {
	cases := map[string]string{
		"no steps": `procedures:
  - disaster_type: database_corruption
    name: empty
    steps: []
`,
		"duplicate step ids": `procedures:
  - disaster_type: database_corruption
    name: dup
    steps:
      - id: a
        title: one
      - id: a
        title: two
`,
	}
	for name, content := range cases {
		if _, err := LoadCatalog(writeCatalog(t, content)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestFindUnknownProcedure(t *testing.T) {
	c := defaultCatalog()
	if _, err := c.Find(DisasterDatabaseCorruption, "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown procedure name")
	}
}

func TestFindDefaultsToFirstForType(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t, catalogYAML))
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	p, err := c.Find(DisasterDatabaseCorruption, "")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if p.Name != "pg-restore" {
		t.Fatalf("default procedure = %s, want pg-restore", p.Name)
	}
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != 3858 {
		t.Errorf("server.port = %d, want 3858", cfg.Server.Port)
	}
	if cfg.Backup.Compression.Level != 6 {
		t.Errorf("compression.level = %d, want 6", cfg.Backup.Compression.Level)
	}
	if cfg.Health.StaleAfter != 36*time.Hour {
		t.Errorf("health.stale_after = %s, want 36h", cfg.Health.StaleAfter)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 4000
backup:
  store_dir: /backups/store
  catalog_dir: /backups/catalog
  scratch_dir: /backups/scratch
  manifest:
    include:
      - /srv/config
      - /srv/data
    exclude:
      - "*.tmp"
retention:
  file:
    max_count: 5
    max_age_days: 14
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("server.port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Backup.StoreDir != "/backups/store" {
		t.Errorf("store_dir = %s", cfg.Backup.StoreDir)
	}
	if len(cfg.Backup.Manifest.Include) != 2 {
		t.Errorf("manifest.include = %v", cfg.Backup.Manifest.Include)
	}
	if cfg.Retention.File.MaxCount != 5 || cfg.Retention.File.MaxAgeDays != 14 {
		t.Errorf("retention.file = %+v", cfg.Retention.File)
	}
	// Untouched sections keep defaults
	if cfg.Database.DumpFormat != "custom" {
		t.Errorf("dump_format = %s, want custom", cfg.Database.DumpFormat)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ARKIVIST_SERVER__PORT", "5001")
	t.Setenv("ARKIVIST_DATABASE__DUMP_FORMAT", "plain")

	cfg, err := LoadFrom("")
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != 5001 {
		t.Errorf("server.port = %d, want 5001 from env", cfg.Server.Port)
	}
	if cfg.Database.DumpFormat != "plain" {
		t.Errorf("dump_format = %s, want plain from env", cfg.Database.DumpFormat)
	}
}

func TestEnvKeyMapper(t *testing.T) {
	tests := []struct{ in, want string }{
		{"ARKIVIST_SERVER__PORT", "server.port"},
		{"ARKIVIST_BACKUP__STORE_DIR", "backup.store_dir"},
		{"ARKIVIST_HEALTH__STALE_AFTER", "health.stale_after"},
	}
	for _, tt := range tests {
		if got := envKeyMapper(tt.in); got != tt.want {
			t.Errorf("envKeyMapper(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"relative store dir", func(c *Config) { c.Backup.StoreDir = "relative/path" }},
		{"empty catalog dir", func(c *Config) { c.Backup.CatalogDir = "" }},
		{"no include paths", func(c *Config) { c.Backup.Manifest.Include = nil }},
		{"bad compression level", func(c *Config) { c.Backup.Compression.Level = 12 }},
		{"tiny engine timeout", func(c *Config) { c.Backup.EngineTimeout = time.Second }},
		{"bad dump format", func(c *Config) { c.Database.DumpFormat = "xml" }},
		{"negative retention count", func(c *Config) { c.Retention.File.MaxCount = -1 }},
		{"tiny sla", func(c *Config) { c.Health.StaleAfter = time.Minute }},
		{"sandbox equals store", func(c *Config) { c.Harness.SandboxDir = c.Backup.StoreDir }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateSkippedWhenDisabled(t *testing.T) {
	cfg := defaultConfig()
	cfg.Backup.Enabled = false
	cfg.Backup.StoreDir = "" // would fail if enabled
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled backups must skip backup validation: %v", err)
	}
}

// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Package config loads and validates the Arkivist daemon configuration.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (ARKIVIST_ prefix, __ as section delimiter)
//   - Config file (config.yaml)
//   - Built-in defaults
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Backup    BackupConfig    `koanf:"backup"`
	Database  DatabaseConfig  `koanf:"database"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Retention RetentionConfig `koanf:"retention"`
	Health    HealthConfig    `koanf:"health"`
	Recovery  RecoveryConfig  `koanf:"recovery"`
	Harness   HarnessConfig   `koanf:"harness"`
}

// ServerConfig configures the HTTP status/automation surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// BackupConfig configures the backup engines and artifact storage.
type BackupConfig struct {
	// Enabled toggles the whole backup subsystem.
	Enabled bool `koanf:"enabled"`

	// StoreDir is the root of the filesystem artifact store.
	StoreDir string `koanf:"store_dir"`

	// CatalogDir holds the artifact metadata catalog (BadgerDB).
	CatalogDir string `koanf:"catalog_dir"`

	// ScratchDir holds in-progress archive files before they are committed
	// to the store.
	ScratchDir string `koanf:"scratch_dir"`

	// Manifest is the file backup inclusion/exclusion rule set.
	Manifest ManifestConfig `koanf:"manifest"`

	// Compression settings for file archives.
	Compression CompressionConfig `koanf:"compression"`

	// EngineTimeout is the wall-clock budget for a single engine call.
	// Exceeding it marks the job failed with a timeout, never hangs.
	EngineTimeout time.Duration `koanf:"engine_timeout"`
}

// ManifestConfig mirrors the artifact source manifest.
type ManifestConfig struct {
	Include          []string `koanf:"include"`
	Exclude          []string `koanf:"exclude"`
	MaxFileSizeBytes int64    `koanf:"max_file_size_bytes"`
}

// CompressionConfig defines gzip settings for file archives.
type CompressionConfig struct {
	Enabled bool `koanf:"enabled"`
	Level   int  `koanf:"level"`
}

// DatabaseConfig configures the relational source for logical dumps.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string for the production database.
	DSN string `koanf:"dsn"`

	// ProductionName is the database name restore refuses to overwrite
	// without an explicit force flag.
	ProductionName string `koanf:"production_name"`

	// DumpFormat is custom, plain, or archive.
	DumpFormat string `koanf:"dump_format"`

	// ConnectTimeout bounds the pre-flight connection test.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// ScheduleConfig holds the cron triggers owned by the orchestrator's
// scheduler. Engines never self-schedule.
type ScheduleConfig struct {
	Enabled bool `koanf:"enabled"`

	// FullCron fires the weekly comprehensive full backup.
	FullCron string `koanf:"full_cron"`

	// IncrementalCron fires the daily incremental file backup.
	IncrementalCron string `koanf:"incremental_cron"`

	// DatabaseCron fires the daily database-only backup.
	DatabaseCron string `koanf:"database_cron"`

	// RetentionCron fires the independent retention maintenance sweep.
	RetentionCron string `koanf:"retention_cron"`
}

// RetentionConfig holds per-kind pruning policies.
type RetentionConfig struct {
	File     RetentionPolicy `koanf:"file"`
	Database RetentionPolicy `koanf:"database"`
}

// RetentionPolicy is one kind's pruning rule. A zero MaxCount or MaxAgeDays
// disables that dimension; the most recent successful artifact of a kind is
// never deleted regardless.
type RetentionPolicy struct {
	MaxCount   int `koanf:"max_count"`
	MaxAgeDays int `koanf:"max_age_days"`
}

// HealthConfig tunes the derived backup health summary.
type HealthConfig struct {
	// StaleAfter is the SLA window: a most recent success older than this
	// makes health stale instead of healthy.
	StaleAfter time.Duration `koanf:"stale_after"`
}

// RecoveryConfig configures the disaster recovery engine.
type RecoveryConfig struct {
	// ProceduresFile is the YAML catalog of declarative recovery procedures.
	ProceduresFile string `koanf:"procedures_file"`

	// StateDir persists recovery execution state for resume-after-restart.
	StateDir string `koanf:"state_dir"`
}

// HarnessConfig configures the scheduled backup validation suites.
type HarnessConfig struct {
	Enabled bool `koanf:"enabled"`

	// SandboxDir isolates harness artifacts from the production store.
	SandboxDir string `koanf:"sandbox_dir"`

	// HistoryDir persists suite execution history.
	HistoryDir string `koanf:"history_dir"`

	DailyCron   string `koanf:"daily_cron"`
	WeeklyCron  string `koanf:"weekly_cron"`
	MonthlyCron string `koanf:"monthly_cron"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3858,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Backup: BackupConfig{
			Enabled:    true,
			StoreDir:   "/data/arkivist/store",
			CatalogDir: "/data/arkivist/catalog",
			ScratchDir: "/data/arkivist/scratch",
			Manifest: ManifestConfig{
				Include: []string{"/data/app/config", "/data/app/files"},
				Exclude: []string{"**/*.tmp", "**/.cache/**"},
			},
			Compression: CompressionConfig{
				Enabled: true,
				Level:   6,
			},
			EngineTimeout: 2 * time.Hour,
		},
		Database: DatabaseConfig{
			DSN:            "",
			ProductionName: "app",
			DumpFormat:     "custom",
			ConnectTimeout: 10 * time.Second,
		},
		Schedule: ScheduleConfig{
			Enabled:         true,
			FullCron:        "0 2 * * 0",  // weekly full, Sunday 02:00
			IncrementalCron: "0 3 * * *",  // daily incremental 03:00
			DatabaseCron:    "30 3 * * *", // daily database dump 03:30
			RetentionCron:   "0 5 * * *",  // daily maintenance sweep 05:00
		},
		Retention: RetentionConfig{
			File:     RetentionPolicy{MaxCount: 30, MaxAgeDays: 90},
			Database: RetentionPolicy{MaxCount: 30, MaxAgeDays: 90},
		},
		Health: HealthConfig{
			StaleAfter: 36 * time.Hour,
		},
		Recovery: RecoveryConfig{
			ProceduresFile: "/etc/arkivist/procedures.yaml",
			StateDir:       "/data/arkivist/recovery",
		},
		Harness: HarnessConfig{
			Enabled:     true,
			SandboxDir:  "/data/arkivist/sandbox",
			HistoryDir:  "/data/arkivist/harness",
			DailyCron:   "0 6 * * *",
			WeeklyCron:  "0 7 * * 1",
			MonthlyCron: "0 8 1 * *",
		},
	}
}

// Validate checks the configuration for internal consistency.
//
//nolint:gocyclo // Validation function with many sequential checks
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got: %d", c.Server.Port)
	}

	if !c.Backup.Enabled {
		return nil // nothing else to validate when the subsystem is off
	}

	for name, dir := range map[string]string{
		"backup.store_dir":   c.Backup.StoreDir,
		"backup.catalog_dir": c.Backup.CatalogDir,
		"backup.scratch_dir": c.Backup.ScratchDir,
	} {
		if dir == "" {
			return fmt.Errorf("%s is required when backups are enabled", name)
		}
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("%s must be an absolute path, got: %s", name, dir)
		}
	}

	if len(c.Backup.Manifest.Include) == 0 {
		return fmt.Errorf("backup.manifest.include must list at least one path")
	}

	if c.Backup.Compression.Enabled {
		if c.Backup.Compression.Level < 1 || c.Backup.Compression.Level > 9 {
			return fmt.Errorf("backup.compression.level must be 1-9, got: %d", c.Backup.Compression.Level)
		}
	}

	if c.Backup.EngineTimeout < time.Minute {
		return fmt.Errorf("backup.engine_timeout must be at least 1 minute, got: %s", c.Backup.EngineTimeout)
	}

	switch c.Database.DumpFormat {
	case "custom", "plain", "archive":
	default:
		return fmt.Errorf("database.dump_format must be one of: custom, plain, archive")
	}

	for _, p := range []struct {
		name   string
		policy RetentionPolicy
	}{
		{"retention.file", c.Retention.File},
		{"retention.database", c.Retention.Database},
	} {
		if p.policy.MaxCount < 0 {
			return fmt.Errorf("%s.max_count must not be negative", p.name)
		}
		if p.policy.MaxAgeDays < 0 {
			return fmt.Errorf("%s.max_age_days must not be negative", p.name)
		}
	}

	if c.Health.StaleAfter < time.Hour {
		return fmt.Errorf("health.stale_after must be at least 1 hour, got: %s", c.Health.StaleAfter)
	}

	if c.Harness.Enabled {
		if c.Harness.SandboxDir == "" || !filepath.IsAbs(c.Harness.SandboxDir) {
			return fmt.Errorf("harness.sandbox_dir must be an absolute path, got: %s", c.Harness.SandboxDir)
		}
		if c.Harness.SandboxDir == c.Backup.StoreDir {
			return fmt.Errorf("harness.sandbox_dir must not be the production store directory")
		}
	}

	return nil
}

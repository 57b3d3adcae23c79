// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package recovery

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/arkivist/internal/logging"
)

// ProcedureCatalog holds the registered procedures, ordered as loaded.
type ProcedureCatalog struct {
	procedures []Procedure
}

// LoadCatalog reads the procedure catalog from a YAML file. An empty path or
// a missing file falls back to the built-in defaults.
func LoadCatalog(path string) (*ProcedureCatalog, error) {
	if path == "" {
		return defaultCatalog(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.Warn().Str("path", path).Msg("Procedure catalog not found, using built-in defaults")
		return defaultCatalog(), nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load procedure catalog %s: %w", path, err)
	}

	var loaded struct {
		Procedures []Procedure `koanf:"procedures"`
	}
	if err := k.Unmarshal("", &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse procedure catalog %s: %w", path, err)
	}
	if len(loaded.Procedures) == 0 {
		return nil, fmt.Errorf("procedure catalog %s defines no procedures", path)
	}

	catalog := &ProcedureCatalog{procedures: loaded.Procedures}
	for i := range catalog.procedures {
		if err := catalog.procedures[i].validate(); err != nil {
			return nil, err
		}
	}

	logging.Info().Int("procedures", len(catalog.procedures)).Str("path", path).Msg("Procedure catalog loaded")
	return catalog, nil
}

// Find returns the named procedure for a disaster type, or the first
// registered one for that type when name is empty.
func (c *ProcedureCatalog) Find(disasterType DisasterType, name string) (*Procedure, error) {
	for i := range c.procedures {
		p := &c.procedures[i]
		if p.DisasterType != disasterType {
			continue
		}
		if name == "" || p.Name == name {
			return p, nil
		}
	}
	if name != "" {
		return nil, fmt.Errorf("no procedure %q for disaster type %s", name, disasterType)
	}
	return nil, fmt.Errorf("no procedure registered for disaster type %s", disasterType)
}

// Procedures lists the whole catalog.
func (c *ProcedureCatalog) Procedures() []Procedure {
	out := make([]Procedure, len(c.procedures))
	copy(out, c.procedures)
	return out
}

// defaultCatalog is the built-in procedure set used when no catalog file is
// configured. Commands are advisory runbook entries; deployments replace
// them with site-specific automation.
func defaultCatalog() *ProcedureCatalog {
	return &ProcedureCatalog{procedures: []Procedure{
		{
			DisasterType:      DisasterCompleteSystemFailure,
			Name:              "full-rebuild",
			Description:       "Rebuild the host from the newest full backup chain",
			EstimatedDuration: 4 * time.Hour,
			Prerequisites:     []string{"replacement host provisioned", "backup store reachable"},
			Steps: []Step{
				{ID: "provision", Title: "Provision base system", Commands: []string{"echo provision replacement host"}},
				{ID: "restore-files", Title: "Restore file backups", Commands: []string{"arkivist restore file --latest --target /srv"}, Verification: "test -d /srv"},
				{ID: "restore-db", Title: "Restore database dump", Commands: []string{"arkivist restore database --latest --target arkivist_prod --force"}},
				{ID: "services", Title: "Start services", Commands: []string{"systemctl start arkivist"}, Verification: "systemctl is-active arkivist"},
			},
		},
		{
			DisasterType:      DisasterDatabaseCorruption,
			Name:              "database-restore",
			Description:       "Replace the corrupted database from the newest verified dump",
			EstimatedDuration: time.Hour,
			Prerequisites:     []string{"application stopped", "newest dump verified"},
			Steps: []Step{
				{ID: "stop-writes", Title: "Stop writers", Commands: []string{"systemctl stop arkivist"}},
				{ID: "restore-scratch", Title: "Restore dump into scratch database", Commands: []string{"arkivist restore database --latest --target arkivist_scratch"}},
				{ID: "validate", Title: "Validate scratch database", Verification: "psql -d arkivist_scratch -c 'SELECT 1'"},
				{ID: "swap", Title: "Swap scratch into production", Commands: []string{"arkivist restore database --latest --target arkivist_prod --force"}},
				{ID: "restart", Title: "Restart writers", Commands: []string{"systemctl start arkivist"}},
			},
		},
		{
			DisasterType:      DisasterFileSystemCorruption,
			Name:              "filesystem-restore",
			Description:       "Re-materialize corrupted paths from the newest file chain",
			EstimatedDuration: 2 * time.Hour,
			Steps: []Step{
				{ID: "quarantine", Title: "Quarantine corrupted paths", Commands: []string{"mv /srv/data /srv/data.corrupt"}},
				{ID: "restore", Title: "Restore file chain", Commands: []string{"arkivist restore file --latest --target /srv/data"}, Verification: "test -d /srv/data"},
			},
		},
		{
			DisasterType:      DisasterConfigurationCorruption,
			Name:              "config-restore",
			Description:       "Recover configuration files from the newest file backup",
			EstimatedDuration: 30 * time.Minute,
			Steps: []Step{
				{ID: "restore", Title: "Restore configuration", Commands: []string{"arkivist restore file --latest --target /tmp/config-restore"}},
				{ID: "apply", Title: "Apply restored configuration", Commands: []string{"cp -r /tmp/config-restore/config /etc/arkivist"}, Verification: "arkivist config validate"},
			},
		},
		{
			DisasterType:      DisasterPartialDataLoss,
			Name:              "selective-restore",
			Description:       "Restore selected paths into a staging directory for manual merge",
			EstimatedDuration: time.Hour,
			Steps: []Step{
				{ID: "restore-staging", Title: "Restore into staging", Commands: []string{"arkivist restore file --latest --target /srv/staging"}},
				{ID: "merge", Title: "Merge lost paths", Description: "Copy the missing paths from staging back into place"},
			},
		},
		{
			DisasterType:      DisasterSecurityBreach,
			Name:              "breach-recovery",
			Description:       "Rebuild from a pre-breach artifact after credential rotation",
			EstimatedDuration: 8 * time.Hour,
			Prerequisites:     []string{"incident response sign-off", "pre-breach artifact identified"},
			Steps: []Step{
				{ID: "isolate", Title: "Isolate the host", Commands: []string{"echo isolate host from network"}},
				{ID: "rotate", Title: "Rotate all credentials"},
				{ID: "restore", Title: "Restore from pre-breach artifact", Commands: []string{"arkivist restore file --artifact PRE_BREACH_ID --target /srv"}},
				{ID: "audit", Title: "Audit restored content", Verification: "arkivist verify --all"},
			},
		},
	}}
}

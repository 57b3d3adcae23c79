// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

// Command arkivist runs the backup orchestration service: the scheduler,
// the file and database backup engines, retention, the disaster recovery
// engine, the validation harness, and the HTTP API, all under one
// supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/arkivist/internal/alerting"
	"github.com/tomtom215/arkivist/internal/api"
	"github.com/tomtom215/arkivist/internal/artifact"
	"github.com/tomtom215/arkivist/internal/config"
	"github.com/tomtom215/arkivist/internal/dbback"
	"github.com/tomtom215/arkivist/internal/fileback"
	"github.com/tomtom215/arkivist/internal/harness"
	"github.com/tomtom215/arkivist/internal/logging"
	"github.com/tomtom215/arkivist/internal/orchestrator"
	"github.com/tomtom215/arkivist/internal/recovery"
	"github.com/tomtom215/arkivist/internal/retention"
	"github.com/tomtom215/arkivist/internal/scheduler"
	"github.com/tomtom215/arkivist/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().Msg("Starting Arkivist")

	if !cfg.Backup.Enabled {
		logging.Warn().Msg("Backup subsystem is disabled in configuration, nothing to do")
		return
	}

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Arkivist exited with error")
	}
	logging.Info().Msg("Arkivist stopped")
}

//nolint:gocyclo // Sequential wiring of every subsystem
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catalog and byte store.
	catalog, err := artifact.OpenCatalog(cfg.Backup.CatalogDir)
	if err != nil {
		return fmt.Errorf("failed to open artifact catalog: %w", err)
	}
	defer func() {
		if err := catalog.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close artifact catalog")
		}
	}()

	// Jobs interrupted by the previous shutdown must never pose as valid.
	if marked, err := catalog.MarkInterrupted("process restart"); err != nil {
		return fmt.Errorf("failed to mark interrupted artifacts: %w", err)
	} else if marked > 0 {
		logging.Warn().Int("artifacts", marked).Msg("Marked interrupted artifacts as failed")
	}

	store, err := artifact.NewFilesystemStore(cfg.Backup.StoreDir)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	// Engines.
	fileEngine, err := fileback.NewEngine(catalog, store, fileback.Options{
		ScratchDir:         cfg.Backup.ScratchDir,
		CompressionEnabled: cfg.Backup.Compression.Enabled,
		CompressionLevel:   cfg.Backup.Compression.Level,
	})
	if err != nil {
		return fmt.Errorf("failed to build file backup engine: %w", err)
	}

	var conn dbback.Conn
	if cfg.Database.DSN != "" {
		pgxConn, err := dbback.NewPgxConn(ctx, cfg.Database.DSN)
		if err != nil {
			// The breaker handles an unreachable server per run; a bad DSN
			// shape is fatal.
			return fmt.Errorf("failed to configure database connection: %w", err)
		}
		conn = pgxConn
	} else {
		logging.Warn().Msg("No database DSN configured, using loopback connection")
		conn = dbback.NewLoopbackConn(nil)
	}

	format, err := dbback.ParseFormat(cfg.Database.DumpFormat)
	if err != nil {
		return err
	}
	dbEngine, err := dbback.NewEngine(catalog, store, conn, dbback.Options{
		ProductionName: cfg.Database.ProductionName,
		Format:         format,
		ScratchDir:     cfg.Backup.ScratchDir,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to build database backup engine: %w", err)
	}

	pruner := retention.NewManager(catalog, store,
		retention.Policy{MaxCount: cfg.Retention.File.MaxCount, MaxAgeDays: cfg.Retention.File.MaxAgeDays},
		retention.Policy{MaxCount: cfg.Retention.Database.MaxCount, MaxAgeDays: cfg.Retention.Database.MaxAgeDays},
	)

	// Scheduler.
	sched := scheduler.New()
	if cfg.Schedule.Enabled {
		jobs := map[string]string{
			orchestrator.JobFileFull:        cfg.Schedule.FullCron,
			orchestrator.JobFileIncremental: cfg.Schedule.IncrementalCron,
			orchestrator.JobDatabase:        cfg.Schedule.DatabaseCron,
			orchestrator.JobRetention:       cfg.Schedule.RetentionCron,
		}
		if cfg.Harness.Enabled {
			jobs[orchestrator.JobHarnessDaily] = cfg.Harness.DailyCron
			jobs[orchestrator.JobHarnessWeekly] = cfg.Harness.WeeklyCron
			jobs[orchestrator.JobHarnessMonthly] = cfg.Harness.MonthlyCron
		}
		for name, spec := range jobs {
			if spec == "" {
				continue
			}
			if err := sched.Add(name, spec); err != nil {
				return fmt.Errorf("invalid schedule for %s: %w", name, err)
			}
		}
	}

	// Alerting.
	bus := alerting.NewBus()
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close alert bus")
		}
	}()

	// Orchestrator.
	orch := orchestrator.New(catalog, fileEngine, dbEngine, pruner, sched, bus, orchestrator.Options{
		Manifest: artifact.Manifest{
			Include:          cfg.Backup.Manifest.Include,
			Exclude:          cfg.Backup.Manifest.Exclude,
			MaxFileSizeBytes: cfg.Backup.Manifest.MaxFileSizeBytes,
		},
		EngineTimeout: cfg.Backup.EngineTimeout,
		StaleAfter:    cfg.Health.StaleAfter,
	})

	// Disaster recovery.
	procedures, err := recovery.LoadCatalog(cfg.Recovery.ProceduresFile)
	if err != nil {
		return fmt.Errorf("failed to load recovery procedures: %w", err)
	}
	recoveryEngine, err := recovery.NewEngine(procedures, recovery.LogRunner{}, orch, bus, cfg.Recovery.StateDir)
	if err != nil {
		return fmt.Errorf("failed to build recovery engine: %w", err)
	}

	// Validation harness.
	var suites *harness.Harness
	if cfg.Harness.Enabled {
		suites, err = harness.New(bus, harness.Options{
			SandboxDir: cfg.Harness.SandboxDir,
			HistoryDir: cfg.Harness.HistoryDir,
		})
		if err != nil {
			return fmt.Errorf("failed to build test harness: %w", err)
		}
		orch.SetSuiteRunner(suites)
	}

	// HTTP API. The nil-interface wrappers keep disabled collaborators out
	// of the handler.
	var apiSuites api.SuiteRunner
	if suites != nil {
		apiSuites = suites
	}
	handler := api.NewHandler(catalog, orch, pruner, recoveryEngine, apiSuites)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Supervisor tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddControlService(sched)
	tree.AddControlService(orch)
	tree.AddControlService(alerting.NewLogSink(bus))
	tree.AddAPIService(api.NewServer(addr, handler))

	logging.Info().
		Str("addr", addr).
		Int("scheduled_jobs", len(sched.NextRuns())).
		Bool("harness", cfg.Harness.Enabled).
		Msg("Service tree assembled")

	err = <-tree.ServeBackground(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

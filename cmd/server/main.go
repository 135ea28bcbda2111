// Package main is the entry point for the AlphaShield service.
// It runs the HTTP API, the scheduled backtest, the coverage guard and the
// backup and maintenance jobs over a single results database.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/database"
	"github.com/aristath/alphashield/internal/events"
	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/marketdata"
	"github.com/aristath/alphashield/internal/modules/risk"
	"github.com/aristath/alphashield/internal/reliability"
	"github.com/aristath/alphashield/internal/scheduler"
	"github.com/aristath/alphashield/internal/server"
	"github.com/aristath/alphashield/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("method", cfg.Engine.Optimizer.Method).
		Int("symbols", len(cfg.Engine.Universe)).
		Msg("Starting AlphaShield")

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "results.db"),
		Profile: database.ProfileStandard,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate results database")
	}

	repo := backtest.NewRepository(db, log)
	bus := events.NewBus(log)
	eventManager := events.NewManager(bus, log)

	// Exports are optional; a nil store disables them
	var store reliability.ObjectStore
	if cfg.S3.Enabled() {
		client, err := reliability.NewS3Client(context.Background(), cfg.S3, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create S3 client")
		}
		store = client
	} else {
		log.Info().Msg("S3 bucket not configured, exports and backups disabled")
	}

	guardrail := risk.NewGuardrail(cfg.Engine.Coverage, cfg.Engine.Risk, log)
	exporter := reliability.NewExporter(store, cfg.S3.Prefix, guardrail.Thresholds(), log)

	nightly := scheduler.NewNightlyBacktestJob(scheduler.NightlyBacktestConfig{
		Engine: cfg.Engine,
		Prices: marketdata.Source{
			CSVPath:  cfg.PricesCSV,
			Universe: cfg.Engine.Universe,
			Seed:     cfg.Engine.Optimizer.Seed,
		},
		Repo:     repo,
		Exporter: exporter,
		Events:   eventManager,
		Log:      log,
	})
	coverageGuard := scheduler.NewCoverageGuardJob(repo, guardrail, eventManager, log)
	backup := scheduler.NewBackupJob(db, exporter, cfg.DataDir, cfg.BackupRetention, eventManager, log)
	maintenance := scheduler.NewMaintenanceJob(reliability.NewMaintenance(db, cfg.DataDir, log), eventManager, log)

	sched := scheduler.New(log)
	for _, entry := range []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Schedule.NightlyBacktest, nightly},
		{cfg.Schedule.CoverageGuard, coverageGuard},
		{cfg.Schedule.Backup, backup},
		{cfg.Schedule.Maintenance, maintenance},
	} {
		if err := sched.AddJob(entry.schedule, entry.job); err != nil {
			log.Fatal().Err(err).Str("job", entry.job.Name()).Msg("Failed to schedule job")
		}
	}

	srv := server.New(server.Config{
		Log:          log,
		Config:       cfg,
		DB:           db,
		Repo:         repo,
		EventBus:     bus,
		EventManager: eventManager,
		Scheduler:    sched,
		Exporter:     exporter,
		Origins:      []string{"*"},
		MaxBacktests: 2,
	})
	srv.SetJobs(nightly, coverageGuard, backup, maintenance)

	sched.Start()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Running jobs finish within their own timeouts
	sched.Stop()

	log.Info().Msg("Server stopped")
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/events"
	"github.com/aristath/alphashield/internal/modules/backtest"
)

// PriceLoader supplies the price table for a run
type PriceLoader interface {
	Load() (*domain.PriceSeries, error)
}

// RunExporter publishes a finished run
type RunExporter interface {
	Enabled() bool
	ExportRun(ctx context.Context, run *backtest.Run) ([]string, error)
}

// NightlyBacktestJob replays the configured engine over the latest prices,
// stores the run and exports its report.
type NightlyBacktestJob struct {
	engine   config.EngineConfig
	prices   PriceLoader
	repo     *backtest.Repository
	exporter RunExporter
	events   *events.Manager
	timeout  time.Duration
	log      zerolog.Logger
}

// NightlyBacktestConfig holds the job's dependencies
type NightlyBacktestConfig struct {
	Engine   config.EngineConfig
	Prices   PriceLoader
	Repo     *backtest.Repository
	Exporter RunExporter // Optional
	Events   *events.Manager
	Timeout  time.Duration
	Log      zerolog.Logger
}

// NewNightlyBacktestJob creates the job. A zero timeout allows one hour.
func NewNightlyBacktestJob(cfg NightlyBacktestConfig) *NightlyBacktestJob {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &NightlyBacktestJob{
		engine:   cfg.Engine,
		prices:   cfg.Prices,
		repo:     cfg.Repo,
		exporter: cfg.Exporter,
		events:   cfg.Events,
		timeout:  timeout,
		log:      cfg.Log.With().Str("job", "nightly_backtest").Logger(),
	}
}

// Name returns the job name
func (j *NightlyBacktestJob) Name() string {
	return "nightly_backtest"
}

// Run executes one backtest
func (j *NightlyBacktestJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	_, err := j.Execute(ctx)
	return err
}

// Execute runs the backtest under ctx and returns the stored run. A run
// cancelled by ctx is still stored.
func (j *NightlyBacktestJob) Execute(ctx context.Context) (*backtest.Run, error) {
	startTime := time.Now()

	prices, err := j.prices.Load()
	if err != nil {
		j.events.EmitError(j.Name(), err, map[string]interface{}{"step": "load_prices"})
		return nil, fmt.Errorf("failed to load prices: %w", err)
	}

	engine, err := backtest.NewEngine(j.engine, prices, j.log, backtest.WithEvents(j.events))
	if err != nil {
		j.events.EmitError(j.Name(), err, map[string]interface{}{"step": "configure"})
		return nil, err
	}

	run, runErr := engine.Run(ctx)
	if run == nil {
		return nil, runErr
	}
	if err := j.repo.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		return run, err
	}
	if runErr != nil {
		j.log.Warn().Err(runErr).Str("run_id", run.ID).Msg("Backtest interrupted, partial run stored")
		return run, runErr
	}

	if j.exporter != nil && j.exporter.Enabled() {
		if _, err := j.exporter.ExportRun(ctx, run); err != nil {
			j.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to export run")
		}
	}

	j.log.Info().
		Str("run_id", run.ID).
		Float64("final_nav", run.Metrics.FinalNAV).
		Float64("cagr", run.Metrics.CAGR).
		Dur("duration", time.Since(startTime)).
		Msg("Nightly backtest completed")
	return run, nil
}

// Package main runs a single AlphaShield backtest from the command line and
// prints its summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/database"
	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/marketdata"
	"github.com/aristath/alphashield/internal/modules/reporting"
	"github.com/aristath/alphashield/internal/modules/risk"
	"github.com/aristath/alphashield/pkg/logger"
)

type options struct {
	prices     string
	configPath string
	method     string
	covariance string
	seed       int64
	days       int
	principal  float64
	rate       float64
	term       int
	dbPath     string
	outDir     string
	asJSON     bool
	logLevel   string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	fs.StringVar(&o.prices, "prices", "", "price CSV (date column then one column per symbol); synthetic prices when empty")
	fs.StringVar(&o.configPath, "config", "", "engine YAML file")
	fs.StringVar(&o.method, "method", "", "optimizer method: closed_form, qp, qubo or hrp")
	fs.StringVar(&o.covariance, "covariance", "", "covariance estimator: ledoit_wolf, ewma or sample")
	fs.Int64Var(&o.seed, "seed", 0, "seed for synthetic prices")
	fs.IntVar(&o.days, "days", marketdata.DefaultSyntheticDays, "business days of synthetic prices")
	fs.Float64Var(&o.principal, "principal", -1, "loan principal (negative keeps the configured loan)")
	fs.Float64Var(&o.rate, "rate", -1, "loan annual rate, e.g. 0.08")
	fs.IntVar(&o.term, "term", -1, "loan term in months")
	fs.StringVar(&o.dbPath, "db", "", "results database to store the run in")
	fs.StringVar(&o.outDir, "out", "", "directory for nav.png and coverage.png")
	fs.BoolVar(&o.asJSON, "json", false, "print the summary as JSON")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return o, nil
}

func engineConfig(o options) (config.EngineConfig, error) {
	cfg := config.DefaultEngineConfig()
	if o.configPath != "" {
		loaded, err := config.LoadEngineConfig(o.configPath)
		if err != nil {
			return config.EngineConfig{}, err
		}
		cfg = loaded
	}
	if o.method != "" {
		cfg.Optimizer.Method = o.method
	}
	if o.covariance != "" {
		cfg.Optimizer.Covariance = o.covariance
	}
	if o.principal >= 0 {
		cfg.Loan.Principal = o.principal
	}
	if o.rate >= 0 {
		cfg.Loan.AnnualRate = o.rate
	}
	if o.term >= 0 {
		cfg.Loan.TermMonths = o.term
	}
	return cfg, cfg.Validate()
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: o.logLevel, Pretty: true, Output: os.Stderr})

	if err := run(o, log); err != nil {
		log.Error().Err(err).Msg("Backtest failed")
		os.Exit(1)
	}
}

func run(o options, log zerolog.Logger) error {
	cfg, err := engineConfig(o)
	if err != nil {
		return err
	}

	prices, err := marketdata.Source{
		CSVPath:  o.prices,
		Universe: cfg.Universe,
		Days:     o.days,
		Seed:     o.seed,
	}.Load()
	if err != nil {
		return fmt.Errorf("failed to load prices: %w", err)
	}

	engine, err := backtest.NewEngine(cfg, prices, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, runErr := engine.Run(ctx)
	if result == nil {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	if o.dbPath != "" {
		if err := save(o.dbPath, result, log); err != nil {
			return err
		}
	}

	if o.outDir != "" {
		bands := risk.NewGuardrail(cfg.Coverage, cfg.Risk, log).Thresholds()
		if err := writeCharts(o.outDir, result, bands); err != nil {
			return err
		}
	}

	summary := reporting.Summarize(result)
	if o.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else if err := summary.WriteText(os.Stdout); err != nil {
		return err
	}
	return runErr
}

func save(path string, result *backtest.Run, log zerolog.Logger) error {
	db, err := database.New(database.Config{Path: path, Profile: database.ProfileStandard, Name: "results"})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	return backtest.NewRepository(db, log).SaveRun(context.Background(), result)
}

func writeCharts(dir string, result *backtest.Run, bands risk.Thresholds) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, kind := range []reporting.ChartKind{reporting.ChartNAV, reporting.ChartCoverage} {
		png, err := reporting.Chart(result, kind, bands)
		if err != nil {
			return fmt.Errorf("failed to render %s chart: %w", kind, err)
		}
		if err := os.WriteFile(filepath.Join(dir, string(kind)+".png"), png, 0644); err != nil {
			return err
		}
	}
	return nil
}

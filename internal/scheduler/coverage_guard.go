package scheduler

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/events"
	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/risk"
)

// CoverageGuardJob re-evaluates the guardrail against the final state of
// the latest run and raises an alert when coverage is not normal.
type CoverageGuardJob struct {
	repo      *backtest.Repository
	guardrail *risk.Guardrail
	events    *events.Manager
	log       zerolog.Logger
}

// NewCoverageGuardJob creates the job
func NewCoverageGuardJob(repo *backtest.Repository, guardrail *risk.Guardrail, em *events.Manager, log zerolog.Logger) *CoverageGuardJob {
	return &CoverageGuardJob{
		repo:      repo,
		guardrail: guardrail,
		events:    em,
		log:       log.With().Str("job", "coverage_guard").Logger(),
	}
}

// Name returns the job name
func (j *CoverageGuardJob) Name() string {
	return "coverage_guard"
}

// Run executes the check
func (j *CoverageGuardJob) Run() error {
	_, err := j.Check(context.Background())
	return err
}

// Check evaluates the latest run. Without a run it returns a zero Decision.
func (j *CoverageGuardJob) Check(ctx context.Context) (risk.Decision, error) {
	run, err := j.repo.Latest(ctx)
	if errors.Is(err, backtest.ErrRunNotFound) {
		j.log.Debug().Msg("No backtest run yet, nothing to check")
		return risk.Decision{}, nil
	}
	if err != nil {
		return risk.Decision{}, err
	}

	last, ok := run.LastStep()
	if !ok {
		return risk.Decision{}, nil
	}

	decision := j.guardrail.Evaluate(last.CoverageRatio, last.Drawdown)
	if decision.Status == domain.CoverageNormal {
		j.log.Debug().Str("run_id", run.ID).Msg("Coverage normal")
		return decision, nil
	}

	cr := decision.CoverageRatio
	if math.IsInf(cr, 0) || math.IsNaN(cr) {
		cr = 0
	}
	j.events.Emit(j.Name(), &events.CoverageAlertData{
		RunID:         run.ID,
		Status:        string(decision.Status),
		CoverageRatio: cr,
		Drawdown:      decision.Drawdown,
		Instructions:  decision.Instructions,
	})
	j.log.Warn().
		Str("run_id", run.ID).
		Str("status", string(decision.Status)).
		Float64("coverage_ratio", cr).
		Float64("drawdown", decision.Drawdown).
		Msg("Coverage alert raised")
	return decision, nil
}

package backtest

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/database"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/validation"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "results.db"),
		Profile: database.ProfileCache,
		Name:    "results",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewRepository(db, zerolog.Nop())
}

func sampleRun(id string, created time.Time) *Run {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	return &Run{
		ID:         id,
		CreatedAt:  created,
		Start:      start,
		End:        start.AddDate(0, 0, 2),
		Method:     "qp",
		Covariance: "ledoit_wolf",
		Symbols:    []string{"SPY", "TLT"},
		Loan:       domain.LoanTerms{Principal: 25000, AnnualRate: 0.08, TermMonths: 60},
		Payment:    506.91,
		Initial:    100000,
		Validation: validation.Report{OK: false, Codes: []string{validation.CodeInsufficient}},
		NAV: []Point{
			{Date: start, Value: 100000},
			{Date: start.AddDate(0, 0, 1), Value: 100500},
			{Date: start.AddDate(0, 0, 2), Value: 101000},
		},
		Coverage: []Point{{Date: start, Value: math.Inf(1)}, {Date: start.AddDate(0, 0, 1), Value: 1.45}},
		Steps: []StepLog{
			{Index: 0, Date: start, State: StateWarmup, Status: domain.CoverageNormal, CoverageRatio: math.Inf(1), NAV: 100000},
			{Index: 1, Date: start.AddDate(0, 0, 1), State: StateOptimized, Status: domain.CoverageNormal, CoverageRatio: 1.45,
				NAV: 100500, Weights: domain.Weights{"SPY": 0.6, "TLT": 0.4}},
		},
		Metrics:     Metrics{CAGR: 0.05, Sharpe: 1.1, MaxDrawdown: 0.02, FinalNAV: 101000, Steps: 2},
		DurationSec: 0.25,
	}
}

func TestRepository_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	run := sampleRun("a", time.Unix(1700000000, 0).UTC())
	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.True(t, run.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, run.Start.Equal(got.Start))
	assert.Equal(t, run.Symbols, got.Symbols)
	assert.Equal(t, run.Loan, got.Loan)
	assert.Equal(t, run.Metrics, got.Metrics)
	assert.Equal(t, run.Validation.Codes, got.Validation.Codes)
	require.Len(t, got.NAV, 3)
	assert.Equal(t, 101000.0, got.NAV[2].Value)
	assert.True(t, math.IsInf(got.Coverage[0].Value, 1))
	require.Len(t, got.Steps, 2)
	assert.Equal(t, StateOptimized, got.Steps[1].State)
	assert.InDelta(t, 0.6, got.Steps[1].Weights["SPY"], 1e-12)

	series, err := repo.GetSeries(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, series.NAV, 3)
	assert.Len(t, series.Coverage, 2)
}

func TestRepository_ListAndLatest(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, ErrRunNotFound)

	base := time.Unix(1700000000, 0).UTC()
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, repo.SaveRun(ctx, sampleRun(id, base.Add(time.Duration(i)*time.Hour))))
	}

	all, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "old", all[2].ID)
	assert.Equal(t, 0.05, all[0].Metrics.CAGR)

	limited, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	require.NoError(t, repo.DeleteRun(ctx, "new"))
	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mid", latest.ID)
}

func TestRepository_NotFound(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = repo.GetSeries(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, repo.DeleteRun(ctx, "missing"), ErrRunNotFound)
}

func TestRepository_SavesEngineRun(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	engine, err := NewEngine(fastConfig(), syntheticPrices(t, 200), zerolog.Nop())
	require.NoError(t, err)
	run, err := engine.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, len(run.Steps))
	assert.Len(t, got.NAV, len(run.NAV))
	assert.InDelta(t, run.Metrics.FinalNAV, got.Metrics.FinalNAV, 1e-9)
	assert.ElementsMatch(t, run.Validation.Codes, got.Validation.Codes)
}

func TestRun_JSONWritesNonFiniteAsNull(t *testing.T) {
	run := sampleRun("json", time.Unix(1700000000, 0).UTC())
	b, err := json.Marshal(run)
	require.NoError(t, err)

	var decoded struct {
		Coverage []struct {
			Value *float64 `json:"value"`
		} `json:"coverage"`
		Steps []struct {
			CoverageRatio *float64 `json:"coverage_ratio"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Nil(t, decoded.Coverage[0].Value)
	require.NotNil(t, decoded.Coverage[1].Value)
	assert.Equal(t, 1.45, *decoded.Coverage[1].Value)
	assert.Nil(t, decoded.Steps[0].CoverageRatio)
}

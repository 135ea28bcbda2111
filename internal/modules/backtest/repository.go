package backtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/alphashield/internal/database"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/validation"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("backtest run not found")

// RunSummary is a run without its series and step logs
type RunSummary struct {
	ID          string           `json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	Method      string           `json:"method"`
	Covariance  string           `json:"covariance"`
	Symbols     []string         `json:"symbols"`
	Loan        domain.LoanTerms `json:"loan"`
	Payment     float64          `json:"monthly_payment"`
	Initial     float64          `json:"initial_capital"`
	Metrics     Metrics          `json:"metrics"`
	Cancelled   bool             `json:"cancelled,omitempty"`
	DurationSec float64          `json:"duration_sec"`
}

// Series is the NAV and coverage time series of a run
type Series struct {
	NAV      []Point `json:"nav"`
	Coverage []Point `json:"coverage"`
}

// Repository stores backtest runs in the results database.
// Series and step logs are msgpack blobs.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a repository over a migrated results database
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db.Conn(),
		log: log.With().Str("repo", "backtest_runs").Logger(),
	}
}

// SaveRun inserts or replaces a run.
func (r *Repository) SaveRun(ctx context.Context, run *Run) error {
	blobs := make([][]byte, 0, 5)
	for _, v := range []interface{}{run.Metrics, run.Validation, run.NAV, run.Coverage, run.Steps} {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
		}
		blobs = append(blobs, b)
	}

	query := `
		INSERT OR REPLACE INTO backtest_runs (
			id, created_at, start_date, end_date, method, covariance, symbols,
			loan_principal, loan_rate, loan_term_months, monthly_payment, initial_capital,
			final_nav, cagr, sharpe, max_drawdown, coverage_adherence_pct, cancelled, duration_sec,
			metrics, validation, nav_series, coverage_series, steps
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.CreatedAt.Unix(),
		run.Start.Format(dateLayout),
		run.End.Format(dateLayout),
		run.Method,
		run.Covariance,
		strings.Join(run.Symbols, ","),
		run.Loan.Principal,
		run.Loan.AnnualRate,
		run.Loan.TermMonths,
		run.Payment,
		run.Initial,
		run.Metrics.FinalNAV,
		run.Metrics.CAGR,
		run.Metrics.Sharpe,
		run.Metrics.MaxDrawdown,
		run.Metrics.CoverageAdherencePct,
		boolToInt(run.Cancelled),
		run.DurationSec,
		blobs[0], blobs[1], blobs[2], blobs[3], blobs[4],
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	r.log.Debug().Str("run_id", run.ID).Int("steps", len(run.Steps)).Msg("Saved backtest run")
	return nil
}

const summaryColumns = `id, created_at, start_date, end_date, method, covariance, symbols,
	loan_principal, loan_rate, loan_term_months, monthly_payment, initial_capital,
	cancelled, duration_sec, metrics`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row scanner, extra ...interface{}) (RunSummary, error) {
	var s RunSummary
	var createdAt int64
	var start, end, symbols string
	var cancelled int
	var metrics []byte

	dest := []interface{}{
		&s.ID, &createdAt, &start, &end, &s.Method, &s.Covariance, &symbols,
		&s.Loan.Principal, &s.Loan.AnnualRate, &s.Loan.TermMonths, &s.Payment, &s.Initial,
		&cancelled, &s.DurationSec, &metrics,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return RunSummary{}, err
	}

	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.Start, _ = time.Parse(dateLayout, start)
	s.End, _ = time.Parse(dateLayout, end)
	if symbols != "" {
		s.Symbols = strings.Split(symbols, ",")
	}
	s.Cancelled = cancelled != 0
	if err := msgpack.Unmarshal(metrics, &s.Metrics); err != nil {
		return RunSummary{}, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return s, nil
}

// GetRun loads a complete run.
func (r *Repository) GetRun(ctx context.Context, id string) (*Run, error) {
	var validationBlob, navBlob, coverageBlob, stepsBlob []byte
	row := r.db.QueryRowContext(ctx,
		"SELECT "+summaryColumns+", validation, nav_series, coverage_series, steps FROM backtest_runs WHERE id = ?", id)

	s, err := scanSummary(row, &validationBlob, &navBlob, &coverageBlob, &stepsBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}

	run := &Run{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		Start:       s.Start,
		End:         s.End,
		Method:      s.Method,
		Covariance:  s.Covariance,
		Symbols:     s.Symbols,
		Loan:        s.Loan,
		Payment:     s.Payment,
		Initial:     s.Initial,
		Metrics:     s.Metrics,
		Cancelled:   s.Cancelled,
		DurationSec: s.DurationSec,
	}
	var report validation.Report
	for _, pair := range []struct {
		blob []byte
		dest interface{}
	}{
		{validationBlob, &report},
		{navBlob, &run.NAV},
		{coverageBlob, &run.Coverage},
		{stepsBlob, &run.Steps},
	} {
		if err := msgpack.Unmarshal(pair.blob, pair.dest); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", id, err)
		}
	}
	run.Validation = report
	return run, nil
}

// ListRuns returns the newest runs first. A non-positive limit returns all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := "SELECT " + summaryColumns + " FROM backtest_runs ORDER BY created_at DESC, id"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	summaries := []RunSummary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return summaries, nil
}

// Latest returns the most recently created run.
func (r *Repository) Latest(ctx context.Context) (*Run, error) {
	var id string
	err := r.db.QueryRowContext(ctx, "SELECT id FROM backtest_runs ORDER BY created_at DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	return r.GetRun(ctx, id)
}

// GetSeries loads only the NAV and coverage series of a run.
func (r *Repository) GetSeries(ctx context.Context, id string) (Series, error) {
	var navBlob, coverageBlob []byte
	err := r.db.QueryRowContext(ctx,
		"SELECT nav_series, coverage_series FROM backtest_runs WHERE id = ?", id).Scan(&navBlob, &coverageBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return Series{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Series{}, fmt.Errorf("failed to load series %s: %w", id, err)
	}

	var s Series
	if err := msgpack.Unmarshal(navBlob, &s.NAV); err != nil {
		return Series{}, fmt.Errorf("failed to decode nav series: %w", err)
	}
	if err := msgpack.Unmarshal(coverageBlob, &s.Coverage); err != nil {
		return Series{}, fmt.Errorf("failed to decode coverage series: %w", err)
	}
	return s, nil
}

// DeleteRun removes a run.
func (r *Repository) DeleteRun(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM backtest_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Summary strips the series from a run.
func (run *Run) Summary() RunSummary {
	return RunSummary{
		ID:          run.ID,
		CreatedAt:   run.CreatedAt,
		Start:       run.Start,
		End:         run.End,
		Method:      run.Method,
		Covariance:  run.Covariance,
		Symbols:     run.Symbols,
		Loan:        run.Loan,
		Payment:     run.Payment,
		Initial:     run.Initial,
		Metrics:     run.Metrics,
		Cancelled:   run.Cancelled,
		DurationSec: run.DurationSec,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

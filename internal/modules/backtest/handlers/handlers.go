// Package handlers provides HTTP handlers for backtest runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/events"
	"github.com/aristath/alphashield/internal/modules/backtest"
	"github.com/aristath/alphashield/internal/modules/marketdata"
	"github.com/aristath/alphashield/internal/modules/reporting"
	"github.com/aristath/alphashield/internal/modules/risk"
)

const maxRequestBytes = 32 << 20

// RunRequest is the body of POST /api/backtests. Zero values keep the
// server's engine configuration.
type RunRequest struct {
	Loan           *domain.LoanTerms `json:"loan,omitempty"`
	InitialCapital float64           `json:"initial_capital,omitempty"`
	Method         string            `json:"method,omitempty"`
	Covariance     string            `json:"covariance,omitempty"`
	Regime         string            `json:"regime,omitempty"`
	RebalanceEvery int               `json:"rebalance_every,omitempty"`
	MaxPosition    float64           `json:"max_position,omitempty"`
	Strict         *bool             `json:"strict,omitempty"`
	PricesCSV      string            `json:"prices_csv,omitempty"` // Inline price table
	Synthetic      *SyntheticRequest `json:"synthetic,omitempty"`
}

// SyntheticRequest selects generated prices
type SyntheticRequest struct {
	Seed  int64  `json:"seed"`
	Days  int    `json:"days"`
	Start string `json:"start,omitempty"` // YYYY-MM-DD
}

// Handler handles backtest HTTP requests
type Handler struct {
	repo     *backtest.Repository
	engine   config.EngineConfig
	events   *events.Manager
	bands    risk.Thresholds
	inflight *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewHandler creates a backtest handler. At most maxConcurrent runs execute
// in the background at once.
func NewHandler(repo *backtest.Repository, engine config.EngineConfig, em *events.Manager, maxConcurrent int, log zerolog.Logger) *Handler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		repo:     repo,
		engine:   engine,
		events:   em,
		bands:    risk.Thresholds{Emergency: engine.Coverage.EmergencyRatio, Target: engine.Coverage.TargetRatio},
		inflight: semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With().Str("handler", "backtest").Logger(),
	}
}

// Shutdown cancels background runs and waits for them to store their
// partial results.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterRoutes registers the backtest routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/backtests", func(r chi.Router) {
		r.Post("/", h.HandleCreateRun)
		r.Get("/", h.HandleListRuns)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGetRun)
			r.Delete("/", h.HandleDeleteRun)
			r.Get("/summary", h.HandleGetSummary)
			r.Get("/series", h.HandleGetSeries)
			r.Get("/chart/{kind}", h.HandleGetChart)
		})
	})
}

// HandleCreateRun handles POST /api/backtests. The run executes in the
// background and the response carries its id; ?wait=true runs it inline
// and returns the summary.
func (h *Handler) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	cfg := h.configFor(req)
	prices, err := loadPrices(req, cfg)
	if err != nil {
		http.Error(w, "Invalid prices: "+err.Error(), http.StatusBadRequest)
		return
	}

	engine, err := backtest.NewEngine(cfg, prices, h.log, backtest.WithEvents(h.events))
	if err != nil {
		h.writeError(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := h.inflight.Acquire(r.Context(), 1); err != nil {
			http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
			return
		}
		defer h.inflight.Release(1)

		run, err := h.execute(r.Context(), engine)
		if err != nil && run == nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, reporting.Summarize(run))
		return
	}

	if !h.inflight.TryAcquire(1) {
		http.Error(w, "Too many backtests running", http.StatusTooManyRequests)
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.inflight.Release(1)
		if _, err := h.execute(h.ctx, engine); err != nil {
			h.log.Error().Err(err).Str("run_id", engine.ID()).Msg("Background backtest failed")
		}
	}()

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":     engine.ID(),
		"status": "running",
		"steps":  len(engine.RebalanceIndices()),
	})
}

// execute runs and stores the engine. A cancelled run is stored as well.
func (h *Handler) execute(ctx context.Context, engine *backtest.Engine) (*backtest.Run, error) {
	run, runErr := engine.Run(ctx)
	if run == nil {
		return nil, runErr
	}
	if err := h.repo.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		h.events.EmitError("backtest", err, map[string]interface{}{"run_id": run.ID})
		return run, err
	}
	return run, runErr
}

func (h *Handler) configFor(req RunRequest) config.EngineConfig {
	cfg := h.engine
	if req.Loan != nil {
		cfg.Loan = *req.Loan
	}
	if req.InitialCapital != 0 {
		cfg.Backtest.InitialCapital = req.InitialCapital
	}
	if req.Method != "" {
		cfg.Optimizer.Method = req.Method
	}
	if req.Covariance != "" {
		cfg.Optimizer.Covariance = req.Covariance
	}
	if req.Regime != "" {
		cfg.Signals.Regime = req.Regime
	}
	if req.RebalanceEvery != 0 {
		cfg.Backtest.RebalanceEvery = req.RebalanceEvery
	}
	if req.MaxPosition != 0 {
		cfg.Optimizer.MaxPosition = req.MaxPosition
	}
	if req.Strict != nil {
		cfg.Backtest.StrictValidation = *req.Strict
	}
	return cfg
}

func loadPrices(req RunRequest, cfg config.EngineConfig) (*domain.PriceSeries, error) {
	if req.PricesCSV != "" {
		return marketdata.LoadCSV(strings.NewReader(req.PricesCSV))
	}
	src := marketdata.Source{Universe: cfg.Universe}
	if req.Synthetic != nil {
		src.Seed = req.Synthetic.Seed
		src.Days = req.Synthetic.Days
		if req.Synthetic.Start != "" {
			start, err := time.Parse("2006-01-02", req.Synthetic.Start)
			if err != nil {
				return nil, fmt.Errorf("invalid synthetic start: %w", err)
			}
			src.Start = start
		}
	}
	return src.Load()
}

// HandleListRuns handles GET /api/backtests?limit=N
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, runs)
}

// HandleGetRun handles GET /api/backtests/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// HandleGetSummary handles GET /api/backtests/{id}/summary
func (h *Handler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, reporting.Summarize(run))
}

// HandleDeleteRun handles DELETE /api/backtests/{id}
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.repo.DeleteRun(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetSeries handles GET /api/backtests/{id}/series?group_by=day|week|month
func (h *Handler) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	groupBy := reporting.AggregateDaily
	if s := r.URL.Query().Get("group_by"); s != "" {
		g, err := reporting.ParseAggregation(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		groupBy = g
	}

	series, err := h.repo.GetSeries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"group_by": groupBy,
		"nav":      reporting.Aggregate(series.NAV, groupBy),
		"coverage": reporting.Aggregate(series.Coverage, groupBy),
	})
}

// HandleGetChart handles GET /api/backtests/{id}/chart/{nav|coverage}
func (h *Handler) HandleGetChart(w http.ResponseWriter, r *http.Request) {
	kind, err := reporting.ParseChartKind(chi.URLParam(r, "kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	png, err := reporting.Chart(run, kind, h.bands)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to render chart")
		http.Error(w, "Failed to render chart", http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=300")
	_, _ = w.Write(png)
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*backtest.Run, bool) {
	run, err := h.repo.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return run, true
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backtest.ErrRunNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidConfiguration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrDataValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Msg("Backtest request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response in the data/metadata envelope
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

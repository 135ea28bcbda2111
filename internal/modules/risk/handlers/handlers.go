// Package handlers provides HTTP handlers for loan coverage and sizing.
package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/modules/allocation"
	"github.com/aristath/alphashield/internal/modules/risk"
)

// Handler handles coverage and loan HTTP requests
type Handler struct {
	loan      domain.LoanTerms
	coverage  config.CoverageConfig
	universe  domain.Universe
	guardrail *risk.Guardrail
	log       zerolog.Logger
}

// NewHandler creates a handler. Query parameters fall back to the engine's
// loan terms and coverage assumptions.
func NewHandler(engine config.EngineConfig, log zerolog.Logger) *Handler {
	return &Handler{
		loan:      engine.Loan,
		coverage:  engine.Coverage,
		universe:  engine.Universe,
		guardrail: risk.NewGuardrail(engine.Coverage, engine.Risk, log),
		log:       log.With().Str("handler", "risk").Logger(),
	}
}

// RegisterRoutes registers the coverage and loan routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/coverage", h.HandleGetCoverage)
	r.Get("/loans/schedule", h.HandleGetSchedule)
	r.Get("/risk/kelly", h.HandleGetKelly)
	r.Get("/risk/templates", h.HandleGetTemplates)
}

// HandleGetCoverage handles GET /api/coverage?nav=&principal=&rate=&term=&expected_return=&drawdown=
func (h *Handler) HandleGetCoverage(w http.ResponseWriter, r *http.Request) {
	q := queryReader{r: r}
	nav := q.float("nav", math.NaN())
	terms := q.loan(h.loan)
	expected := q.float("expected_return", h.coverage.ExpReturnAssumption)
	drawdown := q.float("drawdown", 0)
	if q.err != nil {
		http.Error(w, q.err.Error(), http.StatusBadRequest)
		return
	}
	if math.IsNaN(nav) || nav < 0 {
		http.Error(w, "nav is required and must be non-negative", http.StatusBadRequest)
		return
	}
	if err := terms.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment := risk.Payment(terms)
	cr := risk.CoverageRatio(nav, payment, expected)
	decision := h.guardrail.Evaluate(cr, drawdown)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"loan":            terms,
		"monthly_payment": round(payment, 2),
		"nav":             nav,
		"expected_return": expected,
		"coverage_ratio":  finiteOrNil(cr),
		"status":          decision.Status,
		"action":          decision.Action,
		"instructions":    decision.Instructions,
		"target_ratio":    h.coverage.TargetRatio,
		"emergency_ratio": h.coverage.EmergencyRatio,
		"drawdown":        drawdown,
		"no_payment_owed": payment == 0,
	})
}

// HandleGetSchedule handles GET /api/loans/schedule?principal=&rate=&term=
func (h *Handler) HandleGetSchedule(w http.ResponseWriter, r *http.Request) {
	q := queryReader{r: r}
	terms := q.loan(h.loan)
	if q.err != nil {
		http.Error(w, q.err.Error(), http.StatusBadRequest)
		return
	}

	schedule, err := risk.AmortizationSchedule(terms)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if schedule == nil {
		schedule = []risk.Installment{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"loan":            terms,
		"monthly_payment": round(risk.Payment(terms), 2),
		"split":           domain.SplitLoan(terms.Principal),
		"installments":    schedule,
	})
}

// HandleGetKelly handles GET /api/risk/kelly?win_rate=&avg_win=&avg_loss=&coverage_ratio=
func (h *Handler) HandleGetKelly(w http.ResponseWriter, r *http.Request) {
	q := queryReader{r: r}
	winRate := q.float("win_rate", math.NaN())
	avgWin := q.float("avg_win", math.NaN())
	avgLoss := q.float("avg_loss", math.NaN())
	cr := q.float("coverage_ratio", math.Inf(1))
	if q.err != nil {
		http.Error(w, q.err.Error(), http.StatusBadRequest)
		return
	}
	if math.IsNaN(winRate) || math.IsNaN(avgWin) || math.IsNaN(avgLoss) || winRate < 0 || winRate > 1 {
		http.Error(w, "win_rate in [0,1], avg_win and avg_loss are required", http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"fraction":       risk.KellyFraction(winRate, avgWin, avgLoss, cr),
		"win_rate":       winRate,
		"avg_win":        avgWin,
		"avg_loss":       avgLoss,
		"coverage_ratio": finiteOrNil(cr),
	})
}

// HandleGetTemplates handles GET /api/risk/templates?name=
// Each template is returned as its class mix and its weights over the
// configured universe.
func (h *Handler) HandleGetTemplates(w http.ResponseWriter, r *http.Request) {
	names := allocation.TemplateNames()
	if name := r.URL.Query().Get("name"); name != "" {
		names = []string{name}
	}

	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		mix, err := allocation.Mix(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		out = append(out, map[string]interface{}{
			"name":    name,
			"mix":     mix,
			"weights": mix.Spread(h.universe),
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": out,
	})
}

// queryReader parses numeric query parameters and keeps the first error
type queryReader struct {
	r   *http.Request
	err error
}

func (q *queryReader) float(name string, def float64) float64 {
	s := q.r.URL.Query().Get(name)
	if s == "" || q.err != nil {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		q.err = fmt.Errorf("invalid %s: %q", name, s)
		return def
	}
	return v
}

func (q *queryReader) int(name string, def int) int {
	s := q.r.URL.Query().Get(name)
	if s == "" || q.err != nil {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		q.err = fmt.Errorf("invalid %s: %q", name, s)
		return def
	}
	return v
}

func (q *queryReader) loan(def domain.LoanTerms) domain.LoanTerms {
	return domain.LoanTerms{
		Principal:  q.float("principal", def.Principal),
		AnnualRate: q.float("rate", def.AnnualRate),
		TermMonths: q.int("term", def.TermMonths),
	}
}

func finiteOrNil(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// writeJSON writes a JSON response
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

package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/internal/events"
	"github.com/aristath/alphashield/internal/modules/allocation"
	"github.com/aristath/alphashield/internal/modules/covariance"
	"github.com/aristath/alphashield/internal/modules/execution"
	"github.com/aristath/alphashield/internal/modules/optimization"
	"github.com/aristath/alphashield/internal/modules/risk"
	"github.com/aristath/alphashield/internal/modules/signals"
	"github.com/aristath/alphashield/internal/modules/validation"
	"github.com/aristath/alphashield/pkg/formulas"
)

const moduleName = "backtest"

// ErrOutOfOrder is returned when steps are not taken in rebalance order.
var ErrOutOfOrder = errors.New("rebalance steps must run in order")

// StepContext is what an external weight policy sees before the guardrail
type StepContext struct {
	Index         int
	Date          time.Time
	NAV           float64
	CoverageRatio float64
	Drawdown      float64
	Current       domain.Weights
	Signals       domain.SignalVector
	Components    map[signals.Component]domain.SignalVector
}

// WeightOverride adjusts optimizer output before the guardrail runs.
// Returning nil keeps the proposal.
type WeightOverride interface {
	Override(ctx StepContext, proposed domain.Weights) domain.Weights
}

// WeightOverrideFunc adapts a function to WeightOverride
type WeightOverrideFunc func(ctx StepContext, proposed domain.Weights) domain.Weights

// Override implements WeightOverride.
func (f WeightOverrideFunc) Override(ctx StepContext, proposed domain.Weights) domain.Weights {
	return f(ctx, proposed)
}

// Option customizes an Engine
type Option func(*Engine)

// WithEvents attaches an event manager.
func WithEvents(m *events.Manager) Option {
	return func(e *Engine) { e.events = m }
}

// WithOverride installs a post-optimization weight policy.
func WithOverride(o WeightOverride) Option {
	return func(e *Engine) { e.override = o }
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(e *Engine) { e.runID = id }
}

// WithCapabilities overrides the optional backend capabilities.
func WithCapabilities(cov covariance.Capabilities, opt optimization.Capabilities) Option {
	return func(e *Engine) {
		e.covCaps = cov
		e.optCaps = opt
	}
}

// Engine owns the current weights and the run accumulator
type Engine struct {
	cfg      config.EngineConfig
	prices   *domain.PriceSeries
	symbols  []string
	universe domain.Universe
	payment  float64

	generator   *signals.Generator
	signalDays  int
	estimator   *covariance.Estimator
	optimizer   *optimization.Optimizer
	constraints optimization.Constraints
	guardrail   *risk.Guardrail
	simulator   *execution.Simulator

	covCaps  covariance.Capabilities
	optCaps  optimization.Capabilities
	override WeightOverride
	events   *events.Manager
	runID    string

	rebalances []int
	next       int
	nav        float64
	current    domain.Weights
	drawdown   risk.DrawdownTracker
	run        *Run

	log zerolog.Logger
}

// NewEngine validates the configuration, loan terms and price history and
// wires every pipeline component. Configuration errors abort here, before any
// step runs. Price validation codes are logged; strict validation turns
// them into a *domain.DataValidationError.
func NewEngine(cfg config.EngineConfig, prices *domain.PriceSeries, log zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if prices == nil {
		return nil, &domain.DataValidationError{Codes: []string{validation.CodeEmptyPrices}}
	}

	e := &Engine{
		cfg:     cfg,
		prices:  prices,
		symbols: prices.Symbols(),
		covCaps: covariance.DefaultCapabilities(),
		log:     log.With().Str("component", "backtest_engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.runID == "" {
		e.runID = uuid.NewString()
	}
	e.log = e.log.With().Str("run_id", e.runID).Logger()

	report, err := validation.NewPriceValidator(cfg.Backtest.LookbackDays, log).Validate(prices, cfg.Backtest.StrictValidation)
	if err != nil {
		return nil, err
	}
	if !report.OK {
		e.log.Warn().Strs("codes", report.Codes).Msg("Price history has validation issues, continuing with best-effort inputs")
	}

	e.universe = resolveUniverse(cfg.Universe, e.symbols, e.log)
	e.constraints = optimization.ConstraintsFromConfig(cfg.Optimizer, e.universe)
	if err := e.constraints.Validate(e.symbols); err != nil {
		return nil, err
	}

	if e.generator, err = signals.NewGenerator(cfg.Signals, log); err != nil {
		return nil, err
	}
	// Signals may need more history than the covariance lookback
	e.signalDays = max(cfg.Backtest.LookbackDays, e.generator.History())
	method, err := covariance.ParseMethod(cfg.Optimizer.Covariance)
	if err != nil {
		return nil, err
	}
	if e.estimator, err = covariance.NewEstimator(method, cfg.Optimizer.EWMALambda, e.covCaps, log); err != nil {
		return nil, err
	}
	if e.optimizer, err = optimization.NewOptimizer(cfg.Optimizer, e.optCaps, log); err != nil {
		return nil, err
	}
	e.guardrail = risk.NewGuardrail(cfg.Coverage, cfg.Risk, log)
	e.simulator = execution.NewSimulator(cfg.Execution, log)
	e.payment = risk.Payment(cfg.Loan)

	for i := 0; i < prices.Len()-1; i += cfg.Backtest.RebalanceEvery {
		e.rebalances = append(e.rebalances, i)
	}

	e.nav = cfg.Backtest.InitialCapital
	e.current = domain.Weights{}
	e.drawdown.Update(e.nav)

	e.run = &Run{
		ID:         e.runID,
		CreatedAt:  time.Now().UTC(),
		Method:     string(e.optimizer.Backend()),
		Covariance: string(e.estimator.Method()),
		Symbols:    e.symbols,
		Loan:       cfg.Loan,
		Payment:    e.payment,
		Initial:    cfg.Backtest.InitialCapital,
		Validation: report,
	}
	if prices.Len() > 0 {
		e.run.Start = prices.Date(0)
		e.run.End = prices.Date(prices.Len() - 1)
		e.run.NAV = append(e.run.NAV, Point{Date: prices.Date(0), Value: e.nav})
	}
	return e, nil
}

// resolveUniverse returns the configured assets for the priced symbols.
// Symbols missing from the configuration are treated as equities.
func resolveUniverse(configured domain.Universe, symbols []string, log zerolog.Logger) domain.Universe {
	out := configured.Filter(symbols)
	known := make(map[string]bool, len(out))
	for _, a := range out {
		known[a.Symbol] = true
	}
	for _, s := range symbols {
		if !known[s] {
			log.Warn().Str("symbol", s).Msg("Symbol not in configured universe, treating as equity")
			out = append(out, domain.Asset{Symbol: s, Class: domain.AssetClassEquity, Sector: string(domain.AssetClassEquity)})
		}
	}
	return out
}

// ID returns the run identifier.
func (e *Engine) ID() string {
	return e.runID
}

// RebalanceIndices returns the price rows at which the engine rebalances.
func (e *Engine) RebalanceIndices() []int {
	return append([]int(nil), e.rebalances...)
}

// Remaining reports how many rebalance steps have not run yet.
func (e *Engine) Remaining() int {
	return len(e.rebalances) - e.next
}

// CurrentWeights returns a copy of the held weights.
func (e *Engine) CurrentWeights() domain.Weights {
	return e.current.Clone()
}

// NAV returns the current net asset value.
func (e *Engine) NAV() float64 {
	return e.nav
}

// Step runs the pipeline at rebalance row i, which must be the next
// rebalance index, and marks the portfolio to market up to the following
// rebalance.
func (e *Engine) Step(ctx context.Context, i int) (StepLog, error) {
	if e.next >= len(e.rebalances) || e.rebalances[e.next] != i {
		return StepLog{}, fmt.Errorf("%w: got row %d", ErrOutOfOrder, i)
	}
	e.next++

	end := e.prices.Len() - 1
	if e.next < len(e.rebalances) {
		end = e.rebalances[e.next]
	}

	step := StepLog{Index: i, Date: e.prices.Date(i)}
	step.CoverageRatio = risk.CoverageRatio(e.nav, e.payment, e.cfg.Coverage.ExpReturnAssumption)
	step.Drawdown = e.drawdown.Current(e.nav)
	step.Status = e.guardrail.Thresholds().Classify(step.CoverageRatio)

	window := e.prices.Window(i, e.cfg.Backtest.LookbackDays)
	if i < e.cfg.Backtest.WarmupDays || window.Len() < 2 {
		step.State = StateWarmup
		e.hold(&step, window)
		e.markToMarket(i, end)
		return e.finishStep(step), nil
	}

	if err := e.rebalance(ctx, &step, window); err != nil {
		if ctx.Err() != nil {
			return StepLog{}, ctx.Err()
		}
		e.log.Warn().Err(err).Time("date", step.Date).Msg("Optimization failed, holding previous weights")
		step.State = StateHold
		step.Note = err.Error()
		e.hold(&step, window)
	}

	e.markToMarket(i, end)
	return e.finishStep(step), nil
}

// hold keeps the current weights without trading.
func (e *Engine) hold(step *StepLog, window *domain.PriceSeries) {
	step.Weights = e.current.Clone()
	step.NAV = e.nav
	step.Risk = e.riskMetrics(window, e.current)
}

// rebalance runs signals and covariance concurrently, optimizes, applies the
// override and guardrail, and executes.
func (e *Engine) rebalance(ctx context.Context, step *StepLog, window *domain.PriceSeries) error {
	var sig signals.Result
	var cov *mat.SymDense

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sig, err = e.generator.Generate(e.prices.Window(step.Index, e.signalDays))
		return err
	})
	g.Go(func() error {
		var err error
		cov, err = e.estimator.Estimate(window.Returns(), len(e.symbols))
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	scale := e.cfg.Backtest.SignalToReturnScale
	mu := make([]float64, len(e.symbols))
	for j, sym := range e.symbols {
		mu[j] = (sig.Combined[sym] - signals.Neutral) * scale
	}
	annual := covariance.Scale(cov, formulas.TradingDaysPerYear)

	res, err := e.optimizer.Optimize(mu, annual, e.symbols, e.current, e.constraints, e.universe)
	if err != nil {
		return err
	}
	step.Regime = string(sig.Regime)
	step.Backend = string(res.Backend)
	step.OptimizerStatus = string(res.Status)
	step.ExpectedReturn = res.ExpectedReturn

	target := res.Weights
	if e.override != nil {
		target = e.applyOverride(step, sig, target)
	}

	decision := e.guardrail.Evaluate(step.CoverageRatio, step.Drawdown)
	step.Status = decision.Status
	step.State = StateOptimized
	if decision.Overrides() {
		target = e.guardrail.Apply(decision, target, e.universe)
		if decision.Action == risk.ActionEmergency {
			step.State = StateEmergency
		} else {
			step.State = StateDefensive
		}
		e.log.Warn().
			Time("date", step.Date).
			Str("status", string(decision.Status)).
			Float64("coverage_ratio", decision.CoverageRatio).
			Float64("drawdown", decision.Drawdown).
			Str("instructions", decision.Instructions).
			Msg("Guardrail override")
		e.events.Emit(moduleName, &events.GuardrailTriggeredData{
			RunID:         e.runID,
			Date:          step.Date.Format(dateLayout),
			Status:        string(decision.Status),
			CoverageRatio: decision.CoverageRatio,
			Drawdown:      decision.Drawdown,
			Alert:         decision.Alert,
		})
	}
	step.Target = target.Clone()

	fill := e.simulator.Simulate(execution.Request{
		Current:        e.current,
		Target:         target,
		Prices:         e.prices.PricesAt(step.Index),
		ADV:            e.prices.ADV(),
		PortfolioValue: e.nav,
	})
	if fill.Degenerate() {
		step.State = StateHold
		step.Note = "degenerate fill"
		e.hold(step, window)
		return nil
	}

	step.Turnover = e.current.L1Distance(fill.FinalWeights)
	step.Cost = fill.TotalCost
	e.nav -= fill.TotalCost
	e.current = fill.FinalWeights
	step.Weights = e.current.Clone()
	step.NAV = e.nav
	step.Risk = e.riskMetrics(window, e.current)
	return nil
}

func (e *Engine) applyOverride(step *StepLog, sig signals.Result, proposed domain.Weights) domain.Weights {
	components := make(map[signals.Component]domain.SignalVector, len(sig.Components))
	for comp, vec := range sig.Components {
		components[comp] = vec.Clone()
	}
	adjusted := e.override.Override(StepContext{
		Index:         step.Index,
		Date:          step.Date,
		NAV:           e.nav,
		CoverageRatio: step.CoverageRatio,
		Drawdown:      step.Drawdown,
		Current:       e.current.Clone(),
		Signals:       sig.Combined.Clone(),
		Components:    components,
	}, proposed.Clone())
	if adjusted == nil {
		return proposed
	}
	for _, sym := range e.symbols {
		if _, ok := adjusted[sym]; !ok {
			adjusted[sym] = 0
		}
	}
	adjusted = allocation.FitToCap(adjusted.Normalize(), e.constraints.MaxPosition)
	if err := adjusted.Validate(); err != nil {
		e.log.Warn().Err(err).Msg("Ignoring invalid weight override")
		return proposed
	}
	return adjusted
}

// markToMarket applies realized returns from row from+1 through row to.
// Weights drift with prices between rebalances; the uninvested remainder
// earns nothing.
func (e *Engine) markToMarket(from, to int) {
	for t := from + 1; t <= to; t++ {
		prev := e.prices.PricesAt(t - 1)
		cur := e.prices.PricesAt(t)

		held := domain.SortedSymbols(e.current)
		growth := make(map[string]float64, len(held))
		portfolio := 0.0
		for _, sym := range held {
			w := e.current[sym]
			r := 0.0
			if prev[sym] > 0 && formulas.IsFinite(cur[sym]) {
				r = cur[sym]/prev[sym] - 1
			}
			growth[sym] = 1 + r
			portfolio += w * r
		}

		if 1+portfolio > 0 {
			for _, sym := range held {
				e.current[sym] = e.current[sym] * growth[sym] / (1 + portfolio)
			}
		}
		e.nav *= 1 + portfolio
		e.drawdown.Update(e.nav)
		e.run.NAV = append(e.run.NAV, Point{Date: e.prices.Date(t), Value: e.nav})
	}
}

// riskMetrics evaluates the weights against the window's daily returns.
func (e *Engine) riskMetrics(window *domain.PriceSeries, w domain.Weights) RiskMetrics {
	rets := window.Returns()
	if len(rets) == 0 || !w.IsInvested() {
		return RiskMetrics{}
	}
	vec := w.Vector(window.Symbols())
	series := make([]float64, len(rets))
	for t, row := range rets {
		for j, r := range row {
			series[t] += vec[j] * r
		}
	}
	conf := e.cfg.Risk.VaRConfidence
	return RiskMetrics{
		VaR:        risk.VaR(series, conf),
		CVaR:       risk.CVaR(series, conf),
		Volatility: formulas.AnnualizedVolatility(series),
	}
}

func (e *Engine) finishStep(step StepLog) StepLog {
	e.run.Steps = append(e.run.Steps, step)
	e.run.Coverage = append(e.run.Coverage, Point{Date: step.Date, Value: step.CoverageRatio})

	e.log.Info().
		Str("date", step.Date.Format(dateLayout)).
		Str("state", string(step.State)).
		Str("status", string(step.Status)).
		Float64("coverage_ratio", step.CoverageRatio).
		Float64("nav", step.NAV).
		Float64("cost", step.Cost).
		Interface("weights", step.Weights).
		Interface("risk_metrics", step.Risk).
		Msg("Rebalance step")

	e.events.Emit(moduleName, &events.StepCompletedData{
		RunID:         e.runID,
		Date:          step.Date.Format(dateLayout),
		State:         string(step.State),
		NAV:           step.NAV,
		CoverageRatio: sanitize(step.CoverageRatio),
		Cost:          step.Cost,
		Weights:       step.Weights,
	})
	return step
}

// Run executes every remaining step in order. Cancellation is honoured
// between steps: the partial run is finalized, marked cancelled and
// returned together with the context error.
func (e *Engine) Run(ctx context.Context) (*Run, error) {
	started := time.Now()
	e.log.Info().
		Int("steps", len(e.rebalances)).
		Strs("symbols", e.symbols).
		Str("method", e.run.Method).
		Msg("Starting backtest")
	e.events.Emit(moduleName, &events.BacktestStartedData{
		RunID:   e.runID,
		Steps:   len(e.rebalances),
		Symbols: e.symbols,
	})

	var runErr error
	for e.next < len(e.rebalances) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if _, err := e.Step(ctx, e.rebalances[e.next]); err != nil {
			runErr = err
			break
		}
	}

	run := e.finish(runErr != nil)
	run.DurationSec = time.Since(started).Seconds()

	e.log.Info().
		Float64("final_nav", run.Metrics.FinalNAV).
		Float64("cagr", run.Metrics.CAGR).
		Float64("sharpe", run.Metrics.Sharpe).
		Float64("max_drawdown", run.Metrics.MaxDrawdown).
		Bool("cancelled", run.Cancelled).
		Msg("Backtest completed")
	e.events.Emit(moduleName, &events.BacktestCompletedData{
		RunID:       e.runID,
		FinalNAV:    run.Metrics.FinalNAV,
		CAGR:        run.Metrics.CAGR,
		Sharpe:      run.Metrics.Sharpe,
		MaxDrawdown: run.Metrics.MaxDrawdown,
		Cancelled:   run.Cancelled,
	})
	return run, runErr
}

func (e *Engine) finish(cancelled bool) *Run {
	e.run.Cancelled = cancelled
	e.run.Metrics = ComputeMetrics(e.run.NAVValues(), e.run.Steps, e.cfg.Coverage.TargetRatio, e.cfg.Risk.VaRConfidence)
	return e.run
}

const dateLayout = "2006-01-02"

func sanitize(v float64) float64 {
	if formulas.IsFinite(v) {
		return v
	}
	return 0
}

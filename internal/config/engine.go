package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/alphashield/internal/domain"
)

// Known option names. Anything else is rejected by Validate.
var (
	Regimes           = []string{"auto", "low_vol", "balanced", "high_vol"}
	OptimizerMethods  = []string{"closed_form", "qp", "qubo", "hrp"}
	CovarianceMethods = []string{"ledoit_wolf", "ewma", "sample"}
)

// EngineConfig is the complete, typed configuration of the portfolio engine
type EngineConfig struct {
	Signals   SignalsConfig    `yaml:"signals"`
	Optimizer OptimizerConfig  `yaml:"optimizer"`
	Coverage  CoverageConfig   `yaml:"coverage"`
	Execution ExecutionConfig  `yaml:"execution"`
	Risk      RiskConfig       `yaml:"risk"`
	Backtest  BacktestConfig   `yaml:"backtest"`
	Loan      domain.LoanTerms `yaml:"loan"`
	Universe  domain.Universe  `yaml:"universe"`
}

// SignalWeights blends the three signal components
type SignalWeights struct {
	Momentum      float64 `yaml:"momentum" json:"momentum"`
	Trend         float64 `yaml:"trend" json:"trend"`
	MeanReversion float64 `yaml:"mean_reversion" json:"mean_reversion"`
}

// Sum returns the total blend weight.
func (w SignalWeights) Sum() float64 {
	return w.Momentum + w.Trend + w.MeanReversion
}

// SignalsConfig configures the signal generator
type SignalsConfig struct {
	MomentumShortWindow int            `yaml:"momentum_short_window"`
	MomentumLongWindow  int            `yaml:"momentum_long_window"`
	TrendWindow         int            `yaml:"trend_window"`
	MeanRevWindow       int            `yaml:"meanrev_window"`
	VolOverlayWindow    int            `yaml:"vol_overlay_window"`
	Regime              string         `yaml:"regime"`
	Weights             *SignalWeights `yaml:"weights,omitempty"` // Overrides the regime preset
}

// OptimizerConfig configures the portfolio optimizer
type OptimizerConfig struct {
	Method         string             `yaml:"method"`
	Covariance     string             `yaml:"covariance"`
	EWMALambda     float64            `yaml:"ewma_lambda"`
	RiskAversion   float64            `yaml:"risk_aversion"`
	MaxPosition    float64            `yaml:"max_position"`
	MinReturn      float64            `yaml:"min_return"`
	MaxTurnover    float64            `yaml:"max_turnover"` // 0 disables the turnover budget
	SectorCaps     map[string]float64 `yaml:"sector_caps"`
	QuantumEnabled bool               `yaml:"quantum_enabled"`
	QUBOLevels     int                `yaml:"qubo_levels"`
	QUBOSweeps     int                `yaml:"qubo_sweeps"`
	Seed           int64              `yaml:"seed"`
}

// CoverageConfig configures loan coverage bookkeeping
type CoverageConfig struct {
	ExpReturnAssumption float64 `yaml:"exp_return_assumption"`
	TargetRatio         float64 `yaml:"target_ratio"`
	EmergencyRatio      float64 `yaml:"emergency_ratio"`
}

// ExecutionConfig configures the execution simulator
type ExecutionConfig struct {
	DefaultSpreadBps   float64            `yaml:"default_spread_bps"`
	SpreadBps          map[string]float64 `yaml:"spread_bps"`
	CommissionPerTrade float64            `yaml:"commission_per_trade"`
	ADVLimit           float64            `yaml:"adv_limit"`
}

// RiskConfig configures the guardrail
type RiskConfig struct {
	MaxDrawdown    float64 `yaml:"max_drawdown"`
	VaRConfidence  float64 `yaml:"var_confidence"`
	DefensiveShift float64 `yaml:"defensive_shift"`
}

// BacktestConfig configures the replay loop
type BacktestConfig struct {
	InitialCapital      float64 `yaml:"initial_capital"`
	WarmupDays          int     `yaml:"warmup_days"`
	RebalanceEvery      int     `yaml:"rebalance_every"`
	LookbackDays        int     `yaml:"lookback_days"`
	StrictValidation    bool    `yaml:"strict_validation"`
	SignalToReturnScale float64 `yaml:"signal_to_return_scale"`
}

// DefaultEngineConfig returns the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Signals: SignalsConfig{
			MomentumShortWindow: 126,
			MomentumLongWindow:  252,
			TrendWindow:         200,
			MeanRevWindow:       20,
			VolOverlayWindow:    50,
			Regime:              "auto",
		},
		Optimizer: OptimizerConfig{
			Method:       "qp",
			Covariance:   "ledoit_wolf",
			EWMALambda:   0.94,
			RiskAversion: 1.0,
			MaxPosition:  0.5,
			MinReturn:    0.0,
			MaxTurnover:  0.0,
			QUBOLevels:   8,
			QUBOSweeps:   400,
			Seed:         42,
		},
		Coverage: CoverageConfig{
			ExpReturnAssumption: 0.10,
			TargetRatio:         1.3,
			EmergencyRatio:      1.2,
		},
		Execution: ExecutionConfig{
			DefaultSpreadBps:   1.0,
			CommissionPerTrade: 0.0,
			ADVLimit:           0.10,
		},
		Risk: RiskConfig{
			MaxDrawdown:    0.15,
			VaRConfidence:  0.95,
			DefensiveShift: 0.20,
		},
		Backtest: BacktestConfig{
			InitialCapital:      100000,
			WarmupDays:          252,
			RebalanceEvery:      21,
			LookbackDays:        252,
			SignalToReturnScale: 0.20,
		},
		Loan: domain.LoanTerms{
			Principal:  25000,
			AnnualRate: 0.08,
			TermMonths: 60,
		},
		Universe: DefaultUniverse(),
	}
}

// DefaultUniverse is the stock ETF universe used when none is configured.
func DefaultUniverse() domain.Universe {
	return domain.Universe{
		{Symbol: "SPY", Class: domain.AssetClassEquity, Sector: "Equity"},
		{Symbol: "QQQ", Class: domain.AssetClassEquity, Sector: "Equity"},
		{Symbol: "EFA", Class: domain.AssetClassEquity, Sector: "Equity"},
		{Symbol: "TLT", Class: domain.AssetClassBond, Sector: "Bond"},
		{Symbol: "AGG", Class: domain.AssetClassBond, Sector: "Bond"},
		{Symbol: "SHY", Class: domain.AssetClassShortDuration, Sector: "Bond"},
		{Symbol: "VTIP", Class: domain.AssetClassInflationProtected, Sector: "Bond"},
		{Symbol: "GLD", Class: domain.AssetClassCommodity, Sector: "Commodity"},
		{Symbol: "BIL", Class: domain.AssetClassCash, Sector: "Cash"},
	}
}

// LoadEngineConfig reads a YAML file on top of the defaults. Unknown keys are errors.
func LoadEngineConfig(path string) (EngineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("failed to open engine config: %w", err)
	}
	defer f.Close()

	return DecodeEngineConfig(f)
}

// DecodeEngineConfig decodes YAML on top of the defaults and validates the result.
func DecodeEngineConfig(r io.Reader) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return EngineConfig{}, &domain.InvalidConfigurationError{Field: "engine", Reason: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate rejects every out-of-range or unknown option.
func (c EngineConfig) Validate() error {
	s := c.Signals
	for field, v := range map[string]int{
		"signals.momentum_short_window": s.MomentumShortWindow,
		"signals.momentum_long_window":  s.MomentumLongWindow,
		"signals.trend_window":          s.TrendWindow,
		"signals.meanrev_window":        s.MeanRevWindow,
		"signals.vol_overlay_window":    s.VolOverlayWindow,
	} {
		if v <= 0 {
			return domain.NewConfigError(field, "must be positive, got %d", v)
		}
	}
	if !oneOf(s.Regime, Regimes) {
		return domain.NewConfigError("signals.regime", "unknown regime %q", s.Regime)
	}
	if s.Weights != nil {
		w := *s.Weights
		if w.Momentum < 0 || w.Trend < 0 || w.MeanReversion < 0 || w.Sum() <= 0 {
			return domain.NewConfigError("signals.weights", "must be non-negative with a positive sum")
		}
	}

	o := c.Optimizer
	if !oneOf(o.Method, OptimizerMethods) {
		return domain.NewConfigError("optimizer.method", "unknown method %q", o.Method)
	}
	if !oneOf(o.Covariance, CovarianceMethods) {
		return domain.NewConfigError("optimizer.covariance", "unknown covariance method %q", o.Covariance)
	}
	if o.EWMALambda <= 0 || o.EWMALambda >= 1 {
		return domain.NewConfigError("optimizer.ewma_lambda", "must be in (0,1), got %g", o.EWMALambda)
	}
	if o.RiskAversion <= 0 {
		return domain.NewConfigError("optimizer.risk_aversion", "must be positive, got %g", o.RiskAversion)
	}
	if o.MaxPosition <= 0 || o.MaxPosition > 1 {
		return domain.NewConfigError("optimizer.max_position", "must be in (0,1], got %g", o.MaxPosition)
	}
	if o.MaxTurnover < 0 {
		return domain.NewConfigError("optimizer.max_turnover", "must be non-negative, got %g", o.MaxTurnover)
	}
	for sector, cap := range o.SectorCaps {
		if cap < 0 || cap > 1 {
			return domain.NewConfigError("optimizer.sector_caps", "cap for %s must be in [0,1], got %g", sector, cap)
		}
	}
	if o.QUBOLevels <= 0 || o.QUBOLevels > 32 {
		return domain.NewConfigError("optimizer.qubo_levels", "must be in [1,32], got %d", o.QUBOLevels)
	}
	if o.QUBOSweeps <= 0 {
		return domain.NewConfigError("optimizer.qubo_sweeps", "must be positive, got %d", o.QUBOSweeps)
	}

	cv := c.Coverage
	if cv.EmergencyRatio <= 0 || cv.TargetRatio <= 0 {
		return domain.NewConfigError("coverage", "ratios must be positive")
	}
	if cv.EmergencyRatio > cv.TargetRatio {
		return domain.NewConfigError("coverage.emergency_ratio", "must not exceed target_ratio (%g > %g)", cv.EmergencyRatio, cv.TargetRatio)
	}
	if math.IsNaN(cv.ExpReturnAssumption) || math.IsInf(cv.ExpReturnAssumption, 0) {
		return domain.NewConfigError("coverage.exp_return_assumption", "must be finite")
	}

	e := c.Execution
	if e.DefaultSpreadBps < 0 || e.CommissionPerTrade < 0 {
		return domain.NewConfigError("execution", "costs must be non-negative")
	}
	for sym, bps := range e.SpreadBps {
		if bps < 0 {
			return domain.NewConfigError("execution.spread_bps", "spread for %s must be non-negative", sym)
		}
	}
	if e.ADVLimit <= 0 || e.ADVLimit > 1 {
		return domain.NewConfigError("execution.adv_limit", "must be in (0,1], got %g", e.ADVLimit)
	}

	r := c.Risk
	if r.MaxDrawdown <= 0 || r.MaxDrawdown >= 1 {
		return domain.NewConfigError("risk.max_drawdown", "must be in (0,1), got %g", r.MaxDrawdown)
	}
	if r.VaRConfidence <= 0 || r.VaRConfidence >= 1 {
		return domain.NewConfigError("risk.var_confidence", "must be in (0,1), got %g", r.VaRConfidence)
	}
	if r.DefensiveShift < 0 || r.DefensiveShift > 1 {
		return domain.NewConfigError("risk.defensive_shift", "must be in [0,1], got %g", r.DefensiveShift)
	}

	b := c.Backtest
	if b.InitialCapital <= 0 {
		return domain.NewConfigError("backtest.initial_capital", "must be positive, got %g", b.InitialCapital)
	}
	if b.WarmupDays < 0 {
		return domain.NewConfigError("backtest.warmup_days", "must be non-negative, got %d", b.WarmupDays)
	}
	if b.RebalanceEvery <= 0 {
		return domain.NewConfigError("backtest.rebalance_every", "must be positive, got %d", b.RebalanceEvery)
	}
	if b.LookbackDays < 2 {
		return domain.NewConfigError("backtest.lookback_days", "must be at least 2, got %d", b.LookbackDays)
	}
	if b.SignalToReturnScale < 0 {
		return domain.NewConfigError("backtest.signal_to_return_scale", "must be non-negative, got %g", b.SignalToReturnScale)
	}

	if err := c.Loan.Validate(); err != nil {
		return err
	}
	if err := c.Universe.Validate(); err != nil {
		return err
	}
	if float64(len(c.Universe))*o.MaxPosition < 1-domain.WeightTolerance {
		return domain.NewConfigError("optimizer.max_position", "%d assets capped at %g cannot be fully invested", len(c.Universe), o.MaxPosition)
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

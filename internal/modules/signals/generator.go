package signals

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/pkg/formulas"
)

// Component names a blendable signal
type Component string

const (
	ComponentMomentum      Component = "momentum"
	ComponentTrend         Component = "trend"
	ComponentMeanReversion Component = "mean_reversion"
)

// Regime selects the blend of signal components
type Regime string

const (
	RegimeAuto     Regime = "auto"
	RegimeLowVol   Regime = "low_vol"
	RegimeBalanced Regime = "balanced"
	RegimeHighVol  Regime = "high_vol"
)

// ParseRegime rejects anything but the known regime names.
func ParseRegime(name string) (Regime, error) {
	switch Regime(name) {
	case RegimeAuto, RegimeLowVol, RegimeBalanced, RegimeHighVol:
		return Regime(name), nil
	}
	return "", domain.NewConfigError("signals.regime", "unknown regime %q", name)
}

// PresetWeights returns the momentum/trend/mean-reversion mix of a regime.
// Auto and unknown regimes use the balanced mix.
func PresetWeights(r Regime) map[Component]float64 {
	switch r {
	case RegimeLowVol:
		return map[Component]float64{ComponentMomentum: 0.6, ComponentTrend: 0.2, ComponentMeanReversion: 0.2}
	case RegimeHighVol:
		return map[Component]float64{ComponentMomentum: 0.2, ComponentTrend: 0.2, ComponentMeanReversion: 0.6}
	default:
		return map[Component]float64{ComponentMomentum: 0.4, ComponentTrend: 0.3, ComponentMeanReversion: 0.3}
	}
}

const (
	regimeRecentDays   = 20
	highVolRatio       = 1.25
	lowVolRatio        = 0.8
	riskOffOverlay     = -0.5
	riskOffDampening   = 0.5
	componentCount     = 3
	defaultOverlayDays = 50
)

// DetectRegime compares the average per-asset volatility of the last 20
// returns with the whole window: above 1.25x is high_vol, below 0.8x is
// low_vol, anything else balanced.
func DetectRegime(window *domain.PriceSeries) Regime {
	rets := window.Returns()
	if len(rets) <= regimeRecentDays {
		return RegimeBalanced
	}

	n := len(window.Symbols())
	recent, full := 0.0, 0.0
	for j := 0; j < n; j++ {
		col := make([]float64, len(rets))
		for t := range rets {
			col[t] = rets[t][j]
		}
		recent += formulas.StdDev(col[len(col)-regimeRecentDays:])
		full += formulas.StdDev(col)
	}
	if full == 0 {
		return RegimeBalanced
	}

	ratio := recent / full
	switch {
	case ratio > highVolRatio:
		return RegimeHighVol
	case ratio < lowVolRatio:
		return RegimeLowVol
	default:
		return RegimeBalanced
	}
}

// Combine blends components with the given weights. Components are
// reindexed to symbols with missing entries treated as neutral; the result
// is clipped to [0,1].
func Combine(components map[Component]domain.SignalVector, weights map[Component]float64, symbols []string) (domain.SignalVector, error) {
	order := componentOrder(weights)
	total := 0.0
	for _, comp := range order {
		total += weights[comp]
	}
	if total <= 0 || !formulas.IsFinite(total) {
		return nil, &domain.InvalidWeightsError{Sum: total, Reason: "signal weights must sum to a positive number"}
	}

	out := make(domain.SignalVector, len(symbols))
	for _, sym := range symbols {
		acc := 0.0
		for _, comp := range order {
			w := weights[comp]
			score := Neutral
			if vec, ok := components[comp]; ok {
				if v, ok := vec[sym]; ok && formulas.IsFinite(v) {
					score = v
				}
			}
			acc += w * score
		}
		out[sym] = formulas.Clip(acc/total, 0, 1)
	}
	return out, nil
}

// componentOrder lists the weighted components in a fixed order: the built-in
// components first, then any others sorted by name.
func componentOrder(weights map[Component]float64) []Component {
	order := make([]Component, 0, len(weights))
	known := map[Component]bool{}
	for _, comp := range []Component{ComponentMomentum, ComponentTrend, ComponentMeanReversion} {
		known[comp] = true
		if _, ok := weights[comp]; ok {
			order = append(order, comp)
		}
	}
	var extra []Component
	for comp := range weights {
		if !known[comp] {
			extra = append(extra, comp)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...)
}

// Result is everything the generator computed for one window
type Result struct {
	Components map[Component]domain.SignalVector `json:"components"`
	Combined   domain.SignalVector               `json:"combined"`
	Regime     Regime                            `json:"regime"`
	Overlay    float64                           `json:"overlay"`
	Dampened   bool                              `json:"dampened"`
}

// Generator produces blended signals from a price window
type Generator struct {
	cfg     config.SignalsConfig
	regime  Regime
	weights map[Component]float64 // nil means use the regime preset
	log     zerolog.Logger
}

// NewGenerator validates the signal configuration once.
func NewGenerator(cfg config.SignalsConfig, log zerolog.Logger) (*Generator, error) {
	regime, err := ParseRegime(cfg.Regime)
	if err != nil {
		return nil, err
	}
	if cfg.VolOverlayWindow <= 0 {
		cfg.VolOverlayWindow = defaultOverlayDays
	}

	g := &Generator{
		cfg:    cfg,
		regime: regime,
		log:    log.With().Str("component", "signal_generator").Logger(),
	}
	if cfg.Weights != nil {
		if cfg.Weights.Sum() <= 0 {
			return nil, &domain.InvalidWeightsError{Sum: cfg.Weights.Sum(), Reason: "signal weights must sum to a positive number"}
		}
		g.weights = map[Component]float64{
			ComponentMomentum:      cfg.Weights.Momentum,
			ComponentTrend:         cfg.Weights.Trend,
			ComponentMeanReversion: cfg.Weights.MeanReversion,
		}
	}
	return g, nil
}

// History is the number of trailing rows every component needs to score
// from a full lookback: one more than the longest momentum window, so the
// long return spans the whole window, and at least the trend, mean-reversion
// and overlay windows.
func (g *Generator) History() int {
	rows := g.cfg.MomentumShortWindow + 1
	for _, w := range []int{g.cfg.MomentumLongWindow + 1, g.cfg.TrendWindow, g.cfg.MeanRevWindow, g.cfg.VolOverlayWindow} {
		if w > rows {
			rows = w
		}
	}
	return rows
}

// Generate computes every component on the window and blends them. When the
// window carries a reference index whose overlay is below -0.5 the combined
// signal is pulled halfway back towards neutral.
func (g *Generator) Generate(window *domain.PriceSeries) (Result, error) {
	regime := g.regime
	if regime == RegimeAuto {
		regime = DetectRegime(window)
	}

	components := make(map[Component]domain.SignalVector, componentCount)
	components[ComponentMomentum] = Momentum(window, g.cfg.MomentumShortWindow, g.cfg.MomentumLongWindow)
	components[ComponentTrend] = Trend(window, g.cfg.TrendWindow)
	components[ComponentMeanReversion] = MeanReversion(window, g.cfg.MeanRevWindow)

	weights := g.weights
	if weights == nil {
		weights = PresetWeights(regime)
	}

	combined, err := Combine(components, weights, window.Symbols())
	if err != nil {
		return Result{}, fmt.Errorf("failed to combine signals: %w", err)
	}

	res := Result{
		Components: components,
		Combined:   combined,
		Regime:     regime,
	}

	if index := window.Index(); index != nil {
		res.Overlay = VolatilityOverlay(index, g.cfg.VolOverlayWindow)
		if res.Overlay < riskOffOverlay {
			for sym, s := range combined {
				combined[sym] = Neutral + (s-Neutral)*riskOffDampening
			}
			res.Dampened = true
			g.log.Debug().Float64("overlay", res.Overlay).Msg("Risk-off overlay dampened signals")
		}
	}

	return res, nil
}

package marketdata

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/pkg/formulas"
)

// AssetParams drives one geometric Brownian motion path
type AssetParams struct {
	Symbol     string  `json:"symbol"`
	Start      float64 `json:"start"`
	Drift      float64 `json:"drift"`      // Annual
	Volatility float64 `json:"volatility"` // Annual
	DollarADV  float64 `json:"dollar_adv,omitempty"`
}

// ClassParams are the drift/volatility defaults per asset class.
var ClassParams = map[domain.AssetClass]AssetParams{
	domain.AssetClassEquity:             {Start: 200, Drift: 0.08, Volatility: 0.18, DollarADV: 5e9},
	domain.AssetClassBond:               {Start: 80, Drift: 0.04, Volatility: 0.06, DollarADV: 1e9},
	domain.AssetClassShortDuration:      {Start: 80, Drift: 0.025, Volatility: 0.02, DollarADV: 5e8},
	domain.AssetClassInflationProtected: {Start: 50, Drift: 0.015, Volatility: 0.02, DollarADV: 2e8},
	domain.AssetClassCash:               {Start: 90, Drift: 0.02, Volatility: 0.005, DollarADV: 5e8},
	domain.AssetClassCommodity:          {Start: 150, Drift: 0.05, Volatility: 0.15, DollarADV: 1e9},
}

// ParamsForUniverse builds GBM parameters from each asset's class.
func ParamsForUniverse(universe domain.Universe) []AssetParams {
	out := make([]AssetParams, 0, len(universe))
	for _, a := range universe {
		p := ClassParams[a.Class]
		p.Symbol = a.Symbol
		out = append(out, p)
	}
	return out
}

// Synthetic generates reproducible GBM prices over business days
type Synthetic struct {
	Seed   int64
	Start  time.Time
	Days   int
	Assets []AssetParams
	// Index adds a mean-reverting VIX-like series clipped to [10, 60].
	Index bool
}

// Generate draws the price paths. The same Synthetic always yields the same series.
func (s Synthetic) Generate() (*domain.PriceSeries, error) {
	if s.Days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", s.Days)
	}
	if len(s.Assets) == 0 {
		return nil, fmt.Errorf("no assets to generate")
	}

	rng := rand.New(rand.NewSource(s.Seed))
	dates := BusinessDays(s.Start, s.Days)
	dt := 1.0 / formulas.TradingDaysPerYear

	symbols := make([]string, len(s.Assets))
	prices := make(map[string][]float64, len(s.Assets))
	adv := make(map[string]float64)
	for i, a := range s.Assets {
		if a.Start <= 0 {
			return nil, fmt.Errorf("start price for %s must be positive", a.Symbol)
		}
		symbols[i] = a.Symbol
		drift := (a.Drift - 0.5*a.Volatility*a.Volatility) * dt
		shock := a.Volatility * math.Sqrt(dt)

		col := make([]float64, s.Days)
		logPrice := math.Log(a.Start)
		for d := range col {
			logPrice += drift + shock*rng.NormFloat64()
			col[d] = math.Exp(logPrice)
		}
		prices[a.Symbol] = col
		if a.DollarADV > 0 {
			adv[a.Symbol] = a.DollarADV
		}
	}

	series, err := domain.NewPriceSeries(dates, symbols, prices)
	if err != nil {
		return nil, err
	}
	if len(adv) > 0 {
		series = series.WithADV(adv)
	}
	if !s.Index {
		return series, nil
	}

	vix := make([]float64, s.Days)
	level := 20.0
	for d := range vix {
		level += 0.2 * rng.NormFloat64()
		level = formulas.Clip(level, 10, 60)
		vix[d] = level
	}
	return series.WithIndex(vix)
}

// BusinessDays returns n consecutive weekdays starting at start (rolled
// forward to Monday when it falls on a weekend).
func BusinessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for len(out) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			out = append(out, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return out
}

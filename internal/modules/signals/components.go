// Package signals turns a trailing price window into per-asset scores in [0,1].
package signals

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/aristath/alphashield/internal/domain"
	"github.com/aristath/alphashield/pkg/formulas"
)

// Neutral is the score of an asset with no usable information.
const Neutral = 0.5

const (
	momentumShortWeight = 0.6
	momentumLongWeight  = 0.4
	maxZScore           = 2.0
)

// Momentum ranks assets by 0.6*return(shortW) + 0.4*return(longW) and returns
// each asset's percentile rank. Every asset scores 0.5 when the window holds
// fewer than max(shortW,longW) prices, and when all blended returns tie, which
// includes a single-asset universe. A return whose window reaches past the
// first row is measured from the first row.
func Momentum(window *domain.PriceSeries, shortW, longW int) domain.SignalVector {
	symbols := window.Symbols()
	out := neutral(symbols)

	lookback := shortW
	if longW > lookback {
		lookback = longW
	}
	if lookback <= 0 || window.Len() < lookback || len(symbols) == 0 {
		return out
	}

	scores := make([]float64, len(symbols))
	for i, sym := range symbols {
		col := window.Column(sym)
		score := momentumShortWeight*periodReturn(col, shortW) + momentumLongWeight*periodReturn(col, longW)
		if !formulas.IsFinite(score) {
			score = 0
		}
		scores[i] = score
	}
	if allEqual(scores) {
		return out
	}

	ranks := formulas.PercentileRanks(scores)
	for i, sym := range symbols {
		out[sym] = ranks[i]
	}
	return out
}

// Trend scores 1 when the last price is above its w-period simple moving
// average and 0 otherwise; 0.5 with fewer than w prices.
func Trend(window *domain.PriceSeries, w int) domain.SignalVector {
	symbols := window.Symbols()
	out := neutral(symbols)
	if w <= 0 || window.Len() < w {
		return out
	}

	for _, sym := range symbols {
		col := window.Column(sym)
		if hasInvalid(col[len(col)-w:]) {
			continue
		}
		sma := talib.Sma(col, w)
		if col[len(col)-1] > sma[len(sma)-1] {
			out[sym] = 1.0
		} else {
			out[sym] = 0.0
		}
	}
	return out
}

// MeanReversion maps the z-score of the last price against the trailing w
// prices onto [0,1]: z=+2 scores 0 and z=-2 scores 1. Short history or zero
// variance scores 0.5.
func MeanReversion(window *domain.PriceSeries, w int) domain.SignalVector {
	symbols := window.Symbols()
	out := neutral(symbols)
	if w < 2 || window.Len() < w {
		return out
	}

	for _, sym := range symbols {
		col := window.Column(sym)
		tail := col[len(col)-w:]
		if hasInvalid(tail) {
			continue
		}
		sma := talib.Sma(col, w)
		mean := sma[len(sma)-1]
		std := formulas.StdDev(tail)
		if std == 0 || !formulas.IsFinite(std) {
			continue
		}
		z := formulas.Clip((col[len(col)-1]-mean)/std, -maxZScore, maxZScore)
		out[sym] = (maxZScore - z) / (2 * maxZScore)
	}
	return out
}

// VolatilityOverlay compares the last reference-index level with its
// w-period average: (MA - last) / MA, clipped to [-1,1]. Positive values
// mean calmer than usual. Returns 0 when history is short or the average is 0.
func VolatilityOverlay(index []float64, w int) float64 {
	if w <= 0 || len(index) < w || hasInvalid(index[len(index)-w:]) {
		return 0
	}
	sma := talib.Sma(index, w)
	ma := sma[len(sma)-1]
	if ma == 0 {
		return 0
	}
	return formulas.Clip((ma-index[len(index)-1])/ma, -1, 1)
}

func periodReturn(prices []float64, w int) float64 {
	if w <= 0 {
		return 0
	}
	first := len(prices) - 1 - w
	if first < 0 {
		first = 0
	}
	base := prices[first]
	if base <= 0 {
		return math.NaN()
	}
	return prices[len(prices)-1]/base - 1
}

func allEqual(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func neutral(symbols []string) domain.SignalVector {
	out := make(domain.SignalVector, len(symbols))
	for _, s := range symbols {
		out[s] = Neutral
	}
	return out
}

func hasInvalid(values []float64) bool {
	for _, v := range values {
		if !formulas.IsFinite(v) {
			return true
		}
	}
	return false
}

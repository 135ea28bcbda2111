// Package execution simulates rebalancing trades with spread slippage,
// flat commissions and ADV participation caps.
package execution

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	bpsToFraction = 1e-4
	minValue      = 1e-9
)

// Request describes one rebalance
type Request struct {
	Current        domain.Weights
	Target         domain.Weights
	Prices         map[string]float64
	ADV            map[string]float64 // Dollar ADV; missing symbols are uncapped
	PortfolioValue float64
}

// Simulator holds the cost model
type Simulator struct {
	defaultSpreadBps float64
	spreadBps        map[string]float64
	commission       float64
	advLimit         float64
	log              zerolog.Logger
}

// NewSimulator creates a simulator from the execution config.
func NewSimulator(cfg config.ExecutionConfig, log zerolog.Logger) *Simulator {
	return &Simulator{
		defaultSpreadBps: cfg.DefaultSpreadBps,
		spreadBps:        cfg.SpreadBps,
		commission:       cfg.CommissionPerTrade,
		advLimit:         cfg.ADVLimit,
		log:              log.With().Str("component", "execution").Logger(),
	}
}

func (s *Simulator) spread(symbol string) float64 {
	if bps, ok := s.spreadBps[symbol]; ok {
		return bps
	}
	return s.defaultSpreadBps
}

// Simulate trades from Current toward Target. Assets are visited in symbol
// order and each asset's costs are taken from the running portfolio value
// before its resulting weight is computed. Final weights are clipped to
// [0,1] and renormalized when their sum is positive; an all-zero result is
// returned as is (see ExecutionResult.Degenerate).
func (s *Simulator) Simulate(req Request) domain.ExecutionResult {
	universe := make(map[string]struct{}, len(req.Target)+len(req.Current))
	for sym := range req.Target {
		universe[sym] = struct{}{}
	}
	for sym := range req.Current {
		universe[sym] = struct{}{}
	}
	symbols := domain.SortedSymbols(universe)

	weights := make(domain.Weights, len(symbols))
	for _, sym := range symbols {
		weights[sym] = req.Current[sym]
	}

	value := req.PortfolioValue
	result := domain.ExecutionResult{}

	for _, sym := range symbols {
		desired := (req.Target[sym] - req.Current[sym]) * req.PortfolioValue
		if desired == 0 {
			continue
		}
		price, ok := req.Prices[sym]
		if !ok || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			s.log.Debug().Str("symbol", sym).Float64("price", price).Msg("Skipping trade without a usable price")
			continue
		}

		size := math.Abs(desired)
		capped := false
		if adv, ok := req.ADV[sym]; ok {
			if limit := s.advLimit * adv; size > limit {
				size = math.Max(limit, 0)
				capped = true
			}
		}
		executed := math.Copysign(size, desired)

		slippage := size * s.spread(sym) / 2 * bpsToFraction
		commission := 0.0
		if size > 0 {
			commission = s.commission
		}
		cost := slippage + commission
		result.TotalCost += cost

		after := value - cost
		weights[sym] = (req.Current[sym]*after + executed) / math.Max(after, minValue)
		value = after

		side := SideBuy
		if executed < 0 {
			side = SideSell
		}
		result.Trades = append(result.Trades, domain.Trade{
			Symbol:   sym,
			Side:     side,
			Notional: executed,
			Price:    price,
			Cost:     cost,
			Capped:   capped,
		})
	}

	for sym, w := range weights {
		weights[sym] = math.Max(0, math.Min(1, w))
	}
	if weights.Sum() > 0 {
		weights = weights.Normalize()
	}

	result.FinalWeights = weights
	result.FinalValue = value
	return result
}

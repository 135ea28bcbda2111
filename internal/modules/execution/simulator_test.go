package execution

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
)

func newSimulator(spread, commission, advLimit float64) *Simulator {
	return NewSimulator(config.ExecutionConfig{
		DefaultSpreadBps:   spread,
		CommissionPerTrade: commission,
		ADVLimit:           advLimit,
	}, zerolog.Nop())
}

var prices = map[string]float64{"A": 100, "B": 50, "C": 20}

func TestSimulate_RoundTripIsFree(t *testing.T) {
	w := domain.Weights{"A": 0.5, "B": 0.3, "C": 0.2}
	res := newSimulator(0, 0, 0.1).Simulate(Request{
		Current:        w,
		Target:         w.Clone(),
		Prices:         prices,
		PortfolioValue: 100000,
	})

	assert.Zero(t, res.TotalCost)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 100000.0, res.FinalValue)
	for sym, v := range w {
		assert.InDelta(t, v, res.FinalWeights[sym], 1e-12)
	}
}

func TestSimulate_SpreadAndCommission(t *testing.T) {
	res := newSimulator(10, 1, 0.1).Simulate(Request{
		Current:        domain.Weights{"A": 1},
		Target:         domain.Weights{"A": 0.5, "B": 0.5},
		Prices:         prices,
		PortfolioValue: 100000,
	})

	require.Len(t, res.Trades, 2)
	// Each leg trades 50000 at 5 bps plus a 1.0 commission.
	assert.InDelta(t, 2*(50000*5e-4+1), res.TotalCost, 1e-9)
	assert.InDelta(t, 100000-res.TotalCost, res.FinalValue, 1e-9)
	assert.Equal(t, SideSell, res.Trades[0].Side)
	assert.Equal(t, "A", res.Trades[0].Symbol)
	assert.Equal(t, SideBuy, res.Trades[1].Side)
	assert.InDelta(t, 1.0, res.FinalWeights.Sum(), 1e-12)
}

func TestSimulate_PerSymbolSpread(t *testing.T) {
	sim := NewSimulator(config.ExecutionConfig{
		DefaultSpreadBps: 1,
		SpreadBps:        map[string]float64{"B": 20},
		ADVLimit:         0.1,
	}, zerolog.Nop())
	res := sim.Simulate(Request{
		Current:        domain.Weights{"A": 0.5, "B": 0.5},
		Target:         domain.Weights{"A": 0.4, "B": 0.6},
		Prices:         prices,
		PortfolioValue: 100000,
	})
	assert.InDelta(t, 10000*0.5e-4, res.Trades[0].Cost, 1e-12)
	assert.InDelta(t, 10000*10e-4, res.Trades[1].Cost, 1e-12)
}

func TestSimulate_ADVCap(t *testing.T) {
	res := newSimulator(0, 0, 0.1).Simulate(Request{
		Current:        domain.Weights{"A": 1},
		Target:         domain.Weights{"A": 0, "B": 1},
		Prices:         prices,
		ADV:            map[string]float64{"B": 100000},
		PortfolioValue: 100000,
	})

	require.Len(t, res.Trades, 2)
	buy := res.Trades[1]
	assert.Equal(t, "B", buy.Symbol)
	assert.True(t, buy.Capped)
	assert.InDelta(t, 10000, buy.Notional, 1e-9)
	assert.False(t, res.Trades[0].Capped)
}

func TestSimulate_SkipsUnpricedAssets(t *testing.T) {
	res := newSimulator(1, 0, 0.1).Simulate(Request{
		Current:        domain.Weights{"A": 0.5, "X": 0.5},
		Target:         domain.Weights{"A": 0.5, "X": 0, "C": 0.5},
		Prices:         map[string]float64{"A": 100, "X": 0, "C": 20},
		PortfolioValue: 1000,
	})
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "C", res.Trades[0].Symbol)
}

func TestSimulate_DegenerateFill(t *testing.T) {
	res := newSimulator(0, 0, 0.1).Simulate(Request{
		Current:        domain.Weights{},
		Target:         domain.Weights{"A": 1},
		Prices:         map[string]float64{},
		PortfolioValue: 1000,
	})
	assert.True(t, res.Degenerate())
	assert.Zero(t, res.FinalWeights.Sum())
}

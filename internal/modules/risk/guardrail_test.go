package risk

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/config"
	"github.com/aristath/alphashield/internal/domain"
)

func newGuardrail() *Guardrail {
	cfg := config.DefaultEngineConfig()
	return NewGuardrail(cfg.Coverage, cfg.Risk, zerolog.Nop())
}

func testUniverse() domain.Universe {
	return domain.Universe{
		{Symbol: "SPY", Class: domain.AssetClassEquity},
		{Symbol: "QQQ", Class: domain.AssetClassEquity},
		{Symbol: "TLT", Class: domain.AssetClassBond},
		{Symbol: "AGG", Class: domain.AssetClassBond},
		{Symbol: "SHY", Class: domain.AssetClassShortDuration},
		{Symbol: "BIL", Class: domain.AssetClassCash},
	}
}

func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, domain.CoverageEmergency, th.Classify(1.19))
	assert.Equal(t, domain.CoverageDefensive, th.Classify(1.2))
	assert.Equal(t, domain.CoverageDefensive, th.Classify(1.29))
	assert.Equal(t, domain.CoverageNormal, th.Classify(1.3))
	assert.Equal(t, domain.CoverageNormal, th.Classify(math.Inf(1)))
	assert.Equal(t, domain.CoverageEmergency, th.Classify(math.NaN()))
}

func TestGuardrail_Evaluate(t *testing.T) {
	g := newGuardrail()

	d := g.Evaluate(2.0, 0.05)
	assert.Equal(t, ActionNormal, d.Action)
	assert.False(t, d.Overrides())

	d = g.Evaluate(1.25, 0.05)
	assert.Equal(t, ActionDefensive, d.Action)
	assert.Equal(t, domain.CoverageDefensive, d.Status)

	d = g.Evaluate(1.1, 0.0)
	assert.Equal(t, ActionEmergency, d.Action)
	assert.NotEmpty(t, d.Alert)

	// Drawdown alone triggers emergency even with healthy coverage.
	d = g.Evaluate(5.0, 0.16)
	assert.Equal(t, domain.CoverageEmergency, d.Status)
}

func TestGuardrail_MonotoneInCoverage(t *testing.T) {
	g := newGuardrail()
	rank := map[domain.CoverageStatus]int{
		domain.CoverageNormal:    0,
		domain.CoverageDefensive: 1,
		domain.CoverageEmergency: 2,
	}
	for _, dd := range []float64{0, 0.1, 0.2} {
		prev := -1
		for cr := 3.0; cr >= 0; cr -= 0.01 {
			r := rank[g.Evaluate(cr, dd).Status]
			assert.GreaterOrEqual(t, r, prev, "cr=%.2f dd=%.2f", cr, dd)
			prev = r
		}
	}
}

func TestGuardrail_ApplyEmergencyUsesTemplate(t *testing.T) {
	g := newGuardrail()
	proposed := domain.Weights{"SPY": 0.5, "QQQ": 0.5}

	w := g.Apply(g.Evaluate(1.0, 0), proposed, testUniverse())
	require.NoError(t, w.Validate())
	assert.InDelta(t, 0.25, w["TLT"], 1e-12)
	assert.InDelta(t, 0.25, w["AGG"], 1e-12)
	assert.InDelta(t, 0.30, w["SHY"], 1e-12)
	assert.InDelta(t, 0.20, w["BIL"], 1e-12)
	assert.Zero(t, w["SPY"])
}

func TestGuardrail_ApplyDefensiveShiftsEquity(t *testing.T) {
	g := newGuardrail()
	proposed := domain.Weights{"SPY": 0.4, "QQQ": 0.4, "TLT": 0.1, "AGG": 0.1}

	w := g.Apply(g.Evaluate(1.25, 0), proposed, testUniverse())
	require.NoError(t, w.Validate())
	assert.InDelta(t, 0.32, w["SPY"], 1e-12)
	assert.InDelta(t, 0.32, w["QQQ"], 1e-12)
	assert.InDelta(t, 0.18, w["TLT"], 1e-12)
	assert.InDelta(t, 0.18, w["AGG"], 1e-12)
}

func TestGuardrail_ApplyNormalKeepsProposal(t *testing.T) {
	g := newGuardrail()
	proposed := domain.Weights{"SPY": 0.6, "TLT": 0.4}
	w := g.Apply(g.Evaluate(2, 0), proposed, testUniverse())
	assert.Equal(t, proposed, w)

	w["SPY"] = 0
	assert.Equal(t, 0.6, proposed["SPY"])
}

func TestShiftEquityToBonds_FallsBackToShortDurationThenUnchanged(t *testing.T) {
	u := domain.Universe{
		{Symbol: "SPY", Class: domain.AssetClassEquity},
		{Symbol: "SHY", Class: domain.AssetClassShortDuration},
	}
	w := ShiftEquityToBonds(domain.Weights{"SPY": 1}, u, 0.2)
	assert.InDelta(t, 0.8, w["SPY"], 1e-12)
	assert.InDelta(t, 0.2, w["SHY"], 1e-12)

	only := domain.Universe{{Symbol: "SPY", Class: domain.AssetClassEquity}}
	assert.Equal(t, domain.Weights{"SPY": 1}, ShiftEquityToBonds(domain.Weights{"SPY": 1}, only, 0.2))
}

package marketdata

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/alphashield/internal/config"
)

func TestLoadCSV(t *testing.T) {
	data := `date,SPY,^VIX,TLT
2024-01-02,470.1,13.2,98.5
2024-01-03,468.8,14.0,
2024-01-04,467.3,14.1,97.9
`
	series, err := LoadCSV(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 3, series.Len())
	assert.Equal(t, []string{"SPY", "TLT"}, series.Symbols())
	assert.Equal(t, []float64{13.2, 14.0, 14.1}, series.Index())
	assert.Equal(t, 468.8, series.Column("SPY")[1])
	assert.True(t, math.IsNaN(series.Column("TLT")[1]))
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), series.Date(2))
}

func TestLoadCSV_VolumeColumnsSetADV(t *testing.T) {
	data := `date,SPY,SPY:volume,TLT
2024-01-02,100,60000,98.5
2024-01-03,100,50000,98.1
2024-01-04,100,40000,97.9
`
	series, err := LoadCSV(strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"SPY", "TLT"}, series.Symbols())
	assert.Equal(t, []float64{98.5, 98.1, 97.9}, series.Column("TLT"))
	adv := series.ADV()
	assert.InDelta(t, 5_000_000, adv["SPY"], 1e-6)
	assert.NotContains(t, adv, "TLT")

	_, err = LoadCSV(strings.NewReader("date,SPY,QQQ:volume\n2024-01-02,1,100\n"))
	assert.Error(t, err)
}

func TestLoadCSV_Errors(t *testing.T) {
	tests := map[string]string{
		"bad header":      "when,SPY\n2024-01-02,1\n",
		"bad date":        "date,SPY\n02/01/2024,1\n",
		"bad number":      "date,SPY\n2024-01-02,abc\n",
		"unordered dates": "date,SPY\n2024-01-03,1\n2024-01-02,1\n",
		"empty":           "",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCSV(strings.NewReader(data))
			assert.Error(t, err)
		})
	}
}

func TestBusinessDays(t *testing.T) {
	// 2024-01-06 is a Saturday.
	days := BusinessDays(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), 6)
	require.Len(t, days, 6)
	assert.Equal(t, time.Monday, days[0].Weekday())
	for _, d := range days {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
	}
	assert.Equal(t, time.Monday, days[5].Weekday())
}

func TestSynthetic_Reproducible(t *testing.T) {
	gen := Synthetic{
		Seed:   7,
		Start:  time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:   300,
		Assets: ParamsForUniverse(config.DefaultUniverse()),
		Index:  true,
	}
	a, err := gen.Generate()
	require.NoError(t, err)
	b, err := gen.Generate()
	require.NoError(t, err)

	assert.Equal(t, a.Column("SPY"), b.Column("SPY"))
	assert.Equal(t, a.Index(), b.Index())
	assert.Len(t, a.Symbols(), len(config.DefaultUniverse()))
	for _, sym := range a.Symbols() {
		for _, p := range a.Column(sym) {
			assert.Greater(t, p, 0.0)
		}
	}
	for _, v := range a.Index() {
		assert.GreaterOrEqual(t, v, 10.0)
		assert.LessOrEqual(t, v, 60.0)
	}
	assert.Equal(t, 5e9, a.ADV()["SPY"])

	gen.Seed = 8
	c, err := gen.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, a.Column("SPY"), c.Column("SPY"))
}

func TestSynthetic_Invalid(t *testing.T) {
	_, err := Synthetic{Days: 0, Assets: []AssetParams{{Symbol: "A", Start: 1}}}.Generate()
	assert.Error(t, err)
	_, err = Synthetic{Days: 10}.Generate()
	assert.Error(t, err)
	_, err = Synthetic{Days: 10, Assets: []AssetParams{{Symbol: "A"}}}.Generate()
	assert.Error(t, err)
}

func TestSource_Load(t *testing.T) {
	ps, err := Source{Universe: config.DefaultUniverse(), Days: 50, Seed: 3}.Load()
	require.NoError(t, err)
	assert.Equal(t, 50, ps.Len())
	assert.Equal(t, time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC), ps.Date(0))

	_, err = Source{CSVPath: "/does/not/exist.csv"}.Load()
	assert.Error(t, err)
}

package signals

import (
	"context"
	"testing"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
	testingutil "github.com/aristath/maestro/internal/testing"
	"github.com/aristath/maestro/pkg/formulas"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var thresholds = config.SignalThresholds{StrongBuy: 60, Buy: 20, Hold: -20, Sell: -60}

func ptr(v float64) *float64 { return &v }

func TestEngine_Label(t *testing.T) {
	e := NewEngine(thresholds, config.SectorIndices{}, zerolog.Nop())

	tests := []struct {
		composite float64
		want      domain.SignalLabel
	}{
		{75, domain.SignalStrongBuy},
		{60, domain.SignalStrongBuy},
		{59.9, domain.SignalBuy},
		{20, domain.SignalBuy},
		{0, domain.SignalHold},
		{-20, domain.SignalHold},
		{-20.1, domain.SignalSell},
		{-60, domain.SignalSell},
		{-60.1, domain.SignalStrongSell},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Label(tt.composite), "composite %v", tt.composite)
	}
}

func TestScoreTrend(t *testing.T) {
	tests := []struct {
		name string
		r    readings
		want float64
	}{
		{"above 200 dma", readings{close: 110, sma200: ptr(100)}, 30},
		{"below 200 dma", readings{close: 90, sma200: ptr(100)}, -30},
		{"golden cross with strong adx", readings{close: 110, sma200: ptr(100), dmaCross: formulas.CrossAbove, adx: ptr(35)}, 90},
		{"death cross with strong adx", readings{close: 90, sma200: ptr(100), dmaCross: formulas.CrossBelow, adx: ptr(35)}, -90},
		{"weak adx halves", readings{close: 110, sma200: ptr(100), adx: ptr(10)}, 15},
		{"no long average", readings{close: 110}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreTrend(tt.r))
		})
	}
}

func TestScoreMomentum(t *testing.T) {
	tests := []struct {
		name string
		r    readings
		want float64
	}{
		{"oversold everything", readings{rsi: ptr(25), stochRSI: ptr(10), macdCross: formulas.CrossAbove}, 100},
		{"overbought", readings{rsi: ptr(75), stochRSI: ptr(90)}, -65},
		{"leaning low", readings{rsi: ptr(40)}, 15},
		{"leaning high with bearish macd", readings{rsi: ptr(60), macdCross: formulas.CrossBelow}, -50},
		{"neutral", readings{rsi: ptr(50), stochRSI: ptr(50)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreMomentum(tt.r))
		})
	}
}

func TestScoreVolume(t *testing.T) {
	assert.Equal(t, 60.0, scoreVolume(readings{volumeRatio: ptr(2), obvTrend: 1}))
	assert.Equal(t, -40.0, scoreVolume(readings{volumeRatio: ptr(1.5), obvTrend: -1}))
	assert.Equal(t, 25.0, scoreVolume(readings{volumeRatio: ptr(1), obvTrend: 1}))
	assert.Equal(t, -25.0, scoreVolume(readings{obvTrend: -1}))
	assert.Equal(t, 0.0, scoreVolume(readings{}))
}

func TestScoreVolatilityAndRelativeStrength(t *testing.T) {
	assert.Equal(t, 40.0, scoreVolatility(readings{bbPosition: ptr(0)}))
	assert.Equal(t, -40.0, scoreVolatility(readings{bbPosition: ptr(1)}))
	assert.Equal(t, 0.0, scoreVolatility(readings{bbPosition: ptr(0.5)}))
	assert.Equal(t, 0.0, scoreVolatility(readings{}))

	assert.Equal(t, 40.0, scoreRelativeStrength(readings{rangePos: &formulas.RangePosition{PctFromHigh: -2, PctFromLow: 40}}))
	assert.Equal(t, -50.0, scoreRelativeStrength(readings{rangePos: &formulas.RangePosition{PctFromHigh: -45, PctFromLow: 3}}))
	assert.Equal(t, 0.0, scoreRelativeStrength(readings{rangePos: &formulas.RangePosition{PctFromHigh: -15, PctFromLow: 20}}))
}

func TestEngine_ScoreTrendingSeries(t *testing.T) {
	e := NewEngine(thresholds, config.SectorIndices{}, zerolog.Nop())

	up := e.Score(testingutil.NewTrendingSeries("NSE:UP", 260, 100, 0.5))
	down := e.Score(testingutil.NewTrendingSeries("NSE:DOWN", 260, 300, -0.5))

	require.True(t, up.Sufficient)
	require.True(t, down.Sufficient)
	assert.Greater(t, up.Indicators["trend_score"], 0.0)
	assert.Less(t, down.Indicators["trend_score"], 0.0)
	assert.Equal(t, 40.0, up.Indicators["relative_strength_score"])
	assert.Equal(t, -50.0, down.Indicators["relative_strength_score"])
	assert.Equal(t, 1.0, up.Indicators["obv_trend"])
	assert.Equal(t, -1.0, down.Indicators["obv_trend"])
	assert.Equal(t, e.Label(up.Composite), up.Signal)

	for _, key := range []string{"rsi_14", "sma_50", "sma_200", "adx", "atr", "bb_position", "macd_line", "pct_from_52w_high"} {
		assert.Contains(t, up.Indicators, key)
	}
}

func TestEngine_InsufficientHistory(t *testing.T) {
	e := NewEngine(thresholds, config.SectorIndices{}, zerolog.Nop())
	score := e.Score(testingutil.NewTrendingSeries("NSE:NEW", 30, 100, 1))

	assert.False(t, score.Sufficient)
	assert.Equal(t, domain.SignalHold, score.Signal)
	assert.Equal(t, 0.0, score.Composite)
}

func TestEngine_Execute(t *testing.T) {
	e := NewEngine(thresholds, config.SectorIndices{}, zerolog.Nop())
	series := map[string]domain.MarketSeries{
		"NSE:TCS":  testingutil.NewTrendingSeries("NSE:TCS", 220, 100, 0.3),
		"NSE:NEW":  testingutil.NewTrendingSeries("NSE:NEW", 10, 100, 0.3),
		"NSE:GONE": domain.UnavailableSeries("NSE:GONE", "not found"),
	}

	out, err := e.Execute(context.Background(), series)
	require.NoError(t, err)
	assert.Len(t, out, 2, "one score per available series")
	assert.NotContains(t, out, "NSE:GONE")
	assert.Equal(t, "NSE:TCS", out["NSE:TCS"].Code)

	again, err := e.Execute(context.Background(), series)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestEngine_ExecuteAttachesSectorStrength(t *testing.T) {
	indices := config.SectorIndices{
		Benchmark: "INDEX:^NSEI",
		Sectors: map[string]string{
			"BANKING": "INDEX:^NSEBANK",
			"IT":      "INDEX:^CNXIT",
			"PHARMA":  "INDEX:^CNXPHARMA",
		},
	}
	e := NewEngine(thresholds, indices, zerolog.Nop())
	series := map[string]domain.MarketSeries{
		"INDEX:^NSEI":      testingutil.NewTrendingSeries("INDEX:^NSEI", 260, 100, 0.2),
		"INDEX:^NSEBANK":   testingutil.NewTrendingSeries("INDEX:^NSEBANK", 260, 100, 1.0),
		"INDEX:^CNXIT":     testingutil.NewTrendingSeries("INDEX:^CNXIT", 260, 200, -0.2),
		"INDEX:^CNXPHARMA": domain.UnavailableSeries("INDEX:^CNXPHARMA", "not found"),
		"NSE:HDFCBANK":     testingutil.NewTrendingSeries("NSE:HDFCBANK", 260, 100, 0.5),
	}

	out, err := e.Execute(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, out, 4)

	banking := out["INDEX:^NSEBANK"].Sector
	require.NotNil(t, banking)
	assert.Equal(t, "BANKING", banking.Sector)
	assert.Greater(t, banking.RS1M, 0.0)
	assert.Greater(t, banking.RS3M, 0.0)
	assert.True(t, banking.Outperforming())

	it := out["INDEX:^CNXIT"].Sector
	require.NotNil(t, it)
	assert.Less(t, it.RS1M, 0.0)
	assert.False(t, it.Outperforming())

	assert.Nil(t, out["INDEX:^NSEI"].Sector)
	assert.Nil(t, out["NSE:HDFCBANK"].Sector)
}

func TestEngine_ExecuteWithoutBenchmark(t *testing.T) {
	indices := config.SectorIndices{Benchmark: "INDEX:^NSEI", Sectors: map[string]string{"BANKING": "INDEX:^NSEBANK"}}
	e := NewEngine(thresholds, indices, zerolog.Nop())
	series := map[string]domain.MarketSeries{
		"INDEX:^NSEI":    domain.UnavailableSeries("INDEX:^NSEI", "not found"),
		"INDEX:^NSEBANK": testingutil.NewTrendingSeries("INDEX:^NSEBANK", 260, 100, 1.0),
	}

	out, err := e.Execute(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Nil(t, out["INDEX:^NSEBANK"].Sector)
}

func TestPeriodReturn(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 110}
	assert.InDelta(t, 10.0, PeriodReturn(closes, 5), 1e-9)
	assert.InDelta(t, 5.769, PeriodReturn(closes, 1), 1e-3)
	assert.Equal(t, 0.0, PeriodReturn(closes, 6), "history too short")

	rs := RelativeStrength("IT", closes, []float64{100, 100, 100, 100, 100, 104})
	assert.Equal(t, 6.0, rs.RS1W)
	assert.Equal(t, 0.0, rs.RS1M)
}

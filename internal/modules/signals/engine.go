// Package signals implements the score stage: a composite technical score
// for every available market series.
//
// The composite is a weighted sum of five components, each capped to
// [-100, 100]: trend, momentum, volume, volatility and relative strength.
// Scoring is a pure function of the bars, so the stage is idempotent.
//
// When sector indices are configured, the score of each sector index series
// also carries the sector's relative strength against the benchmark.
package signals

import (
	"context"

	"github.com/aristath/maestro/internal/config"
	"github.com/aristath/maestro/internal/domain"
	"github.com/rs/zerolog"
)

// Engine is the Signals stage adapter
type Engine struct {
	thresholds config.SignalThresholds
	indices    config.SectorIndices
	log        zerolog.Logger
}

// NewEngine creates a scoring engine labelling composites with thresholds
func NewEngine(thresholds config.SignalThresholds, indices config.SectorIndices, log zerolog.Logger) *Engine {
	return &Engine{
		thresholds: thresholds,
		indices:    indices,
		log:        log.With().Str("service", "signals").Logger(),
	}
}

// Execute scores every available series. Unavailable markers get no score.
func (e *Engine) Execute(ctx context.Context, series map[string]domain.MarketSeries) (map[string]domain.SignalScore, error) {
	out := make(map[string]domain.SignalScore, len(series))
	insufficient := 0
	for code, s := range series {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.Available {
			continue
		}
		score := e.Score(s)
		if !score.Sufficient {
			insufficient++
		}
		out[code] = score
	}
	sectors := e.attachSectorStrength(series, out)

	e.log.Info().
		Int("scored", len(out)).
		Int("insufficient", insufficient).
		Int("sectors", sectors).
		Msg("Signals computed")
	return out, nil
}

// Score computes the composite score of one series. Fewer than
// MinBarsForSignal bars yield a neutral HOLD marked insufficient.
func (e *Engine) Score(s domain.MarketSeries) domain.SignalScore {
	if len(s.Bars) < MinBarsForSignal {
		return domain.SignalScore{
			Code:       s.Code,
			Signal:     domain.SignalHold,
			Indicators: map[string]float64{"bars": float64(len(s.Bars))},
		}
	}

	closes := make([]float64, len(s.Bars))
	high := make([]float64, len(s.Bars))
	low := make([]float64, len(s.Bars))
	volume := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i], high[i], low[i], volume[i] = b.Close, b.High, b.Low, b.Volume
	}

	r := compute(closes, high, low, volume)
	trend := scoreTrend(r)
	momentum := scoreMomentum(r)
	vol := scoreVolume(r)
	volatility := scoreVolatility(r)
	rs := scoreRelativeStrength(r)

	composite := round1(trend*WeightTrend +
		momentum*WeightMomentum +
		vol*WeightVolume +
		volatility*WeightVolatility +
		rs*WeightRelativeStrength)

	indicators := map[string]float64{
		"bars":                    float64(len(s.Bars)),
		"trend_score":             trend,
		"momentum_score":          momentum,
		"volume_score":            vol,
		"volatility_score":        volatility,
		"relative_strength_score": rs,
		"macd_cross":              float64(r.macdCross),
		"dma_cross":               float64(r.dmaCross),
		"obv_trend":               float64(r.obvTrend),
	}
	setIf(indicators, "rsi_14", r.rsi)
	setIf(indicators, "stoch_rsi", r.stochRSI)
	setIf(indicators, "adx", r.adx)
	setIf(indicators, "atr", r.atr)
	setIf(indicators, "sma_50", r.sma50)
	setIf(indicators, "sma_200", r.sma200)
	setIf(indicators, "bb_position", r.bbPosition)
	setIf(indicators, "volume_ratio", r.volumeRatio)
	if r.macd != nil {
		n := len(r.macd.Line) - 1
		indicators["macd_line"] = r.macd.Line[n]
		indicators["macd_signal"] = r.macd.Signal[n]
		indicators["macd_histogram"] = r.macd.Histogram[n]
	}
	if r.rangePos != nil {
		indicators["pct_from_52w_high"] = r.rangePos.PctFromHigh
		indicators["pct_from_52w_low"] = r.rangePos.PctFromLow
	}

	return domain.SignalScore{
		Code:       s.Code,
		Composite:  composite,
		Signal:     e.Label(composite),
		Indicators: indicators,
		Sufficient: true,
	}
}

// Label maps a composite score onto a signal using the configured thresholds
func (e *Engine) Label(composite float64) domain.SignalLabel {
	t := e.thresholds
	switch {
	case composite >= t.StrongBuy:
		return domain.SignalStrongBuy
	case composite >= t.Buy:
		return domain.SignalBuy
	case composite >= t.Hold:
		return domain.SignalHold
	case composite >= t.Sell:
		return domain.SignalSell
	}
	return domain.SignalStrongSell
}

func setIf(m map[string]float64, key string, v *float64) {
	if v != nil {
		m[key] = *v
	}
}

package signals

import (
	"math"

	"github.com/aristath/maestro/pkg/formulas"
)

// readings holds the last-bar indicator values a series produced. Nil
// pointers mean not enough history for that indicator.
type readings struct {
	rsi         *float64
	stochRSI    *float64
	adx         *float64
	atr         *float64
	sma50       *float64
	sma200      *float64
	bbPosition  *float64
	volumeRatio *float64
	macd        *formulas.MACD
	rangePos    *formulas.RangePosition
	close       float64
	macdCross   formulas.Cross
	dmaCross    formulas.Cross
	obvTrend    int
}

func compute(closes, high, low, volume []float64) readings {
	r := readings{
		close:       closes[len(closes)-1],
		rsi:         formulas.CalculateRSI(closes, RSILength),
		stochRSI:    formulas.CalculateStochRSI(closes, StochRSILength),
		adx:         formulas.CalculateADX(high, low, closes, ADXLength),
		atr:         formulas.CalculateATR(high, low, closes, ATRLength),
		sma50:       formulas.CalculateSMA(closes, SMAShort),
		sma200:      formulas.CalculateSMA(closes, SMALong),
		bbPosition:  formulas.CalculateBollingerPosition(closes, BollingerLength, BollingerStd),
		volumeRatio: formulas.VolumeRatio(volume, VolumeAvgPeriod),
		macd:        formulas.CalculateMACD(closes, MACDFast, MACDSlow, MACDSignal),
		rangePos:    formulas.CalculateRangePosition(high, low, closes, RangeWindow),
		obvTrend:    formulas.OBVTrend(closes, volume, OBVTrendLength),
	}
	if r.macd != nil {
		r.macdCross = formulas.Crossover(r.macd.Line, r.macd.Signal)
	}
	// The previous bar needs a full long window too
	if len(closes) > SMALong {
		r.dmaCross = formulas.Crossover(formulas.SMA(closes, SMAShort), formulas.SMA(closes, SMALong))
	}
	return r
}

// scoreTrend: price versus the 200-day SMA, golden or death cross, scaled by ADX
func scoreTrend(r readings) float64 {
	trend := 0.0
	if r.sma200 != nil {
		if r.close > *r.sma200 {
			trend += 30
		} else {
			trend -= 30
		}
	}

	switch r.dmaCross {
	case formulas.CrossAbove:
		trend += 40
	case formulas.CrossBelow:
		trend -= 40
	}

	if r.adx != nil {
		switch {
		case *r.adx > ADXStrongTrend && trend > 0:
			trend += 20
		case *r.adx > ADXStrongTrend && trend < 0:
			trend -= 20
		case *r.adx < ADXWeakTrend:
			trend *= 0.5
		}
	}
	return capComponent(trend)
}

// scoreMomentum: RSI zones, MACD crossover and Stochastic RSI extremes
func scoreMomentum(r readings) float64 {
	momentum := 0.0
	if r.rsi != nil {
		switch rsi := *r.rsi; {
		case rsi < RSIOversold:
			momentum += 40
		case rsi > RSIOverbought:
			momentum -= 40
		case rsi < RSILeanLow:
			momentum += 15
		case rsi > RSILeanHigh:
			momentum -= 15
		}
	}

	switch r.macdCross {
	case formulas.CrossAbove:
		momentum += 35
	case formulas.CrossBelow:
		momentum -= 35
	}

	if r.stochRSI != nil {
		switch {
		case *r.stochRSI < StochRSIOversold:
			momentum += 25
		case *r.stochRSI > StochRSIOverbought:
			momentum -= 25
		}
	}
	return capComponent(momentum)
}

// scoreVolume: heavy volume confirms the OBV direction
func scoreVolume(r readings) float64 {
	heavy := r.volumeRatio != nil && *r.volumeRatio > VolumeHighRatio
	switch {
	case heavy && r.obvTrend > 0:
		return 60
	case heavy && r.obvTrend < 0:
		return -40 // distribution
	case r.obvTrend > 0:
		return 25
	case r.obvTrend < 0:
		return -25
	}
	return 0
}

// scoreVolatility: a close at or beyond a Bollinger band
func scoreVolatility(r readings) float64 {
	if r.bbPosition == nil {
		return 0
	}
	switch {
	case *r.bbPosition <= 0:
		return 40
	case *r.bbPosition >= 1:
		return -40
	}
	return 0
}

// scoreRelativeStrength: distance from the 52-week high and low
func scoreRelativeStrength(r readings) float64 {
	if r.rangePos == nil {
		return 0
	}
	rs := 0.0
	switch {
	case r.rangePos.PctFromHigh > NearHighPct:
		rs += 40
	case r.rangePos.PctFromHigh < FarHighPct:
		rs -= 30
	}
	if r.rangePos.PctFromLow < NearLowPct {
		rs -= 20
	}
	return capComponent(rs)
}

func capComponent(v float64) float64 {
	return math.Max(-ComponentCap, math.Min(ComponentCap, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

package formulas

import (
	"github.com/markcheno/go-talib"
)

// SMA returns the simple moving average series, or nil if there are fewer
// than length values.
func SMA(values []float64, length int) []float64 {
	if length <= 0 || len(values) < length {
		return nil
	}
	return talib.Sma(values, length)
}

// CalculateSMA returns the current simple moving average
func CalculateSMA(values []float64, length int) *float64 {
	return last(SMA(values, length))
}

// CalculateEMA returns the current exponential moving average
//
// EMA Formula:
//
//	EMA_today = (Price_today × multiplier) + (EMA_yesterday × (1 - multiplier))
//	where multiplier = 2 / (period + 1)
func CalculateEMA(closes []float64, length int) *float64 {
	if length <= 0 || len(closes) < length {
		return nil
	}
	return last(talib.Ema(closes, length))
}

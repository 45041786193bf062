package formulas

import (
	"github.com/markcheno/go-talib"
)

// RSI returns the Relative Strength Index series (Wilder smoothing), or nil
// if there are not enough closes.
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
func RSI(closes []float64, length int) []float64 {
	if length < 2 || len(closes) < length+1 {
		return nil
	}
	return talib.Rsi(closes, length)
}

// CalculateRSI returns the current RSI value (0-100)
func CalculateRSI(closes []float64, length int) *float64 {
	return last(RSI(closes, length))
}

// CalculateStochRSI returns the current Stochastic RSI %K (0-100): where the
// latest RSI sits within its range over the last length RSI values.
func CalculateStochRSI(closes []float64, length int) *float64 {
	if len(closes) < 2*length+1 {
		return nil
	}
	fastK, _ := talib.StochRsi(closes, length, length, 3, 0)
	return last(fastK)
}

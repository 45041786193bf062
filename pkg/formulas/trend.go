package formulas

import (
	"github.com/markcheno/go-talib"
)

// CalculateADX returns the current Average Directional Index (trend strength,
// 0-100). Needs at least 2×length bars.
func CalculateADX(high, low, close []float64, length int) *float64 {
	if !sameLength(high, low, close) || len(close) < 2*length+1 {
		return nil
	}
	return last(talib.Adx(high, low, close, length))
}

// CalculateATR returns the current Average True Range
func CalculateATR(high, low, close []float64, length int) *float64 {
	if !sameLength(high, low, close) || len(close) < length+1 {
		return nil
	}
	return last(talib.Atr(high, low, close, length))
}

// OBV returns the On-Balance Volume series
func OBV(closes, volumes []float64) []float64 {
	if len(closes) < 2 || len(closes) != len(volumes) {
		return nil
	}
	return talib.Obv(closes, volumes)
}

// OBVTrend compares the current OBV with its length-bar SMA: 1 rising,
// -1 falling, 0 flat or not enough data.
func OBVTrend(closes, volumes []float64, length int) int {
	obv := OBV(closes, volumes)
	avg := CalculateSMA(obv, length)
	if obv == nil || avg == nil {
		return 0
	}
	current := obv[len(obv)-1]
	switch {
	case current > *avg:
		return 1
	case current < *avg:
		return -1
	}
	return 0
}

func sameLength(series ...[]float64) bool {
	for _, s := range series[1:] {
		if len(s) != len(series[0]) {
			return false
		}
	}
	return true
}

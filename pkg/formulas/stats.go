package formulas

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i] - Price[i-1]) / Price[i-1]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return returns
}

// AnnualizedVolatility calculates annualized volatility from daily returns
// Formula: Std Dev of Daily Returns × sqrt(252 trading days)
func AnnualizedVolatility(dailyReturns []float64) float64 {
	return StdDev(dailyReturns) * math.Sqrt(252)
}

// VolumeRatio returns the last volume divided by the mean of the last length
// volumes (including the current one). Nil when volume is absent.
func VolumeRatio(volumes []float64, length int) *float64 {
	if length <= 0 || len(volumes) < length {
		return nil
	}
	avg := stat.Mean(volumes[len(volumes)-length:], nil)
	if avg <= 0 {
		return nil
	}
	ratio := volumes[len(volumes)-1] / avg
	return &ratio
}

// RangePosition describes the last close relative to the high and low of a window
type RangePosition struct {
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	PctFromHigh float64 `json:"pct_from_high"`
	PctFromLow  float64 `json:"pct_from_low"`
}

// CalculateRangePosition uses the last window bars (or all of them when
// fewer are available), typically 252 for the 52-week range.
func CalculateRangePosition(high, low, close []float64, window int) *RangePosition {
	n := len(close)
	if n == 0 || len(high) != n || len(low) != n {
		return nil
	}
	start := 0
	if window > 0 && n > window {
		start = n - window
	}
	hi := floats.Max(high[start:])
	lo := floats.Min(low[start:])
	if hi <= 0 || lo <= 0 {
		return nil
	}
	current := close[n-1]
	return &RangePosition{
		High:        hi,
		Low:         lo,
		PctFromHigh: (current - hi) / hi * 100,
		PctFromLow:  (current - lo) / lo * 100,
	}
}

func last(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

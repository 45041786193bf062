package formulas

import (
	"github.com/markcheno/go-talib"
)

// BollingerBands represents Bollinger Bands values
type BollingerBands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// CalculateBollingerBands calculates Bollinger Bands on the last bar
//
// Bollinger Bands Formula:
//
//	Middle Band = N-day SMA
//	Upper Band = Middle + (k × std deviation)
//	Lower Band = Middle - (k × std deviation)
func CalculateBollingerBands(closes []float64, length int, stdDevMultiplier float64) *BollingerBands {
	if length <= 1 || len(closes) < length {
		return nil
	}

	// MAType SMA for the middle band
	upper, middle, lower := talib.BBands(closes, length, stdDevMultiplier, stdDevMultiplier, 0)
	u, m, l := last(upper), last(middle), last(lower)
	if u == nil || m == nil || l == nil {
		return nil
	}
	return &BollingerBands{Upper: *u, Middle: *m, Lower: *l}
}

// CalculateBollingerPosition returns where the last close sits within the
// bands: 0.0 at the lower band, 0.5 at the middle, 1.0 at the upper band,
// clamped to that range.
func CalculateBollingerPosition(closes []float64, length int, stdDevMultiplier float64) *float64 {
	bands := CalculateBollingerBands(closes, length, stdDevMultiplier)
	if bands == nil {
		return nil
	}

	width := bands.Upper - bands.Lower
	position := 0.5
	if width > 0 {
		position = clamp((closes[len(closes)-1]-bands.Lower)/width, 0, 1)
	}
	return &position
}

package formulas

import (
	"github.com/markcheno/go-talib"
)

// MACD holds the MACD line, signal line and histogram series
type MACD struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// CalculateMACD computes MACD(fast, slow, signal) or nil if the series is
// shorter than slow+signal bars.
func CalculateMACD(closes []float64, fast, slow, signal int) *MACD {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return nil
	}
	line, sig, hist := talib.Macd(closes, fast, slow, signal)
	return &MACD{Line: line, Signal: sig, Histogram: hist}
}

// Cross describes how series a moved relative to series b on the last bar
type Cross int

const (
	// NoCross means the order of a and b did not change
	NoCross Cross = 0
	// CrossAbove means a moved from below b to above it
	CrossAbove Cross = 1
	// CrossBelow means a moved from above b to below it
	CrossBelow Cross = -1
)

// Crossover compares the last two points of a and b
func Crossover(a, b []float64) Cross {
	n := len(a)
	if n < 2 || len(b) != n {
		return NoCross
	}
	prev := a[n-2] - b[n-2]
	curr := a[n-1] - b[n-1]
	switch {
	case prev < 0 && curr > 0:
		return CrossAbove
	case prev > 0 && curr < 0:
		return CrossBelow
	}
	return NoCross
}

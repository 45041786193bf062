package synthesizer

import "math"

// Band is a confidence range (0-100) for one combination of directive and signal
type Band struct {
	Low  float64
	High float64
}

// Confidence bands by how the fund manager view and the technical signal relate
var (
	BandAgree    = Band{80, 100} // directive and signal point the same way
	BandFMOnly   = Band{60, 80}  // directive with a neutral or missing signal
	BandTechOnly = Band{40, 65}  // strong signal without a directive
	BandNeutral  = Band{30, 50}  // explicit hold
	BandConflict = Band{10, 30}  // directive and signal disagree
)

const (
	strongSignal = 60.0 // composite magnitude where a signal counts as strong
	maxComposite = 100.0
)

// At interpolates inside the band; strength is clamped to [0, 1]
func (b Band) At(strength float64) float64 {
	s := math.Max(0, math.Min(1, strength))
	return math.Round((b.Low+(b.High-b.Low)*s)*10) / 10
}

// signalStrength maps a composite magnitude onto [0, 1]
func signalStrength(composite float64) float64 {
	return math.Min(math.Abs(composite)/maxComposite, 1)
}

// Clamp pulls a 0-100 confidence from another source into the band
func (b Band) Clamp(confidence float64) float64 {
	c := math.Max(b.Low, math.Min(b.High, confidence))
	return math.Round(c*10) / 10
}

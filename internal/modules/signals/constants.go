package signals

// Indicator parameters, thresholds and component weights of the composite score

// =============================================================================
// Indicator Parameters
// =============================================================================

const (
	RSILength        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignal       = 9
	SMAShort         = 50
	SMALong          = 200
	BollingerLength  = 20
	BollingerStd     = 2.0
	ADXLength        = 14
	ATRLength        = 14
	OBVTrendLength   = 20
	VolumeAvgPeriod  = 20
	StochRSILength   = 14
	RangeWindow      = 252 // trading days in 52 weeks
	MinBarsForSignal = 50  // below this the series is scored HOLD with Sufficient=false
)

// =============================================================================
// Component Thresholds
// =============================================================================

const (
	RSIOversold   = 30.0
	RSIOverbought = 70.0
	RSILeanLow    = 45.0
	RSILeanHigh   = 55.0

	StochRSIOversold   = 20.0
	StochRSIOverbought = 80.0

	ADXStrongTrend = 30.0 // amplifies the trend component
	ADXWeakTrend   = 15.0 // halves the trend component

	VolumeHighRatio = 1.3 // HIGH or SURGE volume versus the 20-day average

	NearHighPct  = -5.0  // within 5% of the 52-week high
	FarHighPct   = -30.0 // more than 30% below the 52-week high
	NearLowPct   = 5.0   // within 5% of the 52-week low
	ComponentCap = 100.0
)

// =============================================================================
// Composite Weights (must sum to 1.0)
// =============================================================================

const (
	WeightTrend            = 0.30
	WeightMomentum         = 0.30
	WeightVolume           = 0.20
	WeightVolatility       = 0.10
	WeightRelativeStrength = 0.10
)

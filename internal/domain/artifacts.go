package domain

import "time"

// ScopeType says what a directive applies to
type ScopeType string

const (
	ScopeSector     ScopeType = "SECTOR"
	ScopeInstrument ScopeType = "INSTRUMENT"
	ScopeAssetClass ScopeType = "ASSET_CLASS"
	ScopePortfolio  ScopeType = "PORTFOLIO"
)

// Stance is the fund manager's view of a scope
type Stance string

const (
	StanceBullish Stance = "BULLISH"
	StanceBearish Stance = "BEARISH"
	StanceNeutral Stance = "NEUTRAL"
)

// Directive actions produced by the bundled parsers
const (
	DirectiveIncreaseExposure   = "INCREASE_EXPOSURE"
	DirectiveIncreaseAllocation = "INCREASE_ALLOCATION"
	DirectiveReduceExposure     = "REDUCE_EXPOSURE"
	DirectiveBookProfits        = "BOOK_PROFITS"
	DirectiveAvoid              = "AVOID"
	DirectiveHold               = "HOLD"
	DirectiveReview             = "REVIEW"
)

// StanceForAction maps a directive action onto the stance it expresses
func StanceForAction(action string) Stance {
	switch action {
	case DirectiveIncreaseExposure, DirectiveIncreaseAllocation, "BUY", "BUY_ON_DIP", "SIP_TO_LUMPSUM":
		return StanceBullish
	case DirectiveReduceExposure, DirectiveBookProfits, DirectiveAvoid, "SELL", "STOP_SIP":
		return StanceBearish
	}
	return StanceNeutral
}

// Directive is a structured instruction extracted from the market view
type Directive struct {
	ID         string    `json:"id" msgpack:"id"`
	ScopeType  ScopeType `json:"scope_type" msgpack:"scope_type"`
	Scope      string    `json:"scope" msgpack:"scope"`
	Stance     Stance    `json:"stance" msgpack:"stance"`
	Action     string    `json:"action" msgpack:"action"`
	Magnitude  string    `json:"magnitude,omitempty" msgpack:"magnitude"`
	Timeframe  string    `json:"timeframe,omitempty" msgpack:"timeframe"`
	AppliesTo  string    `json:"applies_to,omitempty" msgpack:"applies_to"`
	Rationale  string    `json:"rationale" msgpack:"rationale"`
	Confidence float64   `json:"confidence" msgpack:"confidence"`
}

// Matches reports whether the directive covers an instrument with the given code and sector
func (d Directive) Matches(code, sector string) bool {
	switch d.ScopeType {
	case ScopeInstrument:
		return d.Scope == code
	case ScopeSector, ScopeAssetClass:
		return sector != "" && d.Scope == sector
	case ScopePortfolio:
		return true
	}
	return false
}

// SeriesKind distinguishes exchange price history from fund NAV history
type SeriesKind string

const (
	SeriesOHLCV SeriesKind = "ohlcv"
	SeriesNAV   SeriesKind = "nav"
)

// Bar is one day of market data. NAV series carry the NAV in every price field and zero volume.
type Bar struct {
	Date   time.Time `json:"date" msgpack:"d"`
	Open   float64   `json:"open" msgpack:"o"`
	High   float64   `json:"high" msgpack:"h"`
	Low    float64   `json:"low" msgpack:"l"`
	Close  float64   `json:"close" msgpack:"c"`
	Volume float64   `json:"volume" msgpack:"v"`
}

// MarketSeries is the fetched history for one instrument, or an explicit
// marker that none could be obtained.
type MarketSeries struct {
	Code      string     `json:"code"`
	Kind      SeriesKind `json:"kind"`
	Source    string     `json:"source,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Bars      []Bar      `json:"bars,omitempty"`
	Available bool       `json:"available"`
}

// UnavailableSeries builds the marker returned when a code has no data
func UnavailableSeries(code, reason string) MarketSeries {
	return MarketSeries{Code: code, Available: false, Reason: reason}
}

// Closes returns the close prices in date order
func (m MarketSeries) Closes() []float64 {
	out := make([]float64, len(m.Bars))
	for i, b := range m.Bars {
		out[i] = b.Close
	}
	return out
}

// SignalLabel is the discrete reading of a composite technical score
type SignalLabel string

const (
	SignalStrongBuy  SignalLabel = "STRONG_BUY"
	SignalBuy        SignalLabel = "BUY"
	SignalHold       SignalLabel = "HOLD"
	SignalSell       SignalLabel = "SELL"
	SignalStrongSell SignalLabel = "STRONG_SELL"
)

// IsBullish reports whether the label leans towards buying
func (l SignalLabel) IsBullish() bool {
	return l == SignalBuy || l == SignalStrongBuy
}

// IsBearish reports whether the label leans towards selling
func (l SignalLabel) IsBearish() bool {
	return l == SignalSell || l == SignalStrongSell
}

// SectorStrength is a sector index's return minus the benchmark's return,
// in percentage points, over one week, one month and three months
type SectorStrength struct {
	Sector string  `json:"sector"`
	RS1W   float64 `json:"rs_1w"`
	RS1M   float64 `json:"rs_1m"`
	RS3M   float64 `json:"rs_3m"`
}

// Outperforming reports whether the sector beat the benchmark over the month
func (s SectorStrength) Outperforming() bool {
	return s.RS1M > 0
}

// SignalScore is the technical reading for one instrument. Scores of sector
// index series also carry the sector's relative strength.
type SignalScore struct {
	Indicators map[string]float64 `json:"indicators"`
	Sector     *SectorStrength    `json:"sector,omitempty"`
	Code       string             `json:"code"`
	Signal     SignalLabel        `json:"signal"`
	Composite  float64            `json:"composite"`
	Sufficient bool               `json:"sufficient"`
}

package clientdata

import "time"

// TTL constants for cached provider data.
// These are added to now when storing to calculate expires_at.
const (
	// Price history refreshes once per trading day; the configured
	// market data TTL normally overrides this.
	TTLMarketData = 6 * time.Hour

	// Parsed market views are keyed by prompt hash, so a long TTL only
	// saves repeat calls for identical text.
	TTLLLMResponse = 7 * 24 * time.Hour
)

package model

// VenuePair names the buy and sell legs of a cross-exchange round trip.
type VenuePair struct {
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
}

// ArbitrageOpportunity is one fee-aware spread between two venues.
// Invariant: NetPct = GrossPct - FeesPct, all rounded to 4 decimals.
type ArbitrageOpportunity struct {
	Path      VenuePair `json:"path"`
	BuyPrice  float64   `json:"buyPrice"`
	SellPrice float64   `json:"sellPrice"`
	GrossPct  float64   `json:"grossPct"`
	FeesPct   float64   `json:"feesPct"`
	NetPct    float64   `json:"netPct"`
}

// ArbitrageResult is the outcome of one scan across all registered venues.
// Venues that failed to return a price appear in Errors and are excluded
// from Prices and from the opportunity set.
type ArbitrageResult struct {
	Symbol string             `json:"symbol"`
	Quote  string             `json:"quote"`
	Prices map[string]float64 `json:"prices"`
	Fees   map[string]float64 `json:"fees"`
	Errors map[string]string  `json:"errors"`

	Best *ArbitrageOpportunity  `json:"best"`
	Top  []ArbitrageOpportunity `json:"top"`
}

// ArbitrageConfig controls the scanner and the live loop's arbitrage leg.
type ArbitrageConfig struct {
	Enabled         bool    `json:"enabled"`
	Symbol          string  `json:"symbol"`
	Quote           string  `json:"quote"`
	MinNetSpreadPct float64 `json:"minNetSpreadPct"` // e.g. 0.25 = require >= 0.25% net after fees
	Notional        float64 `json:"notional"`        // cash committed per arbitrage cycle
}

// DefaultArbitrageConfig mirrors the engine's boot defaults.
func DefaultArbitrageConfig() ArbitrageConfig {
	return ArbitrageConfig{
		Enabled:         true,
		Symbol:          "BTC",
		Quote:           "USDT",
		MinNetSpreadPct: 0.25,
		Notional:        25,
	}
}

// Package model defines the shared entities of the trading engine: candles,
// strategies, trades, arbitrage opportunities, and live session state.
package model

import (
	"encoding/json"
	"time"
)

// Candle represents a single OHLCV candle as returned by the market data
// adapter. Times are millisecond epochs (exchange kline convention).
// Candles are immutable once fetched and always ordered by OpenTime.
type Candle struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

// CloseAt returns the candle close time as a time.Time (UTC).
func (c *Candle) CloseAt() time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// IndicatorSet maps indicator names (e.g. "RSI", "Sentiment") to values.
// It is the only vocabulary the condition evaluator understands.
type IndicatorSet map[string]float64

// MarketSnapshot is the unified market view one decision step consumes:
// the latest price plus the derived indicator values.
type MarketSnapshot struct {
	Price      float64      `json:"price"`
	Indicators IndicatorSet `json:"indicators"`
}

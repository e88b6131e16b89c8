package model

import "time"

// TradeKind distinguishes strategy-signal trades from arbitrage trades.
type TradeKind string

const (
	TradeStrategy  TradeKind = "strategy"
	TradeArbitrage TradeKind = "arbitrage"
)

// Trade actions.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Trade is one append-only trade log entry. Records are never mutated
// after creation and are ordered by creation time.
type Trade struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      TradeKind `json:"kind"`
	Action    string    `json:"action"`

	Price    float64 `json:"price,omitempty"`
	Qty      float64 `json:"qty,omitempty"`
	Notional float64 `json:"notional,omitempty"`
	PnL      float64 `json:"pnl"`
	Balance  float64 `json:"balance"` // balance after the trade applied

	// Strategy context (set for Kind == TradeStrategy).
	Indicators IndicatorSet `json:"indicators,omitempty"`

	// Arbitrage context (set for Kind == TradeArbitrage).
	Path     *VenuePair `json:"path,omitempty"`
	Symbol   string     `json:"symbol,omitempty"`
	Quote    string     `json:"quote,omitempty"`
	GrossPct float64    `json:"grossPct,omitempty"`
	FeesPct  float64    `json:"feesPct,omitempty"`
	NetPct   float64    `json:"netPct,omitempty"`
}

// Package portfolio tracks the virtual wallet of a paper-trading session:
// cash balance, a single spot position, and daily risk counters.
//
// The wallet holds at most one position at a time and is not safe for
// concurrent use; the live session is its only writer.
package portfolio

import "math"

// Wallet is the session's virtual portfolio.
type Wallet struct {
	StartingCash float64
	Balance      float64

	Position   float64  // units held; 0 = flat
	EntryPrice *float64 // set iff Position > 0

	TradesToday int
	PnLToday    float64
}

// NewWallet returns a flat wallet funded with cash.
func NewWallet(cash float64) Wallet {
	return Wallet{StartingCash: cash, Balance: cash}
}

// Reset refunds the wallet to cash and clears position and daily counters.
func (w *Wallet) Reset(cash float64) {
	*w = NewWallet(cash)
}

// Flat reports whether the wallet holds no position.
func (w *Wallet) Flat() bool {
	return w.Position == 0
}

// PositionSize returns the cash this wallet may commit to a new position:
// the full balance capped at maxPosition.
func (w *Wallet) PositionSize(maxPosition float64) float64 {
	return math.Min(w.Balance, maxPosition)
}

// Open converts notional of cash into units at price and records the entry.
// Returns the quantity bought. The caller guarantees the wallet is flat and
// notional is positive.
func (w *Wallet) Open(price, notional float64) float64 {
	w.Position = notional / price
	entry := price
	w.EntryPrice = &entry
	w.Balance -= notional
	w.TradesToday++
	return w.Position
}

// Close sells the whole position at price, credits the proceeds, and
// realizes the P&L into the daily counter. Returns quantity sold and the
// realized P&L.
func (w *Wallet) Close(price float64) (qty, pnl float64) {
	qty = w.Position
	exitNotional := qty * price
	pnl = exitNotional - qty*(*w.EntryPrice)

	w.Balance += exitNotional
	w.PnLToday += pnl
	w.TradesToday++
	w.Position = 0
	w.EntryPrice = nil
	return qty, pnl
}

// ApplyArbitrage credits (or debits) an instant round-trip result.
func (w *Wallet) ApplyArbitrage(pnl float64) {
	w.Balance += pnl
	w.PnLToday += pnl
}

// DailyLossBreached reports whether today's realized P&L has reached the
// daily stop. The limit is taken by absolute value, so a misconfigured
// negative limit behaves like its positive counterpart.
func (w *Wallet) DailyLossBreached(maxDailyLoss float64) bool {
	return w.PnLToday <= -math.Abs(maxDailyLoss)
}

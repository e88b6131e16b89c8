// Package indicator provides technical indicator calculations over candle
// windows.
//
// All indicators are pure functions: an ordered candle window in, a value
// and an availability flag out. A window shorter than the indicator's
// requirement yields ok=false; callers must treat "unavailable" as distinct
// from a computed zero.
package indicator

import "sentinelsniper/internal/model"

// DefaultRSIPeriod is the conventional RSI lookback.
const DefaultRSIPeriod = 14

// RSI computes the Relative Strength Index over the trailing window using
// simple arithmetic means of the positive and negative close-to-close deltas.
// Requires at least period+1 candles; when fewer are supplied, ok is false.
// A window with zero average loss yields 100. The result is rounded to
// 2 decimals.
func RSI(candles []model.Candle, period int) (value float64, ok bool) {
	if period <= 0 {
		period = DefaultRSIPeriod
	}
	if len(candles) < period+1 {
		return 0, false
	}

	// Use the last period+1 candles so longer windows still measure the
	// trailing period.
	window := candles[len(candles)-period-1:]

	var gains, losses float64
	for i := 1; i <= period; i++ {
		delta := window[i].Close - window[i-1].Close
		if delta >= 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return model.Round2(100 - 100/(1+rs)), true
}

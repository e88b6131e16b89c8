package indicator

import "sentinelsniper/internal/model"

// SMA computes the simple moving average of the last period closes.
// ok is false when fewer than period candles are supplied.
func SMA(candles []model.Candle, period int) (value float64, ok bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}
	window := candles[len(candles)-period:]
	var sum float64
	for i := range window {
		sum += window[i].Close
	}
	return model.Round2(sum / float64(period)), true
}

// EMA computes the exponential moving average over the window, seeded with
// the SMA of the first period closes. ok is false when fewer than period
// candles are supplied.
func EMA(candles []model.Candle, period int) (value float64, ok bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += candles[i].Close
	}
	ema := seed / float64(period)

	k := 2.0 / (float64(period) + 1.0)
	for i := period; i < len(candles); i++ {
		ema = candles[i].Close*k + ema*(1-k)
	}
	return model.Round2(ema), true
}

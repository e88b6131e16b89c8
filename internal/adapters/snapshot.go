package adapters

import (
	"context"
	"log"

	"sentinelsniper/internal/indicator"
	"sentinelsniper/internal/model"
)

// defaultSnapshotCandles is how much recent history a snapshot fetch pulls;
// enough for an RSI-14 window with headroom.
const defaultSnapshotCandles = 20

// SnapshotBuilder assembles the unified market view one decision step
// consumes: recent candles reduced to a price plus indicator values, and an
// optional sentiment score.
type SnapshotBuilder struct {
	market    *MarketData
	sentiment *Sentiment
	symbol    string
	interval  string
}

// NewSnapshotBuilder creates a builder for the given market. sentiment may
// be nil, in which case Sentiment is reported as neutral. symbol defaults
// to BTCUSDT and interval to 1m.
func NewSnapshotBuilder(market *MarketData, sentiment *Sentiment, symbol, interval string) *SnapshotBuilder {
	if symbol == "" {
		symbol = "BTCUSDT"
	}
	if interval == "" {
		interval = "1m"
	}
	return &SnapshotBuilder{market: market, sentiment: sentiment, symbol: symbol, interval: interval}
}

// Build fetches recent candles and computes the indicator set for the given
// strategy. Indicator values that cannot be computed degrade to neutral
// defaults (RSI 0, Sentiment 0) rather than failing the step; only a total
// candle fetch failure is an error, since without a price there is nothing
// to decide on.
func (b *SnapshotBuilder) Build(ctx context.Context, strat *model.Strategy) (model.MarketSnapshot, error) {
	period := strat.RSIPeriod(14)
	count := defaultSnapshotCandles
	if period+1 > count {
		count = period + 1
	}
	for _, m := range strat.Modules {
		if (m.Type == "SMA" || m.Type == "EMA") && m.Params.Period > count {
			count = m.Params.Period
		}
	}

	candles, err := b.market.Candles(ctx, b.symbol, b.interval, count)
	if err != nil {
		return model.MarketSnapshot{}, err
	}
	if len(candles) == 0 {
		return model.MarketSnapshot{}, errNoCandles{symbol: b.symbol}
	}

	snap := model.MarketSnapshot{
		Price:      candles[len(candles)-1].Close,
		Indicators: model.IndicatorSet{"RSI": 0, "Sentiment": 0},
	}
	if rsi, ok := indicator.RSI(candles, period); ok {
		snap.Indicators["RSI"] = rsi
	} else {
		log.Printf("[snapshot] insufficient history for RSI(%d): %d candles", period, len(candles))
	}

	// Moving-average modules add their value under the module type name, so
	// expressions can reference SMA or EMA directly.
	for _, m := range strat.Modules {
		switch m.Type {
		case "SMA":
			if v, ok := indicator.SMA(candles, m.Params.Period); ok {
				snap.Indicators["SMA"] = v
			}
		case "EMA":
			if v, ok := indicator.EMA(candles, m.Params.Period); ok {
				snap.Indicators["EMA"] = v
			}
		}
	}

	if b.sentiment != nil {
		score, err := b.sentiment.Score(ctx, "Current "+b.symbol+" market conditions")
		if err != nil {
			log.Printf("[snapshot] sentiment unavailable, defaulting to 0: %v", err)
		} else {
			snap.Indicators["Sentiment"] = score
		}
	}
	return snap, nil
}

type errNoCandles struct{ symbol string }

func (e errNoCandles) Error() string { return "no candles returned for " + e.symbol }

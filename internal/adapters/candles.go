package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"sentinelsniper/internal/model"
)

// MarketData fetches historical OHLCV candles from the Binance public
// klines endpoint.
type MarketData struct {
	client  *Client
	baseURL string
}

// NewMarketData creates a candle fetcher. baseURL defaults to the public
// Binance API when empty.
func NewMarketData(client *Client, baseURL string) *MarketData {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &MarketData{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Candles fetches up to count candles for symbol at the given interval
// (e.g. "BTCUSDT", "15m", 672). The result is ordered by open time.
// Callers that cannot proceed without candles should treat an error as an
// empty sequence.
func (m *MarketData) Candles(ctx context.Context, symbol, interval string, count int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(count))

	// Binance kline rows are positional arrays of mixed number/string
	// values: [openTime, open, high, low, close, volume, closeTime, ...].
	var rows [][]any
	u := m.baseURL + "/api/v3/klines?" + q.Encode()
	if err := m.client.getJSON(ctx, "binance-klines", u, &rows); err != nil {
		return nil, fmt.Errorf("candles %s %s: %w", symbol, interval, err)
	}

	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		c := model.Candle{
			OpenTime:  asInt64(row[0]),
			Open:      asFloat(row[1]),
			High:      asFloat(row[2]),
			Low:       asFloat(row[3]),
			Close:     asFloat(row[4]),
			Volume:    asFloat(row[5]),
			CloseTime: asInt64(row[6]),
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// asFloat coerces a kline cell (JSON string or number) to float64.
func asFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	}
	return 0
}

// asInt64 coerces a kline cell to int64 (timestamps arrive as JSON numbers).
func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

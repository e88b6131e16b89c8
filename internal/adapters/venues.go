package adapters

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"sentinelsniper/internal/arbitrage"
	"sentinelsniper/internal/metrics"
)

// Taker fee rates per venue, as fractions of notional.
const (
	feeBinance  = 0.0010
	feeKraken   = 0.0026
	feeCoinbase = 0.0060
	feeBitstamp = 0.0050
	feeKucoin   = 0.0010
)

// VenueEndpoints overrides the base URL per exchange; empty fields keep the
// public API hosts.
type VenueEndpoints struct {
	Binance  string
	Kraken   string
	Coinbase string
	Bitstamp string
	Kucoin   string
}

// VenueRegistry builds the price adapters for every supported exchange.
// Each fetch goes through a circuit breaker so a venue that keeps failing
// is short-circuited instead of being retried on every scan. cache may be
// nil (no caching).
type VenueRegistry struct {
	client    *Client
	cache     *PriceCache
	metrics   *metrics.Metrics
	endpoints VenueEndpoints
}

// NewVenueRegistry creates a VenueRegistry over the shared adapter client.
func NewVenueRegistry(client *Client, cache *PriceCache, m *metrics.Metrics, endpoints VenueEndpoints) *VenueRegistry {
	if endpoints.Binance == "" {
		endpoints.Binance = "https://api.binance.com"
	}
	if endpoints.Kraken == "" {
		endpoints.Kraken = "https://api.kraken.com"
	}
	if endpoints.Coinbase == "" {
		endpoints.Coinbase = "https://api.coinbase.com"
	}
	if endpoints.Bitstamp == "" {
		endpoints.Bitstamp = "https://www.bitstamp.net"
	}
	if endpoints.Kucoin == "" {
		endpoints.Kucoin = "https://api.kucoin.com"
	}
	return &VenueRegistry{client: client, cache: cache, metrics: m, endpoints: endpoints}
}

// Venues returns the full venue set in the canonical registry order used
// for ranking ties.
func (r *VenueRegistry) Venues() []arbitrage.Venue {
	return []arbitrage.Venue{
		{Name: "binance", TakerFee: feeBinance, Fetch: r.wrap("binance", r.binancePrice)},
		{Name: "kraken", TakerFee: feeKraken, Fetch: r.wrap("kraken", r.krakenPrice)},
		{Name: "coinbase", TakerFee: feeCoinbase, Fetch: r.wrap("coinbase", r.coinbasePrice)},
		{Name: "bitstamp", TakerFee: feeBitstamp, Fetch: r.wrap("bitstamp", r.bitstampPrice)},
		{Name: "kucoin", TakerFee: feeKucoin, Fetch: r.wrap("kucoin", r.kucoinPrice)},
	}
}

// wrap layers the price cache and a circuit breaker around a raw fetcher.
func (r *VenueRegistry) wrap(venue string, fetch arbitrage.PriceFunc) arbitrage.PriceFunc {
	st := gobreaker.Settings{Name: venue}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Printf("[venue] %s breaker %s -> %s", name, from, to)
	}
	cb := gobreaker.NewCircuitBreaker(st)

	return func(ctx context.Context, symbol, quote string) (float64, error) {
		if price, ok := r.cache.Get(ctx, venue, symbol, quote); ok {
			return price, nil
		}
		out, err := cb.Execute(func() (interface{}, error) {
			return fetch(ctx, symbol, quote)
		})
		if err != nil {
			if r.metrics != nil {
				r.metrics.VenueErrors.WithLabelValues(venue).Inc()
			}
			return 0, err
		}
		price := out.(float64)
		r.cache.Set(ctx, venue, symbol, quote, price)
		return price, nil
	}
}

func parsePrice(venue, raw string) (float64, error) {
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: bad price %q", venue, raw)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%s: non-positive price %v", venue, price)
	}
	return price, nil
}

func (r *VenueRegistry) binancePrice(ctx context.Context, symbol, quote string) (float64, error) {
	var resp struct {
		Price string `json:"price"`
	}
	url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s%s", r.endpoints.Binance, symbol, quote)
	if err := r.client.getJSON(ctx, "binance", url, &resp); err != nil {
		return 0, err
	}
	return parsePrice("binance", resp.Price)
}

func (r *VenueRegistry) krakenPrice(ctx context.Context, symbol, quote string) (float64, error) {
	// Kraken lists bitcoin as XBT.
	sym := symbol
	if sym == "BTC" {
		sym = "XBT"
	}
	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			C []string `json:"c"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/0/public/Ticker?pair=%s%s", r.endpoints.Kraken, sym, quote)
	if err := r.client.getJSON(ctx, "kraken", url, &resp); err != nil {
		return 0, err
	}
	if len(resp.Error) > 0 {
		return 0, fmt.Errorf("kraken: %s", strings.Join(resp.Error, "; "))
	}
	for _, ticker := range resp.Result {
		if len(ticker.C) == 0 {
			break
		}
		return parsePrice("kraken", ticker.C[0])
	}
	return 0, fmt.Errorf("kraken: empty ticker for %s%s", sym, quote)
}

func (r *VenueRegistry) coinbasePrice(ctx context.Context, symbol, quote string) (float64, error) {
	var resp struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/v2/prices/%s-%s/spot", r.endpoints.Coinbase, symbol, quote)
	if err := r.client.getJSON(ctx, "coinbase", url, &resp); err != nil {
		return 0, err
	}
	return parsePrice("coinbase", resp.Data.Amount)
}

func (r *VenueRegistry) bitstampPrice(ctx context.Context, symbol, quote string) (float64, error) {
	var resp struct {
		Last string `json:"last"`
	}
	url := fmt.Sprintf("%s/api/v2/ticker/%s/", r.endpoints.Bitstamp,
		strings.ToLower(symbol+quote))
	if err := r.client.getJSON(ctx, "bitstamp", url, &resp); err != nil {
		return 0, err
	}
	return parsePrice("bitstamp", resp.Last)
}

func (r *VenueRegistry) kucoinPrice(ctx context.Context, symbol, quote string) (float64, error) {
	var resp struct {
		Data struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	url := fmt.Sprintf("%s/api/v1/market/orderbook/level1?symbol=%s-%s", r.endpoints.Kucoin, symbol, quote)
	if err := r.client.getJSON(ctx, "kucoin", url, &resp); err != nil {
		return 0, err
	}
	return parsePrice("kucoin", resp.Data.Price)
}

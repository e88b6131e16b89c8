// Package arbitrage scans cross-exchange spot prices for fee-aware spread
// opportunities.
//
// Venue lookups fan out in parallel with per-venue timeouts; a failing venue
// is excluded from the opportunity set and recorded in the result's error
// map. The scan as a whole succeeds as long as at least one venue answers.
package arbitrage

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"sentinelsniper/internal/metrics"
	"sentinelsniper/internal/model"
)

// TopK is the number of ranked opportunities returned alongside Best.
const TopK = 10

// DefaultVenueTimeout bounds a single venue price lookup so one slow
// exchange cannot stall the whole scan.
const DefaultVenueTimeout = 5 * time.Second

// PriceFunc is the per-venue price adapter contract:
// (symbol, quote) → spot price or failure. Failures are independent per venue.
type PriceFunc func(ctx context.Context, symbol, quote string) (float64, error)

// Venue is one registered exchange: a name, its taker fee rate (fraction,
// e.g. 0.0010 = 0.10%), and its price adapter.
type Venue struct {
	Name     string
	TakerFee float64
	Fetch    PriceFunc
}

// Scanner ranks fee-aware spreads across a fixed venue registry.
type Scanner struct {
	venues  []Venue
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Scanner over the given venues. timeout bounds each venue
// lookup; zero means DefaultVenueTimeout. m may be nil (no instrumentation).
func New(venues []Venue, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Scanner {
	if timeout <= 0 {
		timeout = DefaultVenueTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{venues: venues, timeout: timeout, log: log, metrics: m}
}

// Venues returns the registered venue names in registry order.
func (s *Scanner) Venues() []string {
	names := make([]string, len(s.venues))
	for i, v := range s.venues {
		names[i] = v.Name
	}
	return names
}

// Scan fans out one price lookup per venue, then ranks every ordered pair of
// distinct venues by net spread after taker fees:
//
//	grossPct = (sell − buy) / buy × 100
//	feesPct  = (buyFee + sellFee) × 100
//	netPct   = grossPct − feesPct
//
// all rounded to 4 decimals. Opportunities are sorted descending by netPct.
//
// Pairwise ranking is O(V²) over venues, fine at V <= 10. Track min/max in
// a single pass here if the registry ever grows large.
func (s *Scanner) Scan(ctx context.Context, symbol, quote string) *model.ArbitrageResult {
	started := time.Now()
	if s.metrics != nil {
		s.metrics.ScansTotal.Inc()
		defer func() { s.metrics.ScanDur.Observe(time.Since(started).Seconds()) }()
	}
	symbol = strings.ToUpper(symbol)
	quote = strings.ToUpper(quote)

	result := &model.ArbitrageResult{
		Symbol: symbol,
		Quote:  quote,
		Prices: make(map[string]float64, len(s.venues)),
		Fees:   make(map[string]float64, len(s.venues)),
		Errors: make(map[string]string),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, v := range s.venues {
		wg.Add(1)
		go func(v Venue) {
			defer wg.Done()
			vctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			price, err := v.Fetch(vctx, symbol, quote)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[v.Name] = err.Error()
				s.log.Warn("venue price lookup failed",
					slog.String("venue", v.Name), slog.String("error", err.Error()))
				return
			}
			result.Prices[v.Name] = price
			result.Fees[v.Name] = v.TakerFee
		}(v)
	}
	wg.Wait()

	// Rank ordered pairs in registry order so ties resolve deterministically.
	var opportunities []model.ArbitrageOpportunity
	for _, buy := range s.venues {
		buyPrice, ok := result.Prices[buy.Name]
		if !ok || buyPrice <= 0 {
			continue
		}
		for _, sell := range s.venues {
			if sell.Name == buy.Name {
				continue
			}
			sellPrice, ok := result.Prices[sell.Name]
			if !ok || sellPrice <= 0 {
				continue
			}

			gross := (sellPrice - buyPrice) / buyPrice
			fees := buy.TakerFee + sell.TakerFee
			opportunities = append(opportunities, model.ArbitrageOpportunity{
				Path:      model.VenuePair{Buy: buy.Name, Sell: sell.Name},
				BuyPrice:  buyPrice,
				SellPrice: sellPrice,
				GrossPct:  model.Round4(gross * 100),
				FeesPct:   model.Round4(fees * 100),
				NetPct:    model.Round4((gross - fees) * 100),
			})
		}
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].NetPct > opportunities[j].NetPct
	})

	if len(opportunities) > 0 {
		best := opportunities[0]
		result.Best = &best
		top := opportunities
		if len(top) > TopK {
			top = top[:TopK]
		}
		result.Top = top
	}
	return result
}

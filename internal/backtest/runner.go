package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"sentinelsniper/internal/metrics"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/store"
)

// archiveStampFormat keys archives so lexical order matches run order.
// Nanosecond precision keeps back-to-back runs from colliding on one key.
const archiveStampFormat = "20060102-150405.000000000"

// Runner executes backtests and manages the archive: the most recent
// summary plus one timestamped artifact per run.
type Runner struct {
	kv      store.KV
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRunner creates a Runner persisting into kv. m may be nil.
func NewRunner(kv store.KV, log *slog.Logger, m *metrics.Metrics) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{kv: kv, log: log, metrics: m, now: time.Now}
}

// RunAndArchive simulates the strategy over candles, stores the summary as
// the most recent run, and archives the full result under its timestamp.
func (r *Runner) RunAndArchive(ctx context.Context, strat *model.Strategy, candles []model.Candle, sentiment float64, startingCash float64) (model.BacktestResult, error) {
	started := r.now()
	result := Run(strat, candles, sentiment, startingCash)
	result.Timestamp = started.UTC()

	if r.metrics != nil {
		r.metrics.BacktestsTotal.Inc()
		r.metrics.BacktestDur.Observe(time.Since(started).Seconds())
	}
	r.log.Info("backtest complete",
		"candles", result.CandlesAnalyzed,
		"trades", result.TradesExecuted,
		"netProfit", result.NetProfit,
		"endingBalance", result.EndingBalance)

	summary, err := json.Marshal(result.BacktestSummary)
	if err != nil {
		return result, fmt.Errorf("backtest: marshal summary: %w", err)
	}
	if err := r.kv.Put(ctx, store.KeyLastBacktest, summary); err != nil {
		return result, fmt.Errorf("backtest: store summary: %w", err)
	}

	full, err := json.Marshal(result)
	if err != nil {
		return result, fmt.Errorf("backtest: marshal result: %w", err)
	}
	key := store.PrefixBacktestArchive + result.Timestamp.Format(archiveStampFormat)
	if err := r.kv.Put(ctx, key, full); err != nil {
		return result, fmt.Errorf("backtest: archive: %w", err)
	}
	return result, nil
}

// LastSummary returns the most recent run's summary, or store.ErrNotFound
// when no backtest has run yet.
func (r *Runner) LastSummary(ctx context.Context) (model.BacktestSummary, error) {
	raw, err := r.kv.Get(ctx, store.KeyLastBacktest)
	if err != nil {
		return model.BacktestSummary{}, err
	}
	var summary model.BacktestSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return model.BacktestSummary{}, fmt.Errorf("backtest: decode summary: %w", err)
	}
	return summary, nil
}

// History pages through archived runs, newest first. When includeTrades is
// false the per-step trade lists are omitted from the results.
func (r *Runner) History(ctx context.Context, offset, limit int, includeTrades bool) (model.BacktestPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := r.kv.List(ctx, store.PrefixBacktestArchive)
	if err != nil {
		return model.BacktestPage{}, fmt.Errorf("backtest: list archives: %w", err)
	}

	page := model.BacktestPage{
		Count:   len(entries),
		Limit:   limit,
		Offset:  offset,
		Results: []model.BacktestResult{},
	}
	if offset >= len(entries) {
		return page, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}

	for _, entry := range entries[offset:end] {
		var result model.BacktestResult
		if err := json.Unmarshal(entry.Value, &result); err != nil {
			r.log.Warn("skipping unreadable backtest archive", "key", entry.Key, "err", err)
			page.Count--
			continue
		}
		if !includeTrades {
			result.Trades = nil
		}
		page.Results = append(page.Results, result)
	}
	return page, nil
}

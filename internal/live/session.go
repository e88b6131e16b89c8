// Package live runs the paper-trading session: a single periodic loop that
// fetches the market snapshot, evaluates the strategy, manages one virtual
// position under risk guardrails, and attempts one arbitrage round trip per
// tick.
//
// The session state has exactly one writer (the tick) and is published to
// readers as a whole snapshot swapped in at the end of each tick, so a
// status read never observes a half-applied tick. Ticks are serialized with
// a skip policy: if the previous tick is still running when the next fires,
// the new tick is dropped and counted, never queued.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"sentinelsniper/internal/metrics"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/notification"
	"sentinelsniper/internal/portfolio"
	"sentinelsniper/internal/store"
	"sentinelsniper/internal/strategy"
)

// ErrAlreadyRunning is returned by Start when a session is active.
var ErrAlreadyRunning = errors.New("live: session already running")

// SnapshotSource builds the unified market view for one tick.
type SnapshotSource interface {
	Build(ctx context.Context, strat *model.Strategy) (model.MarketSnapshot, error)
}

// ArbScanner is the arbitrage leg's collaborator contract.
type ArbScanner interface {
	Scan(ctx context.Context, symbol, quote string) *model.ArbitrageResult
}

// Session owns the live trading loop lifecycle. All state mutation happens
// on the tick path; Start/Stop only manage the scheduling goroutine.
type Session struct {
	snapshots SnapshotSource
	scanner   ArbScanner
	store     store.Store
	log       *slog.Logger
	metrics   *metrics.Metrics
	notifier  notification.Notifier

	mu      sync.Mutex // guards lifecycle: running flag, cancel, done
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	tickBusy atomic.Bool

	st   state // single-writer, tick only (plus Start/Stop while no tick runs)
	snap atomic.Pointer[model.LiveSnapshot]

	onSnapshot func(model.LiveSnapshot)
	now        func() time.Time
}

// Deps wires a Session's collaborators. Metrics and Notifier may be nil.
type Deps struct {
	Snapshots SnapshotSource
	Scanner   ArbScanner
	Store     store.Store
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Notifier  notification.Notifier
}

// state is the mutable session state. Mirrors the persisted status snapshot.
type state struct {
	running bool
	phase   string // model.State* value

	intervalMs int64
	wallet     portfolio.Wallet
	cycles     int

	guardrails    model.Guardrails
	nextAllowedTs int64

	lastAction string
	lastError  string
	lastRun    *time.Time

	price         float64
	indicators    model.IndicatorSet
	lastArbitrage *model.Trade
}

// NewSession creates an idle session. The initial status snapshot reports
// state "idle" until the first Start.
func NewSession(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		snapshots: deps.Snapshots,
		scanner:   deps.Scanner,
		store:     deps.Store,
		log:       logger,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		now:       time.Now,
	}

	cfg := model.DefaultLiveConfig()
	s.st = state{
		phase:      model.StateIdle,
		intervalMs: cfg.IntervalMs,
		wallet:     portfolio.NewWallet(cfg.StartingCash),
		guardrails: cfg.Guardrails,
		lastAction: model.StateIdle,
	}
	s.publish(nil)
	return s
}

// OnSnapshot registers a callback invoked with every published status
// snapshot (each tick, start, and stop). Must be set before Start.
func (s *Session) OnSnapshot(fn func(model.LiveSnapshot)) {
	s.onSnapshot = fn
}

// Start resets the virtual portfolio to cfg and begins scheduling ticks.
// Returns ErrAlreadyRunning if the session is active.
func (s *Session) Start(ctx context.Context, cfg model.LiveConfig) (model.LiveSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.Status(), ErrAlreadyRunning
	}

	def := model.DefaultLiveConfig()
	if cfg.IntervalMs <= 0 {
		cfg.IntervalMs = def.IntervalMs
	}
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = def.StartingCash
	}
	if cfg.Guardrails == (model.Guardrails{}) {
		cfg.Guardrails = def.Guardrails
	}

	s.st = state{
		running:       true,
		phase:         model.StateRunning,
		intervalMs:    cfg.IntervalMs,
		wallet:        portfolio.NewWallet(cfg.StartingCash),
		guardrails:    cfg.Guardrails,
		nextAllowedTs: s.now().UnixMilli(),
		lastAction:    model.StateIdle,
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	snap := s.persist(ctx, nil)
	go s.loop(loopCtx, time.Duration(cfg.IntervalMs)*time.Millisecond, s.done)

	s.log.Info("live session started",
		"intervalMs", cfg.IntervalMs,
		"startingCash", cfg.StartingCash,
		"maxDailyLoss", cfg.Guardrails.MaxDailyLoss,
		"maxPosition", cfg.Guardrails.MaxPosition)
	return snap, nil
}

// Stop cancels the schedule, waits for any in-flight tick to finish, and
// persists a final "stopped" snapshot. Safe to call when not running.
func (s *Session) Stop(ctx context.Context) model.LiveSnapshot {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	// Wait for the loop without holding the lock: the loop itself takes it
	// when it exits on a guardrail halt.
	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return s.Status()
	}
	s.running = false

	s.st.running = false
	if s.st.phase == model.StateRunning || s.st.phase == model.StateError {
		s.st.phase = model.StateStopped
		s.st.lastAction = model.StateStopped
	}
	snap := s.persist(ctx, nil)
	s.log.Info("live session stopped", "cycles", s.st.cycles, "pnlToday", s.st.wallet.PnLToday)
	return snap
}

// Status returns the latest published snapshot. Two consecutive reads with
// no intervening tick are identical.
func (s *Session) Status() model.LiveSnapshot {
	return *s.snap.Load()
}

// loop drives scheduled ticks until cancellation or a scheduling-stopping
// transition (guardrail halt). A tick that outlives the interval causes the
// next firing to be skipped by the busy guard in Tick.
func (s *Session) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Tick(ctx)
			if !snap.Running {
				s.markStopped()
				return
			}
		}
	}
}

// markStopped clears the lifecycle flag after the loop exits on its own
// (guardrail halt), so a later Start is accepted.
func (s *Session) markStopped() {
	s.mu.Lock()
	s.running = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

// Tick runs one decision cycle and returns the resulting snapshot. If
// another tick is in flight the call is skipped and the current snapshot is
// returned unchanged.
func (s *Session) Tick(ctx context.Context) model.LiveSnapshot {
	if !s.tickBusy.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.TicksSkipped.Inc()
		}
		s.log.Warn("tick skipped, previous tick still running")
		return s.Status()
	}
	defer s.tickBusy.Store(false)

	st := &s.st
	if !st.running {
		return s.Status()
	}

	now := s.now()
	if st.guardrails.CooldownMs > 0 && now.UnixMilli() < st.nextAllowedTs {
		return s.Status()
	}

	started := now
	if s.metrics != nil {
		s.metrics.TicksTotal.Inc()
		defer func() {
			s.metrics.TickDur.Observe(time.Since(started).Seconds())
		}()
	}

	strat, err := s.loadStrategy(ctx)
	if err != nil {
		return s.failTick(ctx, fmt.Errorf("load strategy: %w", err))
	}

	snapshot, err := s.snapshots.Build(ctx, &strat)
	if err != nil {
		return s.failTick(ctx, fmt.Errorf("market snapshot: %w", err))
	}
	if snapshot.Price <= 0 || math.IsNaN(snapshot.Price) {
		return s.failTick(ctx, fmt.Errorf("snapshot price not available"))
	}

	// Daily stop: checked before any signal evaluation. A trip halts
	// scheduling until an explicit restart resets the counters.
	if st.wallet.DailyLossBreached(st.guardrails.MaxDailyLoss) {
		st.running = false
		st.phase = model.StateHalted
		st.lastAction = model.StateHalted
		if s.metrics != nil {
			s.metrics.GuardrailTrips.Inc()
		}
		s.alert(ctx, notification.AlertCritical, "Daily loss guardrail tripped",
			fmt.Sprintf("pnlToday %.2f breached maxDailyLoss %.2f, trading halted",
				st.wallet.PnLToday, st.guardrails.MaxDailyLoss))
		return s.persist(ctx, nil)
	}

	d := strategy.Evaluate(&strat, snapshot.Indicators)
	for _, diag := range d.Diagnostics {
		s.log.Warn("strategy expression failed", "diag", diag)
	}

	price := snapshot.Price
	action := model.ActionHold
	var trades []model.Trade

	positionSize := st.wallet.PositionSize(st.guardrails.MaxPosition)

	switch {
	case d.Buy && st.wallet.Flat() && positionSize > 0:
		qty := st.wallet.Open(price, positionSize)
		action = model.ActionBuy

		trades = append(trades, model.Trade{
			Timestamp:  now.UTC(),
			Kind:       model.TradeStrategy,
			Action:     action,
			Price:      price,
			Qty:        model.Round8(qty),
			Notional:   model.Round2(positionSize),
			Balance:    model.Round2(st.wallet.Balance),
			Indicators: snapshot.Indicators,
		})

	case d.Sell && !st.wallet.Flat():
		qty, pnl := st.wallet.Close(price)
		action = model.ActionSell

		trades = append(trades, model.Trade{
			Timestamp:  now.UTC(),
			Kind:       model.TradeStrategy,
			Action:     action,
			Price:      price,
			Qty:        model.Round8(qty),
			PnL:        model.Round2(pnl),
			Balance:    model.Round2(st.wallet.Balance),
			Indicators: snapshot.Indicators,
		})
	}

	if action != model.ActionHold {
		if s.metrics != nil {
			s.metrics.TradesTotal.WithLabelValues(string(model.TradeStrategy), action).Inc()
		}
		if st.guardrails.CooldownMs > 0 {
			st.nextAllowedTs = now.UnixMilli() + st.guardrails.CooldownMs
		}
	}

	// Arbitrage leg runs every tick regardless of the strategy action.
	// Its failures never escalate to the tick's error state.
	if arbTrade := s.maybeArbitrage(ctx); arbTrade != nil {
		trades = append(trades, *arbTrade)
	}

	runAt := now.UTC()
	st.lastRun = &runAt
	st.lastAction = action
	st.lastError = ""
	st.phase = model.StateRunning
	st.cycles++
	st.price = price
	st.indicators = snapshot.Indicators

	return s.persist(ctx, trades)
}

// failTick records a collaborator failure for this tick. The session stays
// running; only the tick outcome is recorded.
func (s *Session) failTick(ctx context.Context, err error) model.LiveSnapshot {
	if s.metrics != nil {
		s.metrics.TickErrors.Inc()
	}
	s.log.Error("live tick failed", "err", err)

	runAt := s.now().UTC()
	s.st.lastRun = &runAt
	s.st.lastAction = model.StateError
	s.st.lastError = err.Error()
	s.st.phase = model.StateError
	return s.persist(ctx, nil)
}

// maybeArbitrage runs one scan and, when the best opportunity clears the
// configured minimum net spread, realizes an instant round trip against the
// virtual balance. Returns the emitted trade, or nil.
func (s *Session) maybeArbitrage(ctx context.Context) *model.Trade {
	if s.scanner == nil {
		return nil
	}
	cfg := s.loadArbConfig(ctx)
	if !cfg.Enabled {
		return nil
	}

	result := s.scanner.Scan(ctx, cfg.Symbol, cfg.Quote)
	if result == nil || result.Best == nil {
		return nil
	}
	best := result.Best
	if best.NetPct < cfg.MinNetSpreadPct {
		return nil
	}

	st := &s.st
	notional := math.Min(cfg.Notional, st.wallet.Balance)
	if notional <= 0 {
		return nil
	}

	pnl := notional*(best.GrossPct/100) - notional*(best.FeesPct/100)
	st.wallet.ApplyArbitrage(pnl)

	trade := model.Trade{
		Timestamp: s.now().UTC(),
		Kind:      model.TradeArbitrage,
		Action:    model.ActionBuy,
		Price:     best.BuyPrice,
		Notional:  model.Round2(notional),
		PnL:       model.Round2(pnl),
		Balance:   model.Round2(st.wallet.Balance),
		Path:      &best.Path,
		Symbol:    result.Symbol,
		Quote:     result.Quote,
		GrossPct:  best.GrossPct,
		FeesPct:   best.FeesPct,
		NetPct:    best.NetPct,
	}
	st.lastArbitrage = &trade

	if s.metrics != nil {
		s.metrics.TradesTotal.WithLabelValues(string(model.TradeArbitrage), trade.Action).Inc()
	}
	s.log.Info("arbitrage executed",
		"path", best.Path.Buy+"->"+best.Path.Sell,
		"netPct", best.NetPct,
		"pnl", trade.PnL)
	s.alert(ctx, notification.AlertInfo, "Arbitrage executed",
		fmt.Sprintf("%s->%s net %.4f%% pnl %.2f", best.Path.Buy, best.Path.Sell, best.NetPct, trade.PnL))
	return &trade
}

// loadStrategy returns the stored strategy, falling back to the default
// when none has been saved yet.
func (s *Session) loadStrategy(ctx context.Context) (model.Strategy, error) {
	raw, err := s.store.Get(ctx, store.KeyStrategy)
	if errors.Is(err, store.ErrNotFound) {
		return model.DefaultStrategy(), nil
	}
	if err != nil {
		return model.Strategy{}, err
	}
	var strat model.Strategy
	if err := json.Unmarshal(raw, &strat); err != nil {
		return model.Strategy{}, fmt.Errorf("decode strategy: %w", err)
	}
	return strat, nil
}

// loadArbConfig returns the stored arbitrage config, or defaults. Broken or
// missing config degrades to the default rather than failing the tick.
func (s *Session) loadArbConfig(ctx context.Context) model.ArbitrageConfig {
	raw, err := s.store.Get(ctx, store.KeyArbConfig)
	if err != nil {
		return model.DefaultArbitrageConfig()
	}
	var cfg model.ArbitrageConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		s.log.Warn("unreadable arbitrage config, using defaults", "err", err)
		return model.DefaultArbitrageConfig()
	}
	return cfg
}

// persist atomically commits the status snapshot together with this tick's
// trades, then publishes the snapshot to readers. Persistence failures are
// logged; the in-memory snapshot is still published so readers track the
// session even when the disk is unhappy.
func (s *Session) persist(ctx context.Context, trades []model.Trade) model.LiveSnapshot {
	snap := s.st.snapshot(s.now())

	payload, err := json.Marshal(snap)
	if err != nil {
		s.log.Error("marshal live status", "err", err)
		return s.publish(&snap)
	}

	start := s.now()
	if err := s.store.CommitTick(ctx, store.KeyLiveStatus, payload, trades); err != nil {
		s.log.Error("persist live tick", "err", err, "trades", len(trades))
	} else if s.metrics != nil {
		s.metrics.CommitDur.Observe(time.Since(start).Seconds())
	}
	return s.publish(&snap)
}

// publish swaps in the snapshot for readers. A nil snap republishes the
// current state (used before the first persist).
func (s *Session) publish(snap *model.LiveSnapshot) model.LiveSnapshot {
	if snap == nil {
		built := s.st.snapshot(s.now())
		snap = &built
	}
	s.snap.Store(snap)
	if s.onSnapshot != nil {
		s.onSnapshot(*snap)
	}
	return *snap
}

func (s *Session) alert(ctx context.Context, level notification.AlertLevel, title, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, notification.Alert{Level: level, Title: title, Message: msg}); err != nil {
		s.log.Warn("notification failed", "title", title, "err", err)
	}
}

// snapshot copies the state into an immutable view. Pointer fields are
// duplicated so later ticks cannot mutate a published snapshot.
func (st *state) snapshot(now time.Time) model.LiveSnapshot {
	snap := model.LiveSnapshot{
		Running:       st.running,
		State:         st.phase,
		IntervalMs:    st.intervalMs,
		StartingCash:  st.wallet.StartingCash,
		Balance:       model.Round2(st.wallet.Balance),
		Position:      model.Round8(st.wallet.Position),
		Cycles:        st.cycles,
		TradesToday:   st.wallet.TradesToday,
		PnLToday:      model.Round2(st.wallet.PnLToday),
		Guardrails:    st.guardrails,
		NextAllowedTs: st.nextAllowedTs,
		LastAction:    st.lastAction,
		LastError:     st.lastError,
		Price:         st.price,
		Timestamp:     now.UTC(),
	}
	if st.wallet.EntryPrice != nil {
		entry := *st.wallet.EntryPrice
		snap.EntryPrice = &entry
	}
	if st.lastRun != nil {
		run := *st.lastRun
		snap.LastRun = &run
	}
	if st.indicators != nil {
		ind := make(model.IndicatorSet, len(st.indicators))
		for k, v := range st.indicators {
			ind[k] = v
		}
		snap.Indicators = ind
	}
	if st.lastArbitrage != nil {
		arb := *st.lastArbitrage
		snap.LastArbitrage = &arb
	}
	return snap
}

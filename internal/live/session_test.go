package live

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"sentinelsniper/internal/model"
	"sentinelsniper/internal/portfolio"
	"sentinelsniper/internal/store"
)

type fakeSnapshots struct {
	snap model.MarketSnapshot
	err  error
}

func (f *fakeSnapshots) Build(ctx context.Context, strat *model.Strategy) (model.MarketSnapshot, error) {
	if f.err != nil {
		return model.MarketSnapshot{}, f.err
	}
	return f.snap, nil
}

type fakeScanner struct {
	result *model.ArbitrageResult
	calls  int
}

func (f *fakeScanner) Scan(ctx context.Context, symbol, quote string) *model.ArbitrageResult {
	f.calls++
	if f.result == nil {
		return &model.ArbitrageResult{Symbol: symbol, Quote: quote}
	}
	return f.result
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func saveStrategy(t *testing.T, kv store.KV, buy, sell string) {
	t.Helper()
	strat := model.Strategy{
		Modules: []model.StrategyModule{
			{Type: "RSI", Params: model.ModuleParams{Period: 14}},
			{Type: model.ExecutionLogicType, Params: model.ModuleParams{Buy: buy, Sell: sell}},
		},
	}
	raw, err := json.Marshal(strat)
	if err != nil {
		t.Fatal(err)
	}
	if err := kv.Put(context.Background(), store.KeyStrategy, raw); err != nil {
		t.Fatal(err)
	}
}

// testSession builds a session primed as running without starting the
// scheduler, so ticks can be driven manually.
func testSession(t *testing.T, mem *store.Memory, snaps SnapshotSource, scanner ArbScanner) *Session {
	t.Helper()
	s := NewSession(Deps{
		Snapshots: snaps,
		Scanner:   scanner,
		Store:     mem,
		Logger:    quietLogger(),
	})
	s.st.running = true
	s.st.phase = model.StateRunning
	s.st.wallet = portfolio.NewWallet(50)
	s.st.guardrails = model.Guardrails{MaxDailyLoss: 5, MaxPosition: 50}
	return s
}

func marketSnap(price, rsi float64) model.MarketSnapshot {
	return model.MarketSnapshot{
		Price:      price,
		Indicators: model.IndicatorSet{"RSI": rsi, "Sentiment": 0.5},
	}
}

func TestTickBuyOpensPosition(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30 && Sentiment > 0", "RSI > 70")

	snaps := &fakeSnapshots{snap: marketSnap(100, 25)}
	s := testSession(t, mem, snaps, nil)

	snap := s.Tick(ctx)

	if snap.LastAction != model.ActionBuy {
		t.Fatalf("lastAction = %q, want buy", snap.LastAction)
	}
	if snap.Position != 0.5 {
		t.Errorf("position = %v, want 0.5 (50 cash at price 100)", snap.Position)
	}
	if snap.Balance != 0 {
		t.Errorf("balance = %v, want 0", snap.Balance)
	}
	if snap.EntryPrice == nil || *snap.EntryPrice != 100 {
		t.Errorf("entryPrice = %v, want 100", snap.EntryPrice)
	}
	if snap.TradesToday != 1 || snap.Cycles != 1 {
		t.Errorf("tradesToday = %d cycles = %d, want 1/1", snap.TradesToday, snap.Cycles)
	}

	trades, err := mem.Trades(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 || trades[0].Kind != model.TradeStrategy || trades[0].Action != model.ActionBuy {
		t.Fatalf("journal = %+v, want one strategy buy", trades)
	}
}

func TestTickSellRealizesPnL(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	snaps := &fakeSnapshots{snap: marketSnap(100, 25)}
	s := testSession(t, mem, snaps, nil)
	s.Tick(ctx) // open at 100

	snaps.snap = marketSnap(110, 80)
	snap := s.Tick(ctx)

	if snap.LastAction != model.ActionSell {
		t.Fatalf("lastAction = %q, want sell", snap.LastAction)
	}
	if snap.Position != 0 || snap.EntryPrice != nil {
		t.Errorf("position = %v entry = %v, want flat", snap.Position, snap.EntryPrice)
	}
	if snap.Balance != 55 {
		t.Errorf("balance = %v, want 55 (0.5 units sold at 110)", snap.Balance)
	}
	if snap.PnLToday != 5 {
		t.Errorf("pnlToday = %v, want 5", snap.PnLToday)
	}
}

func TestTickHoldWhenNoSignal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 50)}, nil)
	snap := s.Tick(ctx)

	if snap.LastAction != model.ActionHold {
		t.Fatalf("lastAction = %q, want hold", snap.LastAction)
	}
	if trades, _ := mem.Trades(ctx, 0); len(trades) != 0 {
		t.Errorf("journal has %d trades, want none", len(trades))
	}
	if snap.Cycles != 1 {
		t.Errorf("cycles = %d, want 1 (hold still counts)", snap.Cycles)
	}
}

func TestGuardrailHaltsBeforeSignals(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	// A strategy that would otherwise buy immediately.
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 25)}, nil)
	s.st.guardrails.MaxDailyLoss = 5
	s.st.wallet.PnLToday = -5.01

	snap := s.Tick(ctx)

	if snap.State != model.StateHalted {
		t.Fatalf("state = %q, want %q", snap.State, model.StateHalted)
	}
	if snap.Running {
		t.Error("session must stop scheduling after guardrail trip")
	}
	if trades, _ := mem.Trades(ctx, 0); len(trades) != 0 {
		t.Error("no position-opening trade may occur after the trip")
	}

	// Later ticks are no-ops until an explicit restart.
	again := s.Tick(ctx)
	if again.State != model.StateHalted || again.Cycles != snap.Cycles {
		t.Error("halted session must ignore further ticks")
	}
}

func TestTickSnapshotFailureIsNonTerminal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	snaps := &fakeSnapshots{err: errors.New("venue down")}
	s := testSession(t, mem, snaps, nil)

	snap := s.Tick(ctx)
	if snap.State != model.StateError {
		t.Fatalf("state = %q, want error", snap.State)
	}
	if !snap.Running {
		t.Error("error state must not stop scheduling")
	}
	if snap.LastError == "" {
		t.Error("failure reason must be retained")
	}

	// Recovery: the next good tick clears the error.
	snaps.err = nil
	snaps.snap = marketSnap(100, 50)
	snap = s.Tick(ctx)
	if snap.State != model.StateRunning || snap.LastError != "" {
		t.Errorf("state = %q lastError = %q, want running recovery", snap.State, snap.LastError)
	}
}

func TestTickRejectsNonPositivePrice(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(0, 25)}, nil)
	if snap := s.Tick(ctx); snap.State != model.StateError {
		t.Fatalf("state = %q, want error for missing price", snap.State)
	}
}

func TestStatusIdempotent(t *testing.T) {
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 50)}, nil)
	s.Tick(context.Background())

	first := s.Status()
	second := s.Status()
	if !reflect.DeepEqual(first, second) {
		t.Error("consecutive status reads without a tick must be identical")
	}
}

func TestTickSkippedWhileBusy(t *testing.T) {
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 25)}, nil)
	s.tickBusy.Store(true)

	snap := s.Tick(context.Background())
	if snap.Cycles != 0 || snap.LastAction != model.StateIdle {
		t.Error("overlapping tick must be dropped, not queued")
	}
	s.tickBusy.Store(false)
}

func TestCooldownSkipsTicks(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 25)}, nil)
	s.st.guardrails.CooldownMs = int64(time.Hour / time.Millisecond)

	first := s.Tick(ctx) // buys, arms the cooldown
	if first.LastAction != model.ActionBuy {
		t.Fatalf("lastAction = %q, want buy", first.LastAction)
	}
	second := s.Tick(ctx)
	if second.Cycles != first.Cycles {
		t.Error("tick inside the cooldown window must be skipped")
	}
}

func TestArbitrageLegExecutes(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	scanner := &fakeScanner{result: &model.ArbitrageResult{
		Symbol: "BTC", Quote: "USDT",
		Best: &model.ArbitrageOpportunity{
			Path:     model.VenuePair{Buy: "binance", Sell: "kraken"},
			BuyPrice: 100, SellPrice: 101,
			GrossPct: 1.0, FeesPct: 0.36, NetPct: 0.64,
		},
	}}
	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 50)}, scanner)

	snap := s.Tick(ctx)

	// notional = min(25 default, 50 balance) = 25; pnl = 25 * 0.64% = 0.16
	if snap.Balance != 50.16 {
		t.Errorf("balance = %v, want 50.16", snap.Balance)
	}
	if snap.PnLToday != 0.16 {
		t.Errorf("pnlToday = %v, want 0.16", snap.PnLToday)
	}
	if snap.LastArbitrage == nil || snap.LastArbitrage.Kind != model.TradeArbitrage {
		t.Fatal("lastArbitrage must carry the executed trade")
	}
	if snap.LastAction != model.ActionHold {
		t.Error("arbitrage must not affect the strategy action")
	}

	trades, _ := mem.Trades(ctx, 0)
	if len(trades) != 1 || trades[0].Kind != model.TradeArbitrage {
		t.Fatalf("journal = %+v, want one arbitrage trade", trades)
	}
}

func TestArbitrageBelowSpreadSkipped(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	scanner := &fakeScanner{result: &model.ArbitrageResult{
		Best: &model.ArbitrageOpportunity{NetPct: 0.1, GrossPct: 0.5, FeesPct: 0.4},
	}}
	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 50)}, scanner)

	snap := s.Tick(ctx)
	if snap.Balance != 50 || snap.LastArbitrage != nil {
		t.Error("spread below the configured minimum must not trade")
	}
	if scanner.calls != 1 {
		t.Errorf("scanner calls = %d, want 1", scanner.calls)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	s := NewSession(Deps{
		Snapshots: &fakeSnapshots{snap: marketSnap(100, 50)},
		Store:     mem,
		Logger:    quietLogger(),
	})
	if got := s.Status().State; got != model.StateIdle {
		t.Fatalf("initial state = %q, want idle", got)
	}

	cfg := model.DefaultLiveConfig()
	cfg.IntervalMs = 3_600_000 // no scheduled tick during the test
	cfg.StartingCash = 80

	snap, err := s.Start(ctx, cfg)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if snap.State != model.StateRunning || snap.Balance != 80 {
		t.Fatalf("start snapshot = %q/%v, want running/80", snap.State, snap.Balance)
	}
	if _, err := s.Start(ctx, cfg); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start err = %v, want ErrAlreadyRunning", err)
	}

	stopped := s.Stop(ctx)
	if stopped.State != model.StateStopped || stopped.Running {
		t.Fatalf("stop snapshot = %q running=%v, want stopped", stopped.State, stopped.Running)
	}

	// Status is served from the persisted snapshot path as well.
	raw, err := mem.Get(ctx, store.KeyLiveStatus)
	if err != nil {
		t.Fatalf("persisted status: %v", err)
	}
	var persisted model.LiveSnapshot
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.State != model.StateStopped {
		t.Errorf("persisted state = %q, want stopped", persisted.State)
	}

	// Restart resets the portfolio.
	cfg.StartingCash = 60
	snap, err = s.Start(ctx, cfg)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if snap.Balance != 60 || snap.Cycles != 0 || snap.PnLToday != 0 {
		t.Errorf("restart must reset counters, got %+v", snap)
	}
	s.Stop(ctx)
}

func TestMissingStrategyFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	// No strategy stored: default buys oversold with positive sentiment.
	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 25)}, nil)

	if snap := s.Tick(ctx); snap.LastAction != model.ActionBuy {
		t.Fatalf("lastAction = %q, want buy from default strategy", snap.LastAction)
	}
}

func TestCustomArbitrageConfigRespected(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	saveStrategy(t, mem, "RSI < 30", "RSI > 70")

	cfg := model.ArbitrageConfig{Enabled: false, Symbol: "BTC", Quote: "USDT", MinNetSpreadPct: 0.25, Notional: 25}
	raw, _ := json.Marshal(cfg)
	if err := mem.Put(ctx, store.KeyArbConfig, raw); err != nil {
		t.Fatal(err)
	}

	scanner := &fakeScanner{}
	s := testSession(t, mem, &fakeSnapshots{snap: marketSnap(100, 50)}, scanner)
	s.Tick(ctx)

	if scanner.calls != 0 {
		t.Error("disabled arbitrage must not scan")
	}
}

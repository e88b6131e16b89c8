package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentinelsniper/internal/backtest"
	"sentinelsniper/internal/live"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/store"
)

type fakeMarket struct {
	candles []model.Candle
	err     error
}

func (f *fakeMarket) Candles(ctx context.Context, symbol, interval string, count int) ([]model.Candle, error) {
	return f.candles, f.err
}

type fakeSnapshots struct {
	snap model.MarketSnapshot
	err  error
}

func (f *fakeSnapshots) Build(ctx context.Context, strat *model.Strategy) (model.MarketSnapshot, error) {
	return f.snap, f.err
}

type fakeSentiment struct{ score float64 }

func (f *fakeSentiment) Score(ctx context.Context, text string) (float64, error) {
	return f.score, nil
}

type fakeScanner struct {
	calls  int
	symbol string
	quote  string
}

func (f *fakeScanner) Scan(ctx context.Context, symbol, quote string) *model.ArbitrageResult {
	f.calls++
	f.symbol, f.quote = symbol, quote
	return &model.ArbitrageResult{
		Symbol: symbol,
		Quote:  quote,
		Prices: map[string]float64{"binance": 100, "kraken": 101},
		Best: &model.ArbitrageOpportunity{
			Path:   model.VenuePair{Buy: "binance", Sell: "kraken"},
			NetPct: 0.64,
		},
	}
}

type fakeSession struct {
	running bool
	started *model.LiveConfig
	stopped bool
}

func (f *fakeSession) Start(ctx context.Context, cfg model.LiveConfig) (model.LiveSnapshot, error) {
	if f.running {
		return model.LiveSnapshot{}, live.ErrAlreadyRunning
	}
	f.running = true
	f.started = &cfg
	return model.LiveSnapshot{Running: true, State: model.StateRunning, IntervalMs: cfg.IntervalMs}, nil
}

func (f *fakeSession) Stop(ctx context.Context) model.LiveSnapshot {
	f.running = false
	f.stopped = true
	return model.LiveSnapshot{Running: false, State: model.StateStopped}
}

func (f *fakeSession) Status() model.LiveSnapshot {
	return model.LiveSnapshot{Running: f.running}
}

type testEnv struct {
	server  *Server
	mem     *store.Memory
	market  *fakeMarket
	snaps   *fakeSnapshots
	scanner *fakeScanner
	session *fakeSession
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	env := &testEnv{
		mem:    mem,
		market: &fakeMarket{},
		snaps: &fakeSnapshots{snap: model.MarketSnapshot{
			Price:      100,
			Indicators: model.IndicatorSet{"RSI": 50, "Sentiment": 0},
		}},
		scanner: &fakeScanner{},
		session: &fakeSession{},
	}
	env.server = NewServer(":0", Deps{
		Store:     mem,
		Market:    env.market,
		Snapshots: env.snaps,
		Sentiment: &fakeSentiment{score: 0.5},
		Scanner:   env.scanner,
		Session:   env.session,
		Backtests: backtest.NewRunner(mem, nil, nil),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestPreview_HoldWithSimulatedBlock(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/preview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Action    string `json:"action"`
		Logic     struct{ Buy, Sell string }
		Simulated struct {
			Profit   float64 `json:"profit"`
			Accuracy string  `json:"accuracy"`
		} `json:"simulated"`
	}
	decode(t, w, &resp)
	if resp.Action != "hold" {
		t.Errorf("action = %q, want hold", resp.Action)
	}
	if resp.Simulated.Profit != 0 {
		t.Errorf("simulated profit = %v, want 0", resp.Simulated.Profit)
	}
	if resp.Simulated.Accuracy != "N/A" {
		t.Errorf("accuracy = %q", resp.Simulated.Accuracy)
	}
	if resp.Logic.Buy == "" || resp.Logic.Sell == "" {
		t.Errorf("logic not echoed: %+v", resp.Logic)
	}
}

func TestTestSim_BuyAppliesOneStep(t *testing.T) {
	env := newTestEnv(t)
	env.snaps.snap.Indicators = model.IndicatorSet{"RSI": 25, "Sentiment": 0.5}

	w := env.do(t, "GET", "/api/test-sim", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Action     string `json:"action"`
		Simulation struct {
			StartingCash    float64 `json:"startingCash"`
			PositionSize    float64 `json:"positionSize"`
			SimulatedProfit float64 `json:"simulatedProfit"`
			EndingBalance   float64 `json:"endingBalance"`
			Confidence      float64 `json:"confidence"`
		} `json:"simulation"`
	}
	decode(t, w, &resp)
	if resp.Action != "buy" {
		t.Fatalf("action = %q, want buy", resp.Action)
	}
	if resp.Simulation.SimulatedProfit != 0.75 {
		t.Errorf("simulatedProfit = %v, want 0.75", resp.Simulation.SimulatedProfit)
	}
	if resp.Simulation.EndingBalance != 50.75 {
		t.Errorf("endingBalance = %v, want 50.75", resp.Simulation.EndingBalance)
	}
	if resp.Simulation.PositionSize != 50 {
		t.Errorf("positionSize = %v, want 50", resp.Simulation.PositionSize)
	}
	if resp.Simulation.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", resp.Simulation.Confidence)
	}
}

func TestPreview_SnapshotFailure(t *testing.T) {
	env := newTestEnv(t)
	env.snaps.err = errors.New("binance down")

	w := env.do(t, "GET", "/api/preview", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func backtestCandlesFixture(n int) []model.Candle {
	candles := make([]model.Candle, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = model.Candle{
			OpenTime: base.Add(time.Duration(i) * 15 * time.Minute).UnixMilli(),
			Open:     100, High: 100, Low: 100, Close: 100,
		}
	}
	return candles
}

func TestBacktest_RunSummaryAndHistory(t *testing.T) {
	env := newTestEnv(t)
	env.market.candles = backtestCandlesFixture(30)

	w := env.do(t, "GET", "/api/backtest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("backtest status = %d, body %s", w.Code, w.Body.String())
	}
	var result model.BacktestResult
	decode(t, w, &result)
	if result.StartingCash != 50 {
		t.Errorf("startingCash = %v, want 50", result.StartingCash)
	}
	if result.CandlesAnalyzed != 16 {
		t.Errorf("candlesAnalyzed = %d, want 16", result.CandlesAnalyzed)
	}

	w = env.do(t, "GET", "/api/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary status = %d", w.Code)
	}
	var summary model.BacktestSummary
	decode(t, w, &summary)
	if summary.CandlesAnalyzed != result.CandlesAnalyzed {
		t.Errorf("summary does not match run: %+v", summary)
	}

	w = env.do(t, "GET", "/api/history?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var page model.BacktestPage
	decode(t, w, &page)
	if page.Count != 1 || len(page.Results) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Limit != 5 || page.Offset != 0 {
		t.Errorf("paging echoed wrong: limit %d offset %d", page.Limit, page.Offset)
	}
	if page.Results[0].Trades != nil {
		t.Errorf("trades included without includeTrades=true")
	}
}

func TestSummary_NotFoundBeforeFirstRun(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/summary", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestBacktest_CandleFetchFailure(t *testing.T) {
	env := newTestEnv(t)
	env.market.err = errors.New("binance down")

	w := env.do(t, "GET", "/api/backtest", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestStrategy_DefaultThenSaveRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/strategy", nil)
	var st model.Strategy
	decode(t, w, &st)
	if _, _, ok := st.ExecutionLogic(); !ok {
		t.Fatalf("default strategy has no execution logic: %+v", st)
	}

	custom := model.Strategy{
		Name: "custom",
		Modules: []model.StrategyModule{
			{Type: "RSI", Params: model.ModuleParams{Period: 7}},
			{Type: model.ExecutionLogicType, Params: model.ModuleParams{
				Buy: "RSI < 20", Sell: "RSI > 80",
			}},
		},
	}
	w = env.do(t, "POST", "/api/strategy", custom)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body %s", w.Code, w.Body.String())
	}

	raw, err := env.mem.Get(context.Background(), store.KeyStrategy)
	if err != nil {
		t.Fatalf("strategy not persisted: %v", err)
	}
	var persisted model.Strategy
	if err := json.Unmarshal(raw, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.Name != "custom" || persisted.RSIPeriod(14) != 7 {
		t.Errorf("persisted = %+v", persisted)
	}

	w = env.do(t, "GET", "/api/strategy", nil)
	decode(t, w, &st)
	if st.Name != "custom" {
		t.Errorf("reload returned %q, want custom", st.Name)
	}
}

func TestStrategy_RejectsBadExpression(t *testing.T) {
	env := newTestEnv(t)
	bad := model.Strategy{Modules: []model.StrategyModule{
		{Type: model.ExecutionLogicType, Params: model.ModuleParams{
			Buy: "RSI <", Sell: "RSI > 70",
		}},
	}}
	w := env.do(t, "POST", "/api/strategy", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
}

func TestArbScan_QueryOverridesConfig(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/arbitrage/scan?symbol=eth", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.scanner.symbol != "ETH" || env.scanner.quote != "USDT" {
		t.Errorf("scanner got %s/%s, want ETH/USDT", env.scanner.symbol, env.scanner.quote)
	}
	var resp struct {
		Config model.ArbitrageConfig `json:"config"`
		Best   *model.ArbitrageOpportunity
	}
	decode(t, w, &resp)
	if resp.Config.Symbol != "ETH" {
		t.Errorf("config.symbol = %q, want ETH", resp.Config.Symbol)
	}
	if resp.Best == nil || resp.Best.NetPct != 0.64 {
		t.Errorf("best = %+v", resp.Best)
	}
}

func TestArbConfig_PatchMergesAndPersists(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/arbitrage-config", nil)
	var cfg model.ArbitrageConfig
	decode(t, w, &cfg)
	if !cfg.Enabled || cfg.Symbol != "BTC" {
		t.Fatalf("default config = %+v", cfg)
	}

	enabled := false
	notional := 10.0
	w = env.do(t, "POST", "/api/arbitrage-config", map[string]any{
		"enabled":  enabled,
		"symbol":   "eth",
		"notional": notional,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	decode(t, w, &cfg)
	if cfg.Enabled || cfg.Symbol != "ETH" || cfg.Notional != 10 {
		t.Errorf("patched = %+v", cfg)
	}
	if cfg.MinNetSpreadPct != 0.25 {
		t.Errorf("untouched field changed: %v", cfg.MinNetSpreadPct)
	}

	w = env.do(t, "GET", "/api/arbitrage-config", nil)
	decode(t, w, &cfg)
	if cfg.Enabled || cfg.Symbol != "ETH" {
		t.Errorf("patch not persisted: %+v", cfg)
	}
}

func TestLiveStart_PassesGuardrails(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/live-start", map[string]any{
		"intervalMs":   30000,
		"startingCash": 80,
		"maxDailyLoss": 8,
		"maxPosition":  40,
		"cooldownMs":   5000,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := env.session.started
	if got == nil {
		t.Fatal("session never started")
	}
	if got.IntervalMs != 30000 || got.StartingCash != 80 {
		t.Errorf("config = %+v", got)
	}
	if got.Guardrails.MaxDailyLoss != 8 || got.Guardrails.CooldownMs != 5000 {
		t.Errorf("guardrails = %+v", got.Guardrails)
	}

	w = env.do(t, "POST", "/api/live-start", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("second start status = %d, want 400", w.Code)
	}
}

func TestLiveStopAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, "POST", "/api/live-start", nil)

	w := env.do(t, "GET", "/api/live-status", nil)
	var snap model.LiveSnapshot
	decode(t, w, &snap)
	if !snap.Running {
		t.Fatalf("status running = false after start")
	}

	w = env.do(t, "POST", "/api/live-stop", nil)
	var resp struct {
		OK   bool               `json:"ok"`
		Live model.LiveSnapshot `json:"live"`
	}
	decode(t, w, &resp)
	if !resp.OK || resp.Live.State != model.StateStopped {
		t.Errorf("stop response = %+v", resp)
	}
	if !env.session.stopped {
		t.Error("session.Stop not called")
	}
}

func TestLiveStatus_ServesPersistedWhenNotRunning(t *testing.T) {
	env := newTestEnv(t)
	persisted := model.LiveSnapshot{State: model.StateHalted, PnLToday: -6}
	raw, _ := json.Marshal(persisted)
	if err := env.mem.Put(context.Background(), store.KeyLiveStatus, raw); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/api/live-status", nil)
	var snap model.LiveSnapshot
	decode(t, w, &snap)
	if snap.State != model.StateHalted || snap.PnLToday != -6 {
		t.Errorf("status = %+v, want persisted halted snapshot", snap)
	}
}

func TestLiveTrades_EmptyAndLimit(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/live-trades", nil)
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("empty trades body = %q, want []", body)
	}

	trades := make([]model.Trade, 5)
	for i := range trades {
		trades[i] = model.Trade{Action: model.ActionBuy, PnL: float64(i)}
	}
	if err := env.mem.AppendTrades(context.Background(), trades); err != nil {
		t.Fatal(err)
	}

	w = env.do(t, "GET", "/api/live-trades?limit=2", nil)
	var got []model.Trade
	decode(t, w, &got)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].PnL != 4 {
		t.Errorf("expected newest trades, got %+v", got)
	}
}

func TestHealth_FallbackHandler(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("body = %v", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	// Paths that exist but with the wrong method must come back as 405,
	// not fall through to the 404 handler.
	cases := []struct {
		method, path string
	}{
		{"DELETE", "/api/strategy"},
		{"POST", "/api/preview"},
		{"GET", "/api/live-start"},
	}
	for _, tc := range cases {
		w := env.do(t, tc.method, tc.path, nil)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status = %d, want 405", tc.method, tc.path, w.Code)
		}
	}
}

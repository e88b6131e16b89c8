package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"sentinelsniper/internal/backtest"
	"sentinelsniper/internal/live"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/store"
	"sentinelsniper/internal/strategy"
)

// Backtest runs replay a fixed slice of recent Binance history.
const (
	backtestSymbol   = "BTCUSDT"
	backtestInterval = "15m"
	backtestCandles  = 672 // one week of 15m candles

	backtestSentimentPrompt = "Bitcoin market sentiment over the past week"
)

func (s *Server) loadStrategy(ctx context.Context) model.Strategy {
	raw, err := s.deps.Store.Get(ctx, store.KeyStrategy)
	if err == nil {
		var st model.Strategy
		if json.Unmarshal(raw, &st) == nil {
			return st
		}
		s.log.Warn("stored strategy unreadable, using default")
	}
	return model.DefaultStrategy()
}

func (s *Server) loadArbConfig(ctx context.Context) model.ArbitrageConfig {
	cfg := model.DefaultArbitrageConfig()
	raw, err := s.deps.Store.Get(ctx, store.KeyArbConfig)
	if err == nil && json.Unmarshal(raw, &cfg) != nil {
		return model.DefaultArbitrageConfig()
	}
	return cfg
}

// simulated is the toy outcome block attached to preview responses.
type simulated struct {
	Profit     float64 `json:"profit"`
	Confidence float64 `json:"confidence"`
	Accuracy   string  `json:"accuracy"`
}

func stepProfit(action string, base float64) float64 {
	switch action {
	case model.ActionBuy:
		return base * backtest.BuyReturn
	case model.ActionSell:
		return base * backtest.SellReturn
	}
	return 0
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	strat := s.loadStrategy(ctx)
	snap, err := s.deps.Snapshots.Build(ctx, &strat)
	if err != nil {
		s.log.Error("preview snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to simulate preview")
		return
	}
	p := strategy.EvaluatePreview(&strat, snap)

	writeJSON(w, http.StatusOK, struct {
		strategy.Preview
		Simulated simulated `json:"simulated"`
	}{
		Preview: p,
		Simulated: simulated{
			Profit:     stepProfit(p.Action, 1),
			Confidence: model.Round2(snap.Indicators["Sentiment"]),
			Accuracy:   "N/A",
		},
	})
}

func (s *Server) handleTestSim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startingCash := backtest.DefaultStartingCash

	strat := s.loadStrategy(ctx)
	snap, err := s.deps.Snapshots.Build(ctx, &strat)
	if err != nil {
		s.log.Error("test-sim snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to simulate test tick")
		return
	}
	p := strategy.EvaluatePreview(&strat, snap)
	profit := stepProfit(p.Action, startingCash)

	writeJSON(w, http.StatusOK, struct {
		strategy.Preview
		Simulation struct {
			StartingCash    float64 `json:"startingCash"`
			PositionSize    float64 `json:"positionSize"`
			SimulatedProfit float64 `json:"simulatedProfit"`
			EndingBalance   float64 `json:"endingBalance"`
			Confidence      float64 `json:"confidence"`
		} `json:"simulation"`
	}{
		Preview: p,
		Simulation: struct {
			StartingCash    float64 `json:"startingCash"`
			PositionSize    float64 `json:"positionSize"`
			SimulatedProfit float64 `json:"simulatedProfit"`
			EndingBalance   float64 `json:"endingBalance"`
			Confidence      float64 `json:"confidence"`
		}{
			StartingCash:    startingCash,
			PositionSize:    startingCash,
			SimulatedProfit: model.Round4(profit),
			EndingBalance:   model.Round2(startingCash + profit),
			Confidence:      model.Round2(snap.Indicators["Sentiment"]),
		},
	})
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	strat := s.loadStrategy(ctx)

	candles, err := s.deps.Market.Candles(ctx, backtestSymbol, backtestInterval, backtestCandles)
	if err != nil || len(candles) == 0 {
		s.log.Error("backtest candles", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch backtest data")
		return
	}

	sentiment := 0.0
	if s.deps.Sentiment != nil {
		score, err := s.deps.Sentiment.Score(ctx, backtestSentimentPrompt)
		if err != nil {
			s.log.Warn("backtest sentiment unavailable, defaulting to 0", "error", err)
		} else {
			sentiment = score
		}
	}

	result, err := s.deps.Backtests.RunAndArchive(ctx, &strat, candles, sentiment, backtest.DefaultStartingCash)
	if err != nil {
		s.log.Error("backtest run", "error", err)
		writeError(w, http.StatusInternalServerError, "backtest failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Backtests.LastSummary(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no summary available yet")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 20)
	offset := queryInt(q.Get("offset"), 0)
	includeTrades := strings.EqualFold(q.Get("includeTrades"), "true")

	page, err := s.deps.Backtests.History(r.Context(), offset, limit, includeTrades)
	if err != nil {
		s.log.Error("history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	st := s.loadStrategy(r.Context())
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutStrategy(w http.ResponseWriter, r *http.Request) {
	var st model.Strategy
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy JSON")
		return
	}
	if err := strategy.Validate(&st); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := json.Marshal(st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save strategy")
		return
	}
	if err := s.deps.Store.Put(r.Context(), store.KeyStrategy, raw); err != nil {
		s.log.Error("save strategy", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save strategy")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleArbScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "arbitrage scanner unavailable")
		return
	}
	ctx := r.Context()
	cfg := s.loadArbConfig(ctx)
	if sym := r.URL.Query().Get("symbol"); sym != "" {
		cfg.Symbol = strings.ToUpper(sym)
	}
	if quote := r.URL.Query().Get("quote"); quote != "" {
		cfg.Quote = strings.ToUpper(quote)
	}

	scan := s.deps.Scanner.Scan(ctx, cfg.Symbol, cfg.Quote)
	writeJSON(w, http.StatusOK, struct {
		Config model.ArbitrageConfig `json:"config"`
		*model.ArbitrageResult
	}{Config: cfg, ArbitrageResult: scan})
}

func (s *Server) handleGetArbConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loadArbConfig(r.Context()))
}

// arbConfigPatch is a partial update; nil fields keep their current value.
type arbConfigPatch struct {
	Enabled         *bool    `json:"enabled"`
	Symbol          string   `json:"symbol"`
	Quote           string   `json:"quote"`
	MinNetSpreadPct *float64 `json:"minNetSpreadPct"`
	Notional        *float64 `json:"notional"`
}

func (s *Server) handlePostArbConfig(w http.ResponseWriter, r *http.Request) {
	var patch arbConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config JSON")
		return
	}

	ctx := r.Context()
	cfg := s.loadArbConfig(ctx)
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.Symbol != "" {
		cfg.Symbol = strings.ToUpper(patch.Symbol)
	}
	if patch.Quote != "" {
		cfg.Quote = strings.ToUpper(patch.Quote)
	}
	if patch.MinNetSpreadPct != nil {
		cfg.MinNetSpreadPct = *patch.MinNetSpreadPct
	}
	if patch.Notional != nil {
		cfg.Notional = *patch.Notional
	}

	raw, _ := json.Marshal(cfg)
	if err := s.deps.Store.Put(ctx, store.KeyArbConfig, raw); err != nil {
		s.log.Error("save arbitrage config", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// liveStartRequest mirrors the flat start payload the dashboard sends.
type liveStartRequest struct {
	IntervalMs   int64   `json:"intervalMs"`
	StartingCash float64 `json:"startingCash"`
	MaxDailyLoss float64 `json:"maxDailyLoss"`
	MaxPosition  float64 `json:"maxPosition"`
	CooldownMs   int64   `json:"cooldownMs"`
}

func (s *Server) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	var req liveStartRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid start payload")
			return
		}
	}

	snap, err := s.deps.Session.Start(r.Context(), model.LiveConfig{
		IntervalMs:   req.IntervalMs,
		StartingCash: req.StartingCash,
		Guardrails: model.Guardrails{
			MaxDailyLoss: req.MaxDailyLoss,
			MaxPosition:  req.MaxPosition,
			CooldownMs:   req.CooldownMs,
		},
	})
	if err != nil {
		if errors.Is(err, live.ErrAlreadyRunning) {
			writeError(w, http.StatusBadRequest, "live already running")
			return
		}
		s.log.Error("live start", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start live session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "live": snap})
}

func (s *Server) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Session.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "live": snap})
}

func (s *Server) handleLiveStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Session.Status()
	if !snap.Running {
		// Surface the persisted status across restarts.
		if raw, err := s.deps.Store.Get(r.Context(), store.KeyLiveStatus); err == nil {
			w.WriteHeader(http.StatusOK)
			w.Write(raw)
			return
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleLiveTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 0)
	trades, err := s.deps.Store.Trades(r.Context(), limit)
	if err != nil {
		s.log.Error("live trades", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load live trades")
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

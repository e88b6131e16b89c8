// Package api exposes the decision engine over HTTP: strategy preview and
// persistence, backtests and their archive, the arbitrage scanner, and the
// live session controls, plus a websocket feed of live status snapshots.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"sentinelsniper/internal/live"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/store"
)

// CandleSource fetches recent candles for a symbol/interval pair.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, count int) ([]model.Candle, error)
}

// SentimentSource scores a prompt in [-1, 1].
type SentimentSource interface {
	Score(ctx context.Context, text string) (float64, error)
}

// LiveController is the slice of the live session the API needs.
type LiveController interface {
	Start(ctx context.Context, cfg model.LiveConfig) (model.LiveSnapshot, error)
	Stop(ctx context.Context) model.LiveSnapshot
	Status() model.LiveSnapshot
}

// BacktestRunner runs and archives backtests and serves the archive.
type BacktestRunner interface {
	RunAndArchive(ctx context.Context, strat *model.Strategy, candles []model.Candle, sentiment float64, startingCash float64) (model.BacktestResult, error)
	LastSummary(ctx context.Context) (model.BacktestSummary, error)
	History(ctx context.Context, offset, limit int, includeTrades bool) (model.BacktestPage, error)
}

// Deps wires the server's collaborators. Sentiment, Scanner, Health and WS
// may be nil; the matching endpoints degrade or return 503.
type Deps struct {
	Log       *slog.Logger
	Store     store.Store
	Market    CandleSource
	Snapshots live.SnapshotSource
	Sentiment SentimentSource
	Scanner   live.ArbScanner
	Session   LiveController
	Backtests BacktestRunner
	Health    http.Handler
	WS        http.HandlerFunc
}

// Server is the HTTP front of the engine. All endpoints are JSON.
type Server struct {
	deps   Deps
	log    *slog.Logger
	router *mux.Router
	server *http.Server
}

// NewServer builds the router. addr is the listen address for Start.
func NewServer(addr string, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	s := &Server{
		deps:   deps,
		log:    deps.Log,
		router: mux.NewRouter(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}
	return s
}

// Handler returns the configured router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.log.Info("http server listening", slog.String("addr", s.server.Addr))
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down, draining in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware)

	// mux resolves a path match with a method mismatch through the router's
	// MethodNotAllowedHandler; without one, sibling routes that fail on the
	// path can flip the result into a plain 404.
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.MethodNotAllowedHandler = methodNotAllowed

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)
	api.MethodNotAllowedHandler = methodNotAllowed

	api.HandleFunc("/preview", s.handlePreview).Methods("GET")
	api.HandleFunc("/test-sim", s.handleTestSim).Methods("GET")

	api.HandleFunc("/backtest", s.handleBacktest).Methods("GET")
	api.HandleFunc("/summary", s.handleSummary).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")

	api.HandleFunc("/strategy", s.handleGetStrategy).Methods("GET")
	api.HandleFunc("/strategy", s.handlePutStrategy).Methods("POST")

	api.HandleFunc("/arbitrage/scan", s.handleArbScan).Methods("GET")
	api.HandleFunc("/arbitrage-config", s.handleGetArbConfig).Methods("GET")
	api.HandleFunc("/arbitrage-config", s.handlePostArbConfig).Methods("POST")

	api.HandleFunc("/live-start", s.handleLiveStart).Methods("POST")
	api.HandleFunc("/live-stop", s.handleLiveStop).Methods("POST")
	api.HandleFunc("/live-status", s.handleLiveStatus).Methods("GET")
	api.HandleFunc("/live-trades", s.handleLiveTrades).Methods("GET")

	if s.deps.Health != nil {
		api.Handle("/health", s.deps.Health).Methods("GET")
	} else {
		api.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}).Methods("GET")
	}

	if s.deps.WS != nil {
		s.router.HandleFunc("/ws", s.deps.WS)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package metrics exposes Prometheus instrumentation for the trading engine
// plus a small HTTP server for /metrics and /healthz.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Live loop
	TicksTotal     prometheus.Counter
	TicksSkipped   prometheus.Counter // overlapping ticks skipped while one runs
	TickErrors     prometheus.Counter
	TickDur        prometheus.Histogram
	GuardrailTrips prometheus.Counter
	TradesTotal    *prometheus.CounterVec // labels: kind, action

	// Arbitrage scanner
	ScansTotal  prometheus.Counter
	ScanDur     prometheus.Histogram
	VenueErrors *prometheus.CounterVec // labels: venue

	// Data adapters
	AdapterRetries *prometheus.CounterVec // labels: adapter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter

	// Backtests
	BacktestsTotal prometheus.Counter
	BacktestDur    prometheus.Histogram

	// Persistence
	CommitDur prometheus.Histogram

	// WS gateway
	WSClients     prometheus.Gauge
	SnapshotDrops prometheus.Counter // ring buffer overflow toward the gateway
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_live_ticks_total",
			Help: "Total live loop ticks executed",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_live_ticks_skipped_total",
			Help: "Ticks skipped because the previous tick was still running",
		}),
		TickErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_live_tick_errors_total",
			Help: "Ticks that ended in the error state",
		}),
		TickDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_live_tick_duration_seconds",
			Help:    "Live tick execution time",
			Buckets: prometheus.DefBuckets,
		}),
		GuardrailTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_guardrail_trips_total",
			Help: "Times the daily-loss guardrail halted the live loop",
		}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Trades emitted by the live loop",
		}, []string{"kind", "action"}),

		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_arbitrage_scans_total",
			Help: "Arbitrage scans executed",
		}),
		ScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_arbitrage_scan_duration_seconds",
			Help:    "Arbitrage scan wall time (all venues joined)",
			Buckets: prometheus.DefBuckets,
		}),
		VenueErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_venue_errors_total",
			Help: "Per-venue price lookup failures",
		}, []string{"venue"}),

		AdapterRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_adapter_retries_total",
			Help: "Retries performed against data adapters",
		}, []string{"adapter"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_price_cache_hits_total",
			Help: "Venue price cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_price_cache_misses_total",
			Help: "Venue price cache misses",
		}),

		BacktestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_backtests_total",
			Help: "Backtest runs completed",
		}),
		BacktestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_backtest_duration_seconds",
			Help:    "Backtest run wall time",
			Buckets: prometheus.DefBuckets,
		}),

		CommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_commit_duration_seconds",
			Help:    "End-of-tick persistence commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_ws_clients",
			Help: "Connected dashboard WebSocket clients",
		}),
		SnapshotDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_snapshot_drops_total",
			Help: "Live snapshots dropped because the gateway ring was full",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.TicksSkipped,
		m.TickErrors,
		m.TickDur,
		m.GuardrailTrips,
		m.TradesTotal,
		m.ScansTotal,
		m.ScanDur,
		m.VenueErrors,
		m.AdapterRetries,
		m.CacheHits,
		m.CacheMisses,
		m.BacktestsTotal,
		m.BacktestDur,
		m.CommitDur,
		m.WSClients,
		m.SnapshotDrops,
	)

	return m
}

// HealthStatus represents system health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	SQLiteOK       bool      `json:"sqlite_ok"`
	RedisConnected bool      `json:"redis_connected"` // false is fine: the cache is optional
	LiveRunning    bool      `json:"live_running"`
	LastTickTime   time.Time `json:"last_tick_time"`

	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetLiveRunning(v bool) {
	h.mu.Lock()
	h.LiveRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(time.Since(start).Microseconds()) / 1000
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRedis pings the optional price cache and records latency.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(time.Since(start).Microseconds()) / 1000
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartProbes runs periodic liveness probes until ctx is cancelled.
func (h *HealthStatus) StartProbes(ctx context.Context, interval time.Duration, db *sql.DB, rdb *goredis.Client) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if db != nil {
					h.CheckSQLite(probeCtx, db)
				}
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		LiveRunning     bool    `json:"live_running"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		LiveRunning:     h.LiveRunning,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv:    &http.Server{Addr: addr, Handler: mux},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

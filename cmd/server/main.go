// cmd/server runs the full paper-trading engine: HTTP API, websocket status
// feed, metrics endpoint, and the live tick loop behind it.
//
// Config (env vars, see config package for defaults):
//
//	HTTP_ADDR, METRICS_ADDR, SQLITE_PATH, REDIS_ADDR,
//	CANDLE_SYMBOL, CANDLE_INTERVAL, SENTIMENT_URL, SENTIMENT_MODEL,
//	WEBHOOK_URL, TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sentinelsniper/config"
	"sentinelsniper/internal/adapters"
	"sentinelsniper/internal/api"
	"sentinelsniper/internal/arbitrage"
	"sentinelsniper/internal/backtest"
	"sentinelsniper/internal/gateway"
	"sentinelsniper/internal/live"
	"sentinelsniper/internal/logger"
	"sentinelsniper/internal/metrics"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/notification"
	"sentinelsniper/internal/ringbuf"
	"sentinelsniper/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.Load()
	logg := logger.Init("sentinelsniper", slog.LevelInfo)

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[server] create data dir: %v", err)
		}
	}
	st, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[server] sqlite open failed: %v", err)
	}
	defer st.Close()

	client := adapters.NewClient(adapters.ClientConfig{
		RequestTimeout: time.Duration(cfg.AdapterTimeoutSec) * time.Second,
		MaxRetries:     cfg.AdapterRetries,
		RatePerSec:     cfg.AdapterRatePerSec,
	}, m)
	market := adapters.NewMarketData(client, "")
	sentiment := adapters.NewSentiment(client, cfg.SentimentURL, cfg.SentimentModel)
	snapshots := adapters.NewSnapshotBuilder(market, sentiment, cfg.CandleSymbol, cfg.CandleInterval)

	cache := adapters.NewPriceCache(cfg.RedisAddr, cfg.RedisPassword,
		time.Duration(cfg.PriceCacheTTL)*time.Second, m)
	defer cache.Close()
	registry := adapters.NewVenueRegistry(client, cache, m, adapters.VenueEndpoints{})
	scanner := arbitrage.New(registry.Venues(), time.Duration(cfg.VenueTimeoutSec)*time.Second, logg, m)

	notifier := buildNotifier(cfg)

	session := live.NewSession(live.Deps{
		Snapshots: snapshots,
		Scanner:   scanner,
		Store:     st,
		Logger:    logg,
		Metrics:   m,
		Notifier:  notifier,
	})

	// Status fan-out: tick loop pushes, websocket hub drains. A full ring
	// only costs intermediate snapshots; the hub always catches up to the
	// newest one.
	ring := ringbuf.New(256)
	hub := gateway.NewHub(ring, m)
	session.OnSnapshot(func(snap model.LiveSnapshot) {
		ring.Push(snap)
		health.SetLiveRunning(snap.Running)
		health.SetLastTickTime(snap.Timestamp)
	})
	go hub.Run()

	runner := backtest.NewRunner(st, logg, m)

	apiServer := api.NewServer(cfg.HTTPAddr, api.Deps{
		Log:       logg,
		Store:     st,
		Market:    market,
		Snapshots: snapshots,
		Sentiment: sentiment,
		Scanner:   scanner,
		Session:   session,
		Backtests: runner,
		Health:    health,
		WS:        hub.ServeWS,
	})

	metricsServer := metrics.NewServer(cfg.MetricsAddr, health)
	metricsServer.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	health.StartProbes(ctx, 15*time.Second, st.DB(), cache.Client())

	errCh := make(chan error, 1)
	go func() { errCh <- apiServer.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Fatalf("[server] http server failed: %v", err)
		}
	}

	logg.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	session.Stop(shutdownCtx)
	hub.Shutdown()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logg.Warn("http shutdown", slog.Any("error", err))
	}
	metricsServer.Stop(shutdownCtx)
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return notification.NewMulti(notification.AlertInfo, backends...)
}

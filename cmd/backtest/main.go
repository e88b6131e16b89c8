// cmd/backtest replays recent Binance history through the strategy evaluator
// and prints the resulting summary. With -db the run is archived in the same
// store the server reads, so the dashboard history picks it up.
//
// Usage:
//
//	go run ./cmd/backtest -symbol=BTCUSDT -interval=15m -candles=672 -cash=50
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinelsniper/internal/adapters"
	"sentinelsniper/internal/backtest"
	"sentinelsniper/internal/logger"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/store"
	"sentinelsniper/internal/store/sqlite"
	"sentinelsniper/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	symbol := flag.String("symbol", "BTCUSDT", "Trading pair to replay")
	interval := flag.String("interval", "15m", "Candle interval")
	candleCount := flag.Int("candles", 672, "Number of candles to fetch")
	cash := flag.Float64("cash", backtest.DefaultStartingCash, "Virtual starting cash")
	sentimentScore := flag.Float64("sentiment", 0, "Fixed sentiment score in [-1,1]")
	dbPath := flag.String("db", "", "SQLite store path; loads the saved strategy and archives the run")
	stratPath := flag.String("strategy", "", "Strategy JSON file (overrides the stored strategy)")
	asJSON := flag.Bool("json", false, "Print the full result as JSON instead of a summary")
	flag.Parse()

	logg := logger.Init("backtest", slog.LevelWarn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var st *sqlite.Store
	if *dbPath != "" {
		var err error
		st, err = sqlite.Open(*dbPath)
		if err != nil {
			log.Fatalf("[backtest] sqlite open failed: %v", err)
		}
		defer st.Close()
	}

	strat := loadStrategy(ctx, st, *stratPath)
	if err := strategy.Validate(&strat); err != nil {
		log.Fatalf("[backtest] invalid strategy: %v", err)
	}

	client := adapters.NewClient(adapters.ClientConfig{}, nil)
	market := adapters.NewMarketData(client, "")
	candles, err := market.Candles(ctx, *symbol, *interval, *candleCount)
	if err != nil {
		log.Fatalf("[backtest] candle fetch failed: %v", err)
	}
	if len(candles) == 0 {
		log.Fatalf("[backtest] no candles returned for %s %s", *symbol, *interval)
	}

	var result model.BacktestResult
	if st != nil {
		runner := backtest.NewRunner(st, logg, nil)
		result, err = runner.RunAndArchive(ctx, &strat, candles, *sentimentScore, *cash)
		if err != nil {
			log.Fatalf("[backtest] run failed: %v", err)
		}
	} else {
		result = backtest.Run(&strat, candles, *sentimentScore, *cash)
		result.Timestamp = time.Now().UTC()
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("[backtest] encode: %v", err)
		}
		return
	}

	fmt.Printf("%s %s  %d candles analyzed\n", *symbol, *interval, result.CandlesAnalyzed)
	fmt.Printf("  starting cash:   %.2f\n", result.StartingCash)
	fmt.Printf("  ending balance:  %.2f\n", result.EndingBalance)
	fmt.Printf("  net profit:      %+.2f\n", result.NetProfit)
	fmt.Printf("  trades executed: %d\n", result.TradesExecuted)
	fmt.Printf("  accuracy:        %.4f\n", result.Accuracy)
	fmt.Printf("  engagement:      %.4f\n", result.EngagementRate)
}

func loadStrategy(ctx context.Context, st *sqlite.Store, path string) model.Strategy {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("[backtest] read strategy: %v", err)
		}
		var s model.Strategy
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Fatalf("[backtest] parse strategy: %v", err)
		}
		return s
	}
	if st != nil {
		if raw, err := st.Get(ctx, store.KeyStrategy); err == nil {
			var s model.Strategy
			if err := json.Unmarshal(raw, &s); err == nil {
				return s
			}
		}
	}
	return model.DefaultStrategy()
}

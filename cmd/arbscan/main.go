// cmd/arbscan runs one fee-aware arbitrage scan across the registered venues
// and prints the ranked spreads.
//
// Usage:
//
//	go run ./cmd/arbscan -symbol=BTC -quote=USDT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"sentinelsniper/internal/adapters"
	"sentinelsniper/internal/arbitrage"
	"sentinelsniper/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	symbol := flag.String("symbol", "BTC", "Base asset")
	quote := flag.String("quote", "USDT", "Quote asset")
	timeoutSec := flag.Int("timeout", 5, "Per-scan timeout in seconds")
	asJSON := flag.Bool("json", false, "Print the raw scan result as JSON")
	flag.Parse()

	logg := logger.Init("arbscan", slog.LevelWarn)

	client := adapters.NewClient(adapters.ClientConfig{}, nil)
	registry := adapters.NewVenueRegistry(client, nil, nil, adapters.VenueEndpoints{})
	scanner := arbitrage.New(registry.Venues(), time.Duration(*timeoutSec)*time.Second, logg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec+2)*time.Second)
	defer cancel()

	result := scanner.Scan(ctx, strings.ToUpper(*symbol), strings.ToUpper(*quote))

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("[arbscan] encode: %v", err)
		}
		return
	}

	fmt.Printf("%s/%s prices:\n", result.Symbol, result.Quote)
	venues := make([]string, 0, len(result.Prices))
	for v := range result.Prices {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	for _, v := range venues {
		fmt.Printf("  %-10s %12.2f  (taker fee %.2f%%)\n", v, result.Prices[v], result.Fees[v]*100)
	}
	for v, msg := range result.Errors {
		fmt.Printf("  %-10s unavailable: %s\n", v, msg)
	}

	if len(result.Top) == 0 {
		fmt.Println("no spreads found")
		return
	}
	fmt.Println("spreads (net of fees, best first):")
	for _, opp := range result.Top {
		fmt.Printf("  buy %-10s sell %-10s gross %+.4f%%  fees %.4f%%  net %+.4f%%\n",
			opp.Path.Buy, opp.Path.Sell, opp.GrossPct, opp.FeesPct, opp.NetPct)
	}
}

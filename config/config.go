package config

import (
	"log"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Serving
	HTTPAddr    string
	MetricsAddr string

	// Infrastructure
	SQLitePath    string
	RedisAddr     string // empty disables the venue price cache
	RedisPassword string
	PriceCacheTTL int // seconds

	// Market data
	CandleSymbol   string
	CandleInterval string

	// Sentiment provider (Ollama-style generate endpoint)
	SentimentURL   string
	SentimentModel string

	// Adapter budgets
	AdapterTimeoutSec int
	AdapterRetries    int
	AdapterRatePerSec float64
	VenueTimeoutSec   int

	// Notifications (empty disables the backend)
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		SQLitePath:    getEnv("SQLITE_PATH", "data/engine.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		PriceCacheTTL: getInt("PRICE_CACHE_TTL_SEC", 10),

		CandleSymbol:   getEnv("CANDLE_SYMBOL", "BTCUSDT"),
		CandleInterval: getEnv("CANDLE_INTERVAL", "1m"),

		SentimentURL:   getEnv("SENTIMENT_URL", "http://localhost:11434/api/generate"),
		SentimentModel: getEnv("SENTIMENT_MODEL", "phi3:mini"),

		AdapterTimeoutSec: getInt("ADAPTER_TIMEOUT_SEC", 10),
		AdapterRetries:    getInt("ADAPTER_RETRIES", 2),
		AdapterRatePerSec: getFloat("ADAPTER_RATE_PER_SEC", 8),
		VenueTimeoutSec:   getInt("VENUE_TIMEOUT_SEC", 5),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

// Package store abstracts persistence behind a minimal key/value + trade
// journal interface so the engine logic is independent of the storage
// medium.
package store

import (
	"context"
	"errors"
	"time"

	"sentinelsniper/internal/model"
)

// Well-known artifact keys.
const (
	KeyStrategy     = "strategy"
	KeyArbConfig    = "arbitrage/config"
	KeyLiveStatus   = "live/status"
	KeyLastBacktest = "backtest/last"

	// Backtest archives live under this prefix, keyed by run timestamp.
	PrefixBacktestArchive = "backtest/archive/"
)

// ErrNotFound is returned by Get for missing keys. Callers typically fall
// back to an empty or default payload.
var ErrNotFound = errors.New("store: key not found")

// Entry is one stored artifact.
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// KV is the minimal get/put/list artifact store.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// List returns all entries whose key starts with prefix, newest first.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// TradeLog is the append-only trade journal. Records are never mutated
// after creation.
type TradeLog interface {
	// AppendTrades appends trades to the journal in order.
	AppendTrades(ctx context.Context, trades []model.Trade) error

	// Trades returns journal entries in creation order. limit > 0 restricts
	// the result to the most recent limit trades (still in creation order).
	Trades(ctx context.Context, limit int) ([]model.Trade, error)
}

// Store is the full persistence surface the engine uses.
type Store interface {
	KV
	TradeLog

	// CommitTick atomically persists a live status snapshot together with
	// the trades emitted by that tick, so a crash cannot desynchronize the
	// trade log from the status snapshot.
	CommitTick(ctx context.Context, statusKey string, status []byte, trades []model.Trade) error

	Close() error
}

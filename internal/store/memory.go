package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sentinelsniper/internal/model"
)

// Memory is an in-memory Store used by tests and one-shot CLI runs where
// nothing needs to survive the process.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	trades  []model.Trade
	seq     int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(e.Value))
	copy(cp, e.Value)
	return cp, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value)
	return nil
}

func (m *Memory) put(key string, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	// seq breaks ties between writes within the same nanosecond.
	m.seq++
	m.entries[key] = Entry{
		Key:       key,
		Value:     cp,
		UpdatedAt: time.Now().Add(time.Duration(m.seq)),
	}
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for k, e := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key > out[j].Key
	})
	return out, nil
}

func (m *Memory) AppendTrades(ctx context.Context, trades []model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *Memory) Trades(ctx context.Context, limit int) ([]model.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trades := m.trades
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	cp := make([]model.Trade, len(trades))
	copy(cp, trades)
	return cp, nil
}

func (m *Memory) CommitTick(ctx context.Context, statusKey string, status []byte, trades []model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(statusKey, status)
	m.trades = append(m.trades, trades...)
	return nil
}

func (m *Memory) Close() error { return nil }

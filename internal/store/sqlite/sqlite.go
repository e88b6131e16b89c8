// Package sqlite implements store.Store on a single SQLite database in WAL
// mode: an artifact key/value table plus an append-only trade journal.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"sentinelsniper/internal/model"
	"sentinelsniper/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a single-writer SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the database at path, enables WAL mode, and
// initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer: SQLite serializes writes anyway, and one connection
	// keeps transactions simple.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			key        TEXT PRIMARY KEY,
			value      TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ts         TEXT    NOT NULL,
			kind       TEXT    NOT NULL,
			action     TEXT    NOT NULL,
			price      REAL    NOT NULL DEFAULT 0,
			qty        REAL    NOT NULL DEFAULT 0,
			notional   REAL    NOT NULL DEFAULT 0,
			pnl        REAL    NOT NULL DEFAULT 0,
			balance    REAL    NOT NULL DEFAULT 0,
			detail     TEXT    NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trades_kind ON trades(kind);
		CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the artifact stored under key, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM artifacts WHERE key = ?`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %q: %w", key, err)
	}
	return []byte(value), nil
}

// Put stores value under key, replacing any previous value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (key, value, updated_at) VALUES (?, ?, ?)`,
		key, string(value), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite put %q: %w", key, err)
	}
	return nil
}

// List returns all artifacts under prefix, newest first.
func (s *Store) List(ctx context.Context, prefix string) ([]store.Entry, error) {
	// Escape LIKE metacharacters so a literal prefix never widens the match.
	pattern := strings.NewReplacer("%", `\%`, "_", `\_`).Replace(prefix) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM artifacts
		 WHERE key LIKE ? ESCAPE '\'
		 ORDER BY updated_at DESC, key DESC`, pattern)
	if err != nil {
		return nil, fmt.Errorf("sqlite list %q: %w", prefix, err)
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var (
			e     store.Entry
			value string
			nanos int64
		)
		if err := rows.Scan(&e.Key, &value, &nanos); err != nil {
			return nil, fmt.Errorf("sqlite list scan: %w", err)
		}
		e.Value = []byte(value)
		e.UpdatedAt = time.Unix(0, nanos)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AppendTrades appends trades to the journal in one transaction.
func (s *Store) AppendTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite append trades: %w", err)
	}
	if err := insertTrades(ctx, tx, trades); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func insertTrades(ctx context.Context, tx *sql.Tx, trades []model.Trade) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (ts, kind, action, price, qty, notional, pnl, balance, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite trades prepare: %w", err)
	}
	defer stmt.Close()

	for i := range trades {
		t := &trades[i]
		detail, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("sqlite trade marshal: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			t.Timestamp.UTC().Format(time.RFC3339Nano),
			string(t.Kind), t.Action, t.Price, t.Qty, t.Notional, t.PnL, t.Balance,
			string(detail),
		); err != nil {
			return fmt.Errorf("sqlite trade insert: %w", err)
		}
	}
	return nil
}

// Trades returns journal entries in creation order; limit > 0 restricts to
// the most recent limit entries.
func (s *Store) Trades(ctx context.Context, limit int) ([]model.Trade, error) {
	query := `SELECT detail FROM trades ORDER BY id ASC`
	args := []any{}
	if limit > 0 {
		// Take the newest N, then flip back to creation order.
		query = `SELECT detail FROM (
			SELECT id, detail FROM trades ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var detail string
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("sqlite trades scan: %w", err)
		}
		var t model.Trade
		if err := json.Unmarshal([]byte(detail), &t); err != nil {
			log.Printf("[sqlite] skipping corrupt trade row: %v", err)
			continue
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CommitTick persists a status snapshot and the tick's trades in a single
// transaction, so a crash cannot desynchronize the journal from the status.
func (s *Store) CommitTick(ctx context.Context, statusKey string, status []byte, trades []model.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite commit tick: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (key, value, updated_at) VALUES (?, ?, ?)`,
		statusKey, string(status), time.Now().UnixNano(),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite commit tick status: %w", err)
	}
	if len(trades) > 0 {
		if err := insertTrades(ctx, tx, trades); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

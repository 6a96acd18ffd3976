package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"chartflow/logger"
)

// SQLiteRecorder persists fetch history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs
// migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so readers don't block the writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.GetLogger().WithComponent("recorder").WithFields(logger.Fields{
		"path": dbPath,
	}).Info("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fetches (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			symbol         TEXT NOT NULL,
			interval       TEXT,
			bars           INTEGER,
			current_price  REAL,
			change         REAL,
			change_percent REAL,
			session_type   TEXT,
			market_phase   TEXT,
			duration_ms    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fetches_symbol_ts ON fetches(symbol, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordFetch(rec *FetchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`INSERT INTO fetches (timestamp, symbol, interval, bars, current_price,
			change, change_percent, session_type, market_phase, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.FetchedAt.Unix(), rec.Symbol, rec.Interval, rec.Bars, rec.CurrentPrice,
		rec.Change, rec.ChangePercent, rec.SessionType, rec.MarketPhase, rec.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

package recorder

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "chartflow.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRecorder failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordFetchRoundTrip(t *testing.T) {
	r := openTestRecorder(t)

	fetched := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)
	rec := &FetchRecord{
		Symbol:        "COINBASE:BTCUSD",
		Interval:      "5",
		Bars:          317,
		CurrentPrice:  50100,
		Change:        150,
		ChangePercent: 0.3,
		SessionType:   "crypto",
		MarketPhase:   "crypto",
		FetchedAt:     fetched,
		DurationMs:    842,
	}
	if err := r.RecordFetch(rec); err != nil {
		t.Fatalf("RecordFetch failed: %v", err)
	}
	if err := r.RecordFetch(rec); err != nil {
		t.Fatalf("second RecordFetch failed: %v", err)
	}

	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM fetches WHERE symbol = ?`, rec.Symbol).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 2 {
		t.Errorf("got %d rows, want 2", count)
	}

	var bars int
	var phase string
	var ts int64
	err := r.db.QueryRow(
		`SELECT bars, market_phase, timestamp FROM fetches ORDER BY id LIMIT 1`,
	).Scan(&bars, &phase, &ts)
	if err != nil {
		t.Fatalf("row query failed: %v", err)
	}
	if bars != 317 || phase != "crypto" || ts != fetched.Unix() {
		t.Errorf("stored row = %d / %q / %d", bars, phase, ts)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	r := openTestRecorder(t)
	if err := r.migrate(); err != nil {
		t.Fatalf("repeated migrate failed: %v", err)
	}
}

func TestNoopRecorder(t *testing.T) {
	n := NewNoopRecorder()
	if err := n.RecordFetch(&FetchRecord{Symbol: "FX:EURUSD"}); err != nil {
		t.Errorf("noop RecordFetch returned %v", err)
	}
	if err := n.Close(); err != nil {
		t.Errorf("noop Close returned %v", err)
	}
}

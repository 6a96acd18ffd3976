package interpret

import (
	"math"
	"testing"

	"chartflow/internal/protocol"
)

func envelope(t *testing.T, m string, params ...interface{}) protocol.Envelope {
	t.Helper()
	frame, err := protocol.Encode(m, params)
	if err != nil {
		t.Fatalf("encode %s: %v", m, err)
	}
	envs := protocol.Decode(frame)
	if len(envs) != 1 {
		t.Fatalf("encode %s produced %d envelopes", m, len(envs))
	}
	return envs[0]
}

func barEntry(ts, open, high, low, closep, volume float64) map[string]interface{} {
	return map[string]interface{}{"v": []float64{ts, open, high, low, closep, volume}}
}

func timescale(t *testing.T, entries ...map[string]interface{}) protocol.Envelope {
	t.Helper()
	return envelope(t, "timescale_update", "cs_x", map[string]interface{}{
		"sds_1": map[string]interface{}{"s": entries},
	})
}

func TestBarStreamCompletion(t *testing.T) {
	acc := New("FX:EURUSD")

	// Bars deliberately out of order across two batches.
	if acc.Apply(timescale(t, barEntry(300, 1.10, 1.12, 1.09, 1.11, 5), barEntry(100, 1.05, 1.07, 1.04, 1.06, 3))) {
		t.Fatal("bar batch must not be terminal")
	}
	if acc.Apply(timescale(t, barEntry(200, 1.06, 1.09, 1.05, 1.08, 2), barEntry(500, 1.11, 1.13, 1.10, 1.12, 4), barEntry(400, 1.11, 1.12, 1.10, 1.11, 1))) {
		t.Fatal("bar batch must not be terminal")
	}
	if !acc.Apply(envelope(t, "series_completed", "cs_x")) {
		t.Fatal("series_completed after bars must be terminal")
	}

	data := acc.Finalize()
	if len(data.Bars) != 5 {
		t.Fatalf("bars = %d, want 5", len(data.Bars))
	}
	for i := 1; i < len(data.Bars); i++ {
		if data.Bars[i].Time < data.Bars[i-1].Time {
			t.Fatalf("bars not ascending at %d", i)
		}
	}
	if data.Bars[0].Time != 100*1000 {
		t.Errorf("first bar time = %d, want seconds converted to ms", data.Bars[0].Time)
	}

	// No live quote arrived: change derives from last close minus first open.
	wantChange := 1.12 - 1.05
	wantPct := wantChange / 1.05 * 100
	if math.Abs(data.Change-wantChange) > 1e-9 {
		t.Errorf("change = %v, want %v", data.Change, wantChange)
	}
	if math.Abs(data.ChangePercent-wantPct) > 1e-9 {
		t.Errorf("changePercent = %v, want %v", data.ChangePercent, wantPct)
	}
	if data.CurrentPrice != 1.12 {
		t.Errorf("currentPrice = %v, want last close", data.CurrentPrice)
	}
}

func TestCompletionRequiresBars(t *testing.T) {
	acc := New("FX:EURUSD")
	if acc.Apply(envelope(t, "series_completed", "cs_x")) {
		t.Fatal("series_completed before any bar must not be terminal")
	}
	acc.Apply(timescale(t, barEntry(100, 1, 1, 1, 1, 0)))
	if !acc.Apply(envelope(t, "series_completed", "cs_x")) {
		t.Fatal("series_completed after bars must be terminal")
	}
}

func TestBarBatchWithScalarSiblings(t *testing.T) {
	acc := New("FX:EURUSD")

	// The feed sends bookkeeping keys next to the series entry; they must
	// not cost the batch.
	acc.Apply(envelope(t, "timescale_update", "cs_x", map[string]interface{}{
		"sds_1":   map[string]interface{}{"s": []map[string]interface{}{barEntry(100, 1, 2, 0.5, 1.5, 3)}},
		"index":   0,
		"zoffset": 4,
		"t":       1700000000,
		"t_ms":    1700000000000,
	}))
	if len(acc.Bars) != 1 {
		t.Fatalf("bars = %d, want 1 (scalar siblings skipped, series kept)", len(acc.Bars))
	}
	if !acc.BarsReceived {
		t.Fatal("bar receipt not recorded")
	}
	if !acc.Apply(envelope(t, "series_completed", "cs_x")) {
		t.Fatal("series_completed after sibling-laden batch must be terminal")
	}
}

func TestShortBarEntriesSkipped(t *testing.T) {
	acc := New("FX:EURUSD")
	acc.Apply(envelope(t, "timescale_update", "cs_x", map[string]interface{}{
		"sds_1": map[string]interface{}{"s": []map[string]interface{}{
			{"v": []float64{100, 1, 2}},
			{"v": []float64{200, 1, 2, 0.5, 1.5}},
		}},
	}))
	if len(acc.Bars) != 1 {
		t.Fatalf("bars = %d, want 1 (short entry skipped)", len(acc.Bars))
	}
	if acc.Bars[0].Volume != 0 {
		t.Errorf("missing volume should default to 0, got %v", acc.Bars[0].Volume)
	}
}

func TestQuoteUpdates(t *testing.T) {
	acc := New("NASDAQ:AAPL")

	acc.Apply(envelope(t, "qsd", "qs_x", map[string]interface{}{
		"n": "NASDAQ:AAPL",
		"v": map[string]interface{}{
			"lp": 190.5, "ch": 1.25, "chp": 0.66,
			"short_name": "AAPL", "description": "Apple Inc.",
			"type": "stock", "currency_code": "USD",
			"current_session": "market", "timezone": "America/New_York",
		},
	}))
	// Later delta: price moves, descriptors must not be overwritten.
	acc.Apply(envelope(t, "qsd", "qs_x", map[string]interface{}{
		"n": "NASDAQ:AAPL",
		"v": map[string]interface{}{
			"lp": 191.0, "current_session": "post_market", "description": "Renamed",
		},
	}))

	if acc.Price != 191.0 {
		t.Errorf("price = %v, want last write 191.0", acc.Price)
	}
	if acc.Change != 1.25 {
		t.Errorf("change = %v, want 1.25", acc.Change)
	}
	if acc.CurrentSession != "market" {
		t.Errorf("current session = %q, want first write preserved", acc.CurrentSession)
	}
	if acc.Info.Description != "Apple Inc." {
		t.Errorf("description = %q, want first write preserved", acc.Info.Description)
	}
	if acc.Info.Type != "stock" {
		t.Errorf("type = %q, want stock", acc.Info.Type)
	}
	if acc.FeedTimezone != "America/New_York" {
		t.Errorf("timezone = %q", acc.FeedTimezone)
	}
}

func TestQuoteChangeSuppressesBarFallback(t *testing.T) {
	acc := New("FX:EURUSD")
	acc.Apply(envelope(t, "qsd", "qs_x", map[string]interface{}{
		"v": map[string]interface{}{"lp": 2.0, "ch": 0.5, "chp": 0.25},
	}))
	acc.Apply(timescale(t, barEntry(100, 1, 1, 1, 1, 0), barEntry(200, 1, 3, 1, 3, 0)))
	data := acc.Finalize()
	if data.Change != 0.5 || data.ChangePercent != 0.25 {
		t.Errorf("live quote change must win: change=%v pct=%v", data.Change, data.ChangePercent)
	}
	if data.CurrentPrice != 2.0 {
		t.Errorf("live price must win: %v", data.CurrentPrice)
	}
}

func TestSymbolResolvedMerging(t *testing.T) {
	acc := New("NYSE:GE")

	acc.Apply(envelope(t, "symbol_resolved", "cs_x", "sds_sym_1", map[string]interface{}{
		"name": "GE", "description": "General Electric", "exchange": "NYSE",
		"type": "stock", "currency_code": "USD", "timezone": "America/New_York",
		"session": "0930-1600",
		"subsessions": []map[string]interface{}{
			{"id": "extended", "session": "0400-2000"},
			{"id": "regular", "session": "0930-1600"},
		},
	}))
	if acc.Info.Session != "0930-1600" {
		t.Errorf("session = %q", acc.Info.Session)
	}
	if acc.Info.RegularSession != "0930-1600" {
		t.Errorf("regular subsession = %q", acc.Info.RegularSession)
	}
	if acc.Info.Timezone != "America/New_York" {
		t.Errorf("timezone = %q", acc.Info.Timezone)
	}

	// A later resolve with new non-empty fields refines, empty fields never
	// blank out what is known.
	acc.Apply(envelope(t, "symbol_resolved", "cs_x", "sds_sym_1", map[string]interface{}{
		"description": "General Electric Company", "session": "",
	}))
	if acc.Info.Description != "General Electric Company" {
		t.Errorf("description not refined: %q", acc.Info.Description)
	}
	if acc.Info.Session != "0930-1600" {
		t.Errorf("session reverted to %q", acc.Info.Session)
	}
}

func TestUnknownMessagesIgnored(t *testing.T) {
	acc := New("FX:EURUSD")
	if acc.Apply(envelope(t, "quote_completed", "qs_x")) {
		t.Error("unknown kind must not be terminal")
	}
	if acc.Apply(protocol.Envelope{}) {
		t.Error("empty envelope must not be terminal")
	}
}

func TestFallbackSymbolInfo(t *testing.T) {
	acc := New("COINBASE:BTCUSD")
	acc.Apply(timescale(t, barEntry(100, 1, 1, 1, 1, 0)))
	acc.Apply(envelope(t, "series_completed", "cs_x"))
	data := acc.Finalize()
	if data.SymbolInfo.Name != "BTCUSD" || data.SymbolInfo.Exchange != "COINBASE" {
		t.Errorf("fallback info = %+v", data.SymbolInfo)
	}
	if data.SymbolInfo.Type != "unknown" || data.SymbolInfo.Currency != "USD" {
		t.Errorf("fallback defaults = %+v", data.SymbolInfo)
	}
}

package models

// Bar is one OHLCV sample for a fixed interval. Time is milliseconds since
// epoch. Bars are immutable once produced; series ordering is enforced when
// the final ChartData is assembled, not at ingestion.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// SymbolInfo is the descriptive metadata for a resolved instrument. It acts
// as a mutable accumulator while a session runs and is frozen into the result.
type SymbolInfo struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Exchange    string `json:"exchange"`
	Type        string `json:"type"`
	Currency    string `json:"currency"`
	LogoID      string `json:"logoid,omitempty"`
	ProviderID  string `json:"provider_id,omitempty"`
	Timezone    string `json:"timezone,omitempty"`

	// Session is the exchange-supplied trading-hours descriptor, e.g.
	// "0930-1600" or "24x7". RegularSession is the named "regular"
	// subsession descriptor when the feed reports one.
	Session        string `json:"session,omitempty"`
	RegularSession string `json:"regular_session,omitempty"`
}

// SessionWindow is a single daily trading window with fractional
// hours-of-day in [0, 24). Wraps means the window crosses midnight.
type SessionWindow struct {
	StartHour float64 `json:"start_hour"`
	EndHour   float64 `json:"end_hour"`
	Wraps     bool    `json:"wraps"`
}

// Duration returns the window length in hours, corrected across midnight.
func (w SessionWindow) Duration() float64 {
	d := w.EndHour - w.StartHour
	if d <= 0 {
		d += 24
	}
	return d
}

// Market phases, coarse classification of which part of the trading day is
// active for the instrument.
const (
	PhaseRegular  = "regular"
	PhaseExtended = "extended"
	PhaseCrypto   = "crypto"
)

// Session type buckets produced by the classifier.
const (
	SessionType24h      = "24h_market"
	SessionTypeExtended = "extended"
	SessionTypeRegular  = "regular"
	SessionTypeShort    = "short"
	SessionTypeCrypto   = "crypto"
	SessionTypeUnknown  = "unknown"
)

// SessionInfo is the classifier verdict for one request. Derived entirely
// from the instrument type, the raw descriptor and the feed-reported current
// session tag; never persisted, recomputed per request.
type SessionInfo struct {
	Descriptor     string  `json:"descriptor"`
	Hours          float64 `json:"hours"`
	Label          string  `json:"label"`
	Type           string  `json:"type"`
	CurrentSession string  `json:"current_session,omitempty"`
	MarketPhase    string  `json:"market_phase,omitempty"`
	Timezone       string  `json:"timezone,omitempty"`
	SymbolType     string  `json:"symbol_type,omitempty"`
}

// ChartData is the terminal, immutable record produced by a fetch: the
// resolved instrument, its bar series ascending by time, and the live quote
// snapshot (or its bar-derived fallback).
type ChartData struct {
	Symbol        string       `json:"symbol"`
	SymbolInfo    SymbolInfo   `json:"symbol_info"`
	Bars          []Bar        `json:"bars"`
	CurrentPrice  float64      `json:"current_price"`
	Change        float64      `json:"change"`
	ChangePercent float64      `json:"change_percent"`
	SessionInfo   *SessionInfo `json:"session_info,omitempty"`
}

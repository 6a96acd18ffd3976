// Package interpret folds decoded feed envelopes into an in-flight result
// accumulator. Four message kinds matter: symbol metadata, quote deltas, bar
// batches and the series completion signal; everything else is ignored.
package interpret

import (
	"encoding/json"
	"sort"
	"strings"

	"chartflow/internal/models"
	"chartflow/internal/protocol"
)

// Accumulator is the mutable per-session state. One accumulator belongs to
// exactly one connection; messages are applied in arrival order.
type Accumulator struct {
	Symbol string
	Info   models.SymbolInfo
	Bars   []models.Bar

	Price         float64
	Change        float64
	ChangePercent float64

	// CurrentSession and FeedTimezone are feed-reported tags used by the
	// session classifier; first write wins.
	CurrentSession string
	FeedTimezone   string

	// BarsReceived gates the completion signal: series_completed arriving
	// before any bar batch is not terminal.
	BarsReceived bool

	quoteChange bool
}

// New creates an accumulator seeded with fallback metadata derived from the
// symbol id itself ("EXCHANGE:NAME").
func New(symbol string) *Accumulator {
	name, exchange := symbol, ""
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		exchange, name = symbol[:i], symbol[i+1:]
	}
	return &Accumulator{
		Symbol: symbol,
		Info: models.SymbolInfo{
			Symbol:   symbol,
			Name:     name,
			Exchange: exchange,
			Type:     "unknown",
			Currency: "USD",
		},
	}
}

// quoteValues is the "v" object of a qsd message. Every field is optional.
type quoteValues struct {
	Lp  *float64 `json:"lp"`
	Ch  *float64 `json:"ch"`
	Chp *float64 `json:"chp"`

	ShortName      string          `json:"short_name"`
	Description    string          `json:"description"`
	Exchange       string          `json:"exchange"`
	Type           string          `json:"type"`
	CurrencyCode   string          `json:"currency_code"`
	LogoID         string          `json:"logoid"`
	Logo           json.RawMessage `json:"logo"`
	ProviderID     string          `json:"provider_id"`
	Session        string          `json:"session"`
	Timezone       string          `json:"timezone"`
	CurrentSession string          `json:"current_session"`
}

type quoteData struct {
	V quoteValues `json:"v"`
}

// resolvedInfo is the symbol object carried by a symbol_resolved message.
type resolvedInfo struct {
	Name         string `json:"name"`
	ProName      string `json:"pro_name"`
	ShortName    string `json:"short_name"`
	Description  string `json:"description"`
	Exchange     string `json:"exchange"`
	Type         string `json:"type"`
	CurrencyCode string `json:"currency_code"`
	LogoID       string `json:"logoid"`
	ProviderID   string `json:"provider_id"`
	Timezone     string `json:"timezone"`
	Session      string `json:"session"`

	Subsessions []struct {
		ID      string `json:"id"`
		Session string `json:"session"`
	} `json:"subsessions"`

	CurrentSession string `json:"current_session"`
}

// timescaleSeries is one series entry of a timescale_update message.
type timescaleSeries struct {
	S []struct {
		V []float64 `json:"v"`
	} `json:"s"`
}

// Apply folds one envelope into the accumulator and reports whether the
// session is complete. Unrecognized kinds and missing optional fields are
// ignored; Apply never fails.
func (a *Accumulator) Apply(env protocol.Envelope) bool {
	switch env.M {
	case "symbol_resolved":
		a.applyResolved(env)
	case "qsd":
		a.applyQuote(env)
	case "timescale_update":
		a.applyBars(env)
	case "series_completed":
		return a.BarsReceived
	}
	return false
}

func (a *Accumulator) applyResolved(env protocol.Envelope) {
	// The symbol object's parameter position varies across feed versions;
	// take the first parameter that decodes into something recognizable.
	var info resolvedInfo
	for i := 1; i < len(env.P); i++ {
		var candidate resolvedInfo
		if !env.Param(i, &candidate) {
			continue
		}
		if candidate.Name != "" || candidate.ProName != "" || candidate.Description != "" ||
			candidate.Session != "" || len(candidate.Subsessions) > 0 {
			info = candidate
			break
		}
	}
	setIfPresent(&a.Info.Name, firstNonEmpty(info.ShortName, info.Name, info.ProName))
	setIfPresent(&a.Info.Description, info.Description)
	setIfPresent(&a.Info.Exchange, info.Exchange)
	setIfPresent(&a.Info.Type, info.Type)
	setIfPresent(&a.Info.Currency, info.CurrencyCode)
	setIfPresent(&a.Info.LogoID, info.LogoID)
	setIfPresent(&a.Info.ProviderID, info.ProviderID)
	setIfPresent(&a.Info.Timezone, info.Timezone)
	setIfPresent(&a.Info.Session, info.Session)
	for _, sub := range info.Subsessions {
		if sub.ID == "regular" {
			setIfPresent(&a.Info.RegularSession, sub.Session)
		}
	}
	if a.CurrentSession == "" {
		a.CurrentSession = info.CurrentSession
	}
}

func (a *Accumulator) applyQuote(env protocol.Envelope) {
	var data quoteData
	if !env.Param(1, &data) {
		return
	}
	v := data.V

	// Live price and change are last-write-wins.
	if v.Lp != nil {
		a.Price = *v.Lp
	}
	if v.Ch != nil {
		a.Change = *v.Ch
		a.quoteChange = true
	}
	if v.Chp != nil {
		a.ChangePercent = *v.Chp
		a.quoteChange = true
	}

	// Descriptive fields are first-write-wins: never revert a populated
	// field, and never let a later empty delta blank one out.
	firstWrite(&a.Info.Description, v.Description)
	firstWrite(&a.Info.Currency, v.CurrencyCode)
	firstWrite(&a.Info.LogoID, firstNonEmpty(v.LogoID, logoID(v.Logo)))
	firstWrite(&a.Info.ProviderID, v.ProviderID)
	firstWrite(&a.Info.Session, v.Session)
	firstWrite(&a.CurrentSession, v.CurrentSession)
	firstWrite(&a.FeedTimezone, v.Timezone)
	if v.ShortName != "" && (a.Info.Name == "" || a.Info.Name == fallbackName(a.Symbol)) {
		a.Info.Name = v.ShortName
	}
	if v.Exchange != "" && (a.Info.Exchange == "" || a.Info.Exchange == fallbackExchange(a.Symbol)) {
		a.Info.Exchange = v.Exchange
	}
	if v.Type != "" && a.Info.Type == "unknown" {
		a.Info.Type = v.Type
	}
}

func (a *Accumulator) applyBars(env protocol.Envelope) {
	// The update object carries scalar bookkeeping keys (index, zoffset, t)
	// next to the series entries; decode values one by one so a scalar
	// sibling never costs the batch.
	var raw map[string]json.RawMessage
	if !env.Param(1, &raw) {
		return
	}
	for _, v := range raw {
		var s timescaleSeries
		if json.Unmarshal(v, &s) != nil {
			continue
		}
		for _, entry := range s.S {
			if len(entry.V) < 5 {
				continue
			}
			bar := models.Bar{
				Time:  int64(entry.V[0] * 1000),
				Open:  entry.V[1],
				High:  entry.V[2],
				Low:   entry.V[3],
				Close: entry.V[4],
			}
			if len(entry.V) > 5 {
				bar.Volume = entry.V[5]
			}
			a.Bars = append(a.Bars, bar)
			a.BarsReceived = true
		}
	}
}

// SortBars orders the accumulated bars ascending by time. Batches may arrive
// out of order; ordering is enforced here, not at ingestion.
func (a *Accumulator) SortBars() {
	sort.Slice(a.Bars, func(i, j int) bool { return a.Bars[i].Time < a.Bars[j].Time })
}

// Finalize freezes the accumulator into the immutable result: bars sorted
// ascending by time, change backfilled from bar data when no live quote
// change arrived, and current price falling back to the last close.
func (a *Accumulator) Finalize() *models.ChartData {
	bars := make([]models.Bar, len(a.Bars))
	copy(bars, a.Bars)
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time < bars[j].Time })

	price, change, changePct := a.Price, a.Change, a.ChangePercent
	if !a.quoteChange && len(bars) > 1 && bars[0].Open != 0 {
		change = bars[len(bars)-1].Close - bars[0].Open
		changePct = change / bars[0].Open * 100
	}
	if price == 0 && len(bars) > 0 {
		price = bars[len(bars)-1].Close
	}

	return &models.ChartData{
		Symbol:        a.Symbol,
		SymbolInfo:    a.Info,
		Bars:          bars,
		CurrentPrice:  price,
		Change:        change,
		ChangePercent: changePct,
	}
}

func setIfPresent(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func firstWrite(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func fallbackName(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		return symbol[i+1:]
	}
	return symbol
}

func fallbackExchange(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		return symbol[:i]
	}
	return ""
}

// logoID digs the logo identifier out of the "logo" field, which the feed
// sends either as a bare string or as an object with a logoid key.
func logoID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		LogoID string `json:"logoid"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.LogoID
	}
	return ""
}

// Package session classifies exchange-supplied trading-hours descriptors.
// A descriptor is either the all-day marker "24x7" or one or more "HHMM-HHMM"
// windows. The classifier is pure and deterministic: it has no transport
// dependency and is consumed both by the bar-count planner and by the
// post-fetch regular-session filter.
package session

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"chartflow/internal/models"
)

// AllDayMarker is the descriptor the feed uses for continuously traded
// instruments.
const AllDayMarker = "24x7"

const (
	// Reference durations for the phase table, in hours.
	regularSessionHours  = 6.5
	preMarketFloorHours  = 6.5
	postMarketFloorHours = 10.5

	// Reference regular window used when the feed does not report a usable
	// named subsession (09:30-16:00, US equities).
	referenceRegularStart = 9.5
	referenceRegularEnd   = 16.0

	// A named regular subsession longer than this is not believable as a
	// regular window and the reference window is used instead.
	maxRegularWindowHours = 8.0

	// The regular-session filter is only applied when it retains at least
	// this many bars; below the floor the unfiltered series is kept.
	filterRetentionFloor = 10

	barCountHeadroom = 1.1
	minBarCount      = 10

	defaultTimezone = "America/New_York"
)

var windowPattern = regexp.MustCompile(`(\d{4})-(\d{4})`)

// ParseWindows extracts every HHMM-HHMM pair from a descriptor. Pairs with
// out-of-range hour or minute fields are skipped; an empty result means the
// descriptor is unparsable.
func ParseWindows(descriptor string) []models.SessionWindow {
	var windows []models.SessionWindow
	for _, m := range windowPattern.FindAllStringSubmatch(descriptor, -1) {
		start, ok1 := parseHHMM(m[1])
		end, ok2 := parseHHMM(m[2])
		if !ok1 || !ok2 {
			continue
		}
		windows = append(windows, models.SessionWindow{
			StartHour: start,
			EndHour:   end,
			Wraps:     end-start <= 0,
		})
	}
	return windows
}

func parseHHMM(s string) (float64, bool) {
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[2:])
	if h > 23 || m > 59 {
		return 0, false
	}
	return float64(h) + float64(m)/60, true
}

// Classify buckets a descriptor by its total daily trading duration. Empty or
// unparsable descriptors resolve to a 24 hour "unknown" verdict rather than
// an error; the feed's tagging is not reliable enough to fail on.
func Classify(descriptor string) models.SessionInfo {
	if descriptor == AllDayMarker {
		return models.SessionInfo{Descriptor: descriptor, Hours: 24, Type: models.SessionTypeCrypto, Label: "24 hours"}
	}
	windows := ParseWindows(descriptor)
	if len(windows) == 0 {
		return models.SessionInfo{Descriptor: descriptor, Hours: 24, Type: models.SessionTypeUnknown, Label: "24 hours"}
	}
	var hours float64
	for _, w := range windows {
		hours += w.Duration()
	}
	info := models.SessionInfo{Descriptor: descriptor, Hours: hours}
	switch {
	case hours >= 23:
		info.Type, info.Label = models.SessionType24h, "past day"
	case hours >= 12:
		info.Type, info.Label = models.SessionTypeExtended, "extended session"
	case hours >= 6:
		info.Type, info.Label = models.SessionTypeRegular, "today"
	default:
		info.Type, info.Label = models.SessionTypeShort, fmt.Sprintf("%.1f hour session", hours)
	}
	return info
}

// BarCount plans how many bars are needed to cover one full session at the
// requested interval, with 10% headroom and a floor of 10 bars.
func BarCount(descriptor string, intervalMinutes int) int {
	if intervalMinutes < 1 {
		intervalMinutes = 1
	}
	hours := Classify(descriptor).Hours
	n := int(math.Ceil(hours * 60 / float64(intervalMinutes) * barCountHeadroom))
	if n < minBarCount {
		n = minBarCount
	}
	return n
}

// EquityLike reports whether an instrument type follows a conventional single
// regular trading window, as opposed to continuously traded instruments.
func EquityLike(symbolType string) bool {
	switch symbolType {
	case "stock", "index", "fund":
		return true
	}
	return false
}

func cryptoLike(symbolType string) bool {
	return symbolType == "crypto" || symbolType == "spot"
}

// phaseVerdict is one row of the phase decision table.
type phaseVerdict struct {
	phase string
	hours float64
	label string
}

// phaseFor resolves the (equity-like, current-session tag) cell of the
// decision table for a representative window duration. Tags other than
// pre_market/post_market deliberately take the "market" row; the feed emits
// unknown tags often enough that treating them as errors would be worse than
// this fallback.
func phaseFor(equity bool, tag string, dur float64) phaseVerdict {
	switch tag {
	case "pre_market":
		return phaseVerdict{models.PhaseExtended, math.Max(dur, preMarketFloorHours), "extended session"}
	case "post_market":
		return phaseVerdict{models.PhaseExtended, math.Max(dur, postMarketFloorHours), "extended session"}
	}
	if equity {
		return phaseVerdict{models.PhaseRegular, regularSessionHours, "today"}
	}
	if dur >= 12 {
		return phaseVerdict{models.PhaseExtended, dur, "extended session"}
	}
	return phaseVerdict{models.PhaseRegular, dur, "today"}
}

// MarketPhase determines which part of the trading day is active for an
// instrument: crypto/spot instruments and the all-day marker force a 24h
// crypto phase, near-continuous non-equity sessions are extended, and
// everything else branches on the feed-reported current-session tag.
func MarketPhase(descriptor, currentSession, symbolType string) (phase string, hours float64, label string) {
	if cryptoLike(symbolType) || descriptor == AllDayMarker {
		return models.PhaseCrypto, 24, "24 hours"
	}
	windows := ParseWindows(descriptor)
	dur, total := 24.0, 24.0
	if len(windows) > 0 {
		dur = windows[0].Duration()
		total = 0
		for _, w := range windows {
			total += w.Duration()
		}
	}
	equity := EquityLike(symbolType)
	if total >= 23 && !equity {
		return models.PhaseExtended, total, "past day"
	}
	v := phaseFor(equity, currentSession, dur)
	return v.phase, v.hours, v.label
}

// Resolve produces the full session verdict for one request, combining the
// duration bucket from Classify with the market phase.
func Resolve(descriptor, currentSession, symbolType, timezone string) models.SessionInfo {
	info := Classify(descriptor)
	phase, hours, label := MarketPhase(descriptor, currentSession, symbolType)
	info.MarketPhase = phase
	info.CurrentSession = currentSession
	info.SymbolType = symbolType
	info.Timezone = timezone
	if phase == models.PhaseCrypto {
		info.Type = models.SessionTypeCrypto
	}
	if phase != models.PhaseRegular || info.Type == models.SessionTypeUnknown {
		info.Hours, info.Label = hours, label
	}
	return info
}

// Location resolves the IANA zone bars should be interpreted in: the
// instrument's native zone first, then the feed-reported zone, then US
// Eastern. Never the caller's local zone.
func Location(symbolTZ, feedTZ string) *time.Location {
	for _, name := range []string{symbolTZ, feedTZ, defaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// regularWindow picks the window used by the regular-session filter: the
// named regular subsession when it is believable, else the reference window.
func regularWindow(regularDescriptor string) models.SessionWindow {
	if ws := ParseWindows(regularDescriptor); len(ws) > 0 && ws[0].Duration() <= maxRegularWindowHours {
		return ws[0]
	}
	return models.SessionWindow{StartHour: referenceRegularStart, EndHour: referenceRegularEnd}
}

func inWindow(w models.SessionWindow, hour float64) bool {
	if w.Wraps {
		return hour >= w.StartHour || hour <= w.EndHour
	}
	return hour >= w.StartHour && hour <= w.EndHour
}

// FilterRegularBars trims an equity instrument's bar series to the regular
// trading window on the calendar day of its most recent bar, in the
// instrument's own timezone. The filter is a no-op for non-equity
// instruments, outside the regular phase, or when it would retain fewer than
// 10 bars (the feed's session tagging is unreliable and a degenerate result
// is worse than an unfiltered one).
func FilterRegularBars(bars []models.Bar, symbolInfo models.SymbolInfo, info models.SessionInfo) []models.Bar {
	if len(bars) == 0 || info.MarketPhase != models.PhaseRegular || !EquityLike(symbolInfo.Type) {
		return bars
	}
	loc := Location(symbolInfo.Timezone, info.Timezone)
	window := regularWindow(symbolInfo.RegularSession)

	last := time.UnixMilli(bars[len(bars)-1].Time).In(loc)
	year, month, day := last.Date()

	kept := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		t := time.UnixMilli(b.Time).In(loc)
		y, m, d := t.Date()
		if y != year || m != month || d != day {
			continue
		}
		hour := float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
		if inWindow(window, hour) {
			kept = append(kept, b)
		}
	}
	if len(kept) < filterRetentionFloor {
		return bars
	}
	return kept
}

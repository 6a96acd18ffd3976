// Package chart turns a ChartData record into a renderable HTML document
// with an inline SVG price line. Rasterization is a downstream concern; this
// package only produces the document.
package chart

import (
	"fmt"
	"strings"
	"time"

	"chartflow/internal/models"
	"chartflow/internal/session"
)

const (
	docWidth     = 1920
	docHeight    = 1080
	canvasWidth  = 1680
	canvasHeight = 680

	upColor   = "#22ab94"
	downColor = "#f7525f"
)

// scale maps bar closes onto the SVG canvas with 10% vertical padding.
type scale struct {
	yMin, yMax float64
}

func newScale(bars []models.Bar) scale {
	min, max := 0.0, 0.0
	first := true
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		if first || b.Close < min {
			min = b.Close
		}
		if first || b.Close > max {
			max = b.Close
		}
		first = false
	}
	pad := (max - min) * 0.1
	if pad == 0 {
		pad = 0.1
	}
	return scale{yMin: min - pad, yMax: max + pad}
}

func (s scale) y(price float64) float64 {
	r := s.yMax - s.yMin
	if r == 0 {
		return float64(canvasHeight) / 2
	}
	return canvasHeight - (price-s.yMin)/r*canvasHeight
}

// linePath builds the SVG path through every bar close, plus the closed area
// variant used for the gradient fill.
func linePath(bars []models.Bar, sc scale) (line, area string) {
	if len(bars) == 0 {
		return "", ""
	}
	var b strings.Builder
	step := float64(canvasWidth)
	if len(bars) > 1 {
		step = float64(canvasWidth) / float64(len(bars)-1)
	}
	for i, bar := range bars {
		if i == 0 {
			b.WriteString("M ")
		} else {
			b.WriteString(" L ")
		}
		fmt.Fprintf(&b, "%.2f,%.2f", float64(i)*step, sc.y(bar.Close))
	}
	line = b.String()
	area = fmt.Sprintf("%s L %d,%d L 0,%d Z", line, canvasWidth, canvasHeight, canvasHeight)
	return line, area
}

// priceDecimals matches the feed's display convention: more precision for
// cheaper instruments.
func priceDecimals(price float64) int {
	switch {
	case price < 10:
		return 5
	case price < 100:
		return 3
	default:
		return 2
	}
}

func axisLabels(data *models.ChartData) []string {
	labels := make([]string, 0, 7)
	if len(data.Bars) == 0 {
		return labels
	}
	loc := time.UTC
	if data.SessionInfo != nil {
		loc = session.Location(data.SymbolInfo.Timezone, data.SessionInfo.Timezone)
	}
	for i := 0; i < 7; i++ {
		idx := i * (len(data.Bars) - 1) / 6
		t := time.UnixMilli(data.Bars[idx].Time).In(loc)
		labels = append(labels, t.Format("15:04"))
	}
	return labels
}

// BuildDocument renders the chart page for one ChartData record.
func BuildDocument(data *models.ChartData) string {
	color := upColor
	sign := "+"
	if data.Change < 0 {
		color = downColor
		sign = ""
	}

	sc := newScale(data.Bars)
	line, area := linePath(data.Bars, sc)

	title := data.SymbolInfo.Description
	if title == "" {
		title = data.SymbolInfo.Name
	}
	caption := "24 hours"
	if data.SessionInfo != nil && data.SessionInfo.Label != "" {
		caption = data.SessionInfo.Label
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html><html><head><meta charset="utf-8"><style>
body{width:%dpx;height:%dpx;margin:0;background:#000;color:#fff;font-family:-apple-system,"Trebuchet MS",Roboto,sans-serif}
.wrap{display:flex;flex-direction:column;height:100%%;padding:2rem 3rem;box-sizing:border-box}
.title{font-size:1.8rem;font-weight:600}
.sub{font-size:1rem;color:#888}
.price{font-size:4rem;font-weight:700;font-feature-settings:"tnum" on}
.cur{font-size:1.4rem;color:#888;margin-left:.5rem}
.chg{font-size:1.3rem;color:%s;font-weight:600}
.cap{font-size:1.3rem;color:#666;margin-left:.6rem}
.canvas{flex:1;margin-top:1rem}
.ticks{display:flex;justify-content:space-between;padding:.75rem 0;font-size:1.1rem;color:#666}
</style></head><body><div class="wrap">`, docWidth, docHeight, color)

	fmt.Fprintf(&b, `<div class="title">%s</div><div class="sub">%s</div>`,
		htmlEscape(title), htmlEscape(data.Symbol))
	fmt.Fprintf(&b, `<div><span class="price">%.*f</span><span class="cur">%s</span></div>`,
		priceDecimals(data.CurrentPrice), data.CurrentPrice, htmlEscape(currency(data)))
	fmt.Fprintf(&b, `<div><span class="chg">%s%.3f (%s%.2f%%)</span><span class="cap">%s</span></div>`,
		sign, data.Change, sign, data.ChangePercent, htmlEscape(caption))

	fmt.Fprintf(&b, `<div class="canvas"><svg width="100%%" height="100%%" viewBox="0 0 %d %d" preserveAspectRatio="none">`,
		canvasWidth, canvasHeight)
	fmt.Fprintf(&b, `<defs><linearGradient id="g" x1="0" y1="0" x2="0" y2="1"><stop offset="0%%" stop-color="%s" stop-opacity="0.3"/><stop offset="100%%" stop-color="%s" stop-opacity="0"/></linearGradient></defs>`,
		color, color)
	fmt.Fprintf(&b, `<path d="%s" fill="url(#g)"/><path d="%s" fill="none" stroke="%s" stroke-width="4" stroke-linecap="round" stroke-linejoin="round"/></svg></div>`,
		area, line, color)

	b.WriteString(`<div class="ticks">`)
	for _, label := range axisLabels(data) {
		fmt.Fprintf(&b, `<span>%s</span>`, label)
	}
	b.WriteString(`</div></div></body></html>`)
	return b.String()
}

func currency(data *models.ChartData) string {
	if data.SymbolInfo.Currency != "" {
		return data.SymbolInfo.Currency
	}
	return "USD"
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
)

func htmlEscape(s string) string {
	return htmlEscaper.Replace(s)
}

package chart

import (
	"strings"
	"testing"

	"chartflow/internal/models"
)

func sampleData() *models.ChartData {
	return &models.ChartData{
		Symbol: "COINBASE:BTCUSD",
		SymbolInfo: models.SymbolInfo{
			Symbol:      "COINBASE:BTCUSD",
			Name:        "BTCUSD",
			Description: "Bitcoin / U.S. Dollar",
			Currency:    "USD",
		},
		Bars: []models.Bar{
			{Time: 1700000000000, Open: 100, High: 102, Low: 99, Close: 101},
			{Time: 1700000300000, Open: 101, High: 103, Low: 100, Close: 102.5},
			{Time: 1700000600000, Open: 102.5, High: 104, Low: 101, Close: 103},
		},
		CurrentPrice:  103,
		Change:        3,
		ChangePercent: 3,
		SessionInfo: &models.SessionInfo{
			Label:    "24 hours",
			Timezone: "Etc/UTC",
		},
	}
}

func TestBuildDocumentPositiveChange(t *testing.T) {
	doc := BuildDocument(sampleData())

	for _, want := range []string{
		"<!DOCTYPE html>",
		"Bitcoin / U.S. Dollar",
		"COINBASE:BTCUSD",
		"24 hours",
		"+3.000 (+3.00%)",
		upColor,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q", want)
		}
	}
	if strings.Contains(doc, downColor) {
		t.Error("positive change must not use the down color")
	}
}

func TestBuildDocumentNegativeChange(t *testing.T) {
	data := sampleData()
	data.Change = -1.5
	data.ChangePercent = -1.44

	doc := BuildDocument(data)
	if !strings.Contains(doc, "-1.500 (-1.44%)") {
		t.Error("negative change not rendered with its own sign")
	}
	if !strings.Contains(doc, downColor) {
		t.Error("negative change must use the down color")
	}
}

func TestBuildDocumentEscapesMetadata(t *testing.T) {
	data := sampleData()
	data.SymbolInfo.Description = `A <b>"risky"</b> & name`

	doc := BuildDocument(data)
	if strings.Contains(doc, "<b>") {
		t.Error("description markup not escaped")
	}
	if !strings.Contains(doc, "A &lt;b&gt;&quot;risky&quot;&lt;/b&gt; &amp; name") {
		t.Error("escaped description missing from document")
	}
}

func TestBuildDocumentEmptyBars(t *testing.T) {
	data := sampleData()
	data.Bars = nil

	// Must not panic and still produce a document shell.
	doc := BuildDocument(data)
	if !strings.Contains(doc, "</html>") {
		t.Error("document truncated for empty bar series")
	}
}

func TestPriceDecimals(t *testing.T) {
	cases := []struct {
		price float64
		want  int
	}{
		{0.123, 5}, {9.99, 5}, {10, 3}, {99.5, 3}, {100, 2}, {50100, 2},
	}
	for _, c := range cases {
		if got := priceDecimals(c.price); got != c.want {
			t.Errorf("priceDecimals(%v) = %d, want %d", c.price, got, c.want)
		}
	}
}

func TestLinePathSpansCanvas(t *testing.T) {
	bars := sampleData().Bars
	sc := newScale(bars)
	line, area := linePath(bars, sc)

	if !strings.HasPrefix(line, "M 0.00,") {
		t.Errorf("line does not start at x=0: %q", line)
	}
	if !strings.Contains(line, "L 1680.00,") {
		t.Errorf("line does not reach the right edge: %q", line)
	}
	if !strings.HasSuffix(area, "Z") {
		t.Errorf("area path not closed: %q", area)
	}
}

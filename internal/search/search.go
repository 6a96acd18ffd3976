// Package search resolves free-text queries to fully qualified symbol ids
// ("EXCHANGE:SYMBOL") through the feed's symbol-search endpoint.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"chartflow/config"
	"chartflow/logger"
)

// Result is one resolved instrument.
type Result struct {
	Symbol      string
	Description string
}

type searchResponse struct {
	Symbols []struct {
		Symbol      string `json:"symbol"`
		Exchange    string `json:"exchange"`
		Description string `json:"description"`
		Prefix      string `json:"prefix"`
	} `json:"symbols"`
}

// userAgentTransport sets browser-like headers on outgoing requests; the
// search endpoint rejects clients without them.
type userAgentTransport struct {
	agent  string
	origin string
	base   http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	req.Header.Set("Origin", t.origin)
	req.Header.Set("Referer", t.origin+"/")
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// Client queries the symbol-search endpoint, rate-limited so repeated lookups
// stay polite with a public API.
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.Search.URL,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: userAgentTransport{
				agent:  cfg.Search.UserAgent,
				origin: "https://www.tradingview.com",
			},
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.Search.RequestsPerSecond), cfg.Search.Burst),
		log:     logger.GetLogger(),
	}
}

// Lookup returns the top match for a query. The exchange prefix reported by
// the endpoint wins over the plain exchange name when present.
func (c *Client) Lookup(ctx context.Context, query string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limit: %w", err)
	}

	u := fmt.Sprintf("%s?text=%s&hl=0&lang=en&search_type=undefined&domain=production&sort_by_country=US",
		c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("symbol search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("symbol search: unexpected status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Symbols) == 0 {
		return nil, fmt.Errorf("no symbol found for %q", query)
	}

	top := parsed.Symbols[0]
	prefix := top.Prefix
	if prefix == "" {
		prefix = top.Exchange
	}
	result := &Result{
		Symbol:      fmt.Sprintf("%s:%s", prefix, top.Symbol),
		Description: top.Description,
	}
	c.log.WithComponent("search").WithFields(logger.Fields{
		"query":  query,
		"symbol": result.Symbol,
	}).Debug("symbol resolved")
	return result, nil
}

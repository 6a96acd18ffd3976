// Package fetch composes the frame codec, session transport, message
// interpreter and session classifier into the public "fetch instrument data"
// operation. One call is one short-lived request: a single resolved
// instrument, one bar series and one quote snapshot, then the connection is
// closed. No retries, no reconnection.
package fetch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chartflow/config"
	"chartflow/internal/interpret"
	"chartflow/internal/models"
	"chartflow/internal/protocol"
	"chartflow/internal/session"
	"chartflow/internal/transport"
	"chartflow/logger"
)

// quoteFields is the full field set requested for a bar-and-quote session.
var quoteFields = []string{
	"ch", "chp", "current_session", "description", "local_description",
	"exchange", "format", "fractional", "is_tradable", "language", "logoid",
	"logo", "lp", "lp_time", "minmov", "minmove2", "original_name",
	"pricescale", "pro_name", "short_name", "type", "update_mode", "volume",
	"currency_code", "rchp", "rtc",
}

// metadataQuoteFields is the reduced set used by the pre-fetch metadata
// session; it only needs enough to classify the trading session.
var metadataQuoteFields = []string{"session", "type", "timezone", "current_session"}

// Client performs acquisition sessions against one configured feed.
type Client struct {
	cfg  *config.Config
	dial transport.Dialer
	log  *logger.Log
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:  cfg,
		dial: transport.WebSocketDialer(cfg.Feed.URL, cfg.Feed.Origin),
		log:  logger.GetLogger(),
	}
}

// NewClientWithDialer constructs a client over an injected connection
// factory.
func NewClientWithDialer(cfg *config.Config, dial transport.Dialer) *Client {
	return &Client{cfg: cfg, dial: dial, log: logger.GetLogger()}
}

// Fetch retrieves the bar series, live quote and symbol metadata for one
// instrument. When count is not positive, a short metadata-only session runs
// first to learn the trading-hours descriptor and plan the bar count; that
// sub-session degrades to a default guess on timeout and never fails the
// outer call. Fetch resolves exactly once: a ChartData on success, or one of
// transport.ErrTimeout / transport.ErrClosed / a wrapped transport error.
func (c *Client) Fetch(ctx context.Context, symbol, interval string, count int) (*models.ChartData, error) {
	started := time.Now()
	log := c.log.WithComponent("fetch").WithFields(logger.Fields{
		"symbol":     symbol,
		"interval":   interval,
		"request_id": uuid.New().String(),
	})

	var meta *models.SessionInfo
	if count <= 0 {
		m := c.sessionMetadata(ctx, symbol)
		meta = &m
		count = session.BarCount(m.Descriptor, intervalMinutes(interval))
		log.WithFields(logger.Fields{
			"session_type": m.Type,
			"hours":        m.Hours,
			"bar_count":    count,
		}).Debug("planned bar count from session metadata")
	}

	acc := interpret.New(symbol)
	opts := transport.Options{
		AuthToken:   c.cfg.Feed.AuthToken,
		Symbol:      symbol,
		Interval:    interval,
		BarCount:    count,
		QuoteFields: quoteFields,
		Adjustment:  c.cfg.Feed.Adjustment,
		SessionType: c.cfg.Feed.SessionType,
		WithSeries:  true,
		Timeout:     c.cfg.Feed.Timeout,
	}
	if err := transport.Run(ctx, c.dial, opts, acc.Apply); err != nil {
		log.WithError(err).Warn("acquisition session failed")
		return nil, err
	}

	info := c.resolveSessionInfo(meta, acc)

	acc.SortBars()
	acc.Bars = session.FilterRegularBars(acc.Bars, acc.Info, info)

	data := acc.Finalize()
	data.SessionInfo = &info

	logger.LogPerformanceEntry(log, "fetch", "acquisition", time.Since(started), logger.Fields{
		"bars":  len(data.Bars),
		"phase": info.MarketPhase,
	})
	return data, nil
}

// sessionMetadata runs the short metadata-only session. It never fails: on
// timeout or transport trouble it returns the default 24 hour guess so the
// main fetch can still proceed.
func (c *Client) sessionMetadata(ctx context.Context, symbol string) models.SessionInfo {
	acc := interpret.New(symbol)
	opts := transport.Options{
		AuthToken:   c.cfg.Feed.AuthToken,
		Symbol:      symbol,
		QuoteFields: metadataQuoteFields,
		WithSeries:  false,
		Timeout:     c.cfg.Feed.MetadataTimeout,
	}
	err := transport.Run(ctx, c.dial, opts, func(env protocol.Envelope) bool {
		acc.Apply(env)
		return acc.Info.Session != ""
	})
	if err != nil {
		c.log.WithComponent("fetch").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
		}).Warn("metadata session degraded to default guess")
		return session.Resolve("", "", "", "")
	}
	return session.Resolve(acc.Info.Session, acc.CurrentSession, acc.Info.Type,
		firstNonEmpty(acc.Info.Timezone, acc.FeedTimezone))
}

// resolveSessionInfo prefers the pre-fetch metadata verdict when it learned a
// real descriptor, and otherwise derives one from whatever arrived during the
// main session. Either way the instrument type and timezone from the main
// session win when the metadata session lacked them.
func (c *Client) resolveSessionInfo(meta *models.SessionInfo, acc *interpret.Accumulator) models.SessionInfo {
	descriptor := acc.Info.Session
	tag := acc.CurrentSession
	tz := firstNonEmpty(acc.Info.Timezone, acc.FeedTimezone)
	if meta != nil && meta.Descriptor != "" {
		descriptor = meta.Descriptor
		tag = firstNonEmpty(meta.CurrentSession, tag)
		tz = firstNonEmpty(tz, meta.Timezone)
	}
	return session.Resolve(descriptor, tag, acc.Info.Type, tz)
}

// intervalMinutes converts the feed's interval notation to minutes. Numeric
// intervals are already minutes; daily and weekly resolutions map to their
// minute equivalents. Anything unrecognized falls back to 5.
func intervalMinutes(interval string) int {
	switch strings.ToUpper(interval) {
	case "D", "1D":
		return 1440
	case "W", "1W":
		return 10080
	}
	if n, err := strconv.Atoi(interval); err == nil && n > 0 {
		return n
	}
	return 5
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

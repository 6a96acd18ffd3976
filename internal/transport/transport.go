// Package transport owns one feed connection for one logical request: it
// drives the handshake, enforces the overall deadline, and delivers every
// decoded envelope to the caller in arrival order over a single-consumer
// loop so the session resolves exactly once.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"chartflow/internal/protocol"
	"chartflow/logger"
)

// Terminal error kinds for a session. Low-level connection failures are
// returned wrapped and match neither sentinel.
var (
	ErrTimeout = errors.New("session timed out")
	ErrClosed  = errors.New("connection closed before completion")
)

// Conn is the minimal connection surface the session needs. The real
// implementation is a gorilla websocket; tests inject scripted fakes.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer yields one connected Conn per call.
type Dialer func(ctx context.Context) (Conn, error)

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(data []byte) error { return c.conn.WriteMessage(websocket.TextMessage, data) }
func (c *wsConn) ReadMessage() ([]byte, error)   { _, data, err := c.conn.ReadMessage(); return data, err }
func (c *wsConn) Close() error                   { return c.conn.Close() }

// WebSocketDialer dials the feed URL with a browser-like Origin header.
func WebSocketDialer(url, origin string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		header := http.Header{}
		if origin != "" {
			header.Set("Origin", origin)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return &wsConn{conn: conn}, nil
	}
}

// Options describe one session's handshake.
type Options struct {
	AuthToken   string
	Symbol      string
	Interval    string
	BarCount    int
	QuoteFields []string

	// Adjustment and SessionType are the resolve preferences passed with
	// the symbol ("splits"/"extended" for a full fetch).
	Adjustment  string
	SessionType string

	// WithSeries requests bar creation; metadata-only sessions leave it off.
	WithSeries bool

	Timeout time.Duration
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// sessionID builds an opaque session token: fixed prefix plus 12 random
// lowercase-alphanumerics. Collisions only need to be negligible, not
// impossible.
func sessionID(prefix string) string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return prefix + string(b)
}

// handshake sends the ordered command sequence that opens a session. The
// auth token is best-effort: the feed degrades to a lower access tier on an
// invalid token instead of failing.
func handshake(conn Conn, opts Options) error {
	cs, qs := sessionID("cs_"), sessionID("qs_")

	resolveParams := fmt.Sprintf(`={"symbol":"%s","adjustment":"%s","session":"%s"}`,
		opts.Symbol, opts.Adjustment, opts.SessionType)

	type command struct {
		m string
		p []interface{}
	}
	commands := []command{
		{"set_auth_token", []interface{}{opts.AuthToken}},
		{"chart_create_session", []interface{}{cs, ""}},
		{"quote_create_session", []interface{}{qs}},
		{"quote_set_fields", append([]interface{}{qs}, toAny(opts.QuoteFields)...)},
		{"quote_add_symbols", []interface{}{qs, opts.Symbol}},
	}
	if opts.WithSeries {
		commands = append(commands,
			command{"resolve_symbol", []interface{}{cs, "sds_sym_1", resolveParams}},
			command{"create_series", []interface{}{cs, "sds_1", "s1", "sds_sym_1", opts.Interval, opts.BarCount, ""}},
		)
	}

	for _, cmd := range commands {
		frame, err := protocol.Encode(cmd.m, cmd.p)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(frame); err != nil {
			return fmt.Errorf("send %s: %w", cmd.m, err)
		}
	}
	return nil
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Run opens one connection, performs the handshake and delivers every decoded
// envelope to handle until handle reports completion, the deadline expires,
// or the transport fails. The connection is always closed before Run returns;
// closing on our side after legitimate completion is not an error.
func Run(ctx context.Context, dial Dialer, opts Options, handle func(protocol.Envelope) bool) error {
	log := logger.GetLogger().WithComponent("transport").WithFields(logger.Fields{
		"symbol": opts.Symbol,
	})

	conn, err := dial(ctx)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}

	if err := handshake(conn, opts); err != nil {
		conn.Close()
		return fmt.Errorf("transport: %w", err)
	}

	msgs := make(chan protocol.Envelope, 64)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go readPump(conn, msgs, readErr, stop)

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-timer.C:
			conn.Close()
			log.Warn("session deadline expired")
			return ErrTimeout
		case err := <-readErr:
			conn.Close()
			if isRemoteClose(err) {
				return ErrClosed
			}
			return fmt.Errorf("transport: %w", err)
		case env := <-msgs:
			if handle(env) {
				conn.Close()
				return nil
			}
		}
	}
}

// readPump decodes inbound frames into envelopes until the connection fails
// or the session loop stops consuming.
func readPump(conn Conn, msgs chan<- protocol.Envelope, readErr chan<- error, stop <-chan struct{}) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			case <-stop:
			}
			return
		}
		for _, env := range protocol.Decode(data) {
			select {
			case msgs <- env:
			case <-stop:
				return
			}
		}
	}
}

func isRemoteClose(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

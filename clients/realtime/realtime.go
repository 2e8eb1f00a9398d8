package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"botwatch/config"
	"botwatch/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned by Connect when no endpoint or key is set.
var ErrNotConfigured = errors.New("realtime: url or key not configured")

const (
	protocolVersion   = "1.0.0"
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// FillEvent is a fill insert seen on the change feed.
type FillEvent struct {
	BotID string
	Fill  model.Fill
}

// Client subscribes to fill inserts over the store's Phoenix-channel
// websocket.
type Client struct {
	logger *zap.Logger

	endpoint          string
	apiKey            string
	table             string
	dialer            *websocket.Dialer
	heartbeatInterval time.Duration

	connMu  sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn

	fillCh  chan FillEvent
	errCh   chan error
	closeCh chan struct{}

	ref             uint64
	msgCount        uint64
	fillCount       uint64
	lastMsgUnixNano int64
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint, err := Endpoint(cfg.Supabase.URL, cfg.Supabase.RealtimeURL, cfg.Supabase.Key)
	if err != nil {
		logger.Warn("realtime endpoint unavailable, fill feed disabled", zap.Error(err))
	}

	return &Client{
		logger:            logger,
		endpoint:          endpoint,
		apiKey:            cfg.Supabase.Key,
		table:             cfg.Supabase.FillsTable,
		dialer:            websocket.DefaultDialer,
		heartbeatInterval: heartbeatInterval,

		fillCh:  make(chan FillEvent, 1024),
		errCh:   make(chan error, 64),
		closeCh: make(chan struct{}),
	}
}

// Endpoint builds the websocket URL. An explicit realtime URL wins; otherwise
// it is derived from the REST base URL. The key and protocol version are
// added as query parameters when missing.
func Endpoint(restURL, realtimeURL, apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrNotConfigured
	}

	raw := realtimeURL
	if raw == "" {
		if restURL == "" {
			return "", ErrNotConfigured
		}
		u, err := url.Parse(restURL)
		if err != nil {
			return "", fmt.Errorf("parse rest url: %w", err)
		}
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		default:
			return "", fmt.Errorf("unsupported rest url scheme %q", u.Scheme)
		}
		u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
		raw = u.String()
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	if q.Get("apikey") == "" {
		q.Set("apikey", apiKey)
	}
	if q.Get("vsn") == "" {
		q.Set("vsn", protocolVersion)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Topic is the channel topic for inserts on the fills table.
func (c *Client) Topic() string {
	return "realtime:public:" + c.table
}

// Connect dials the feed and joins the fills topic. The connection is closed
// when ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	if c.endpoint == "" {
		return ErrNotConfigured
	}

	c.connMu.Lock()
	alreadyConnected := c.conn != nil
	c.connMu.Unlock()
	if alreadyConnected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial realtime ws: %w", err)
	}

	c.logger.Info("realtime ws dialed", zap.String("topic", c.Topic()))

	conn.SetCloseHandler(func(code int, text string) error {
		c.logger.Warn(
			"realtime ws close frame received",
			zap.Int("code", code),
			zap.String("reason", text),
		)
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	closeCh := c.closeCh
	c.connMu.Unlock()

	join := c.message(c.Topic(), "phx_join", map[string]any{
		"config": map[string]any{
			"broadcast": map[string]any{"self": false},
			"presence":  map[string]any{"key": ""},
			"postgres_changes": []map[string]any{{
				"event":  "INSERT",
				"schema": "public",
				"table":  c.table,
			}},
		},
		"access_token": c.apiKey,
	})
	if err := c.writeJSON(join); err != nil {
		c.closeConn(conn)
		return fmt.Errorf("send join: %w", err)
	}

	go c.readLoop(conn, closeCh)
	go c.heartbeatLoop(closeCh)

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-closeCh:
		}
	}()

	return nil
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn != nil
}

func (c *Client) Fills() <-chan FillEvent {
	return c.fillCh
}

func (c *Client) Errors() <-chan error {
	return c.errCh
}

type Stats struct {
	Connected     bool      `json:"connected"`
	MessageCount  uint64    `json:"message_count"`
	FillCount     uint64    `json:"fill_count"`
	LastMessageAt time.Time `json:"last_message_at"`
}

func (c *Client) Stats() Stats {
	ns := atomic.LoadInt64(&c.lastMsgUnixNano)

	var t time.Time
	if ns > 0 {
		t = time.Unix(0, ns)
	}

	return Stats{
		Connected:     c.Connected(),
		MessageCount:  atomic.LoadUint64(&c.msgCount),
		FillCount:     atomic.LoadUint64(&c.fillCount),
		LastMessageAt: t,
	}
}

func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}

	// Fresh channel so the client can be dialed again.
	c.closeCh = make(chan struct{})

	var err error
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}

// closeConn closes conn only if it is still the active connection, so a
// stale read loop cannot tear down a newer dial.
func (c *Client) closeConn(conn *websocket.Conn) {
	c.connMu.Lock()
	current := c.conn == conn
	c.connMu.Unlock()
	if current {
		_ = c.Close()
		return
	}
	_ = conn.Close()
}

type envelope struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

func (c *Client) message(topic, event string, payload any) map[string]any {
	ref := atomic.AddUint64(&c.ref, 1)
	return map[string]any{
		"topic":   topic,
		"event":   event,
		"payload": payload,
		"ref":     strconv.FormatUint(ref, 10),
	}
}

func (c *Client) writeJSON(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func (c *Client) heartbeatLoop(closeCh <-chan struct{}) {
	t := time.NewTicker(c.heartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := c.writeJSON(c.message("phoenix", "heartbeat", map[string]any{})); err != nil {
				c.logger.Warn("realtime heartbeat failed", zap.Error(err))
			}
		case <-closeCh:
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, closeCh <-chan struct{}) {
	c.logger.Info("realtime ws read loop started")

	for {
		select {
		case <-closeCh:
			return
		default:
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-closeCh:
				return
			default:
			}
			c.logger.Warn("realtime ws read loop exiting: read error", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
			c.closeConn(conn)
			return
		}

		atomic.AddUint64(&c.msgCount, 1)
		atomic.StoreInt64(&c.lastMsgUnixNano, time.Now().UnixNano())

		c.handleFrame(b)
	}
}

func (c *Client) handleFrame(b []byte) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		c.logger.Warn("realtime ws bad frame", zap.Error(err), zap.ByteString("frame", b))
		return
	}

	switch env.Event {
	case "phx_reply":
		if status := replyStatus(env.Payload); status != "ok" {
			err := fmt.Errorf("realtime %s reply status %q: %s", env.Topic, status, string(env.Payload))
			c.logger.Warn("realtime reply not ok", zap.Error(err))
			select {
			case c.errCh <- err:
			default:
			}
		}
	case "phx_error", "system":
		c.logger.Warn("realtime channel message",
			zap.String("event", env.Event),
			zap.ByteString("payload", env.Payload),
		)
	case "postgres_changes", "INSERT":
		ev, ok := ParseFill(env.Payload)
		if !ok {
			c.logger.Warn("realtime insert not decodable as fill", zap.ByteString("payload", env.Payload))
			return
		}
		atomic.AddUint64(&c.fillCount, 1)
		c.forward(ev)
	}
}

func replyStatus(payload json.RawMessage) string {
	var r struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(payload, &r)
	return r.Status
}

// ParseFill decodes an insert payload. It accepts both the current shape
// ({"data":{"record":{...}}}) and the legacy one ({"record":{...}}).
func ParseFill(payload json.RawMessage) (FillEvent, bool) {
	var p struct {
		Data struct {
			Type   string          `json:"type"`
			Record json.RawMessage `json:"record"`
		} `json:"data"`
		Type   string          `json:"type"`
		Record json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return FillEvent{}, false
	}

	record, typ := p.Data.Record, p.Data.Type
	if len(record) == 0 {
		record, typ = p.Record, p.Type
	}
	if len(bytes.TrimSpace(record)) == 0 {
		return FillEvent{}, false
	}
	if typ != "" && !strings.EqualFold(typ, "INSERT") {
		return FillEvent{}, false
	}

	var row model.FillRow
	if err := json.Unmarshal(record, &row); err != nil {
		return FillEvent{}, false
	}
	fill, ok := row.Fill()
	if !ok {
		return FillEvent{}, false
	}
	return FillEvent{BotID: row.BotID, Fill: fill}, true
}

func (c *Client) forward(ev FillEvent) {
	select {
	case c.fillCh <- ev:
	default:
		c.logger.Warn("dropping fill: fillCh full", zap.String("market", ev.Fill.MarketID))
	}
}

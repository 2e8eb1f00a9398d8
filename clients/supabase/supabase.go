package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"botwatch/config"
	"botwatch/internal/health"
	"botwatch/internal/model"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by every fetch when the URL or key is missing.
var ErrNotConfigured = errors.New("supabase: url or key not configured")

const (
	timeColumn        = "ts"
	orderTimeColumn   = "created_ts"
	defaultPageLimit  = 1000
	maxPagesPerSource = 500
)

// Client reads bot history from the hosted store's REST interface.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string

	eventsTable    string
	ordersTable    string
	fillsTable     string
	snapshotsTable string
	pageLimit      int
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	sc := cfg.Supabase
	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := sc.PageLimit
	if limit <= 0 {
		limit = defaultPageLimit
	}

	c := &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:        sc.URL,
		apiKey:         sc.Key,
		eventsTable:    sc.EventsTable,
		ordersTable:    sc.OrdersTable,
		fillsTable:     sc.FillsTable,
		snapshotsTable: sc.SnapshotsTable,
		pageLimit:      limit,
	}
	if !c.Enabled() {
		logger.Warn("SUPABASE_URL or SUPABASE_KEY not set, store reads disabled")
	}
	return c
}

// Enabled reports whether the client has what it needs to make requests.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// FetchEvents returns the bot's events with ts in [window.Start, window.End).
func (c *Client) FetchEvents(ctx context.Context, botID string, window health.Window) ([]model.BotEvent, error) {
	rows, err := fetchRows[model.EventRow](ctx, c, c.eventsTable, timeColumn, botID, window)
	if err != nil {
		return nil, err
	}
	out := make([]model.BotEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Event())
	}
	return out, nil
}

// FetchOrders returns the bot's orders created in the window.
func (c *Client) FetchOrders(ctx context.Context, botID string, window health.Window) ([]model.Order, error) {
	rows, err := fetchRows[model.OrderRow](ctx, c, c.ordersTable, orderTimeColumn, botID, window)
	if err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Order())
	}
	return out, nil
}

// FetchFills returns the bot's fills in the window. Rows with an
// unrecognized side are skipped.
func (c *Client) FetchFills(ctx context.Context, botID string, window health.Window) ([]model.Fill, error) {
	rows, err := fetchRows[model.FillRow](ctx, c, c.fillsTable, timeColumn, botID, window)
	if err != nil {
		return nil, err
	}
	out := make([]model.Fill, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		f, ok := r.Fill()
		if !ok {
			skipped++
			continue
		}
		out = append(out, f)
	}
	if skipped > 0 {
		c.logger.Warn("skipped fills with unknown side",
			zap.String("bot", botID),
			zap.Int("skipped", skipped),
		)
	}
	return out, nil
}

// FetchSnapshots returns the bot's inventory snapshots in the window.
func (c *Client) FetchSnapshots(ctx context.Context, botID string, window health.Window) ([]model.InventorySnapshot, error) {
	rows, err := fetchRows[model.SnapshotRow](ctx, c, c.snapshotsTable, timeColumn, botID, window)
	if err != nil {
		return nil, err
	}
	out := make([]model.InventorySnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Snapshot())
	}
	return out, nil
}

// FetchAll reads the four tables for one bot and window.
func (c *Client) FetchAll(ctx context.Context, botID string, window health.Window) (health.Input, error) {
	in := health.Input{Window: window}
	var err error

	if in.Events, err = c.FetchEvents(ctx, botID, window); err != nil {
		return health.Input{}, fmt.Errorf("fetch events: %w", err)
	}
	if in.Orders, err = c.FetchOrders(ctx, botID, window); err != nil {
		return health.Input{}, fmt.Errorf("fetch orders: %w", err)
	}
	if in.Fills, err = c.FetchFills(ctx, botID, window); err != nil {
		return health.Input{}, fmt.Errorf("fetch fills: %w", err)
	}
	if in.Snapshots, err = c.FetchSnapshots(ctx, botID, window); err != nil {
		return health.Input{}, fmt.Errorf("fetch snapshots: %w", err)
	}

	c.logger.Debug("fetched bot window",
		zap.String("bot", botID),
		zap.Time("start", window.Start),
		zap.Time("end", window.End),
		zap.Int("events", len(in.Events)),
		zap.Int("orders", len(in.Orders)),
		zap.Int("fills", len(in.Fills)),
		zap.Int("snapshots", len(in.Snapshots)),
	)
	return in, nil
}

// fetchRows pages through a table with limit/offset until a short page.
func fetchRows[T any](ctx context.Context, c *Client, table, column, botID string, window health.Window) ([]T, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	var all []T
	for page := 0; page < maxPagesPerSource; page++ {
		u := c.tableURL(table, column, botID, window, page*c.pageLimit)

		var rows []T
		if err := c.doGet(ctx, u, &rows); err != nil {
			return nil, fmt.Errorf("%s page %d: %w", table, page, err)
		}
		all = append(all, rows...)

		if len(rows) < c.pageLimit {
			return all, nil
		}
	}

	c.logger.Warn("page cap reached, results truncated",
		zap.String("table", table),
		zap.String("bot", botID),
		zap.Int("rows", len(all)),
	)
	return all, nil
}

func (c *Client) tableURL(table, column, botID string, window health.Window, offset int) string {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("bot_id", "eq."+botID)
	if !window.Start.IsZero() {
		q.Add(column, "gte."+window.Start.UTC().Format(time.RFC3339Nano))
	}
	if !window.End.IsZero() {
		q.Add(column, "lt."+window.End.UTC().Format(time.RFC3339Nano))
	}
	q.Set("order", column+".asc")
	q.Set("limit", strconv.Itoa(c.pageLimit))
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	return fmt.Sprintf("%s/rest/v1/%s?%s", c.baseURL, url.PathEscape(table), q.Encode())
}

// doGet is a helper that performs a GET request and decodes JSON response.
func (c *Client) doGet(ctx context.Context, u string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}

	return nil
}

package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"botwatch/config"
	"botwatch/internal/health"
	"botwatch/internal/model"
)

var testWindow = health.Window{
	Start: time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC),
}

func testConfig(url string) *config.Config {
	cfg := config.Defaults()
	cfg.Supabase.URL = url
	cfg.Supabase.Key = "service-key"
	return cfg
}

type fakeStore struct {
	mu       sync.Mutex
	requests []*http.Request
	tables   map[string][]string
	status   int
}

func (f *fakeStore) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Clone(context.Background()))
		f.mu.Unlock()

		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
			return
		}

		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		rows := f.tables[table]
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset > len(rows) {
			offset = len(rows)
		}
		end := offset + limit
		if end > len(rows) {
			end = len(rows)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(rows[offset:end], ","))
	}
}

func newTestClient(t *testing.T, store *fakeStore) *Client {
	t.Helper()
	server := httptest.NewServer(store.handler())
	t.Cleanup(server.Close)
	return NewClient(nil, testConfig(server.URL))
}

func TestNewClient_NotConfigured(t *testing.T) {
	client := NewClient(nil, config.Defaults())
	if client.Enabled() {
		t.Fatal("expected disabled client")
	}
	_, err := client.FetchAll(context.Background(), "bot", testWindow)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestFetchFills_RequestShape(t *testing.T) {
	store := &fakeStore{tables: map[string][]string{
		"fills": {
			`{"bot_id":"b1","ts":"2026-05-04T11:05:00Z","market_id":"m1","side":"UP","action":"BUY","qty":10,"price":"0.48"}`,
			`{"bot_id":"b1","ts":"2026-05-04T11:06:00Z","market_id":"m1","side":"??","action":"BUY","qty":1,"price":0.5}`,
		},
	}}
	client := newTestClient(t, store)

	fills, err := client.FetchFills(context.Background(), "b1", testWindow)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected unknown side skipped, got %d fills", len(fills))
	}
	if fills[0].Side != model.SideUp || fills[0].Price != 0.48 {
		t.Errorf("unexpected fill %+v", fills[0])
	}

	req := store.requests[0]
	if req.Header.Get("apikey") != "service-key" {
		t.Errorf("missing apikey header")
	}
	if req.Header.Get("Authorization") != "Bearer service-key" {
		t.Errorf("unexpected auth header %q", req.Header.Get("Authorization"))
	}
	q := req.URL.Query()
	if q.Get("bot_id") != "eq.b1" {
		t.Errorf("unexpected bot filter %q", q.Get("bot_id"))
	}
	ts := q["ts"]
	if len(ts) != 2 || ts[0] != "gte.2026-05-04T11:00:00Z" || ts[1] != "lt.2026-05-04T12:00:00Z" {
		t.Errorf("unexpected time filters %v", ts)
	}
	if q.Get("order") != "ts.asc" {
		t.Errorf("unexpected order %q", q.Get("order"))
	}
}

func TestFetchOrders_UsesCreatedTS(t *testing.T) {
	store := &fakeStore{tables: map[string][]string{
		"orders": {`{"id":1,"market_id":"m","side":"DOWN","status":"FILLED","created_ts":"2026-05-04T11:10:00Z"}`},
	}}
	client := newTestClient(t, store)

	orders, err := client.FetchOrders(context.Background(), "b1", testWindow)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].Status != "filled" {
		t.Fatalf("unexpected orders %+v", orders)
	}
	q := store.requests[0].URL.Query()
	if q.Get("order") != "created_ts.asc" || len(q["created_ts"]) != 2 {
		t.Errorf("expected created_ts filters, got %v", q)
	}
}

func TestFetchEvents_Paginates(t *testing.T) {
	var rows []string
	for i := 0; i < 5; i++ {
		rows = append(rows, fmt.Sprintf(`{"ts":"2026-05-04T11:%02d:00Z","event_type":"emergency_exit"}`, i))
	}
	store := &fakeStore{tables: map[string][]string{"bot_events": rows}}
	server := httptest.NewServer(store.handler())
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL)
	cfg.Supabase.PageLimit = 2
	client := NewClient(nil, cfg)

	events, err := client.FetchEvents(context.Background(), "b1", testWindow)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	if events[0].EventType != "EMERGENCY_EXIT" {
		t.Errorf("expected upper-cased type, got %s", events[0].EventType)
	}
	if len(store.requests) != 3 {
		t.Errorf("expected 3 page requests, got %d", len(store.requests))
	}
	if store.requests[2].URL.Query().Get("offset") != "4" {
		t.Errorf("unexpected last offset %q", store.requests[2].URL.Query().Get("offset"))
	}
}

func TestFetchAll(t *testing.T) {
	store := &fakeStore{tables: map[string][]string{
		"bot_events":          {`{"ts":"2026-05-04T11:00:00Z","event_type":"HEDGE_PLACED"}`},
		"orders":              {`{"id":"o1","status":"open","created_ts":"2026-05-04T11:00:00Z"}`},
		"fills":               {`{"ts":"2026-05-04T11:00:00Z","market_id":"m","side":"DOWN","action":"BUY","qty":5,"price":0.5}`},
		"inventory_snapshots": {`{"ts":"2026-05-04T11:00:00Z","market_id":"m","up_shares":0,"down_shares":5}`},
	}}
	client := newTestClient(t, store)

	in, err := client.FetchAll(context.Background(), "b1", testWindow)
	if err != nil {
		t.Fatal(err)
	}
	if in.Window != testWindow {
		t.Errorf("expected window carried through, got %+v", in.Window)
	}
	if len(in.Events) != 1 || len(in.Orders) != 1 || len(in.Fills) != 1 || len(in.Snapshots) != 1 {
		t.Errorf("unexpected input sizes %d/%d/%d/%d", len(in.Events), len(in.Orders), len(in.Fills), len(in.Snapshots))
	}
}

func TestFetchAll_StatusError(t *testing.T) {
	store := &fakeStore{status: http.StatusUnauthorized}
	client := newTestClient(t, store)

	_, err := client.FetchAll(context.Background(), "b1", testWindow)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "fetch events") || !strings.Contains(err.Error(), "status=401") {
		t.Errorf("unexpected error %v", err)
	}
}

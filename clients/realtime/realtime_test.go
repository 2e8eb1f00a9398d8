package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"botwatch/config"
	"botwatch/internal/model"

	"github.com/gorilla/websocket"
)

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		rest     string
		realtime string
		key      string
		want     string
		wantErr  bool
	}{
		{
			name: "derived https",
			rest: "https://abc.supabase.co",
			key:  "k",
			want: "wss://abc.supabase.co/realtime/v1/websocket?apikey=k&vsn=1.0.0",
		},
		{
			name: "derived http with path",
			rest: "http://localhost:54321/",
			key:  "k",
			want: "ws://localhost:54321/realtime/v1/websocket?apikey=k&vsn=1.0.0",
		},
		{
			name:     "explicit keeps query",
			rest:     "https://ignored",
			realtime: "wss://rt.example/socket?vsn=2.0.0",
			key:      "k",
			want:     "wss://rt.example/socket?apikey=k&vsn=2.0.0",
		},
		{name: "no key", rest: "https://abc.supabase.co", wantErr: true},
		{name: "no url", key: "k", wantErr: true},
		{name: "bad scheme", rest: "ftp://x", key: "k", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(tt.rest, tt.realtime, tt.key)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParseFill(t *testing.T) {
	current := `{"data":{"type":"INSERT","table":"fills","record":{"bot_id":"b1","ts":"2026-05-04T12:00:00Z","market_id":"m","side":"DOWN","action":"BUY","qty":"3","price":0.52}},"ids":[1]}`
	ev, ok := ParseFill(json.RawMessage(current))
	if !ok {
		t.Fatal("expected current payload to parse")
	}
	if ev.BotID != "b1" || ev.Fill.Side != model.SideDown || ev.Fill.Qty != 3 {
		t.Errorf("unexpected event %+v", ev)
	}

	legacy := `{"type":"INSERT","record":{"bot_id":"b2","market_id":"m","side":"UP","qty":1,"price":0.4}}`
	ev, ok = ParseFill(json.RawMessage(legacy))
	if !ok || ev.BotID != "b2" || ev.Fill.Side != model.SideUp {
		t.Errorf("unexpected legacy parse %+v ok=%v", ev, ok)
	}
}

func TestParseFill_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":     `nope`,
		"no record":    `{"data":{"type":"INSERT"}}`,
		"update":       `{"data":{"type":"UPDATE","record":{"side":"UP"}}}`,
		"unknown side": `{"data":{"type":"INSERT","record":{"side":"FLAT"}}}`,
	}
	for name, payload := range tests {
		if _, ok := ParseFill(json.RawMessage(payload)); ok {
			t.Errorf("%s: expected rejection", name)
		}
	}
}

func TestNewClient_NotConfigured(t *testing.T) {
	client := NewClient(nil, config.Defaults())
	if err := client.Connect(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if client.Topic() != "realtime:public:fills" {
		t.Errorf("unexpected topic %s", client.Topic())
	}
	stats := client.Stats()
	if stats.Connected || stats.MessageCount != 0 || !stats.LastMessageAt.IsZero() {
		t.Errorf("unexpected stats %+v", stats)
	}
	if err := client.Close(); err != nil {
		t.Errorf("unexpected close error %v", err)
	}
}

func TestHandleFrame_ReplyError(t *testing.T) {
	client := NewClient(nil, config.Defaults())
	client.handleFrame([]byte(`{"topic":"realtime:public:fills","event":"phx_reply","payload":{"status":"error","response":{}},"ref":"1"}`))
	select {
	case err := <-client.Errors():
		if !strings.Contains(err.Error(), "error") {
			t.Errorf("unexpected error %v", err)
		}
	default:
		t.Error("expected reply error forwarded")
	}
}

func TestForward_ChannelFull(t *testing.T) {
	client := NewClient(nil, config.Defaults())
	client.fillCh = make(chan FillEvent, 1)
	client.forward(FillEvent{BotID: "a"})
	client.forward(FillEvent{BotID: "b"})
	if got := (<-client.Fills()).BotID; got != "a" {
		t.Errorf("expected first event kept, got %s", got)
	}
}

// feedServer joins the client and pushes one insert after the join.
func feedServer(t *testing.T, joined chan<- map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "anon" {
			http.Error(w, "missing apikey", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var join map[string]any
		if err := conn.ReadJSON(&join); err != nil {
			t.Errorf("read join: %v", err)
			return
		}
		joined <- join

		_ = conn.WriteJSON(map[string]any{
			"topic": join["topic"], "event": "phx_reply", "ref": join["ref"],
			"payload": map[string]any{"status": "ok", "response": map[string]any{}},
		})
		_ = conn.WriteJSON(map[string]any{
			"topic": join["topic"], "event": "postgres_changes", "ref": nil,
			"payload": map[string]any{"data": map[string]any{
				"type": "INSERT",
				"record": map[string]any{
					"bot_id": "b1", "ts": "2026-05-04T12:00:00Z", "market_id": "m1",
					"side": "UP", "action": "BUY", "qty": 5, "price": 0.47,
				},
			}},
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestConnect_JoinsAndForwardsFills(t *testing.T) {
	joined := make(chan map[string]any, 1)
	server := feedServer(t, joined)

	cfg := config.Defaults()
	u, _ := url.Parse(server.URL)
	u.Scheme = "ws"
	cfg.Supabase.RealtimeURL = u.String()
	cfg.Supabase.Key = "anon"

	client := NewClient(nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	if err := client.Connect(ctx); err == nil {
		t.Error("expected error on second connect")
	}

	select {
	case join := <-joined:
		if join["event"] != "phx_join" || join["topic"] != "realtime:public:fills" {
			t.Errorf("unexpected join %v", join)
		}
		payload, _ := join["payload"].(map[string]any)
		if payload["access_token"] != "anon" {
			t.Errorf("expected access token in join, got %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for join")
	}

	select {
	case ev := <-client.Fills():
		if ev.BotID != "b1" || ev.Fill.MarketID != "m1" || ev.Fill.Side != model.SideUp {
			t.Errorf("unexpected fill %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fill")
	}

	stats := client.Stats()
	if !stats.Connected || stats.FillCount != 1 || stats.MessageCount < 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for client.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.Connected() {
		t.Error("expected context cancel to close the connection")
	}
}

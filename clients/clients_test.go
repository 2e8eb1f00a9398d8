package clients

import (
	"testing"

	"botwatch/config"

	"go.uber.org/zap"
)

func TestNewClients(t *testing.T) {
	cfg := config.Defaults()
	cfg.Discord = config.DiscordConfig{ProdChannelID: "prod", BetaChannelID: "beta"}
	cfg.Supabase.URL = "https://abc.supabase.co"
	cfg.Supabase.Key = "key"

	logger := zap.NewNop()
	clients := NewClients(logger, cfg)

	if clients.Logger != logger {
		t.Error("unexpected logger")
	}
	if clients.Discord == nil || clients.Telegram == nil {
		t.Error("expected notifier clients to be set")
	}
	if clients.Notifier == nil {
		t.Error("expected combined notifier")
	}
	if clients.Store == nil || !clients.Store.Enabled() {
		t.Error("expected enabled store client")
	}
	if clients.Realtime == nil {
		t.Error("expected realtime client when fill sync is enabled")
	}
	if err := clients.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
}

func TestNewClients_FillSyncDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.FillSync.Enabled = false

	clients := NewClients(zap.NewNop(), cfg)

	if clients.Realtime != nil {
		t.Error("expected no realtime client when fill sync is disabled")
	}
	if clients.Store.Enabled() {
		t.Error("expected store disabled without url and key")
	}
}

func TestNewClients_NilLogger(t *testing.T) {
	clients := NewClients(nil, config.Defaults())

	if clients.Logger != nil {
		t.Error("expected nil logger to remain nil")
	}
	// Other clients should still be initialized
	if clients.Discord == nil {
		t.Error("expected Discord client to be set")
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod" yaml:"is_prod"`

	// Discord
	Discord DiscordConfig `json:"discord" yaml:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`

	// Bot data store
	Supabase SupabaseConfig `json:"supabase" yaml:"supabase"`

	// Which bots to evaluate and how often
	Monitor MonitorConfig `json:"monitor" yaml:"monitor"`

	// Health classification caps
	Health HealthConfig `json:"health" yaml:"health"`

	// Fill-sync streak tracking
	FillSync FillSyncConfig `json:"fill_sync" yaml:"fill_sync"`

	// Report history
	Recorder RecorderConfig `json:"recorder" yaml:"recorder"`

	// Persisted settings overrides
	Settings SettingsConfig `json:"settings" yaml:"settings"`

	// HTTP API
	HealthServer HealthServerConfig `json:"health_server" yaml:"health_server"`
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-" yaml:"-"` // env var only
	ProdChannelID string `json:"prod_channel_id" yaml:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id" yaml:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-" yaml:"-"` // env var only
	ProdChatID string `json:"prod_chat_id" yaml:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id" yaml:"beta_chat_id"`
}

// SupabaseConfig points at the hosted store the bot writes its activity to.
type SupabaseConfig struct {
	URL            string        `json:"url" yaml:"url"`
	Key            string        `json:"-" yaml:"-"`                               // env var only
	RealtimeURL    string        `json:"realtime_url" yaml:"realtime_url"`         // derived from URL when empty
	EventsTable    string        `json:"events_table" yaml:"events_table"`
	OrdersTable    string        `json:"orders_table" yaml:"orders_table"`
	FillsTable     string        `json:"fills_table" yaml:"fills_table"`
	SnapshotsTable string        `json:"snapshots_table" yaml:"snapshots_table"`
	PageLimit      int           `json:"page_limit" yaml:"page_limit"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
}

// MonitorConfig controls scheduled evaluation.
type MonitorConfig struct {
	Bots        []string      `json:"bots" yaml:"bots"`
	Window      time.Duration `json:"window" yaml:"window"`       // lookback per evaluation
	EvalCron    string        `json:"eval_cron" yaml:"eval_cron"` // six-field cron, seconds first
	EvalTimeout time.Duration `json:"eval_timeout" yaml:"eval_timeout"`
}

// HealthConfig holds the thresholds the health engine checks against.
type HealthConfig struct {
	MaxSharesPerSide        float64       `json:"max_shares_per_side" yaml:"max_shares_per_side"`
	MaxTotalSharesPerMarket float64       `json:"max_total_shares_per_market" yaml:"max_total_shares_per_market"`
	LateExpirySeconds       int           `json:"late_expiry_seconds" yaml:"late_expiry_seconds"`
	MarketDuration          time.Duration `json:"market_duration" yaml:"market_duration"`
	BucketSize              time.Duration `json:"bucket_size" yaml:"bucket_size"`
	RiskyMarketsLimit       int           `json:"risky_markets_limit" yaml:"risky_markets_limit"`
}

// FillSyncConfig controls the realtime fill feed and the streak trackers.
type FillSyncConfig struct {
	Enabled     bool          `json:"enabled" yaml:"enabled"`
	BufferSize  int           `json:"buffer_size" yaml:"buffer_size"`
	WindowSize  int           `json:"window_size" yaml:"window_size"`
	MaxStreak   int           `json:"max_streak" yaml:"max_streak"`
	PruneAfter  time.Duration `json:"prune_after" yaml:"prune_after"`   // drop trackers idle this long
	RedialAfter time.Duration `json:"redial_after" yaml:"redial_after"` // re-dial a feed silent this long
}

// RecorderConfig holds report history configuration.
type RecorderConfig struct {
	SQLitePath   string `json:"sqlite_path" yaml:"sqlite_path"` // empty disables history
	HistoryLimit int    `json:"history_limit" yaml:"history_limit"`
}

// SettingsConfig holds where API-edited settings are persisted.
type SettingsConfig struct {
	FileName string `json:"file_name" yaml:"file_name"` // empty disables persistence
}

// HealthServerConfig holds HTTP API configuration.
type HealthServerConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled"`
	Port           int      `json:"port" yaml:"port"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Monitor.Bots != nil {
		clone.Monitor.Bots = make([]string, len(c.Monitor.Bots))
		copy(clone.Monitor.Bots, c.Monitor.Bots)
	}
	if c.HealthServer.AllowedOrigins != nil {
		clone.HealthServer.AllowedOrigins = make([]string, len(c.HealthServer.AllowedOrigins))
		copy(clone.HealthServer.AllowedOrigins, c.HealthServer.AllowedOrigins)
	}
	return &clone
}

// ToJSON serializes the config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ConfigFromJSON deserializes JSON into a config, merging with base.
func ConfigFromJSON(data []byte, base *Config) (*Config, error) {
	if base == nil {
		base = Defaults()
	}
	cfg := base.Clone()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasBot reports whether id is one of the monitored bots.
func (c *Config) HasBot(id string) bool {
	for _, b := range c.Monitor.Bots {
		if b == id {
			return true
		}
	}
	return false
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		Supabase: SupabaseConfig{
			EventsTable:    "bot_events",
			OrdersTable:    "orders",
			FillsTable:     "fills",
			SnapshotsTable: "inventory_snapshots",
			PageLimit:      1000,
			Timeout:        15 * time.Second,
		},
		Monitor: MonitorConfig{
			Window:      1 * time.Hour,
			EvalCron:    "0 * * * * *",
			EvalTimeout: 30 * time.Second,
		},
		Health: HealthConfig{
			MaxSharesPerSide:        100,
			MaxTotalSharesPerMarket: 200,
			LateExpirySeconds:       60,
			MarketDuration:          15 * time.Minute,
			BucketSize:              5 * time.Minute,
			RiskyMarketsLimit:       5,
		},
		FillSync: FillSyncConfig{
			Enabled:     true,
			BufferSize:  20,
			WindowSize:  5,
			MaxStreak:   3,
			PruneAfter:  30 * time.Minute,
			RedialAfter: 5 * time.Minute,
		},
		Recorder: RecorderConfig{
			SQLitePath:   "botwatch.db",
			HistoryLimit: 50,
		},
		HealthServer: HealthServerConfig{
			Enabled:        true,
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load builds the config from defaults, an optional YAML file named by
// BOTWATCH_CONFIG, a .env file and finally environment variables.
// Secrets are only ever read from the environment.
func Load() (*Config, error) {
	// A missing .env is fine; real env vars always win over it.
	_ = godotenv.Load(envString("BOTWATCH_ENV_FILE", ".env"))

	cfg := Defaults()
	if path := envString("BOTWATCH_CONFIG", ""); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadFile merges a YAML file onto cfg. A missing file is not an error.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides cfg with any environment variables that are set.
func applyEnv(cfg *Config) {
	if v := envString("STAGE", ""); v != "" {
		cfg.IsProd = envBool("STAGE", "PROD")
	}

	cfg.Discord.BotToken = envString("DISCORD_BOT_TOKEN", "")
	cfg.Discord.ProdChannelID = envString("DISCORD_PROD_CHANNEL_ID", cfg.Discord.ProdChannelID)
	cfg.Discord.BetaChannelID = envString("DISCORD_BETA_CHANNEL_ID", cfg.Discord.BetaChannelID)

	cfg.Telegram.BotToken = envString("TELEGRAM_BOT_TOKEN", "")
	cfg.Telegram.ProdChatID = envString("TELEGRAM_PROD_CHAT_ID", cfg.Telegram.ProdChatID)
	cfg.Telegram.BetaChatID = envString("TELEGRAM_BETA_CHAT_ID", cfg.Telegram.BetaChatID)

	s := &cfg.Supabase
	s.URL = strings.TrimRight(envString("SUPABASE_URL", s.URL), "/")
	s.Key = envString("SUPABASE_KEY", "")
	s.RealtimeURL = envString("SUPABASE_REALTIME_URL", s.RealtimeURL)
	s.EventsTable = envString("SUPABASE_EVENTS_TABLE", s.EventsTable)
	s.OrdersTable = envString("SUPABASE_ORDERS_TABLE", s.OrdersTable)
	s.FillsTable = envString("SUPABASE_FILLS_TABLE", s.FillsTable)
	s.SnapshotsTable = envString("SUPABASE_SNAPSHOTS_TABLE", s.SnapshotsTable)
	s.PageLimit = envInt("SUPABASE_PAGE_LIMIT", s.PageLimit)
	s.Timeout = envDuration("SUPABASE_TIMEOUT", s.Timeout)

	m := &cfg.Monitor
	m.Bots = envStringSliceDefault("MONITOR_BOTS", m.Bots)
	m.Window = envDuration("MONITOR_WINDOW", m.Window)
	m.EvalCron = envString("MONITOR_EVAL_CRON", m.EvalCron)
	m.EvalTimeout = envDuration("MONITOR_EVAL_TIMEOUT", m.EvalTimeout)

	h := &cfg.Health
	h.MaxSharesPerSide = envFloat("HEALTH_MAX_SHARES_PER_SIDE", h.MaxSharesPerSide)
	h.MaxTotalSharesPerMarket = envFloat("HEALTH_MAX_TOTAL_SHARES", h.MaxTotalSharesPerMarket)
	h.LateExpirySeconds = envInt("HEALTH_LATE_EXPIRY_SECONDS", h.LateExpirySeconds)
	h.MarketDuration = envDuration("HEALTH_MARKET_DURATION", h.MarketDuration)
	h.BucketSize = envDuration("HEALTH_BUCKET_SIZE", h.BucketSize)
	h.RiskyMarketsLimit = envInt("HEALTH_RISKY_MARKETS_LIMIT", h.RiskyMarketsLimit)

	f := &cfg.FillSync
	f.Enabled = envBoolDefault("FILLSYNC_ENABLED", f.Enabled)
	f.BufferSize = envInt("FILLSYNC_BUFFER_SIZE", f.BufferSize)
	f.WindowSize = envInt("FILLSYNC_WINDOW_SIZE", f.WindowSize)
	f.MaxStreak = envInt("FILLSYNC_MAX_STREAK", f.MaxStreak)
	f.PruneAfter = envDuration("FILLSYNC_PRUNE_AFTER", f.PruneAfter)
	f.RedialAfter = envDuration("FILLSYNC_REDIAL_AFTER", f.RedialAfter)

	cfg.Recorder.SQLitePath = envString("RECORDER_SQLITE_PATH", cfg.Recorder.SQLitePath)
	cfg.Recorder.HistoryLimit = envInt("RECORDER_HISTORY_LIMIT", cfg.Recorder.HistoryLimit)

	cfg.Settings.FileName = envString("SETTINGS_FILE", cfg.Settings.FileName)

	cfg.HealthServer.Enabled = envBoolDefault("HEALTH_SERVER_ENABLED", cfg.HealthServer.Enabled)
	cfg.HealthServer.Port = envInt("HEALTH_SERVER_PORT", cfg.HealthServer.Port)
	cfg.HealthServer.AllowedOrigins = envStringSliceDefault("HEALTH_SERVER_ALLOWED_ORIGINS", cfg.HealthServer.AllowedOrigins)
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}

func envStringSliceDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

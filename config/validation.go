package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// CronParser is the schedule syntax used for Monitor.EvalCron.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateSupabase(&c.Supabase)...)
	errors = append(errors, validateMonitor(&c.Monitor)...)
	errors = append(errors, validateHealth(&c.Health)...)
	errors = append(errors, validateFillSync(&c.FillSync)...)
	errors = append(errors, validateRecorder(&c.Recorder)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateSupabase(s *SupabaseConfig) []ValidationError {
	var errors []ValidationError

	if s.URL != "" {
		if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "supabase.url",
				Message: "must be an http(s) URL",
			})
		}
	}

	if s.RealtimeURL != "" {
		if u, err := url.Parse(s.RealtimeURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "supabase.realtime_url",
				Message: "must be a ws(s) URL",
			})
		}
	}

	tables := []struct{ field, name string }{
		{"supabase.events_table", s.EventsTable},
		{"supabase.orders_table", s.OrdersTable},
		{"supabase.fills_table", s.FillsTable},
		{"supabase.snapshots_table", s.SnapshotsTable},
	}
	for _, t := range tables {
		if strings.TrimSpace(t.name) == "" {
			errors = append(errors, ValidationError{Field: t.field, Message: "must not be empty"})
		}
	}

	if s.PageLimit < 1 || s.PageLimit > 10000 {
		errors = append(errors, ValidationError{
			Field:   "supabase.page_limit",
			Message: "must be between 1 and 10000",
		})
	}

	if s.Timeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "supabase.timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateMonitor(m *MonitorConfig) []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool, len(m.Bots))
	for i, b := range m.Bots {
		switch {
		case strings.TrimSpace(b) == "":
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("monitor.bots[%d]", i),
				Message: "must not be empty",
			})
		case seen[b]:
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("monitor.bots[%d]", i),
				Message: "duplicate bot " + b,
			})
		}
		seen[b] = true
	}

	if m.Window < 1*time.Minute || m.Window > 7*24*time.Hour {
		errors = append(errors, ValidationError{
			Field:   "monitor.window",
			Message: "must be between 1 minute and 7 days",
		})
	}

	if _, err := CronParser.Parse(m.EvalCron); err != nil {
		errors = append(errors, ValidationError{
			Field:   "monitor.eval_cron",
			Message: "invalid cron expression: " + err.Error(),
		})
	}

	if m.EvalTimeout < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "monitor.eval_timeout",
			Message: "must be at least 1 second",
		})
	}

	return errors
}

func validateHealth(h *HealthConfig) []ValidationError {
	var errors []ValidationError

	if h.MaxSharesPerSide <= 0 {
		errors = append(errors, ValidationError{
			Field:   "health.max_shares_per_side",
			Message: "must be positive",
		})
	}

	if h.MaxTotalSharesPerMarket < h.MaxSharesPerSide {
		errors = append(errors, ValidationError{
			Field:   "health.max_total_shares_per_market",
			Message: "must be at least max_shares_per_side",
		})
	}

	if h.LateExpirySeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "health.late_expiry_seconds",
			Message: "must be non-negative",
		})
	}

	if h.MarketDuration < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "health.market_duration",
			Message: "must be at least 1 minute",
		})
	} else if time.Duration(h.LateExpirySeconds)*time.Second >= h.MarketDuration {
		errors = append(errors, ValidationError{
			Field:   "health.late_expiry_seconds",
			Message: "must be shorter than market_duration",
		})
	}

	if h.BucketSize < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "health.bucket_size",
			Message: "must be at least 1 minute",
		})
	}

	if h.RiskyMarketsLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "health.risky_markets_limit",
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateFillSync(f *FillSyncConfig) []ValidationError {
	var errors []ValidationError

	if f.BufferSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "fill_sync.buffer_size",
			Message: "must be at least 1",
		})
	}

	if f.WindowSize < 1 || f.WindowSize > f.BufferSize {
		errors = append(errors, ValidationError{
			Field:   "fill_sync.window_size",
			Message: "must be between 1 and buffer_size",
		})
	}

	if f.MaxStreak < 1 || f.MaxStreak > f.WindowSize {
		errors = append(errors, ValidationError{
			Field:   "fill_sync.max_streak",
			Message: "must be between 1 and window_size",
		})
	}

	if f.PruneAfter < 1*time.Minute {
		errors = append(errors, ValidationError{
			Field:   "fill_sync.prune_after",
			Message: "must be at least 1 minute",
		})
	}

	if f.RedialAfter < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "fill_sync.redial_after",
			Message: "must be at least 10 seconds",
		})
	}

	return errors
}

func validateRecorder(r *RecorderConfig) []ValidationError {
	var errors []ValidationError

	if r.HistoryLimit < 1 || r.HistoryLimit > 1000 {
		errors = append(errors, ValidationError{
			Field:   "recorder.history_limit",
			Message: "must be between 1 and 1000",
		})
	}

	return errors
}

func validateHealthServer(hs *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if hs.Enabled && (hs.Port < 1 || hs.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be between 1 and 65535",
		})
	}

	return errors
}

// RestartOnlyFields are read once at startup to build clients, the recorder
// and the HTTP server. Changing them at runtime would be saved but ignored.
var RestartOnlyFields = []string{
	"is_prod",
	"discord",
	"telegram",
	"supabase",
	"fill_sync.enabled",
	"recorder.sqlite_path",
	"settings",
	"health_server",
}

// RestartRequired lists the restart-only fields that differ between cur
// and next.
func RestartRequired(cur, next *Config) []ValidationError {
	var errors []ValidationError
	changed := func(field string, differs bool) {
		if differs {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "cannot be changed at runtime, restart required",
			})
		}
	}

	changed("is_prod", cur.IsProd != next.IsProd)
	changed("discord", cur.Discord != next.Discord)
	changed("telegram", cur.Telegram != next.Telegram)
	changed("supabase", cur.Supabase != next.Supabase)
	changed("fill_sync.enabled", cur.FillSync.Enabled != next.FillSync.Enabled)
	changed("recorder.sqlite_path", cur.Recorder.SQLitePath != next.Recorder.SQLitePath)
	changed("settings", cur.Settings != next.Settings)
	changed("health_server", cur.HealthServer.Enabled != next.HealthServer.Enabled ||
		cur.HealthServer.Port != next.HealthServer.Port ||
		!slices.Equal(cur.HealthServer.AllowedOrigins, next.HealthServer.AllowedOrigins))

	return errors
}

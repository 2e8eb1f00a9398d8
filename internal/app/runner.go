package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	clts "botwatch/clients"
	"botwatch/clients/notifier"
	"botwatch/clients/realtime"
	"botwatch/config"
	"botwatch/internal/fillsync"
	"botwatch/internal/health"
	"botwatch/internal/recorder"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// ErrUnknownBot is returned for bots that are not in Monitor.Bots.
var ErrUnknownBot = errors.New("bot is not monitored")

// DataSource reads a bot's history for a window.
type DataSource interface {
	FetchAll(ctx context.Context, botID string, window health.Window) (health.Input, error)
}

// FillFeed streams fill inserts.
type FillFeed interface {
	Connect(ctx context.Context) error
	Fills() <-chan realtime.FillEvent
	Errors() <-chan error
	Stats() realtime.Stats
	Close() error
}

// BotState is the latest evaluation of one bot.
type BotState struct {
	BotID       string        `json:"bot_id"`
	ReportID    string        `json:"report_id,omitempty"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
	Previous    health.Status `json:"previous_status,omitempty"`
	Report      health.Report `json:"report"`
}

type Runner struct {
	logger          *zap.Logger
	clients         *clts.Clients
	liveConfig      *config.LiveConfig
	settingsManager *config.SettingsManager
	recorder        recorder.Recorder

	store    DataSource
	feed     FillFeed
	notifier notifier.Notifier
	registry *fillsync.Registry

	cron        *cron.Cron
	cronEntry   cron.EntryID
	cronSpec    string
	runCtx      context.Context
	server      *http.Server
	startTime   time.Time
	now         func() time.Time
	feedOff     bool

	mu            sync.RWMutex
	latest        map[string]BotState
	lastStatus    map[string]health.Status
	streakAlerted map[string]bool
	counters      runnerCounters
}

type runnerCounters struct {
	Evaluations      int `json:"evaluations"`
	EvalFailures     int `json:"eval_failures"`
	HealthAlerts     int `json:"health_alerts"`
	StreakAlerts     int `json:"streak_alerts"`
	FillsRecorded    int `json:"fills_recorded"`
	FillsIgnored     int `json:"fills_ignored"`
	FeedRedials      int `json:"feed_redials"`
	TrackersPruned   int `json:"trackers_pruned"`
	RecorderFailures int `json:"recorder_failures"`
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	// Fill feed stats
	Feed struct {
		Enabled        bool   `json:"enabled"`
		Connected      bool   `json:"connected"`
		MessageCount   uint64 `json:"message_count"`
		FillCount      uint64 `json:"fill_count"`
		LastMessageAt  string `json:"last_message_at,omitempty"`
		LastMessageAgo string `json:"last_message_ago,omitempty"`
	} `json:"feed"`

	// Per-bot status
	Bots map[string]health.Status `json:"bots"`

	// Fill-sync trackers
	FillSync struct {
		Markets        int `json:"markets"`
		BlockedMarkets int `json:"blocked_markets"`
	} `json:"fillsync"`

	Counters runnerCounters `json:"counters"`

	// Notification status
	Notifications struct {
		DiscordEnabled  bool `json:"discord_enabled"`
		TelegramEnabled bool `json:"telegram_enabled"`
		RecorderEnabled bool `json:"recorder_enabled"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"` // bytes currently allocated on heap
		NumGC      uint32 `json:"num_gc"`
		GoVersion  string `json:"go_version"`
		NumCPU     int    `json:"num_cpu"`
	} `json:"runtime"`
}

func NewRunner(clients *clts.Clients, liveConfig *config.LiveConfig, settingsManager *config.SettingsManager, rec recorder.Recorder) *Runner {
	logger := clients.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	if settingsManager == nil {
		settingsManager = config.NewSettingsManager(logger, nil, liveConfig)
	}

	cfg := liveConfig.Get()
	r := &Runner{
		logger:          logger,
		clients:         clients,
		liveConfig:      liveConfig,
		settingsManager: settingsManager,
		recorder:        rec,
		notifier:        clients.Notifier,
		registry:        fillsync.NewRegistry(fillSyncConfig(cfg)),
		now:             time.Now,
		latest:          make(map[string]BotState),
		lastStatus:      make(map[string]health.Status),
		streakAlerted:   make(map[string]bool),
	}
	if clients.Store != nil {
		r.store = clients.Store
	}
	// Avoid wrapping a nil *realtime.Client in a non-nil interface.
	if clients.Realtime != nil {
		r.feed = clients.Realtime
	}
	if r.notifier == nil {
		r.notifier = notifier.NewMultiNotifier()
	}
	return r
}

func healthConfig(cfg *config.Config) health.Config {
	return health.Config{
		MaxSharesPerSide:        cfg.Health.MaxSharesPerSide,
		MaxTotalSharesPerMarket: cfg.Health.MaxTotalSharesPerMarket,
		LateExpirySeconds:       cfg.Health.LateExpirySeconds,
		MarketDuration:          cfg.Health.MarketDuration,
		BucketSize:              cfg.Health.BucketSize,
		RiskyMarketsLimit:       cfg.Health.RiskyMarketsLimit,
	}
}

func fillSyncConfig(cfg *config.Config) fillsync.Config {
	return fillsync.Config{
		BufferSize: cfg.FillSync.BufferSize,
		WindowSize: cfg.FillSync.WindowSize,
		MaxStreak:  cfg.FillSync.MaxStreak,
	}
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.logger.Info("config update received, propagating to components")

	r.registry.Reconfigure(fillSyncConfig(cfg))

	r.mu.Lock()
	for botID := range r.latest {
		if !cfg.HasBot(botID) {
			delete(r.latest, botID)
			delete(r.lastStatus, botID)
		}
	}
	r.mu.Unlock()

	if err := r.schedule(cfg.Monitor.EvalCron); err != nil {
		r.logger.Error("failed to reschedule evaluation", zap.Error(err))
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = r.now()
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)

	logger := r.logger
	logger.Info("starting bot monitor",
		zap.Strings("bots", cfg.Monitor.Bots),
		zap.Duration("window", cfg.Monitor.Window),
		zap.String("evalCron", cfg.Monitor.EvalCron),
		zap.Bool("fillSync", r.feed != nil),
	)

	r.runCtx = ctx
	r.cron = cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(logger)))),
	)
	if err := r.schedule(cfg.Monitor.EvalCron); err != nil {
		return fmt.Errorf("schedule evaluation: %w", err)
	}
	r.cron.Start()

	if r.feed != nil {
		go r.runFeed(ctx)
	}

	// Start health check server if enabled
	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port, cfg.HealthServer.AllowedOrigins)
		logger.Info("health server started", zap.Int("port", cfg.HealthServer.Port))
	}

	// First pass right away so the API has data before the first tick.
	go r.EvaluateAll(ctx)

	<-ctx.Done()
	logger.Info("runner shutting down")

	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		logger.Warn("evaluation still running at shutdown")
	}

	if r.feed != nil {
		_ = r.feed.Close()
	}

	if r.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.server.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if err := r.recorder.Close(); err != nil {
		logger.Warn("failed to close recorder", zap.Error(err))
	}
	return nil
}

// schedule (re)registers the evaluation job when the cron expression changed.
func (r *Runner) schedule(spec string) error {
	if r.cron == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if spec == r.cronSpec && r.cronEntry != 0 {
		return nil
	}

	id, err := r.cron.AddFunc(spec, func() { r.EvaluateAll(r.runCtx) })
	if err != nil {
		return fmt.Errorf("add cron %q: %w", spec, err)
	}
	if r.cronEntry != 0 {
		r.cron.Remove(r.cronEntry)
	}
	r.cronEntry = id
	r.cronSpec = spec
	r.logger.Info("evaluation scheduled", zap.String("cron", spec))
	return nil
}

// EvaluateAll evaluates every monitored bot in turn.
func (r *Runner) EvaluateAll(ctx context.Context) {
	for _, botID := range r.liveConfig.Get().Monitor.Bots {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.Evaluate(ctx, botID); err != nil {
			r.logger.Warn("bot evaluation failed", zap.String("bot", botID), zap.Error(err))
		}
	}
}

// Evaluate fetches the trailing window for a bot, computes its report,
// records it, and alerts when the status changed.
func (r *Runner) Evaluate(ctx context.Context, botID string) (BotState, error) {
	cfg := r.liveConfig.Get()
	if !cfg.HasBot(botID) {
		return BotState{}, ErrUnknownBot
	}
	if r.store == nil {
		return BotState{}, fmt.Errorf("no data source configured")
	}

	timeout := cfg.Monitor.EvalTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	end := r.now().UTC()
	window := health.Window{Start: end.Add(-cfg.Monitor.Window), End: end}

	input, err := r.store.FetchAll(ctx, botID, window)
	if err != nil {
		r.mu.Lock()
		r.counters.EvalFailures++
		r.mu.Unlock()
		return BotState{}, fmt.Errorf("fetch %s: %w", botID, err)
	}
	input.Window = window

	report := health.Compute(input, healthConfig(cfg))

	prev, hasPrev := r.previousStatus(ctx, botID)

	reportID, err := r.recorder.RecordReport(ctx, botID, report)
	if err != nil {
		r.logger.Warn("failed to record report", zap.String("bot", botID), zap.Error(err))
		r.mu.Lock()
		r.counters.RecorderFailures++
		r.mu.Unlock()
	}

	state := BotState{
		BotID:       botID,
		ReportID:    reportID,
		EvaluatedAt: end,
		Previous:    prev,
		Report:      report,
	}

	alert := shouldAlert(prev, hasPrev, report.Status)

	r.mu.Lock()
	r.latest[botID] = state
	r.lastStatus[botID] = report.Status
	r.counters.Evaluations++
	if alert {
		r.counters.HealthAlerts++
	}
	r.mu.Unlock()

	r.logger.Info("bot evaluated",
		zap.String("bot", botID),
		zap.String("status", string(report.Status)),
		zap.String("previous", string(prev)),
		zap.Int("reasons", len(report.Reasons)),
		zap.String("exposureSource", report.Metrics.ExposureSource),
	)

	if alert {
		r.notifier.SendHealthAlert(healthAlert(botID, prev, report, end))
	}
	return state, nil
}

// previousStatus prefers the in-memory status and falls back to history so a
// restart does not re-alert an unchanged status.
func (r *Runner) previousStatus(ctx context.Context, botID string) (health.Status, bool) {
	r.mu.RLock()
	prev, ok := r.lastStatus[botID]
	r.mu.RUnlock()
	if ok {
		return prev, true
	}

	prev, err := r.recorder.LastStatus(ctx, botID)
	if err != nil {
		if !errors.Is(err, recorder.ErrNoReport) {
			r.logger.Warn("failed to read last status", zap.String("bot", botID), zap.Error(err))
		}
		return "", false
	}
	return prev, true
}

// shouldAlert fires on any status change. A first evaluation only alerts
// when the bot is not GREEN.
func shouldAlert(prev health.Status, hasPrev bool, current health.Status) bool {
	if !hasPrev {
		return current != health.StatusGreen
	}
	return prev != current
}

func healthAlert(botID string, prev health.Status, report health.Report, at time.Time) notifier.HealthAlert {
	m := report.Metrics
	return notifier.HealthAlert{
		BotID:            botID,
		Previous:         string(prev),
		Current:          string(report.Status),
		Reasons:          report.Reasons,
		MaxSharesPerSide: m.MaxSharesPerSide,
		MaxTotalShares:   m.MaxTotalShares,
		EmergencyPerHour: m.EmergencyPerHour,
		OrderFailureRate: m.OrderFailureRate,
		WorstSkewPct:     m.WorstSkewPct,
		WorstSkewMarket:  m.WorstSkewMarket,
		WindowStart:      report.Window.Start,
		WindowEnd:        report.Window.End,
		Timestamp:        at,
	}
}

// Latest returns the most recent evaluation of a bot.
func (r *Runner) Latest(botID string) (BotState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.latest[botID]
	return s, ok
}

// BotSummary is one row of the bot list.
type BotSummary struct {
	BotID       string        `json:"bot_id"`
	Status      health.Status `json:"status,omitempty"`
	EvaluatedAt *time.Time    `json:"evaluated_at,omitempty"`
	Reasons     []string      `json:"reasons,omitempty"`
}

// Bots lists monitored bots in config order with their latest status.
func (r *Runner) Bots() []BotSummary {
	bots := r.liveConfig.Get().Monitor.Bots

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]BotSummary, 0, len(bots))
	for _, id := range bots {
		row := BotSummary{BotID: id}
		if s, ok := r.latest[id]; ok {
			at := s.EvaluatedAt
			row.Status = s.Report.Status
			row.EvaluatedAt = &at
			row.Reasons = s.Report.Reasons
		}
		out = append(out, row)
	}
	return out
}

// History returns recorded reports for a bot, newest first.
func (r *Runner) History(ctx context.Context, botID string, limit int) ([]recorder.Entry, error) {
	if !r.liveConfig.Get().HasBot(botID) {
		return nil, ErrUnknownBot
	}
	if limit <= 0 {
		limit = r.liveConfig.Get().Recorder.HistoryLimit
	}
	return r.recorder.RecentReports(ctx, botID, limit)
}

// GetStats returns comprehensive service statistics.
func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats

	// Build info
	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	// Service info
	now := r.now()
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	uptime := now.Sub(r.startTime)
	if r.startTime.IsZero() {
		uptime = 0
	}
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	// Feed stats
	stats.Feed.Enabled = r.feed != nil
	if r.feed != nil {
		fs := r.feed.Stats()
		stats.Feed.Connected = fs.Connected
		stats.Feed.MessageCount = fs.MessageCount
		stats.Feed.FillCount = fs.FillCount
		if !fs.LastMessageAt.IsZero() {
			stats.Feed.LastMessageAt = fs.LastMessageAt.UTC().Format(time.RFC3339)
			stats.Feed.LastMessageAgo = now.Sub(fs.LastMessageAt).Round(time.Second).String()
		}
	}

	markets := r.registry.All()
	stats.FillSync.Markets = len(markets)
	for _, m := range markets {
		if !m.Up.Allowed || !m.Down.Allowed {
			stats.FillSync.BlockedMarkets++
		}
	}

	r.mu.RLock()
	stats.Bots = make(map[string]health.Status, len(r.lastStatus))
	for id, s := range r.lastStatus {
		stats.Bots[id] = s
	}
	stats.Counters = r.counters
	r.mu.RUnlock()

	// Notification status
	if r.clients != nil {
		stats.Notifications.DiscordEnabled = r.clients.Discord != nil && r.clients.Discord.Enabled()
		stats.Notifications.TelegramEnabled = r.clients.Telegram != nil && r.clients.Telegram.Enabled()
	}
	_, noop := r.recorder.(*recorder.NoopRecorder)
	stats.Notifications.RecorderEnabled = !noop

	// Runtime stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.NumGC = memStats.NumGC
	stats.Runtime.GoVersion = runtime.Version()
	stats.Runtime.NumCPU = runtime.NumCPU()

	return stats
}

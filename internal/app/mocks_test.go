package app

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	clts "botwatch/clients"
	"botwatch/clients/notifier"
	"botwatch/clients/realtime"
	"botwatch/config"
	"botwatch/internal/health"
	"botwatch/internal/recorder"

	"go.uber.org/zap"
)

var testNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

// fakeStore serves canned inputs per bot.
type fakeStore struct {
	mu      sync.Mutex
	inputs  map[string]health.Input
	err     error
	calls   int
	windows []health.Window
}

func (f *fakeStore) FetchAll(_ context.Context, botID string, window health.Window) (health.Input, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.windows = append(f.windows, window)
	if f.err != nil {
		return health.Input{}, f.err
	}
	return f.inputs[botID], nil
}

func (f *fakeStore) set(botID string, in health.Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inputs == nil {
		f.inputs = make(map[string]health.Input)
	}
	f.inputs[botID] = in
}

// fakeNotifier records every alert.
type fakeNotifier struct {
	mu     sync.Mutex
	health []notifier.HealthAlert
	streak []notifier.StreakAlert
}

func (f *fakeNotifier) SendHealthAlert(a notifier.HealthAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health = append(f.health, a)
}

func (f *fakeNotifier) SendStreakAlert(a notifier.StreakAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streak = append(f.streak, a)
}

func (f *fakeNotifier) Close() error { return nil }

func (f *fakeNotifier) healthAlerts() []notifier.HealthAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.HealthAlert(nil), f.health...)
}

func (f *fakeNotifier) streakAlerts() []notifier.StreakAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifier.StreakAlert(nil), f.streak...)
}

// memRecorder is an in-memory recorder.Recorder.
type memRecorder struct {
	mu      sync.Mutex
	entries []recorder.Entry
	seed    map[string]health.Status
}

func (m *memRecorder) RecordReport(_ context.Context, botID string, report health.Report) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "r" + strconv.Itoa(len(m.entries)+1)
	m.entries = append(m.entries, recorder.Entry{
		ID:          id,
		BotID:       botID,
		EvaluatedAt: report.Window.End,
		Status:      report.Status,
		Reasons:     report.Reasons,
		Report:      report,
	})
	return id, nil
}

func (m *memRecorder) RecentReports(_ context.Context, botID string, limit int) ([]recorder.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []recorder.Entry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].BotID == botID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memRecorder) LastStatus(_ context.Context, botID string) (health.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].BotID == botID {
			return m.entries[i].Status, nil
		}
	}
	if s, ok := m.seed[botID]; ok {
		return s, nil
	}
	return "", recorder.ErrNoReport
}

func (m *memRecorder) Close() error { return nil }

// fakeFeed is a FillFeed whose stats and connect results are scripted.
type fakeFeed struct {
	mu         sync.Mutex
	fills      chan realtime.FillEvent
	errs       chan error
	stats      realtime.Stats
	connectErr error
	connects   int
	closes     int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		fills: make(chan realtime.FillEvent, 16),
		errs:  make(chan error, 4),
	}
}

func (f *fakeFeed) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.stats.Connected = true
	return nil
}

func (f *fakeFeed) Fills() <-chan realtime.FillEvent { return f.fills }
func (f *fakeFeed) Errors() <-chan error              { return f.errs }

func (f *fakeFeed) Stats() realtime.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.stats.Connected = false
	return nil
}

func testConfig(bots ...string) *config.Config {
	cfg := config.Defaults()
	cfg.Monitor.Bots = bots
	cfg.HealthServer.Enabled = false
	return cfg
}

type testRunner struct {
	*Runner
	data    *fakeStore
	alerts  *fakeNotifier
	reports *memRecorder
}

func newTestRunner(t *testing.T, cfg *config.Config) *testRunner {
	t.Helper()
	n := &fakeNotifier{}
	rec := &memRecorder{}
	clients := &clts.Clients{Logger: zap.NewNop(), Notifier: n}

	r := NewRunner(clients, config.NewLiveConfig(cfg), nil, rec)
	store := &fakeStore{}
	r.store = store
	r.now = func() time.Time { return testNow }
	r.startTime = testNow.Add(-time.Hour)

	return &testRunner{Runner: r, data: store, alerts: n, reports: rec}
}

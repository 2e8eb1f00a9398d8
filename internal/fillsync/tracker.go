package fillsync

import (
	"fmt"
	"sync"
	"time"

	"botwatch/internal/model"
)

const (
	DefaultBufferSize = 20
	DefaultWindowSize = 5
	DefaultMaxStreak  = 3
)

// Config controls the fill-sync gate.
type Config struct {
	BufferSize int `json:"buffer_size" yaml:"buffer_size"` // Fills retained (oldest dropped first)
	WindowSize int `json:"window_size" yaml:"window_size"` // Recent fills considered "recent"
	MaxStreak  int `json:"max_streak" yaml:"max_streak"`   // Same-side streak that blocks quoting
}

// DefaultConfig returns the gate's standard settings.
func DefaultConfig() Config {
	return Config{
		BufferSize: DefaultBufferSize,
		WindowSize: DefaultWindowSize,
		MaxStreak:  DefaultMaxStreak,
	}
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MaxStreak <= 0 {
		c.MaxStreak = DefaultMaxStreak
	}
	return c
}

// Record is one fill as seen by the tracker.
type Record struct {
	Timestamp time.Time  `json:"timestamp"`
	Side      model.Side `json:"side"`
	Qty       float64    `json:"qty"`
	Price     float64    `json:"price"`
	MarketID  string     `json:"market_id"`
}

// Decision is the result of asking whether a side may be quoted.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Stats summarizes the recent window and the current streak.
type Stats struct {
	UpCount       int         `json:"up_count"`
	DownCount     int         `json:"down_count"`
	TotalRecent   int         `json:"total_recent"`
	CurrentStreak int         `json:"current_streak"`
	StreakSide    *model.Side `json:"streak_side"`
}

// Tracker keeps a bounded history of fills and blocks quoting a side that
// has been filled MaxStreak times in a row. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	cfg     Config
	history []Record
	now     func() time.Time
}

// NewTracker creates a tracker. Zero config fields take defaults.
func NewTracker(cfg Config) *Tracker {
	cfg = cfg.withDefaults()
	return &Tracker{
		cfg:     cfg,
		history: make([]Record, 0, cfg.BufferSize),
		now:     time.Now,
	}
}

// Config returns the active settings.
func (t *Tracker) Config() Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cfg
}

// SetConfig swaps settings, trimming the buffer if it shrank.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg.withDefaults()
	t.trimLocked()
}

// RecordFill appends a fill and drops the oldest entries beyond BufferSize.
func (t *Tracker) RecordFill(side model.Side, qty, price float64, marketID string) {
	t.RecordAt(t.now(), side, qty, price, marketID)
}

// RecordAt is RecordFill with an explicit fill time, used when replaying
// fills from the realtime feed.
func (t *Tracker) RecordAt(ts time.Time, side model.Side, qty, price float64, marketID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(ts, side, qty, price, marketID)
}

// RecordAndDecide records a fill and returns the decision for its side as
// of that fill. No other fill can land between the two.
func (t *Tracker) RecordAndDecide(ts time.Time, side model.Side, qty, price float64, marketID string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordLocked(ts, side, qty, price, marketID)
	return t.decideLocked(side)
}

func (t *Tracker) recordLocked(ts time.Time, side model.Side, qty, price float64, marketID string) {
	t.history = append(t.history, Record{
		Timestamp: ts,
		Side:      side,
		Qty:       qty,
		Price:     price,
		MarketID:  marketID,
	})
	t.trimLocked()
}

func (t *Tracker) trimLocked() {
	if excess := len(t.history) - t.cfg.BufferSize; excess > 0 {
		// Copy down so the backing array does not grow without bound.
		n := copy(t.history, t.history[excess:])
		t.history = t.history[:n]
	}
}

// ShouldQuote decides whether the bot may keep quoting side.
func (t *Tracker) ShouldQuote(side model.Side) Decision {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.decideLocked(side)
}

func (t *Tracker) decideLocked(side model.Side) Decision {
	recent := t.recentLocked()
	if len(recent) < t.cfg.MaxStreak {
		return Decision{
			Allowed: true,
			Reason:  fmt.Sprintf("only %d recent fills (need %d to evaluate streak)", len(recent), t.cfg.MaxStreak),
		}
	}

	streak, streakSide := t.streakLocked()
	if streakSide == side && streak >= t.cfg.MaxStreak {
		return Decision{
			Allowed: false,
			Reason: fmt.Sprintf("%d consecutive %s fills (max %d), pausing %s quotes until %s fills",
				streak, side, t.cfg.MaxStreak, side, side.Opposite()),
		}
	}

	return Decision{
		Allowed: true,
		Reason:  fmt.Sprintf("current streak %d %s below limit for %s", streak, streakSide, side),
	}
}

// Stats reports window counts and the current streak.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stats Stats
	for _, r := range t.recentLocked() {
		switch r.Side {
		case model.SideUp:
			stats.UpCount++
		case model.SideDown:
			stats.DownCount++
		}
	}
	stats.TotalRecent = stats.UpCount + stats.DownCount

	streak, side := t.streakLocked()
	stats.CurrentStreak = streak
	if streak > 0 {
		stats.StreakSide = &side
	}
	return stats
}

// History returns a copy of the buffer, oldest first.
func (t *Tracker) History() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.history))
	copy(out, t.history)
	return out
}

// LastFillAt returns the time of the newest fill, or zero if empty.
func (t *Tracker) LastFillAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.history) == 0 {
		return time.Time{}
	}
	return t.history[len(t.history)-1].Timestamp
}

// Reset clears the buffer.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = t.history[:0]
}

func (t *Tracker) recentLocked() []Record {
	if len(t.history) <= t.cfg.WindowSize {
		return t.history
	}
	return t.history[len(t.history)-t.cfg.WindowSize:]
}

// streakLocked scans backward from the newest fill until the side changes.
func (t *Tracker) streakLocked() (int, model.Side) {
	if len(t.history) == 0 {
		return 0, ""
	}
	side := t.history[len(t.history)-1].Side
	n := 0
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Side != side {
			break
		}
		n++
	}
	return n, side
}

package fillsync

import (
	"sort"
	"sync"
	"time"

	"botwatch/internal/model"
)

// MarketStats pairs a market with its tracker stats.
type MarketStats struct {
	MarketID   string    `json:"market_id"`
	LastFillAt time.Time `json:"last_fill_at"`
	Stats      Stats     `json:"stats"`
	Up         Decision  `json:"up"`
	Down       Decision  `json:"down"`
}

// Registry holds one Tracker per market. Markets are short-lived, so
// trackers are created on first fill and pruned once idle.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		trackers: make(map[string]*Tracker),
	}
}

// Record feeds a fill into its market's tracker and returns the decision for
// the filled side after recording it.
func (r *Registry) Record(f model.Fill) Decision {
	t := r.tracker(f.MarketID)
	ts := f.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	return t.RecordAndDecide(ts, f.Side, f.Qty, f.Price, f.MarketID)
}

// ShouldQuote asks the market's tracker. Unknown markets are always allowed.
func (r *Registry) ShouldQuote(marketID string, side model.Side) Decision {
	r.mu.RLock()
	t, ok := r.trackers[marketID]
	r.mu.RUnlock()
	if !ok {
		return Decision{Allowed: true, Reason: "no fills recorded for market"}
	}
	return t.ShouldQuote(side)
}

// Stats returns a market's stats; ok is false for unknown markets.
func (r *Registry) Stats(marketID string) (MarketStats, bool) {
	r.mu.RLock()
	t, ok := r.trackers[marketID]
	r.mu.RUnlock()
	if !ok {
		return MarketStats{}, false
	}
	return marketStats(marketID, t), true
}

// History returns a market's buffered fills.
func (r *Registry) History(marketID string) []Record {
	r.mu.RLock()
	t, ok := r.trackers[marketID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return t.History()
}

// All returns stats for every tracked market, most recently filled first.
func (r *Registry) All() []MarketStats {
	r.mu.RLock()
	out := make([]MarketStats, 0, len(r.trackers))
	for id, t := range r.trackers {
		out = append(out, marketStats(id, t))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastFillAt.Equal(out[j].LastFillAt) {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].LastFillAt.After(out[j].LastFillAt)
	})
	return out
}

// Reset clears a market's history. Returns false if the market is unknown.
func (r *Registry) Reset(marketID string) bool {
	r.mu.RLock()
	t, ok := r.trackers[marketID]
	r.mu.RUnlock()
	if ok {
		t.Reset()
	}
	return ok
}

// Reconfigure applies new settings to every existing and future tracker.
func (r *Registry) Reconfigure(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg.withDefaults()
	for _, t := range r.trackers {
		t.SetConfig(r.cfg)
	}
}

// Prune drops trackers whose newest fill is older than cutoff.
// Returns the number removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.trackers {
		if t.LastFillAt().Before(cutoff) {
			delete(r.trackers, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.trackers)
}

func (r *Registry) tracker(marketID string) *Tracker {
	r.mu.RLock()
	t, ok := r.trackers[marketID]
	r.mu.RUnlock()
	if ok {
		return t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[marketID]; ok {
		return t
	}
	t = NewTracker(r.cfg)
	r.trackers[marketID] = t
	return t
}

func marketStats(marketID string, t *Tracker) MarketStats {
	return MarketStats{
		MarketID:   marketID,
		LastFillAt: t.LastFillAt(),
		Stats:      t.Stats(),
		Up:         t.ShouldQuote(model.SideUp),
		Down:       t.ShouldQuote(model.SideDown),
	}
}

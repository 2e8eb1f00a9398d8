package app

import (
	"context"
	"errors"
	"time"

	"botwatch/clients/notifier"
	"botwatch/clients/realtime"
	"botwatch/internal/fillsync"
	"botwatch/internal/model"

	"go.uber.org/zap"
)

const feedCheckInterval = 30 * time.Second

// runFeed consumes the fill feed until ctx is done. Every check interval it
// re-dials a silent or dropped feed and prunes idle trackers.
func (r *Runner) runFeed(ctx context.Context) {
	r.connectFeed(ctx)

	ticker := time.NewTicker(feedCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.feed.Fills():
			r.HandleFill(ev)
		case err := <-r.feed.Errors():
			r.logger.Warn("fill feed error", zap.Error(err))
		case <-ticker.C:
			r.checkFeed(ctx)
			r.pruneTrackers()
		}
	}
}

func (r *Runner) connectFeed(ctx context.Context) {
	if err := r.feed.Connect(ctx); err != nil {
		if errors.Is(err, realtime.ErrNotConfigured) {
			r.logger.Warn("fill feed not configured, streak tracking idle")
			r.feedOff = true
			return
		}
		r.logger.Warn("failed to connect fill feed", zap.Error(err))
		return
	}
	r.logger.Info("fill feed connected")
}

// checkFeed re-dials when the feed is down or has been silent longer than
// FillSync.RedialAfter. Heartbeat replies count as traffic.
func (r *Runner) checkFeed(ctx context.Context) {
	if r.feedOff {
		return
	}
	redialAfter := r.liveConfig.Get().FillSync.RedialAfter
	stats := r.feed.Stats()

	stale := !stats.Connected
	if !stale && !stats.LastMessageAt.IsZero() && redialAfter > 0 {
		stale = r.now().Sub(stats.LastMessageAt) > redialAfter
	}
	if !stale {
		return
	}

	r.logger.Warn("fill feed stale, re-dialing",
		zap.Bool("connected", stats.Connected),
		zap.Time("lastMessageAt", stats.LastMessageAt),
	)
	_ = r.feed.Close()

	r.mu.Lock()
	r.counters.FeedRedials++
	r.mu.Unlock()

	r.connectFeed(ctx)
}

func (r *Runner) pruneTrackers() {
	pruneAfter := r.liveConfig.Get().FillSync.PruneAfter
	if pruneAfter <= 0 {
		return
	}
	removed := r.registry.Prune(r.now().Add(-pruneAfter))
	if removed == 0 {
		return
	}

	r.mu.Lock()
	r.counters.TrackersPruned += removed
	for market := range r.streakAlerted {
		if _, ok := r.registry.Stats(market); !ok {
			delete(r.streakAlerted, market)
		}
	}
	r.mu.Unlock()

	r.logger.Debug("pruned idle fill trackers", zap.Int("removed", removed))
}

// HandleFill records a fill and alerts once when a streak starts blocking a
// side. The alert re-arms once the filled side is allowed again.
func (r *Runner) HandleFill(ev realtime.FillEvent) {
	cfg := r.liveConfig.Get()
	if ev.BotID != "" && len(cfg.Monitor.Bots) > 0 && !cfg.HasBot(ev.BotID) {
		r.mu.Lock()
		r.counters.FillsIgnored++
		r.mu.Unlock()
		return
	}

	fill := ev.Fill
	if fill.TS.IsZero() {
		fill.TS = r.now()
	}
	decision := r.registry.Record(fill)
	market := fill.MarketID

	r.mu.Lock()
	r.counters.FillsRecorded++
	if decision.Allowed {
		delete(r.streakAlerted, market)
		r.mu.Unlock()
		return
	}
	if r.streakAlerted[market] {
		r.mu.Unlock()
		return
	}
	r.streakAlerted[market] = true
	r.counters.StreakAlerts++
	r.mu.Unlock()

	streak := 0
	if ms, ok := r.registry.Stats(market); ok {
		streak = ms.Stats.CurrentStreak
	}
	r.logger.Warn("one-sided fill streak",
		zap.String("bot", ev.BotID),
		zap.String("market", market),
		zap.String("side", string(fill.Side)),
		zap.Int("streak", streak),
	)
	r.notifier.SendStreakAlert(notifier.StreakAlert{
		MarketID:  market,
		Side:      string(fill.Side),
		Streak:    streak,
		MaxStreak: cfg.FillSync.MaxStreak,
		Reason:    decision.Reason,
		Timestamp: fill.TS,
	})
}

// MarketDetail is a market's tracker state for the API.
type MarketDetail struct {
	fillsync.MarketStats
	History  []fillsync.Record  `json:"history"`
	Decision *fillsync.Decision `json:"decision,omitempty"`
}

// FillSyncMarkets lists tracked markets, most recently filled first.
func (r *Runner) FillSyncMarkets() []fillsync.MarketStats {
	return r.registry.All()
}

// FillSyncMarket returns one market's tracker state. When side is set the
// quote decision for that side is included.
func (r *Runner) FillSyncMarket(marketID string, side *model.Side) (MarketDetail, bool) {
	ms, ok := r.registry.Stats(marketID)
	if !ok {
		return MarketDetail{}, false
	}
	d := MarketDetail{MarketStats: ms, History: r.registry.History(marketID)}
	if side != nil {
		dec := r.registry.ShouldQuote(marketID, *side)
		d.Decision = &dec
	}
	return d, true
}

// ResetFillSync clears a market's history and re-arms its streak alert.
func (r *Runner) ResetFillSync(marketID string) bool {
	if !r.registry.Reset(marketID) {
		return false
	}
	r.mu.Lock()
	delete(r.streakAlerted, marketID)
	r.mu.Unlock()
	r.logger.Info("fill tracker reset", zap.String("market", marketID))
	return true
}

package health

import (
	"sort"
	"time"

	"botwatch/internal/model"
)

// maxBuckets bounds the timeline to one week of 5-minute buckets.
const maxBuckets = 7 * 24 * 12

// Bucket aggregates activity inside one fixed-size slice of the window.
type Bucket struct {
	Start           time.Time `json:"start"`
	Events          int       `json:"events"`
	EmergencyEvents int       `json:"emergency_events"`
	HedgeEvents     int       `json:"hedge_events"`
	Orders          int       `json:"orders"`
	FailedOrders    int       `json:"failed_orders"`
	Fills           int       `json:"fills"`
	Snapshots       int       `json:"snapshots"`
	MaxSkewPct      float64   `json:"max_skew_pct"`
	MaxTotalShares  float64   `json:"max_total_shares"`
}

// Timeline splits the window into fixed buckets aligned to the bucket size.
// Items outside the window are ignored. Newest bucket last.
func Timeline(in Input, size time.Duration) []Bucket {
	if size <= 0 {
		size = DefaultConfig().BucketSize
	}
	window := in.Window
	if window.IsZero() {
		window = inferWindow(in)
	}
	if window.Start.IsZero() || !window.End.After(window.Start) {
		return []Bucket{}
	}

	start := window.Start.Truncate(size)
	n := int((window.End.Sub(start) + size - 1) / size)
	if n > maxBuckets {
		// Keep the newest buckets.
		start = start.Add(time.Duration(n-maxBuckets) * size)
		n = maxBuckets
	}

	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * size)
	}

	index := func(ts time.Time) (int, bool) {
		if ts.Before(window.Start) || !ts.Before(window.End) || ts.Before(start) {
			return 0, false
		}
		i := int(ts.Sub(start) / size)
		return i, i >= 0 && i < n
	}

	for _, e := range in.Events {
		i, ok := index(e.TS)
		if !ok {
			continue
		}
		buckets[i].Events++
		if model.IsEmergencyEvent(e.EventType) {
			buckets[i].EmergencyEvents++
		}
		if model.IsHedgeEvent(e.EventType) {
			buckets[i].HedgeEvents++
		}
	}
	for _, o := range in.Orders {
		i, ok := index(o.CreatedTS)
		if !ok {
			continue
		}
		buckets[i].Orders++
		if model.IsFailedOrderStatus(o.Status) {
			buckets[i].FailedOrders++
		}
	}
	for _, f := range in.Fills {
		if i, ok := index(f.TS); ok {
			buckets[i].Fills++
		}
	}
	for _, s := range in.Snapshots {
		i, ok := index(s.TS)
		if !ok {
			continue
		}
		b := &buckets[i]
		b.Snapshots++
		if v := skewPct(s.UpShares, s.DownShares); v > b.MaxSkewPct {
			b.MaxSkewPct = v
		}
		if v := s.Total(); v > b.MaxTotalShares {
			b.MaxTotalShares = v
		}
	}
	return buckets
}

// MarketRisk is one row of the risky-markets ranking.
type MarketRisk struct {
	MarketID    string    `json:"market_id"`
	UpShares    float64   `json:"up_shares"`
	DownShares  float64   `json:"down_shares"`
	TotalShares float64   `json:"total_shares"`
	SkewPct     float64   `json:"skew_pct"`
	State       string    `json:"state,omitempty"`
	PairCost    float64   `json:"pair_cost,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RiskyMarkets ranks markets by skew, most lopsided first. Positions come
// from the newest snapshot per market, or from replayed fills when there are
// no snapshots. Empty positions are skipped. limit <= 0 returns all.
func RiskyMarkets(snaps []model.InventorySnapshot, fills []model.Fill, limit int) []MarketRisk {
	var out []MarketRisk
	if len(snaps) > 0 {
		for id, s := range latestSnapshots(snaps) {
			if s.Total() <= 0 {
				continue
			}
			out = append(out, MarketRisk{
				MarketID:    id,
				UpShares:    s.UpShares,
				DownShares:  s.DownShares,
				TotalShares: s.Total(),
				SkewPct:     skewPct(s.UpShares, s.DownShares),
				State:       s.State,
				PairCost:    s.PairCost,
				UpdatedAt:   s.TS,
			})
		}
	} else {
		lastFill := make(map[string]time.Time)
		for _, f := range fills {
			if f.TS.After(lastFill[f.MarketID]) {
				lastFill[f.MarketID] = f.TS
			}
		}
		for id, b := range exposureFromFills(fills).final {
			if b.total() <= 0 {
				continue
			}
			out = append(out, MarketRisk{
				MarketID:    id,
				UpShares:    b.up,
				DownShares:  b.down,
				TotalShares: b.total(),
				SkewPct:     skewPct(b.up, b.down),
				UpdatedAt:   lastFill[id],
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].SkewPct != out[j].SkewPct {
			return out[i].SkewPct > out[j].SkewPct
		}
		if out[i].TotalShares != out[j].TotalShares {
			return out[i].TotalShares > out[j].TotalShares
		}
		return out[i].MarketID < out[j].MarketID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []MarketRisk{}
	}
	return out
}

package health

import (
	"math"
	"sort"

	"botwatch/internal/model"
)

// balance is a market's share count per side.
type balance struct {
	up   float64
	down float64
}

func (b balance) total() float64 { return b.up + b.down }

func (b balance) perSide() float64 { return math.Max(b.up, b.down) }

// skewPct is |up-down| as a percentage of the total, 0 for empty positions.
func skewPct(up, down float64) float64 {
	total := up + down
	if total <= 0 {
		return 0
	}
	return math.Abs(up-down) * 100 / total
}

type exposure struct {
	maxPerSide       float64
	maxPerSideMarket string
	maxTotal         float64
	maxTotalMarket   string
	final            map[string]balance // latest position per market
}

// exposureFromSnapshots takes maxima across every snapshot and keeps the
// newest snapshot per market as the current position.
func exposureFromSnapshots(snaps []model.InventorySnapshot) exposure {
	ex := exposure{final: make(map[string]balance)}
	latest := latestSnapshots(snaps)
	for _, s := range snaps {
		b := balance{up: s.UpShares, down: s.DownShares}
		if v := b.perSide(); v > ex.maxPerSide {
			ex.maxPerSide = v
			ex.maxPerSideMarket = s.MarketID
		}
		if v := b.total(); v > ex.maxTotal {
			ex.maxTotal = v
			ex.maxTotalMarket = s.MarketID
		}
	}
	for id, s := range latest {
		ex.final[id] = balance{up: s.UpShares, down: s.DownShares}
	}
	return ex
}

// exposureFromFills replays fills in time order as a running balance per
// market: BUY adds to the filled side, SELL removes from it (never below zero).
func exposureFromFills(fills []model.Fill) exposure {
	ex := exposure{final: make(map[string]balance)}
	for _, f := range sortedFills(fills) {
		b := ex.final[f.MarketID]
		delta := f.Qty
		if f.Action == model.ActionSell {
			delta = -f.Qty
		}
		switch f.Side {
		case model.SideUp:
			b.up = math.Max(0, b.up+delta)
		case model.SideDown:
			b.down = math.Max(0, b.down+delta)
		default:
			continue
		}
		ex.final[f.MarketID] = b

		if v := b.perSide(); v > ex.maxPerSide {
			ex.maxPerSide = v
			ex.maxPerSideMarket = f.MarketID
		}
		if v := b.total(); v > ex.maxTotal {
			ex.maxTotal = v
			ex.maxTotalMarket = f.MarketID
		}
	}
	return ex
}

// latestSnapshots returns the newest snapshot per market.
func latestSnapshots(snaps []model.InventorySnapshot) map[string]model.InventorySnapshot {
	latest := make(map[string]model.InventorySnapshot)
	for _, s := range snaps {
		cur, ok := latest[s.MarketID]
		if !ok || !s.TS.Before(cur.TS) {
			latest[s.MarketID] = s
		}
	}
	return latest
}

func sortedFills(fills []model.Fill) []model.Fill {
	out := make([]model.Fill, len(fills))
	copy(out, fills)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

func sortedSnapshots(snaps []model.InventorySnapshot) []model.InventorySnapshot {
	out := make([]model.InventorySnapshot, len(snaps))
	copy(out, snaps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out
}

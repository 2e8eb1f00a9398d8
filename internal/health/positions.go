package health

import (
	"sort"

	"botwatch/internal/model"

	"github.com/shopspring/decimal"
)

// Position is a pair position rebuilt from fills.
type Position struct {
	MarketID      string  `json:"market_id"`
	UpShares      float64 `json:"up_shares"`
	DownShares    float64 `json:"down_shares"`
	UpAvgPrice    float64 `json:"up_avg_price"`
	DownAvgPrice  float64 `json:"down_avg_price"`
	CombinedPrice float64 `json:"combined_price,omitempty"`
	LockedProfit  float64 `json:"locked_profit,omitempty"`
	Paired        bool    `json:"paired"`
}

type leg struct {
	qty  decimal.Decimal
	cost decimal.Decimal
}

func (l *leg) buy(qty, price decimal.Decimal) {
	l.qty = l.qty.Add(qty)
	l.cost = l.cost.Add(qty.Mul(price))
}

// sell removes shares at the current average so the average is unchanged.
func (l *leg) sell(qty decimal.Decimal) {
	if l.qty.IsZero() {
		return
	}
	if qty.GreaterThanOrEqual(l.qty) {
		l.qty = decimal.Zero
		l.cost = decimal.Zero
		return
	}
	avg := l.cost.Div(l.qty)
	l.qty = l.qty.Sub(qty)
	l.cost = l.cost.Sub(avg.Mul(qty))
}

func (l *leg) avg() decimal.Decimal {
	if l.qty.IsZero() {
		return decimal.Zero
	}
	return l.cost.Div(l.qty)
}

// Positions rebuilds per-market pair positions from fills. When both sides
// are held the combined price is the sum of the two average entry prices and
// the locked profit is the paired share count times (1 - combined price).
func Positions(fills []model.Fill) []Position {
	type pair struct{ up, down leg }
	pairs := make(map[string]*pair)

	for _, f := range sortedFills(fills) {
		if f.Qty <= 0 {
			continue
		}
		p, ok := pairs[f.MarketID]
		if !ok {
			p = &pair{}
			pairs[f.MarketID] = p
		}
		var l *leg
		switch f.Side {
		case model.SideUp:
			l = &p.up
		case model.SideDown:
			l = &p.down
		default:
			continue
		}
		qty := decimal.NewFromFloat(f.Qty)
		if f.Action == model.ActionSell {
			l.sell(qty)
		} else {
			l.buy(qty, decimal.NewFromFloat(f.Price))
		}
	}

	out := make([]Position, 0, len(pairs))
	for id, p := range pairs {
		pos := Position{
			MarketID:     id,
			UpShares:     p.up.qty.InexactFloat64(),
			DownShares:   p.down.qty.InexactFloat64(),
			UpAvgPrice:   p.up.avg().Round(6).InexactFloat64(),
			DownAvgPrice: p.down.avg().Round(6).InexactFloat64(),
		}
		if p.up.qty.IsPositive() && p.down.qty.IsPositive() {
			combined := p.up.avg().Add(p.down.avg())
			paired := decimal.Min(p.up.qty, p.down.qty)
			pos.Paired = true
			pos.CombinedPrice = combined.Round(6).InexactFloat64()
			pos.LockedProfit = paired.Mul(decimal.NewFromInt(1).Sub(combined)).Round(4).InexactFloat64()
		}
		out = append(out, pos)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

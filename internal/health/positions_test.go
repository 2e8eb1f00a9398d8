package health

import (
	"testing"
	"time"

	"botwatch/internal/model"
)

func buy(market string, side model.Side, qty, price float64, at time.Duration) model.Fill {
	return model.Fill{TS: t0.Add(at), MarketID: market, Side: side, Action: model.ActionBuy, Qty: qty, Price: price}
}

func TestPositions_PairedCombinedPrice(t *testing.T) {
	fills := []model.Fill{
		buy("m", model.SideUp, 50, 0.40, time.Minute),
		buy("m", model.SideUp, 50, 0.50, 2*time.Minute),
		buy("m", model.SideDown, 100, 0.50, 3*time.Minute),
	}
	got := Positions(fills)
	if len(got) != 1 {
		t.Fatalf("expected 1 position, got %d", len(got))
	}
	p := got[0]
	if p.UpAvgPrice != 0.45 || p.DownAvgPrice != 0.5 {
		t.Errorf("unexpected averages up=%v down=%v", p.UpAvgPrice, p.DownAvgPrice)
	}
	if !p.Paired || p.CombinedPrice != 0.95 {
		t.Errorf("expected paired at 0.95, got %+v", p)
	}
	if p.LockedProfit != 5 {
		t.Errorf("expected locked profit 5, got %v", p.LockedProfit)
	}
}

func TestPositions_SellKeepsAverage(t *testing.T) {
	fills := []model.Fill{
		buy("m", model.SideUp, 100, 0.45, time.Minute),
		{TS: t0.Add(2 * time.Minute), MarketID: "m", Side: model.SideUp, Action: model.ActionSell, Qty: 20, Price: 0.9},
		buy("m", model.SideDown, 40, 0.50, 3*time.Minute),
	}
	p := Positions(fills)[0]
	if p.UpShares != 80 || p.UpAvgPrice != 0.45 {
		t.Errorf("expected 80 up at 0.45, got %v at %v", p.UpShares, p.UpAvgPrice)
	}
	// 40 paired shares at 0.95 combined.
	if p.LockedProfit != 2 {
		t.Errorf("expected locked profit 2, got %v", p.LockedProfit)
	}
}

func TestPositions_OneSidedNotPaired(t *testing.T) {
	fills := []model.Fill{
		buy("b", model.SideUp, 10, 0.30, time.Minute),
		buy("a", model.SideDown, 10, 0.60, time.Minute),
		{TS: t0.Add(2 * time.Minute), MarketID: "a", Side: model.SideUp, Action: model.ActionSell, Qty: 5},
	}
	got := Positions(fills)
	if len(got) != 2 || got[0].MarketID != "a" || got[1].MarketID != "b" {
		t.Fatalf("expected positions sorted by market, got %+v", got)
	}
	for _, p := range got {
		if p.Paired || p.CombinedPrice != 0 || p.LockedProfit != 0 {
			t.Errorf("expected %s unpaired, got %+v", p.MarketID, p)
		}
	}
	if got[0].UpShares != 0 {
		t.Errorf("expected sell of unheld side to be ignored, got %v", got[0].UpShares)
	}
}

func TestPositions_SellAllClearsLeg(t *testing.T) {
	fills := []model.Fill{
		buy("m", model.SideUp, 10, 0.40, time.Minute),
		{TS: t0.Add(2 * time.Minute), MarketID: "m", Side: model.SideUp, Action: model.ActionSell, Qty: 25},
	}
	p := Positions(fills)[0]
	if p.UpShares != 0 || p.UpAvgPrice != 0 {
		t.Errorf("expected cleared leg, got %+v", p)
	}
}

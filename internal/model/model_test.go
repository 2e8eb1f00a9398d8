package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseSide(t *testing.T) {
	tests := []struct {
		in   string
		want Side
		ok   bool
	}{
		{"UP", SideUp, true},
		{" up ", SideUp, true},
		{"Yes", SideUp, true},
		{"down", SideDown, true},
		{"NO", SideDown, true},
		{"sideways", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseSide(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseSide(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if SideUp.Opposite() != SideDown {
		t.Error("expected UP opposite to be DOWN")
	}
	if SideDown.Opposite() != SideUp {
		t.Error("expected DOWN opposite to be UP")
	}
}

func TestParseAction(t *testing.T) {
	if ParseAction("sell") != ActionSell {
		t.Error("expected sell to parse as SELL")
	}
	if ParseAction("BUY") != ActionBuy {
		t.Error("expected BUY")
	}
	if ParseAction("") != ActionBuy {
		t.Error("expected empty action to default to BUY")
	}
}

func TestFloatUnmarshal(t *testing.T) {
	var row struct {
		A Float `json:"a"`
		B Float `json:"b"`
		C Float `json:"c"`
		D Float `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a": 1.5, "b": "0.47", "c": null, "d": ""}`), &row); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.A != 1.5 || row.B != 0.47 || row.C != 0 || row.D != 0 {
		t.Errorf("unexpected values: %+v", row)
	}

	if err := json.Unmarshal([]byte(`{"a": "abc"}`), &row); err == nil {
		t.Error("expected error for non-numeric string")
	}
}

func TestEventClassification(t *testing.T) {
	if !IsEmergencyEvent("EMERGENCY_UNWIND") || !IsEmergencyEvent("emergency_hedge") || !IsEmergencyEvent("KILL_SWITCH") {
		t.Error("expected emergency events to be detected")
	}
	if IsEmergencyEvent("ORDER_PLACED") {
		t.Error("ORDER_PLACED is not an emergency")
	}
	if !IsHedgeEvent("hedge_placed") || IsHedgeEvent("HEDGE_CANCELLED") {
		t.Error("unexpected hedge classification")
	}
	if !IsAggressiveHedgeFallback(BotEvent{EventType: "HEDGE_PLACED", ReasonCode: "aggressive_hedge_fallback"}) {
		t.Error("expected reason code to flag aggressive fallback")
	}
	if !IsAggressiveHedgeFallback(BotEvent{EventType: "AGGRESSIVE_HEDGE"}) {
		t.Error("expected event type to flag aggressive fallback")
	}
	if IsAggressiveHedgeFallback(BotEvent{EventType: "HEDGE_PLACED"}) {
		t.Error("plain hedge is not a fallback")
	}
}

func TestIsFailedOrderStatus(t *testing.T) {
	for _, s := range []string{"failed", "REJECTED", " error "} {
		if !IsFailedOrderStatus(s) {
			t.Errorf("expected %q to be a failure", s)
		}
	}
	for _, s := range []string{"filled", "open", "cancelled", ""} {
		if IsFailedOrderStatus(s) {
			t.Errorf("expected %q not to be a failure", s)
		}
	}
}

func TestEventState(t *testing.T) {
	if _, ok := EventState(BotEvent{}); ok {
		t.Error("expected no state without data")
	}
	state, ok := EventState(BotEvent{Data: map[string]any{"state": "pairing"}})
	if !ok || state != StatePairing {
		t.Errorf("expected PAIRING, got %q %v", state, ok)
	}
	if _, ok := EventState(BotEvent{Data: map[string]any{"state": 3}}); ok {
		t.Error("expected non-string state to be ignored")
	}
}

func TestMarketEnd(t *testing.T) {
	end, ok := MarketEnd("btc-updown-15m-1760000000", 15*time.Minute)
	if !ok {
		t.Fatal("expected market end to parse")
	}
	want := time.Unix(1760000000, 0).UTC().Add(15 * time.Minute)
	if !end.Equal(want) {
		t.Errorf("expected %v, got %v", want, end)
	}

	for _, id := range []string{"0xabc123", "btc-updown-", "btc-updown-15m-abc", ""} {
		if _, ok := MarketEnd(id, 15*time.Minute); ok {
			t.Errorf("expected %q not to parse", id)
		}
	}
}

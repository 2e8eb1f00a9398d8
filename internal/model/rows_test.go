package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTime_UnmarshalJSON(t *testing.T) {
	want := time.Date(2026, 5, 4, 12, 0, 0, 500_000_000, time.UTC)
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", `"2026-05-04T12:00:00.5Z"`, want},
		{"offset", `"2026-05-04T14:00:00.5+02:00"`, want},
		{"short offset", `"2026-05-04T12:00:00.5+00"`, want},
		{"postgres text", `"2026-05-04 12:00:00.5+00"`, want},
		{"no zone", `"2026-05-04T12:00:00.5"`, want},
		{"no fraction", `"2026-05-04T12:00:00Z"`, want.Truncate(time.Second)},
		{"unix millis", `1777896000500`, want},
		{"null", `null`, time.Time{}},
		{"empty", `""`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Time
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got.Time)
			}
		})
	}
}

func TestTime_UnmarshalJSONRejectsGarbage(t *testing.T) {
	var got Time
	if err := json.Unmarshal([]byte(`"yesterday"`), &got); err == nil {
		t.Error("expected error")
	}
}

func TestID_UnmarshalJSON(t *testing.T) {
	var row struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a":"0xabc","b":12345,"c":null}`), &row); err != nil {
		t.Fatal(err)
	}
	if row.A != "0xabc" || row.B != "12345" || row.C != "" {
		t.Errorf("unexpected ids %+v", row)
	}
}

func TestFillRow(t *testing.T) {
	var row FillRow
	doc := `{"bot_id":"b1","ts":"2026-05-04T12:00:00Z","market_id":"m","side":"yes","action":"sell","qty":"12.5","price":0.45}`
	if err := json.Unmarshal([]byte(doc), &row); err != nil {
		t.Fatal(err)
	}
	f, ok := row.Fill()
	if !ok {
		t.Fatal("expected valid fill")
	}
	if f.Side != SideUp || f.Action != ActionSell || f.Qty != 12.5 || f.Price != 0.45 {
		t.Errorf("unexpected fill %+v", f)
	}
	if row.BotID != "b1" {
		t.Errorf("unexpected bot id %s", row.BotID)
	}

	if _, ok := (FillRow{Side: "sideways"}).Fill(); ok {
		t.Error("expected unknown side rejected")
	}
}

func TestOrderRow(t *testing.T) {
	var row OrderRow
	doc := `{"id":7,"market_id":"m","side":"DOWN","status":" Rejected ","created_ts":"2026-05-04T12:00:00Z","created_at":"2020-01-01T00:00:00Z"}`
	if err := json.Unmarshal([]byte(doc), &row); err != nil {
		t.Fatal(err)
	}
	o := row.Order()
	if o.ID != "7" || o.Status != "rejected" || o.Side != SideDown || o.Action != ActionBuy {
		t.Errorf("unexpected order %+v", o)
	}
	if want := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC); !o.CreatedTS.Equal(want) {
		t.Errorf("expected created_ts %v, got %v", want, o.CreatedTS)
	}

	// created_ts is the only timestamp the store filters on.
	var legacy OrderRow
	if err := json.Unmarshal([]byte(`{"id":8,"created_at":"2026-05-04T12:00:00Z"}`), &legacy); err != nil {
		t.Fatal(err)
	}
	if !legacy.Order().CreatedTS.IsZero() {
		t.Error("expected created_at ignored")
	}
}

func TestEventAndSnapshotRows(t *testing.T) {
	var ev EventRow
	if err := json.Unmarshal([]byte(`{"ts":"2026-05-04T12:00:00Z","event_type":"hedge_placed","reason_code":"aggressive_hedge_fallback","data":{"state":"pairing"}}`), &ev); err != nil {
		t.Fatal(err)
	}
	e := ev.Event()
	if e.EventType != "HEDGE_PLACED" || e.ReasonCode != "AGGRESSIVE_HEDGE_FALLBACK" {
		t.Errorf("unexpected event %+v", e)
	}
	if s, ok := EventState(e); !ok || s != StatePairing {
		t.Errorf("expected pairing state, got %q", s)
	}

	var sr SnapshotRow
	if err := json.Unmarshal([]byte(`{"ts":"2026-05-04T12:00:00Z","market_id":"m","up_shares":"10","down_shares":4,"state":"accumulating","pair_cost":null}`), &sr); err != nil {
		t.Fatal(err)
	}
	s := sr.Snapshot()
	if s.UpShares != 10 || s.DownShares != 4 || s.State != "ACCUMULATING" || s.PairCost != 0 {
		t.Errorf("unexpected snapshot %+v", s)
	}
}

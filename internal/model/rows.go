package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Time decodes the timestamp shapes the store emits: RFC 3339 with or
// without fractional seconds, Postgres text ("2026-05-04 12:00:00.5+00"),
// or unix milliseconds as a number.
type Time struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime parses a store timestamp. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("parse unix millis %s: %w", b, err)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := ParseTime(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ID decodes an identifier that may be a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	*id = ID(b)
	return nil
}

// FillRow is a fills row as stored.
type FillRow struct {
	BotID    string `json:"bot_id"`
	TS       Time   `json:"ts"`
	MarketID string `json:"market_id"`
	Side     string `json:"side"`
	Action   string `json:"action"`
	Qty      Float  `json:"qty"`
	Price    Float  `json:"price"`
}

// Fill converts the row. Rows with an unknown side return false.
func (r FillRow) Fill() (Fill, bool) {
	side, ok := ParseSide(r.Side)
	if !ok {
		return Fill{}, false
	}
	return Fill{
		TS:       r.TS.Time,
		MarketID: r.MarketID,
		Side:     side,
		Action:   ParseAction(r.Action),
		Qty:      float64(r.Qty),
		Price:    float64(r.Price),
	}, true
}

// EventRow is a bot_events row as stored.
type EventRow struct {
	TS         Time           `json:"ts"`
	EventType  string         `json:"event_type"`
	Asset      string         `json:"asset"`
	MarketID   string         `json:"market_id"`
	ReasonCode string         `json:"reason_code"`
	Data       map[string]any `json:"data"`
}

func (r EventRow) Event() BotEvent {
	return BotEvent{
		TS:         r.TS.Time,
		EventType:  strings.ToUpper(strings.TrimSpace(r.EventType)),
		Asset:      r.Asset,
		MarketID:   r.MarketID,
		ReasonCode: strings.ToUpper(strings.TrimSpace(r.ReasonCode)),
		Data:       r.Data,
	}
}

// OrderRow is an orders row as stored. Orders are keyed on created_ts both
// in the store query and here.
type OrderRow struct {
	ID        ID     `json:"id"`
	MarketID  string `json:"market_id"`
	Side      string `json:"side"`
	Action    string `json:"action"`
	Price     Float  `json:"price"`
	Qty       Float  `json:"qty"`
	FilledQty Float  `json:"filled_qty"`
	Status    string `json:"status"`
	CreatedTS Time   `json:"created_ts"`
}

func (r OrderRow) Order() Order {
	side, _ := ParseSide(r.Side)
	return Order{
		ID:        string(r.ID),
		MarketID:  r.MarketID,
		Side:      side,
		Action:    ParseAction(r.Action),
		Price:     float64(r.Price),
		Qty:       float64(r.Qty),
		FilledQty: float64(r.FilledQty),
		Status:    strings.ToLower(strings.TrimSpace(r.Status)),
		CreatedTS: r.CreatedTS.Time,
	}
}

// SnapshotRow is an inventory_snapshots row as stored.
type SnapshotRow struct {
	TS         Time   `json:"ts"`
	MarketID   string `json:"market_id"`
	UpShares   Float  `json:"up_shares"`
	DownShares Float  `json:"down_shares"`
	State      string `json:"state"`
	PairCost   Float  `json:"pair_cost"`
}

func (r SnapshotRow) Snapshot() InventorySnapshot {
	return InventorySnapshot{
		TS:         r.TS.Time,
		MarketID:   r.MarketID,
		UpShares:   float64(r.UpShares),
		DownShares: float64(r.DownShares),
		State:      strings.ToUpper(strings.TrimSpace(r.State)),
		PairCost:   float64(r.PairCost),
	}
}

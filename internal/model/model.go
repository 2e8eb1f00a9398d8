package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Side is the outcome token of a binary up/down market.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

// ParseSide normalizes free-form side strings ("up", "Yes", "DOWN").
// Returns false for anything that is not one of the two outcomes.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "YES":
		return SideUp, true
	case "DOWN", "NO":
		return SideDown, true
	}
	return "", false
}

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Action is the direction of an order or fill.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction normalizes BUY/SELL. Empty input is treated as BUY since the
// bot only records sells explicitly.
func ParseAction(s string) Action {
	if strings.EqualFold(strings.TrimSpace(s), string(ActionSell)) {
		return ActionSell
	}
	return ActionBuy
}

// Float decodes a JSON number or a numeric string. Hosted Postgres numeric
// columns come back as strings.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*f = 0
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("parse numeric string %q: %w", str, err)
		}
		*f = Float(v)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %s: %w", s, err)
	}
	*f = Float(v)
	return nil
}

// Fill is a single execution against one of the bot's orders.
type Fill struct {
	TS       time.Time `json:"ts"`
	MarketID string    `json:"market_id"`
	Side     Side      `json:"side"`
	Action   Action    `json:"action"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
}

// BotEvent is an immutable entry in the bot's event log.
type BotEvent struct {
	TS         time.Time      `json:"ts"`
	EventType  string         `json:"event_type"`
	Asset      string         `json:"asset"`
	MarketID   string         `json:"market_id,omitempty"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Order is an order the bot placed.
type Order struct {
	ID        string    `json:"id"`
	MarketID  string    `json:"market_id"`
	Side      Side      `json:"side"`
	Action    Action    `json:"action"`
	Price     float64   `json:"price"`
	Qty       float64   `json:"qty"`
	FilledQty float64   `json:"filled_qty"`
	Status    string    `json:"status"`
	CreatedTS time.Time `json:"created_ts"`
}

// InventorySnapshot is a periodic point-in-time capture of a market position.
type InventorySnapshot struct {
	TS         time.Time `json:"ts"`
	MarketID   string    `json:"market_id"`
	UpShares   float64   `json:"up_shares"`
	DownShares float64   `json:"down_shares"`
	State      string    `json:"state"`
	PairCost   float64   `json:"pair_cost"`
}

// Total returns the combined share count of both sides.
func (s InventorySnapshot) Total() float64 {
	return s.UpShares + s.DownShares
}

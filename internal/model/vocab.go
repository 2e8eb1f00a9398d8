package model

import (
	"strconv"
	"strings"
	"time"
)

// StatePairing is the inventory state in which the bot is actively
// balancing both sides of a position. Hedges are only legal here.
const StatePairing = "PAIRING"

// IsEmergencyEvent reports whether an event type is one of the bot's
// emergency actions (unwinds, forced hedges, kill switch).
func IsEmergencyEvent(eventType string) bool {
	t := strings.ToUpper(strings.TrimSpace(eventType))
	return strings.HasPrefix(t, "EMERGENCY") || t == "KILL_SWITCH"
}

// IsHedgeEvent reports whether an event records a hedge placement.
func IsHedgeEvent(eventType string) bool {
	t := strings.ToUpper(strings.TrimSpace(eventType))
	return t == "HEDGE_PLACED" || t == "HEDGE"
}

// IsAggressiveHedgeFallback reports whether an event records the bot
// falling back to crossing the spread to complete a hedge.
func IsAggressiveHedgeFallback(e BotEvent) bool {
	return strings.EqualFold(strings.TrimSpace(e.EventType), "AGGRESSIVE_HEDGE") ||
		strings.EqualFold(strings.TrimSpace(e.ReasonCode), "AGGRESSIVE_HEDGE_FALLBACK")
}

// IsFailedOrderStatus reports whether an order status counts as a failure.
func IsFailedOrderStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "failed", "rejected", "error":
		return true
	}
	return false
}

// EventState returns the inventory state recorded on an event, if any.
func EventState(e BotEvent) (string, bool) {
	if e.Data == nil {
		return "", false
	}
	v, ok := e.Data["state"].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.ToUpper(strings.TrimSpace(v)), true
}

// MarketEnd derives the expiry of a 15-minute market from its slug. Slugs end
// in the unix second the market opens ("btc-updown-15m-1760000000"), so the
// end is that start plus duration. Ids without a numeric suffix return false.
func MarketEnd(marketID string, duration time.Duration) (time.Time, bool) {
	idx := strings.LastIndex(marketID, "-")
	if idx < 0 || idx == len(marketID)-1 {
		return time.Time{}, false
	}
	start, err := strconv.ParseInt(marketID[idx+1:], 10, 64)
	if err != nil || start <= 0 {
		return time.Time{}, false
	}
	return time.Unix(start, 0).UTC().Add(duration), true
}

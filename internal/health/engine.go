package health

import (
	"fmt"
	"strings"
	"time"

	"botwatch/internal/model"
)

// Compute classifies a slice of bot history. It is pure: same input, same
// report, no clock reads.
func Compute(in Input, cfg Config) Report {
	cfg = cfg.withDefaults()
	window := in.Window
	if window.IsZero() {
		window = inferWindow(in)
	}

	var m Metrics

	// Exposure: snapshots when we have them, otherwise rebuilt from fills.
	var ex exposure
	switch {
	case len(in.Snapshots) > 0:
		ex = exposureFromSnapshots(in.Snapshots)
		m.ExposureSource = SourceSnapshots
	case len(in.Fills) > 0:
		ex = exposureFromFills(in.Fills)
		m.ExposureSource = SourceFills
	default:
		ex = exposure{final: map[string]balance{}}
		m.ExposureSource = SourceNone
	}
	m.MaxSharesPerSide = ex.maxPerSide
	m.MaxPerSideMarket = ex.maxPerSideMarket
	m.MaxTotalShares = ex.maxTotal
	m.MaxTotalMarket = ex.maxTotalMarket
	m.MarketsSeen = len(ex.final)

	for id, b := range ex.final {
		s := skewPct(b.up, b.down)
		if s > m.WorstSkewPct || (s == m.WorstSkewPct && s > 0 && id < m.WorstSkewMarket) {
			m.WorstSkewPct = s
			m.WorstSkewMarket = id
		}
	}

	// Events.
	snapsByTime := sortedSnapshots(in.Snapshots)
	for _, e := range in.Events {
		if model.IsEmergencyEvent(e.EventType) {
			m.EmergencyEvents++
		}
		if model.IsAggressiveHedgeFallback(e) {
			m.AggressiveFallbacks++
		}
		if model.IsHedgeEvent(e.EventType) {
			m.HedgeEvents++
			if state, ok := stateAt(e, snapsByTime); ok && state != model.StatePairing {
				m.HedgesOutsidePairing++
			}
		}
	}
	m.EmergencyPerHour = float64(m.EmergencyEvents) / window.Hours()

	// Orders.
	late := time.Duration(cfg.LateExpirySeconds) * time.Second
	for _, o := range in.Orders {
		m.TotalOrders++
		if model.IsFailedOrderStatus(o.Status) {
			m.FailedOrders++
		}
		if isLateExpiryOrder(o, cfg.MarketDuration, late) {
			m.LateExpiryOrders++
		}
	}
	if m.TotalOrders > 0 {
		m.OrderFailureRate = float64(m.FailedOrders) * 100 / float64(m.TotalOrders)
	}

	inv := Invariants{
		NoPositionOver100PerSide:  m.MaxSharesPerSide <= cfg.MaxSharesPerSide,
		NoMarketOver200Total:      m.MaxTotalShares <= cfg.MaxTotalSharesPerMarket,
		NoHedgeOutsidePairing:     m.HedgesOutsidePairing == 0,
		NoAggressiveHedgeFallback: m.AggressiveFallbacks == 0,
		NoLateExpiryOrders:        m.LateExpiryOrders == 0,
	}

	status, reasons := classify(m, inv, cfg)

	return Report{
		Status:       status,
		Reasons:      reasons,
		Metrics:      m,
		Invariants:   inv,
		Window:       window,
		Timeline:     Timeline(Input{Window: window, Events: in.Events, Orders: in.Orders, Fills: in.Fills, Snapshots: in.Snapshots}, cfg.BucketSize),
		RiskyMarkets: RiskyMarkets(in.Snapshots, in.Fills, cfg.RiskyMarketsLimit),
		Positions:    Positions(in.Fills),
	}
}

// classify applies the fixed priority cascade: any red condition wins, then
// any yellow condition, else green. All triggered conditions are reported.
// Yellow bands are closed on both ends (5-15% failures, 70-85% skew); red
// starts strictly above them.
func classify(m Metrics, inv Invariants, cfg Config) (Status, []string) {
	var red, yellow []string

	if !inv.NoPositionOver100PerSide {
		red = append(red, fmt.Sprintf("per-side position %.0f exceeds cap %.0f (%s)",
			m.MaxSharesPerSide, cfg.MaxSharesPerSide, nz(m.MaxPerSideMarket)))
	}
	if !inv.NoMarketOver200Total {
		red = append(red, fmt.Sprintf("market position %.0f exceeds total cap %.0f (%s)",
			m.MaxTotalShares, cfg.MaxTotalSharesPerMarket, nz(m.MaxTotalMarket)))
	}
	if !inv.NoHedgeOutsidePairing {
		red = append(red, fmt.Sprintf("%d hedge(s) placed outside %s state", m.HedgesOutsidePairing, model.StatePairing))
	}
	if !inv.NoAggressiveHedgeFallback {
		red = append(red, fmt.Sprintf("%d aggressive hedge fallback(s)", m.AggressiveFallbacks))
	}
	if m.OrderFailureRate > FailureRateRed {
		red = append(red, fmt.Sprintf("order failure rate %.1f%% above %.0f%% (%d/%d)",
			m.OrderFailureRate, FailureRateRed, m.FailedOrders, m.TotalOrders))
	}
	if m.WorstSkewPct > SkewRed {
		red = append(red, fmt.Sprintf("skew %.1f%% above %.0f%% (%s)", m.WorstSkewPct, SkewRed, nz(m.WorstSkewMarket)))
	}

	if m.EmergencyPerHour >= EmergencyRateYellow {
		yellow = append(yellow, fmt.Sprintf("%.1f emergency events/hr (%d total)", m.EmergencyPerHour, m.EmergencyEvents))
	}
	if m.OrderFailureRate >= FailureRateYellow && m.OrderFailureRate <= FailureRateRed {
		yellow = append(yellow, fmt.Sprintf("order failure rate %.1f%% (%d/%d)", m.OrderFailureRate, m.FailedOrders, m.TotalOrders))
	}
	if m.WorstSkewPct >= SkewYellow && m.WorstSkewPct <= SkewRed {
		yellow = append(yellow, fmt.Sprintf("skew %.1f%% (%s)", m.WorstSkewPct, nz(m.WorstSkewMarket)))
	}
	if !inv.NoLateExpiryOrders {
		yellow = append(yellow, fmt.Sprintf("%d order(s) placed within %ds of market expiry", m.LateExpiryOrders, cfg.LateExpirySeconds))
	}

	switch {
	case len(red) > 0:
		return StatusRed, append(red, yellow...)
	case len(yellow) > 0:
		return StatusYellow, yellow
	default:
		return StatusGreen, []string{}
	}
}

// stateAt finds the inventory state in force when a hedge was placed: the
// state recorded on the event itself, else the newest snapshot of the same
// market at or before the event.
func stateAt(e model.BotEvent, snapsByTime []model.InventorySnapshot) (string, bool) {
	if s, ok := model.EventState(e); ok {
		return s, true
	}
	if e.MarketID == "" {
		return "", false
	}
	var found string
	for _, s := range snapsByTime {
		if s.TS.After(e.TS) {
			break
		}
		if s.MarketID == e.MarketID && strings.TrimSpace(s.State) != "" {
			found = strings.ToUpper(strings.TrimSpace(s.State))
		}
	}
	return found, found != ""
}

func isLateExpiryOrder(o model.Order, marketDuration, late time.Duration) bool {
	if late <= 0 || o.CreatedTS.IsZero() || o.Action == model.ActionSell {
		return false
	}
	end, ok := model.MarketEnd(o.MarketID, marketDuration)
	if !ok {
		return false
	}
	return !o.CreatedTS.Before(end.Add(-late))
}

// inferWindow spans every timestamp in the input when no window was given.
func inferWindow(in Input) Window {
	var w Window
	see := func(ts time.Time) {
		if ts.IsZero() {
			return
		}
		if w.Start.IsZero() || ts.Before(w.Start) {
			w.Start = ts
		}
		if w.End.IsZero() || !ts.Before(w.End) {
			// End is exclusive.
			w.End = ts.Add(time.Nanosecond)
		}
	}
	for _, e := range in.Events {
		see(e.TS)
	}
	for _, o := range in.Orders {
		see(o.CreatedTS)
	}
	for _, f := range in.Fills {
		see(f.TS)
	}
	for _, s := range in.Snapshots {
		see(s.TS)
	}
	return w
}

func nz(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown market"
	}
	return s
}

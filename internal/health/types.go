package health

import (
	"time"

	"botwatch/internal/model"
)

// Status is the traffic-light classification of a bot.
type Status string

const (
	StatusGreen  Status = "GREEN"
	StatusYellow Status = "YELLOW"
	StatusRed    Status = "RED"
)

// Severity orders statuses so callers can tell an escalation from a recovery.
func (s Status) Severity() int {
	switch s {
	case StatusGreen:
		return 0
	case StatusYellow:
		return 1
	case StatusRed:
		return 2
	}
	return -1
}

// Fixed classification thresholds.
const (
	EmergencyRateYellow = 2.0  // emergency events per hour
	FailureRateYellow   = 5.0  // percent of orders
	FailureRateRed      = 15.0 // percent of orders
	SkewYellow          = 70.0 // percent imbalance
	SkewRed             = 85.0 // percent imbalance
)

// Config holds the caps the bot is expected to respect.
type Config struct {
	MaxSharesPerSide        float64       `json:"max_shares_per_side" yaml:"max_shares_per_side"`
	MaxTotalSharesPerMarket float64       `json:"max_total_shares_per_market" yaml:"max_total_shares_per_market"`
	LateExpirySeconds       int           `json:"late_expiry_seconds" yaml:"late_expiry_seconds"`
	MarketDuration          time.Duration `json:"market_duration" yaml:"market_duration"`
	BucketSize              time.Duration `json:"bucket_size" yaml:"bucket_size"`
	RiskyMarketsLimit       int           `json:"risky_markets_limit" yaml:"risky_markets_limit"`
}

// DefaultConfig returns the caps the bot ships with.
func DefaultConfig() Config {
	return Config{
		MaxSharesPerSide:        100,
		MaxTotalSharesPerMarket: 200,
		LateExpirySeconds:       60,
		MarketDuration:          15 * time.Minute,
		BucketSize:              5 * time.Minute,
		RiskyMarketsLimit:       5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSharesPerSide <= 0 {
		c.MaxSharesPerSide = d.MaxSharesPerSide
	}
	if c.MaxTotalSharesPerMarket <= 0 {
		c.MaxTotalSharesPerMarket = d.MaxTotalSharesPerMarket
	}
	if c.LateExpirySeconds < 0 {
		c.LateExpirySeconds = 0
	}
	if c.MarketDuration <= 0 {
		c.MarketDuration = d.MarketDuration
	}
	if c.BucketSize <= 0 {
		c.BucketSize = d.BucketSize
	}
	return c
}

// Window is the half-open time range [Start, End) a report covers.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether neither bound is set.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Hours returns the window length in hours, floored at one hour so a single
// event in a short window does not read as a burst.
func (w Window) Hours() float64 {
	h := w.End.Sub(w.Start).Hours()
	if h < 1 {
		return 1
	}
	return h
}

// Input is a time-bounded slice of a bot's history.
type Input struct {
	Window    Window                    `json:"window"`
	Events    []model.BotEvent          `json:"events"`
	Orders    []model.Order             `json:"orders"`
	Fills     []model.Fill              `json:"fills"`
	Snapshots []model.InventorySnapshot `json:"snapshots"`
}

// Exposure sources.
const (
	SourceSnapshots = "snapshots"
	SourceFills     = "fills"
	SourceNone      = "none"
)

// Metrics are the numbers behind a status.
type Metrics struct {
	ExposureSource       string  `json:"exposure_source"`
	MaxSharesPerSide     float64 `json:"max_shares_per_side"`
	MaxPerSideMarket     string  `json:"max_per_side_market,omitempty"`
	MaxTotalShares       float64 `json:"max_total_shares"`
	MaxTotalMarket       string  `json:"max_total_market,omitempty"`
	EmergencyEvents      int     `json:"emergency_events"`
	EmergencyPerHour     float64 `json:"emergency_per_hour"`
	HedgeEvents          int     `json:"hedge_events"`
	HedgesOutsidePairing int     `json:"hedges_outside_pairing"`
	AggressiveFallbacks  int     `json:"aggressive_fallbacks"`
	TotalOrders          int     `json:"total_orders"`
	FailedOrders         int     `json:"failed_orders"`
	OrderFailureRate     float64 `json:"order_failure_rate"` // percent
	LateExpiryOrders     int     `json:"late_expiry_orders"`
	WorstSkewPct         float64 `json:"worst_skew_pct"`
	WorstSkewMarket      string  `json:"worst_skew_market,omitempty"`
	MarketsSeen          int     `json:"markets_seen"`
}

// Invariants are the rules the bot must never break.
type Invariants struct {
	NoPositionOver100PerSide  bool `json:"no_position_over_100_per_side"`
	NoMarketOver200Total      bool `json:"no_market_over_200_total"`
	NoHedgeOutsidePairing     bool `json:"no_hedge_outside_pairing"`
	NoAggressiveHedgeFallback bool `json:"no_aggressive_hedge_fallback"`
	NoLateExpiryOrders        bool `json:"no_late_expiry_orders"`
}

// AllHold reports whether every invariant is satisfied.
func (i Invariants) AllHold() bool {
	return i.NoPositionOver100PerSide &&
		i.NoMarketOver200Total &&
		i.NoHedgeOutsidePairing &&
		i.NoAggressiveHedgeFallback &&
		i.NoLateExpiryOrders
}

// Report is the output of Compute.
type Report struct {
	Status       Status       `json:"status"`
	Reasons      []string     `json:"reasons"`
	Metrics      Metrics      `json:"metrics"`
	Invariants   Invariants   `json:"invariants"`
	Window       Window       `json:"window"`
	Timeline     []Bucket     `json:"timeline"`
	RiskyMarkets []MarketRisk `json:"risky_markets"`
	Positions    []Position   `json:"positions"`
}

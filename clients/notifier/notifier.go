package notifier

import (
	"time"
)

// HealthAlert is sent when a bot's health status changes.
type HealthAlert struct {
	BotID    string
	Previous string // empty on the first evaluation
	Current  string // GREEN, YELLOW or RED
	Reasons  []string

	// Headline metrics
	MaxSharesPerSide float64
	MaxTotalShares   float64
	EmergencyPerHour float64
	OrderFailureRate float64 // percent
	WorstSkewPct     float64
	WorstSkewMarket  string

	WindowStart time.Time
	WindowEnd   time.Time
	Timestamp   time.Time
}

// IsRecovery reports whether the status improved back to GREEN.
func (a HealthAlert) IsRecovery() bool {
	return a.Current == "GREEN" && a.Previous != "" && a.Previous != "GREEN"
}

// StreakAlert is sent when one side of a market has been filled too many
// times in a row and quoting that side is paused.
type StreakAlert struct {
	MarketID  string
	Side      string // blocked side, UP or DOWN
	Streak    int
	MaxStreak int
	Reason    string
	Timestamp time.Time
}

// Notifier is the interface for sending alerts to a channel.
type Notifier interface {
	// SendHealthAlert sends a health status change notification.
	SendHealthAlert(alert HealthAlert)

	// SendStreakAlert sends a one-sided fill streak notification.
	SendStreakAlert(alert StreakAlert)

	// Close cleans up any resources.
	Close() error
}

// MultiNotifier broadcasts alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a new MultiNotifier with the given notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &MultiNotifier{notifiers: active}
}

// SendHealthAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendHealthAlert(alert HealthAlert) {
	for _, n := range m.notifiers {
		n.SendHealthAlert(alert)
	}
}

// SendStreakAlert sends the alert to all registered notifiers.
func (m *MultiNotifier) SendStreakAlert(alert StreakAlert) {
	for _, n := range m.notifiers {
		n.SendStreakAlert(alert)
	}
}

// Close closes all registered notifiers.
func (m *MultiNotifier) Close() error {
	var lastErr error
	for _, n := range m.notifiers {
		if err := n.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Count returns the number of active notifiers.
func (m *MultiNotifier) Count() int {
	return len(m.notifiers)
}

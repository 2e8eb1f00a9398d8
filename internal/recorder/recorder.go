package recorder

import (
	"context"
	"errors"
	"time"

	"botwatch/internal/health"
)

// ErrNoReport is returned when a bot has no recorded report yet.
var ErrNoReport = errors.New("no report recorded")

// Entry is one recorded health evaluation.
type Entry struct {
	ID          string        `json:"id"`
	BotID       string        `json:"bot_id"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
	Status      health.Status `json:"status"`
	Reasons     []string      `json:"reasons"`
	Report      health.Report `json:"report"`
}

// Recorder persists health reports so status history survives restarts.
type Recorder interface {
	RecordReport(ctx context.Context, botID string, report health.Report) (string, error)
	RecentReports(ctx context.Context, botID string, limit int) ([]Entry, error)
	LastStatus(ctx context.Context, botID string) (health.Status, error)
	Close() error
}

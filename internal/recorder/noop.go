package recorder

import (
	"context"

	"botwatch/internal/health"
)

// NoopRecorder is used when no SQLite path is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordReport(_ context.Context, _ string, _ health.Report) (string, error) {
	return "", nil
}

func (n *NoopRecorder) RecentReports(_ context.Context, _ string, _ int) ([]Entry, error) {
	return []Entry{}, nil
}

func (n *NoopRecorder) LastStatus(_ context.Context, _ string) (health.Status, error) {
	return "", ErrNoReport
}

func (n *NoopRecorder) Close() error { return nil }

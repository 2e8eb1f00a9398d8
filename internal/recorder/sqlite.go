package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"botwatch/internal/health"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const defaultRecentLimit = 50

// SQLiteRecorder persists health reports to a SQLite database.
type SQLiteRecorder struct {
	logger *zap.Logger
	db     *sql.DB
	mu     sync.Mutex
	now    func() time.Time
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(logger *zap.Logger, dbPath string) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps in-memory databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{logger: logger, db: db, now: time.Now}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS health_reports (
			id                  TEXT PRIMARY KEY,
			bot_id              TEXT NOT NULL,
			evaluated_at        INTEGER NOT NULL,
			window_start        INTEGER,
			window_end          INTEGER,
			status              TEXT NOT NULL,
			reasons             TEXT,
			max_shares_per_side REAL,
			max_total_shares    REAL,
			emergency_per_hour  REAL,
			order_failure_rate  REAL,
			worst_skew_pct      REAL,
			report_json         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_health_bot_ts ON health_reports(bot_id, evaluated_at)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordReport stores a report and returns its generated id.
func (r *SQLiteRecorder) RecordReport(ctx context.Context, botID string, report health.Report) (string, error) {
	reasons, err := json.Marshal(report.Reasons)
	if err != nil {
		return "", fmt.Errorf("marshal reasons: %w", err)
	}
	body, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	m := report.Metrics
	_, err = r.db.ExecContext(ctx, `INSERT INTO health_reports
		(id, bot_id, evaluated_at, window_start, window_end, status, reasons,
		 max_shares_per_side, max_total_shares, emergency_per_hour,
		 order_failure_rate, worst_skew_pct, report_json)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, botID, r.now().UnixNano(),
		unixNano(report.Window.Start), unixNano(report.Window.End),
		string(report.Status), string(reasons),
		m.MaxSharesPerSide, m.MaxTotalShares, m.EmergencyPerHour,
		m.OrderFailureRate, m.WorstSkewPct, string(body),
	)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

// RecentReports returns up to limit reports for a bot, newest first.
func (r *SQLiteRecorder) RecentReports(ctx context.Context, botID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, bot_id, evaluated_at, status, reasons, report_json
		FROM health_reports WHERE bot_id = ?
		ORDER BY evaluated_at DESC, rowid DESC LIMIT ?`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                   Entry
			at                  int64
			status              string
			reasons, reportJSON sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.BotID, &at, &status, &reasons, &reportJSON); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		e.EvaluatedAt = time.Unix(0, at).UTC()
		e.Status = health.Status(status)
		e.Reasons = []string{}
		if reasons.Valid && reasons.String != "" {
			if err := json.Unmarshal([]byte(reasons.String), &e.Reasons); err != nil {
				r.logger.Warn("bad reasons column", zap.String("id", e.ID), zap.Error(err))
			}
		}
		if reportJSON.Valid {
			if err := json.Unmarshal([]byte(reportJSON.String), &e.Report); err != nil {
				r.logger.Warn("bad report column", zap.String("id", e.ID), zap.Error(err))
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return entries, nil
}

// LastStatus returns the status of the newest report for a bot.
func (r *SQLiteRecorder) LastStatus(ctx context.Context, botID string) (health.Status, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM health_reports WHERE bot_id = ?
		ORDER BY evaluated_at DESC, rowid DESC LIMIT 1`, botID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoReport
	}
	if err != nil {
		return "", fmt.Errorf("query last status: %w", err)
	}
	return health.Status(status), nil
}

// Close closes the underlying database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS fatigue_summaries (
		request_id TEXT PRIMARY KEY,
		clip_id TEXT NOT NULL,
		source TEXT NOT NULL,
		received_at TEXT NOT NULL,
		blink_count INTEGER NOT NULL,
		yawn_count INTEGER NOT NULL,
		mean_redness REAL,
		mean_darkness REAL,
		mean_ear REAL,
		frames_processed INTEGER NOT NULL,
		frames_with_face INTEGER NOT NULL,
		coverage REAL NOT NULL,
		duration_seconds REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS fatigue_summaries_received_at_idx ON fatigue_summaries (received_at DESC);
`

// timeLayout keeps a fixed width so received_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is the single-file fallback used when no Postgres is configured.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path with WAL enabled.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() {
	s.db.Close()
}

func (s *SQLite) InsertSummary(ctx context.Context, sum types.StoredSummary) error {
	if err := validate(sum); err != nil {
		return err
	}
	r := sum.Summary
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fatigue_summaries (
			request_id, clip_id, source, received_at, blink_count, yawn_count,
			mean_redness, mean_darkness, mean_ear, frames_processed, frames_with_face,
			coverage, duration_seconds
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sum.RequestID, sum.ClipID, sum.Source, sum.ReceivedAt.UTC().Format(timeLayout),
		r.BlinkCount, r.YawnCount, nullFloat(r.MeanRedness), nullFloat(r.MeanDarkness), nullFloat(r.MeanEAR),
		r.FramesProcessed, r.FramesWithFace, r.Coverage, r.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (s *SQLite) ListSummaries(ctx context.Context, limit int) ([]types.StoredSummary, error) {
	query := `
		SELECT request_id, clip_id, source, received_at, blink_count, yawn_count,
			mean_redness, mean_darkness, mean_ear, frames_processed, frames_with_face,
			coverage, duration_seconds
		FROM fatigue_summaries
		ORDER BY received_at DESC, request_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []types.StoredSummary
	for rows.Next() {
		var (
			sum                    types.StoredSummary
			receivedAt             string
			redness, darkness, ear sql.NullFloat64
		)
		r := &sum.Summary
		if err := rows.Scan(&sum.RequestID, &sum.ClipID, &sum.Source, &receivedAt, &r.BlinkCount, &r.YawnCount,
			&redness, &darkness, &ear, &r.FramesProcessed, &r.FramesWithFace,
			&r.Coverage, &r.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if sum.ReceivedAt, err = time.Parse(timeLayout, receivedAt); err != nil {
			return nil, fmt.Errorf("parse received_at %q: %w", receivedAt, err)
		}
		r.MeanRedness, r.MeanDarkness, r.MeanEAR = floatPtr(redness), floatPtr(darkness), floatPtr(ear)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS fatigue_summaries`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

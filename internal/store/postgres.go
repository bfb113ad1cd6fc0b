package store

import (
	"context"
	"fmt"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores summaries in the fatigue_summaries table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects and ensures the schema exists.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS fatigue_summaries (
			request_id TEXT PRIMARY KEY,
			clip_id TEXT NOT NULL,
			source TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			blink_count INT NOT NULL,
			yawn_count INT NOT NULL,
			mean_redness DOUBLE PRECISION,
			mean_darkness DOUBLE PRECISION,
			mean_ear DOUBLE PRECISION,
			frames_processed INT NOT NULL,
			frames_with_face INT NOT NULL,
			coverage DOUBLE PRECISION NOT NULL,
			duration_seconds DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS fatigue_summaries_received_at_idx ON fatigue_summaries (received_at DESC);
		CREATE INDEX IF NOT EXISTS fatigue_summaries_clip_id_idx ON fatigue_summaries (clip_id);
	`)
	return err
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) InsertSummary(ctx context.Context, s types.StoredSummary) error {
	if err := validate(s); err != nil {
		return err
	}
	r := s.Summary
	_, err := p.pool.Exec(ctx, `
		INSERT INTO fatigue_summaries (
			request_id, clip_id, source, received_at, blink_count, yawn_count,
			mean_redness, mean_darkness, mean_ear, frames_processed, frames_with_face,
			coverage, duration_seconds
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (request_id) DO NOTHING`,
		s.RequestID, s.ClipID, s.Source, s.ReceivedAt.UTC(), r.BlinkCount, r.YawnCount,
		r.MeanRedness, r.MeanDarkness, r.MeanEAR, r.FramesProcessed, r.FramesWithFace,
		r.Coverage, r.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

func (p *Postgres) ListSummaries(ctx context.Context, limit int) ([]types.StoredSummary, error) {
	query := `
		SELECT request_id, clip_id, source, received_at, blink_count, yawn_count,
			mean_redness, mean_darkness, mean_ear, frames_processed, frames_with_face,
			coverage, duration_seconds
		FROM fatigue_summaries
		ORDER BY received_at DESC, request_id`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []types.StoredSummary
	for rows.Next() {
		var s types.StoredSummary
		r := &s.Summary
		if err := rows.Scan(&s.RequestID, &s.ClipID, &s.Source, &s.ReceivedAt, &r.BlinkCount, &r.YawnCount,
			&r.MeanRedness, &r.MeanDarkness, &r.MeanEAR, &r.FramesProcessed, &r.FramesWithFace,
			&r.Coverage, &r.DurationSeconds); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Reset drops the table so the next start picks up schema changes without migrations.
func (p *Postgres) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DROP TABLE IF EXISTS fatigue_summaries CASCADE`); err != nil {
		return err
	}
	return initPostgresSchema(ctx, p.pool)
}

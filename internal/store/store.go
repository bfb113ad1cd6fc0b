// Package store persists analysed clip summaries. Postgres is used when a
// connection string is configured, SQLite otherwise.
package store

import (
	"context"
	"errors"

	"github.com/AryanV-Coder/SleepDebtPredictor/internal/types"
	"go.uber.org/zap"
)

// ErrInvalidSummary is returned for records missing their request or clip id.
var ErrInvalidSummary = errors.New("summary is missing request_id or clip_id")

// Store is an append-only log of summaries.
type Store interface {
	// InsertSummary appends one row. Inserting the same request id twice is a no-op.
	InsertSummary(ctx context.Context, s types.StoredSummary) error
	// ListSummaries returns the newest rows first. limit <= 0 returns everything.
	ListSummaries(ctx context.Context, limit int) ([]types.StoredSummary, error)
	// Reset drops the summaries table and recreates it empty.
	Reset(ctx context.Context) error
	Close()
}

// Open picks the backend: databaseURL wins when set.
func Open(ctx context.Context, databaseURL, sqlitePath string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if databaseURL != "" {
		s, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres summary store")
		return s, nil
	}
	s, err := NewSQLite(ctx, sqlitePath)
	if err != nil {
		return nil, err
	}
	logger.Info("using sqlite summary store", zap.String("path", sqlitePath))
	return s, nil
}

func validate(s types.StoredSummary) error {
	if s.RequestID == "" || s.ClipID == "" {
		return ErrInvalidSummary
	}
	return nil
}

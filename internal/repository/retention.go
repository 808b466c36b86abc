package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

// TraceRetentionSweeper deletes rag_traces rows older than the configured
// retention window. It runs on the plain database/sql + lib/pq driver rather
// than pgx: an infrequent background sweep, not a hot path, so it exercises
// the second Postgres driver instead of sharing the pooled pgx connection.
type TraceRetentionSweeper struct {
	db *sql.DB
}

// NewTraceRetentionSweeper opens a lib/pq connection to dsn.
func NewTraceRetentionSweeper(dsn string) (*TraceRetentionSweeper, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &TraceRetentionSweeper{db: db}, nil
}

// Sweep deletes every rag_traces row older than olderThan and returns the
// count removed.
func (s *TraceRetentionSweeper) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		WITH deleted AS (
			DELETE FROM rag_traces WHERE timestamp < $1 RETURNING 1
		)
		SELECT count(*) FROM deleted`, olderThan).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close releases the underlying connection pool.
func (s *TraceRetentionSweeper) Close() error {
	return s.db.Close()
}

// RunDaily sweeps once at startup and then every 24h until ctx is cancelled,
// logging the outcome — the retention sweep never fails a caller, there is
// no caller to fail.
func (s *TraceRetentionSweeper) RunDaily(ctx context.Context, retentionDays int) {
	sweep := func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		n, err := s.Sweep(ctx, cutoff)
		if err != nil {
			slog.Warn("[DEBUG-TRACE] retention sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("[DEBUG-TRACE] retention sweep", "deleted", n, "cutoff", cutoff)
		}
	}

	sweep()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-ctx.Done():
			return
		}
	}
}

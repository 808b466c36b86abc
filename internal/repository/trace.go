package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/ragerr"
	"github.com/connexus-ai/ragcore/internal/service"
)

// TraceRepo implements service.TraceStore against the `rag_traces` table.
type TraceRepo struct {
	pool *pgxpool.Pool
}

// NewTraceRepo creates a TraceRepo.
func NewTraceRepo(pool *pgxpool.Pool) *TraceRepo {
	return &TraceRepo{pool: pool}
}

var _ service.TraceStore = (*TraceRepo)(nil)

// CreateRagTraces bulk-inserts a batch of trace events. Partial failure
// fails the whole batch — callers (the trace buffer's flush) discard the
// batch on any error rather than retry row-by-row.
func (r *TraceRepo) CreateRagTraces(ctx context.Context, events []model.TraceEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO rag_traces
				(trace_id, trace_type, stage, timestamp, duration_ms, document_id, chunk_ids,
				 user_id, chat_id, query_text, chunks_created, chunks_filtered, search_results,
				 threshold, top_k, scores, tokens_used, sources_count, error_message, error_stage)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
			e.TraceID, string(e.TraceType), string(e.Stage), e.Timestamp, e.DurationMs, e.DocumentID, e.ChunkIDs,
			e.UserID, e.ChatID, e.QueryText, e.ChunksCreated, e.ChunksFiltered, e.SearchResults,
			e.Threshold, e.TopK, e.Scores, e.TokensUsed, e.SourcesCount, e.ErrorMessage, e.ErrorStage,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "trace.CreateRagTraces", Cause: err}
		}
	}
	return nil
}

// GetRagTracesByTraceId returns every event in a trace group, ordered by
// timestamp ascending (the group's linearized event order).
func (r *TraceRepo) GetRagTracesByTraceId(ctx context.Context, traceID string) ([]model.TraceEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT trace_id, trace_type, stage, timestamp, duration_ms, document_id, chunk_ids,
			user_id, chat_id, query_text, chunks_created, chunks_filtered, search_results,
			threshold, top_k, scores, tokens_used, sources_count, error_message, error_stage
		FROM rag_traces WHERE trace_id = $1 ORDER BY timestamp ASC`, traceID)
	if err != nil {
		return nil, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "trace.GetRagTracesByTraceId", Cause: err}
	}
	defer rows.Close()

	var events []model.TraceEvent
	for rows.Next() {
		var e model.TraceEvent
		var traceType, stage string
		if err := rows.Scan(&e.TraceID, &traceType, &stage, &e.Timestamp, &e.DurationMs, &e.DocumentID, &e.ChunkIDs,
			&e.UserID, &e.ChatID, &e.QueryText, &e.ChunksCreated, &e.ChunksFiltered, &e.SearchResults,
			&e.Threshold, &e.TopK, &e.Scores, &e.TokensUsed, &e.SourcesCount, &e.ErrorMessage, &e.ErrorStage); err != nil {
			return nil, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "trace.GetRagTracesByTraceId", Cause: err}
		}
		e.TraceType = model.TraceType(traceType)
		e.Stage = model.TraceStage(stage)
		events = append(events, e)
	}
	return events, nil
}

var _ service.TraceQueryStore = (*TraceRepo)(nil)

// ListTraces returns trace groups matching filter, newest first, paginated
// by group (one row per distinct trace_id, not per event). Each group's
// query_start event supplies query text and start time; event count comes
// from a per-group row count.
func (r *TraceRepo) ListTraces(ctx context.Context, filter service.TraceFilter, opts service.ListOpts) ([]service.TraceSummary, int, error) {
	where := `WHERE ($1 = '' OR trace_type = $1) AND ($2 = '' OR user_id = $2)`
	args := []interface{}{string(filter.TraceType), filter.UserID}

	var total int
	countQuery := `SELECT count(DISTINCT trace_id) FROM rag_traces ` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "trace.ListTraces.count", Cause: err}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT trace_id, min(trace_type), coalesce(max(user_id), ''),
			coalesce(max(query_text) FILTER (WHERE stage = 'query_start'), ''),
			min(timestamp) AS started_at, count(*) AS event_count
		FROM rag_traces ` + where + `
		GROUP BY trace_id
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`
	args = append(args, limit, opts.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "trace.ListTraces.query", Cause: err}
	}
	defer rows.Close()

	var summaries []service.TraceSummary
	for rows.Next() {
		var s service.TraceSummary
		var traceType string
		if err := rows.Scan(&s.TraceID, &traceType, &s.UserID, &s.QueryText, &s.StartedAt, &s.EventCount); err != nil {
			return nil, 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "trace.ListTraces.scan", Cause: err}
		}
		s.TraceType = model.TraceType(traceType)
		summaries = append(summaries, s)
	}
	return summaries, total, nil
}

// DeleteOldRagTraces removes traces older than olderThan and returns the
// number of rows deleted, the basis for the retention sweep.
func (r *TraceRepo) DeleteOldRagTraces(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rag_traces WHERE timestamp < $1`, olderThan)
	if err != nil {
		return 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "trace.DeleteOldRagTraces", Cause: err}
	}
	return int(tag.RowsAffected()), nil
}

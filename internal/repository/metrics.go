package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/ragerr"
)

// MetricsRepo upserts hourly aggregate metrics for the `rag_metrics_hourly`
// table, keyed uniquely on hour_start.
type MetricsRepo struct {
	pool *pgxpool.Pool
}

// NewMetricsRepo creates a MetricsRepo.
func NewMetricsRepo(pool *pgxpool.Pool) *MetricsRepo {
	return &MetricsRepo{pool: pool}
}

// UpsertRagMetrics inserts or replaces the row for m.HourStart.
func (r *MetricsRepo) UpsertRagMetrics(ctx context.Context, m model.HourlyMetrics) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rag_metrics_hourly
			(hour_start, documents_ingested, chunks_created, chunks_filtered, avg_ingestion_duration_ms,
			 queries_processed, avg_query_duration_ms, avg_search_results, avg_context_tokens,
			 avg_similarity_score, empty_result_count, error_count, embedding_api_calls, vector_search_operations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (hour_start) DO UPDATE SET
			documents_ingested = EXCLUDED.documents_ingested,
			chunks_created = EXCLUDED.chunks_created,
			chunks_filtered = EXCLUDED.chunks_filtered,
			avg_ingestion_duration_ms = EXCLUDED.avg_ingestion_duration_ms,
			queries_processed = EXCLUDED.queries_processed,
			avg_query_duration_ms = EXCLUDED.avg_query_duration_ms,
			avg_search_results = EXCLUDED.avg_search_results,
			avg_context_tokens = EXCLUDED.avg_context_tokens,
			avg_similarity_score = EXCLUDED.avg_similarity_score,
			empty_result_count = EXCLUDED.empty_result_count,
			error_count = EXCLUDED.error_count,
			embedding_api_calls = EXCLUDED.embedding_api_calls,
			vector_search_operations = EXCLUDED.vector_search_operations`,
		m.HourStart, m.DocumentsIngested, m.ChunksCreated, m.ChunksFiltered, m.AvgIngestionDurationMs,
		m.QueriesProcessed, m.AvgQueryDurationMs, m.AvgSearchResults, m.AvgContextTokens,
		m.AvgSimilarityScore, m.EmptyResultCount, m.ErrorCount, m.EmbeddingAPICalls, m.VectorSearchOperations,
	)
	if err != nil {
		return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "metrics.UpsertRagMetrics", Cause: err}
	}
	return nil
}

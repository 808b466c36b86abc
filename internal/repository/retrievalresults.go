package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/ragerr"
)

// RetrievalResultRepo persists per-chunk ranked retrieval outcomes to the
// `rag_retrieval_results` table for offline evaluation.
type RetrievalResultRepo struct {
	pool *pgxpool.Pool
}

// NewRetrievalResultRepo creates a RetrievalResultRepo.
func NewRetrievalResultRepo(pool *pgxpool.Pool) *RetrievalResultRepo {
	return &RetrievalResultRepo{pool: pool}
}

// CreateRetrievalResults bulk-inserts one row per ranked chunk returned for
// a query.
func (r *RetrievalResultRepo) CreateRetrievalResults(ctx context.Context, results []model.RetrievalResultRecord) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(`
			INSERT INTO rag_retrieval_results
				(trace_id, query_text, chunk_id, similarity_score, rank, included_in_context,
				 context_position, was_relevant, feedback_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			res.TraceID, res.QueryText, res.ChunkID, res.SimilarityScore, res.Rank, res.IncludedInContext,
			res.ContextPosition, res.WasRelevant, res.FeedbackSource,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "retrievalresults.CreateRetrievalResults", Cause: err}
		}
	}
	return nil
}

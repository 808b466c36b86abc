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

const lineageUsageDecay = 0.9

// LineageRepo implements service.LineageStore and service.LineageUsageUpdater
// against the `rag_chunk_lineage` table.
type LineageRepo struct {
	pool  *pgxpool.Pool
	graph *LineageGraph
}

// NewLineageRepo creates a LineageRepo.
func NewLineageRepo(pool *pgxpool.Pool) *LineageRepo {
	return &LineageRepo{pool: pool}
}

// SetGraph attaches an optional Neo4j provenance mirror. A nil graph (the
// default) leaves lineage purely relational.
func (r *LineageRepo) SetGraph(graph *LineageGraph) {
	r.graph = graph
}

var (
	_ service.LineageStore        = (*LineageRepo)(nil)
	_ service.LineageUsageUpdater = (*LineageRepo)(nil)
)

// CreateChunkLineage inserts one lineage row per chunk in a single batch,
// unique on chunk_id. The batch runs after the chunk insert and outside its
// transaction; when it fails, PipelineService.Process deletes the document's
// chunks.
func (r *LineageRepo) CreateChunkLineage(ctx context.Context, lineage []model.ChunkLineage) error {
	if len(lineage) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range lineage {
		batch.Queue(`
			INSERT INTO rag_chunk_lineage
				(chunk_id, document_id, source_type, source_id, content_preview, chunk_index,
				 ingested_at, embedding_model, retrieval_count, avg_similarity_score, importance_score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9)`,
			l.ChunkID, l.DocumentID, l.SourceType, l.SourceID, l.ContentPreview, l.ChunkIndex,
			l.IngestedAt, l.EmbeddingModel, l.ImportanceScore,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range lineage {
		if _, err := br.Exec(); err != nil {
			return &ragerr.StorageError{Kind: ragerr.StorageConstraint, Op: "lineage.CreateChunkLineage", Cause: err}
		}
	}

	if r.graph != nil {
		go r.graph.MirrorIngestion(context.Background(), lineage)
	}
	return nil
}

// UpdateChunkLineageUsage applies retrievalCount += 1 and an EMA update on
// avgSimilarityScore (avgSimilarityScore = 0.9*prev + 0.1*score) for one
// retrieved chunk.
func (r *LineageRepo) UpdateChunkLineageUsage(ctx context.Context, traceID, chunkID string, score float64) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		UPDATE rag_chunk_lineage
		SET retrieval_count = retrieval_count + 1,
			avg_similarity_score = $2 * avg_similarity_score + (1 - $2) * $3,
			last_retrieved_at = $4
		WHERE chunk_id = $1`,
		chunkID, lineageUsageDecay, score, now,
	)
	if err != nil {
		return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "lineage.UpdateChunkLineageUsage", Cause: err}
	}

	if r.graph != nil {
		go r.graph.MirrorRetrieval(context.Background(), traceID, chunkID)
	}
	return nil
}

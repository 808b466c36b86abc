package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragcore/internal/ragerr"
	"github.com/connexus-ai/ragcore/internal/service"
)

// ChunkRepo implements service.ChunkStore and service.VectorSearcher against
// the `chunks` table.
type ChunkRepo struct {
	pool *pgxpool.Pool
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

var (
	_ service.ChunkStore     = (*ChunkRepo)(nil)
	_ service.VectorSearcher = (*ChunkRepo)(nil)
	_ service.CorpusFetcher  = (*ChunkRepo)(nil)
)

// BulkInsert stores chunks with their embedding vectors in one batch and
// returns the generated chunk IDs in the same order as the input, so the
// caller can create lineage rows keyed on the real chunk ID.
func (r *ChunkRepo) BulkInsert(ctx context.Context, chunks []service.Chunk, vectors [][]float32) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if len(chunks) != len(vectors) {
		return nil, &ragerr.StorageError{Kind: ragerr.StorageConstraint, Op: "chunk.BulkInsert", Cause: errMismatch(len(chunks), len(vectors))}
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	ids := make([]string, len(chunks))

	for i, c := range chunks {
		ids[i] = uuid.New().String()
		embedding := pgvector.NewVector(vectors[i])
		batch.Queue(`
			INSERT INTO chunks (id, document_id, chunk_index, content, content_hash, filename, section_title, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			ids[i], c.DocumentID, c.Index, c.Content, c.ContentHash, c.Filename, c.SectionTitle, embedding, now,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return nil, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "chunk.BulkInsert", Cause: err}
		}
	}

	return ids, nil
}

// SimilaritySearch finds the top-K chunks most similar to queryVec using
// cosine distance, scoped to documents owned by userID (or the anonymous
// scope when userID is empty), filtered to those at or above threshold.
func (r *ChunkRepo) SimilaritySearch(ctx context.Context, queryVec []float32, topK int, threshold float64, userID string) ([]service.VectorSearchResult, error) {
	embedding := pgvector.NewVector(queryVec)

	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.filename, c.section_title, c.created_at,
			l.importance_score,
			1 - (c.embedding <=> $1::vector) AS similarity
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		LEFT JOIN rag_chunk_lineage l ON l.chunk_id = c.id
		WHERE (1 - (c.embedding <=> $1::vector)) >= $2`

	args := []interface{}{embedding, threshold}
	if userID == "" {
		query += ` AND d.user_id IS NULL`
	} else {
		query += ` AND d.user_id = $3`
		args = append(args, userID)
	}
	query += ` ORDER BY c.embedding <=> $1::vector LIMIT ` + placeholderFor(len(args)+1)
	args = append(args, topK)

	slog.Debug("[DEBUG-REPO] similarity search", "top_k", topK, "threshold", threshold, "user_id", userID)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &ragerr.SearchError{Cause: err}
	}
	defer rows.Close()

	var results []service.VectorSearchResult
	for rows.Next() {
		var res service.VectorSearchResult
		if err := rows.Scan(&res.ChunkID, &res.DocumentID, &res.ChunkIndex, &res.Content, &res.Filename, &res.SectionTitle, &res.CreatedAt, &res.Importance, &res.Similarity); err != nil {
			return nil, &ragerr.SearchError{Cause: err}
		}
		results = append(results, res)
	}
	slog.Debug("[DEBUG-REPO] similarity search complete", "results_count", len(results))
	return results, nil
}

// FetchCorpus loads every chunk owned by userID (or the anonymous scope)
// for BM25 preprocessing. The query has no row limit; the orchestrator's
// topK*2 bound applies to the keyword search output, not to this fetch.
func (r *ChunkRepo) FetchCorpus(ctx context.Context, userID string) ([]service.CorpusDocument, error) {
	query := `SELECT c.id, c.content FROM chunks c JOIN documents d ON c.document_id = d.id WHERE `
	var args []interface{}
	if userID == "" {
		query += `d.user_id IS NULL`
	} else {
		query += `d.user_id = $1`
		args = append(args, userID)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "chunk.FetchCorpus", Cause: err}
	}
	defer rows.Close()

	var docs []service.CorpusDocument
	for rows.Next() {
		var d service.CorpusDocument
		if err := rows.Scan(&d.ChunkID, &d.Content); err != nil {
			return nil, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "chunk.FetchCorpus", Cause: err}
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// DeleteByDocumentID removes all chunks for a document.
func (r *ChunkRepo) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "chunk.DeleteByDocumentID", Cause: err}
	}
	return nil
}

// CountByDocumentID returns the number of chunks for a document.
func (r *ChunkRepo) CountByDocumentID(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "chunk.CountByDocumentID", Cause: err}
	}
	return count, nil
}

func errMismatch(chunks, vectors int) error {
	return fmt.Errorf("chunk count (%d) != vector count (%d)", chunks, vectors)
}

func placeholderFor(n int) string {
	return "$" + strconv.Itoa(n)
}

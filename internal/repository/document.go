package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/ragerr"
	"github.com/connexus-ai/ragcore/internal/service"
)

// DocumentRepo implements service.DocumentRepository with pgx.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Compile-time check that DocumentRepo implements service.DocumentRepository.
var _ service.DocumentRepository = (*DocumentRepo)(nil)

func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, user_id, filename, mime_type, content_length, index_status, chunk_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.UserID, doc.Filename, doc.MimeType, doc.ContentLength,
		string(doc.IndexStatus), doc.ChunkCount, doc.CreatedAt,
	)
	if err != nil {
		return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.Create", Cause: err}
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	doc := &model.Document{}
	var indexStatus string

	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, filename, mime_type, content_length, index_status, chunk_count, created_at
		FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.UserID, &doc.Filename, &doc.MimeType, &doc.ContentLength, &indexStatus, &doc.ChunkCount, &doc.CreatedAt)
	if err != nil {
		return nil, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.GetByID", Cause: err}
	}
	doc.IndexStatus = model.IndexStatus(indexStatus)
	return doc, nil
}

func (r *DocumentRepo) ListByUser(ctx context.Context, userID string, opts service.ListOpts) ([]model.Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM documents WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.ListByUser.count", Cause: err}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, filename, mime_type, content_length, index_status, chunk_count, created_at
		FROM documents WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.ListByUser.query", Cause: err}
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var indexStatus string
		if err := rows.Scan(&d.ID, &d.UserID, &d.Filename, &d.MimeType, &d.ContentLength, &indexStatus, &d.ChunkCount, &d.CreatedAt); err != nil {
			return nil, 0, &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.ListByUser.scan", Cause: err}
		}
		d.IndexStatus = model.IndexStatus(indexStatus)
		docs = append(docs, d)
	}
	return docs, total, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.IndexStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE documents SET index_status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.UpdateStatus", Cause: err}
	}
	return nil
}

func (r *DocumentRepo) UpdateChunkCount(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx, `UPDATE documents SET chunk_count = $1 WHERE id = $2`, count, id)
	if err != nil {
		return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.UpdateChunkCount", Cause: err}
	}
	return nil
}

func (r *DocumentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return &ragerr.StorageError{Kind: ragerr.StorageTransient, Op: "document.Delete", Cause: err}
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/ragerr"
)

// DocumentRepository defines the persistence operations for documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByID(ctx context.Context, id string) (*model.Document, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]model.Document, int, error)
	UpdateStatus(ctx context.Context, id string, status model.IndexStatus) error
	UpdateChunkCount(ctx context.Context, id string, count int) error
	Delete(ctx context.Context, id string) error
}

// ListOpts holds pagination options for document listing.
type ListOpts struct {
	Limit  int
	Offset int
}

// IngestOptions configures one ingestDocument call.
type IngestOptions struct {
	Strategy Strategy
	UserID   string
}

// IngestResult is the public ingestDocument response.
type IngestResult struct {
	DocumentID    string
	ChunksCreated int
	TraceID       string
}

// DocumentService is the ingestion entry point: chunk -> embed -> store,
// atomic at the document level (either every chunk commits with lineage, or
// the document is marked Failed and no partial chunk set is left behind).
type DocumentService struct {
	docRepo  DocumentRepository
	pipeline *PipelineService
	traces   *TraceBuffer
	metrics  *MetricsAggregator
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(docRepo DocumentRepository, pipeline *PipelineService, traces *TraceBuffer) *DocumentService {
	return &DocumentService{docRepo: docRepo, pipeline: pipeline, traces: traces}
}

// SetMetricsAggregator attaches an optional hourly metrics sink. A nil
// aggregator (the default) skips rollup entirely.
func (s *DocumentService) SetMetricsAggregator(m *MetricsAggregator) {
	s.metrics = m
}

// IngestDocument creates the Document row and runs the ingestion pipeline
// synchronously against already-provided content (no upload/signed-URL
// indirection — the caller already has the bytes).
func (s *DocumentService) IngestDocument(ctx context.Context, content, filename, mimeType string, opts IngestOptions) (*IngestResult, error) {
	if len(content) == 0 {
		return nil, &ragerr.ChunkingError{Strategy: string(opts.Strategy), Cause: fmt.Errorf("content is empty")}
	}
	if len(content) > model.MaxContentLengthBytes {
		return nil, &ragerr.ChunkingError{Strategy: string(opts.Strategy), Cause: fmt.Errorf("content length %d exceeds maximum %d bytes", len(content), model.MaxContentLengthBytes)}
	}

	traceID := generateTraceId()
	docID := uuid.New().String()
	ingestStart := time.Now()

	var userID *string
	if opts.UserID != "" {
		userID = &opts.UserID
	}

	doc := &model.Document{
		ID:            docID,
		UserID:        userID,
		Filename:      filename,
		MimeType:      mimeType,
		ContentLength: len(content),
		IndexStatus:   model.IndexPending,
		CreatedAt:     time.Now().UTC(),
	}

	s.emit(traceID, model.StageIngestStart, docID, map[string]any{})

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("service.IngestDocument: create: %w", err)
	}

	chunksCreated, err := s.pipeline.Process(ctx, traceID, docID, content, filename, mimeType, opts.Strategy)
	if err != nil {
		_ = s.docRepo.UpdateStatus(ctx, docID, model.IndexFailed)
		s.emitError(traceID, docID, "ingest", err)
		if s.metrics != nil {
			s.metrics.RecordIngestion(0, 0, time.Since(ingestStart), true)
		}
		return nil, fmt.Errorf("service.IngestDocument: pipeline: %w", err)
	}

	if err := s.docRepo.UpdateStatus(ctx, docID, model.IndexIndexed); err != nil {
		return nil, fmt.Errorf("service.IngestDocument: finalize status: %w", err)
	}
	if err := s.docRepo.UpdateChunkCount(ctx, docID, chunksCreated); err != nil {
		return nil, fmt.Errorf("service.IngestDocument: finalize chunk count: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordIngestion(chunksCreated, 0, time.Since(ingestStart), false)
	}
	s.emit(traceID, model.StageIngestComplete, docID, map[string]any{"chunksCreated": chunksCreated})

	return &IngestResult{DocumentID: docID, ChunksCreated: chunksCreated, TraceID: traceID}, nil
}

func (s *DocumentService) emit(traceID string, stage model.TraceStage, docID string, fields map[string]any) {
	if s.traces == nil {
		return
	}
	s.traces.Record(model.TraceEvent{
		TraceID:    traceID,
		TraceType:  model.TraceIngestion,
		Stage:      stage,
		Timestamp:  time.Now().UTC(),
		DocumentID: &docID,
	})
}

func (s *DocumentService) emitError(traceID, docID, stage string, err error) {
	if s.traces == nil {
		return
	}
	msg := err.Error()
	s.traces.Record(model.TraceEvent{
		TraceID:      traceID,
		TraceType:    model.TraceIngestion,
		Stage:        model.StageError,
		Timestamp:    time.Now().UTC(),
		DocumentID:   &docID,
		ErrorMessage: &msg,
		ErrorStage:   &stage,
	})
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

// LineageStore persists the 1:1 ChunkLineage rows created alongside a
// document's chunks.
type LineageStore interface {
	CreateChunkLineage(ctx context.Context, lineage []model.ChunkLineage) error
}

// ChunkCleanup removes a document's chunks, used to roll back a partially
// committed ingestion when lineage creation fails.
type ChunkCleanup interface {
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// PipelineService runs the ingestion pipeline: chunk -> embed -> store ->
// lineage, atomic at the document level.
type PipelineService struct {
	chunker  *ChunkerService
	embedder *EmbedderService
	lineage  LineageStore
	cleanup  ChunkCleanup
	traces   *TraceBuffer
}

// NewPipelineService creates a PipelineService.
func NewPipelineService(chunker *ChunkerService, embedder *EmbedderService, lineage LineageStore, cleanup ChunkCleanup, traces *TraceBuffer) *PipelineService {
	return &PipelineService{chunker: chunker, embedder: embedder, lineage: lineage, cleanup: cleanup, traces: traces}
}

// Process chunks content, embeds and stores the chunks, then writes their
// lineage rows. If lineage creation fails, the chunks just written are
// rolled back so the document never ends up with chunks but no lineage.
func (p *PipelineService) Process(ctx context.Context, traceID, docID, content, filename, mimeType string, strategy Strategy) (int, error) {
	start := time.Now()

	chunks, err := p.chunker.Chunk(ctx, content, docID, filename, mimeType, ChunkOptions{Strategy: strategy})
	if err != nil {
		return 0, fmt.Errorf("pipeline.Process: chunk: %w", err)
	}
	p.emit(traceID, model.StageChunk, docID, time.Since(start), len(chunks))

	if len(chunks) == 0 {
		return 0, nil
	}

	embedStart := time.Now()
	ids, err := p.embedder.EmbedAndStore(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("pipeline.Process: embed: %w", err)
	}
	p.emit(traceID, model.StageEmbed, docID, time.Since(embedStart), len(chunks))

	lineageRows := make([]model.ChunkLineage, len(chunks))
	now := time.Now().UTC()
	for i, c := range chunks {
		preview := c.Content
		if len(preview) > 200 {
			preview = preview[:200]
		}
		lineageRows[i] = model.ChunkLineage{
			ChunkID:         ids[i],
			DocumentID:      docID,
			SourceType:      "document",
			SourceID:        docID,
			ContentPreview:  preview,
			ChunkIndex:      c.Index,
			IngestedAt:      now,
			EmbeddingModel:  "text-embedding-004",
			ImportanceScore: defaultImportance,
		}
	}

	storeStart := time.Now()
	if err := p.lineage.CreateChunkLineage(ctx, lineageRows); err != nil {
		if p.cleanup != nil {
			_ = p.cleanup.DeleteByDocumentID(ctx, docID)
		}
		return 0, fmt.Errorf("pipeline.Process: lineage: %w", err)
	}
	p.emit(traceID, model.StageStore, docID, time.Since(storeStart), len(chunks))

	return len(chunks), nil
}

func (p *PipelineService) emit(traceID string, stage model.TraceStage, docID string, duration time.Duration, chunkCount int) {
	if p.traces == nil {
		return
	}
	p.traces.Record(model.TraceEvent{
		TraceID:       traceID,
		TraceType:     model.TraceIngestion,
		Stage:         stage,
		Timestamp:     time.Now().UTC(),
		DurationMs:    duration.Milliseconds(),
		DocumentID:    &docID,
		ChunksCreated: &chunkCount,
	})
}

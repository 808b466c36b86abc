package service

import (
	"context"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

// TraceFilter narrows listTraces to a subset of trace groups. Zero values
// are unconstrained.
type TraceFilter struct {
	TraceType model.TraceType
	UserID    string
}

// TraceSummary is one row of listTraces: a single trace group collapsed to
// its identifying fields and stage count, not the full event list.
type TraceSummary struct {
	TraceID    string
	TraceType  model.TraceType
	UserID     string
	QueryText  string
	StartedAt  time.Time
	EventCount int
}

// TraceQueryStore is the read side of the durable trace store: list trace
// groups matching a filter (paginated) and fetch one group's full event list.
type TraceQueryStore interface {
	ListTraces(ctx context.Context, filter TraceFilter, opts ListOpts) ([]TraceSummary, int, error)
	GetRagTracesByTraceId(ctx context.Context, traceID string) ([]model.TraceEvent, error)
}

// TraceQueryService implements the core's listTraces/getTrace public API,
// reading from the durable trace store rather than the in-memory ring
// TraceBuffer holds for the most recent events.
type TraceQueryService struct {
	store TraceQueryStore
}

// NewTraceQueryService creates a TraceQueryService.
func NewTraceQueryService(store TraceQueryStore) *TraceQueryService {
	return &TraceQueryService{store: store}
}

// ListTraces returns trace groups matching filter, newest first, paginated.
func (s *TraceQueryService) ListTraces(ctx context.Context, filter TraceFilter, opts ListOpts) ([]TraceSummary, int, error) {
	return s.store.ListTraces(ctx, filter, opts)
}

// GetTrace returns every event in one trace group, ordered by timestamp
// ascending — the group's linearized event sequence.
func (s *TraceQueryService) GetTrace(ctx context.Context, traceID string) ([]model.TraceEvent, error) {
	return s.store.GetRagTracesByTraceId(ctx, traceID)
}

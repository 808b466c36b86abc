package service

import (
	"context"
	"time"

	"github.com/connexus-ai/ragcore/internal/ragerr"
)

// VectorSearchResult is one candidate chunk returned by a dense (embedding)
// or sparse (BM25) search pass, prior to fusion. CreatedAt and Importance
// feed the re-ranker's recency and importance strategies; BM25-only
// candidates leave them zero.
type VectorSearchResult struct {
	ChunkID      string
	DocumentID   string
	ChunkIndex   int
	Content      string
	Filename     string
	SectionTitle string
	Similarity   float64
	CreatedAt    time.Time
	Importance   *float64
}

// VectorSearcher abstracts pgvector cosine-similarity search for testability.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, queryVec []float32, topK int, threshold float64, userID string) ([]VectorSearchResult, error)
}

// DenseSearcher wraps a VectorSearcher, enforcing the semantic similarity
// threshold and user scoping (including the anonymous userID == "" scope)
// spec'd for the dense half of hybrid retrieval.
type DenseSearcher struct {
	searcher  VectorSearcher
	threshold float64
	topK      int
	onSearch  func()
}

// NewDenseSearcher creates a DenseSearcher with the given default threshold
// and topK, both overridable per call via Search's opts.
func NewDenseSearcher(searcher VectorSearcher, threshold float64, topK int) *DenseSearcher {
	if threshold <= 0 {
		threshold = 0.25
	}
	if topK <= 0 {
		topK = 20
	}
	return &DenseSearcher{searcher: searcher, threshold: threshold, topK: topK}
}

// OnSearch registers a callback invoked once per dense similarity search.
// Used to feed an external metrics counter; nil by default.
func (s *DenseSearcher) OnSearch(fn func()) {
	s.onSearch = fn
}

// DenseSearchOptions overrides a DenseSearcher's defaults for one call.
type DenseSearchOptions struct {
	Threshold float64
	TopK      int
	UserID    string
}

// Search runs cosine-similarity search for queryVec, scoped to opts.UserID
// (empty means the anonymous/no-owner scope) and filtered to results at or
// above the active threshold.
func (s *DenseSearcher) Search(ctx context.Context, queryVec []float32, opts DenseSearchOptions) ([]VectorSearchResult, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.threshold
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = s.topK
	}

	if s.onSearch != nil {
		s.onSearch()
	}
	results, err := s.searcher.SimilaritySearch(ctx, queryVec, topK, threshold, opts.UserID)
	if err != nil {
		return nil, &ragerr.SearchError{Cause: err}
	}
	return results, nil
}

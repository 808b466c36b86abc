package service

import "sort"

// FusionMode selects how the Hybrid Fuser combines dense and sparse rankings.
type FusionMode string

const (
	FusionWeighted FusionMode = "weighted"
	FusionRRF      FusionMode = "rrf"
)

const (
	defaultSemanticWeight = 0.7
	defaultKeywordWeight  = 0.3
	rrfK                  = 60
)

// Fuser combines a dense (cosine) ranking and a sparse (BM25) ranking into
// one ordered candidate list.
type Fuser struct {
	Mode              FusionMode
	SemanticWeight    float64
	KeywordWeight     float64
	SemanticThreshold float64
}

// NewFuser creates a weighted-sum Fuser with its defaults
// (wsem=0.7, wkw=0.3, semantic threshold 0.25).
func NewFuser() *Fuser {
	return &Fuser{
		Mode:              FusionWeighted,
		SemanticWeight:    defaultSemanticWeight,
		KeywordWeight:     defaultKeywordWeight,
		SemanticThreshold: 0.25,
	}
}

// Fuse merges dense and bm25 result lists per the configured mode. An empty
// bm25 list degrades to dense-only ordering unchanged.
func (f *Fuser) Fuse(dense, bm25 []VectorSearchResult) []VectorSearchResult {
	if len(bm25) == 0 {
		return dense
	}
	switch f.Mode {
	case FusionRRF:
		return reciprocalRankFusion(dense, bm25)
	default:
		return f.weightedFusion(dense, bm25)
	}
}

// weightedFusion normalizes each ranking by its own max score, then combines
// fused = wsem·norm(dense) + wkw·norm(bm25). A chunk found only by BM25
// (dense == 0) is still included; a chunk found by dense below
// SemanticThreshold is dropped unless BM25 also found it.
func (f *Fuser) weightedFusion(dense, bm25 []VectorSearchResult) []VectorSearchResult {
	denseByID := make(map[string]VectorSearchResult, len(dense))
	maxDense := 0.0
	for _, d := range dense {
		denseByID[d.ChunkID] = d
		if d.Similarity > maxDense {
			maxDense = d.Similarity
		}
	}

	bm25ByID := make(map[string]VectorSearchResult, len(bm25))
	maxBM25 := 0.0
	for _, b := range bm25 {
		bm25ByID[b.ChunkID] = b
		if b.Similarity > maxBM25 {
			maxBM25 = b.Similarity
		}
	}

	union := make(map[string]struct{}, len(dense)+len(bm25))
	for id := range denseByID {
		union[id] = struct{}{}
	}
	for id := range bm25ByID {
		union[id] = struct{}{}
	}

	results := make([]VectorSearchResult, 0, len(union))
	for id := range union {
		d, hasDense := denseByID[id]
		b, hasBM25 := bm25ByID[id]

		if hasDense && d.Similarity > 0 && d.Similarity < f.SemanticThreshold && !hasBM25 {
			continue
		}

		var normDense, normBM25 float64
		if hasDense && maxDense > 0 {
			normDense = d.Similarity / maxDense
		}
		if hasBM25 && maxBM25 > 0 {
			normBM25 = b.Similarity / maxBM25
		}

		base := d
		if !hasDense {
			base = b
		}
		base.Similarity = f.SemanticWeight*normDense + f.KeywordWeight*normBM25
		results = append(results, base)
	}

	sortResultsDesc(results)
	return results
}

// reciprocalRankFusion combines results from dense and BM25 passes:
// fused(d) = sum(1/(k+rank)) over every list containing d, k=60. Scores here
// are fusion scores, not normalized component scores.
func reciprocalRankFusion(dense, bm25 []VectorSearchResult) []VectorSearchResult {
	scores := make(map[string]float64)
	items := make(map[string]VectorSearchResult)

	accumulate := func(list []VectorSearchResult) {
		for rank, item := range list {
			scores[item.ChunkID] += 1.0 / float64(rrfK+rank+1)
			if _, exists := items[item.ChunkID]; !exists {
				items[item.ChunkID] = item
			}
		}
	}
	accumulate(dense)
	accumulate(bm25)

	results := make([]VectorSearchResult, 0, len(items))
	for id, item := range items {
		item.Similarity = scores[id]
		results = append(results, item)
	}
	sortResultsDesc(results)
	return results
}

// sortResultsDesc sorts results by Similarity descending, stable so ties
// preserve their original relative order.
func sortResultsDesc(results []VectorSearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}

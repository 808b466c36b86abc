package service

import (
	"context"
	"testing"
	"time"
)

func TestReranker_MMR_DiversityWeightZeroPreservesRelevanceOrder(t *testing.T) {
	rr := NewReranker()
	rr.DiversityWeight = 0
	candidates := []VectorSearchResult{
		{ChunkID: "c1", Content: "apple banana cherry", Similarity: 0.9},
		{ChunkID: "c2", Content: "date eggplant fig", Similarity: 0.7},
		{ChunkID: "c3", Content: "grape honeydew ice", Similarity: 0.5},
	}

	ranked := rr.MMR(candidates, 3)
	for i, rc := range ranked {
		if rc.ChunkID != candidates[i].ChunkID {
			t.Errorf("position %d = %s, want %s (relevance order)", i, rc.ChunkID, candidates[i].ChunkID)
		}
	}
}

func TestReranker_MMR_DiversifiesAwayFromNearDuplicates(t *testing.T) {
	rr := NewReranker()
	rr.DiversityWeight = 0.5
	candidates := []VectorSearchResult{
		{ChunkID: "dup1", Content: "the quick brown fox jumps over the lazy dog", Similarity: 0.95},
		{ChunkID: "dup2", Content: "the quick brown fox jumps over the lazy dog today", Similarity: 0.93},
		{ChunkID: "dup3", Content: "the quick brown fox jumps over a lazy dog", Similarity: 0.91},
		{ChunkID: "dup4", Content: "the quick brown fox jumps over the lazy dogs", Similarity: 0.90},
		{ChunkID: "distinct", Content: "quantum entanglement explains nonlocal correlations", Similarity: 0.60},
	}

	ranked := rr.MMR(candidates, 2)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 selected, got %d", len(ranked))
	}
	var sawDistinct bool
	for _, rc := range ranked {
		if rc.ChunkID == "distinct" {
			sawDistinct = true
		}
	}
	if !sawDistinct {
		t.Errorf("expected the distinct chunk to be selected among near-duplicates, got %v", ranked)
	}
}

func TestReranker_Recency_NoTimestampContributesZero(t *testing.T) {
	rr := NewReranker()
	rr.RecencyWeight = 1.0 // isolate the recency term entirely
	ranked := []RankedChunk{{ChunkID: "c1", RerankedScore: 0.8}}

	out := rr.Recency(ranked, map[string]time.Time{}, time.Now())
	if out[0].RerankedScore != 0 {
		t.Errorf("expected score' = recency = 0 with wr=1 and no timestamp, got %v", out[0].RerankedScore)
	}
}

func TestReranker_Recency_RecentBeatsOld(t *testing.T) {
	rr := NewReranker()
	rr.RecencyWeight = 0.5
	now := time.Now().UTC()
	ranked := []RankedChunk{
		{ChunkID: "old", RerankedScore: 0.5},
		{ChunkID: "new", RerankedScore: 0.5},
	}
	ts := map[string]time.Time{
		"old": now.AddDate(0, -6, 0),
		"new": now.Add(-1 * time.Hour),
	}

	out := rr.Recency(ranked, ts, now)
	if out[0].ChunkID != "new" {
		t.Errorf("expected the recent chunk to rank first, got %v", out)
	}
}

func TestReranker_Importance_DefaultsWhenAbsent(t *testing.T) {
	rr := NewReranker()
	rr.ImportanceWeight = 1.0
	ranked := []RankedChunk{{ChunkID: "c1", RerankedScore: 0.1}}

	out := rr.Importance(ranked, map[string]*float64{})
	if out[0].RerankedScore != defaultImportance {
		t.Errorf("expected default importance 0.5 when absent, got %v", out[0].RerankedScore)
	}
}

func TestReranker_Hybrid_NeverExceedsTopK(t *testing.T) {
	rr := NewReranker()
	candidates := make([]VectorSearchResult, 10)
	for i := range candidates {
		candidates[i] = VectorSearchResult{ChunkID: "c", Content: "some distinct content here", Similarity: float64(10-i) / 10}
	}
	ranked := rr.Hybrid(context.Background(), "query", candidates, 3)
	if len(ranked) > 3 {
		t.Fatalf("Hybrid() returned %d chunks, want <= 3", len(ranked))
	}
}

func TestParseLLMScores_JSONArray(t *testing.T) {
	scores := parseLLMScores(`[0.9, 0.2, 0.5]`, 3)
	want := []float64{0.9, 0.2, 0.5}
	for i, w := range want {
		if scores[i] != w {
			t.Errorf("scores[%d] = %v, want %v", i, scores[i], w)
		}
	}
}

func TestParseLLMScores_FloatSweepFallback(t *testing.T) {
	scores := parseLLMScores(`The scores are 0.8 and 0.3 respectively.`, 2)
	if scores[0] != 0.8 || scores[1] != 0.3 {
		t.Errorf("expected float-sweep fallback to extract 0.8, 0.3, got %v", scores)
	}
}

func TestParseLLMScores_NeutralFallback(t *testing.T) {
	scores := parseLLMScores(`I cannot score these.`, 2)
	for _, s := range scores {
		if s != 0.5 {
			t.Errorf("expected neutral 0.5 fallback, got %v", s)
		}
	}
}

func TestJaccardSimilarity_Basic(t *testing.T) {
	a := jaccardTokenSet("the quick brown fox")
	b := jaccardTokenSet("the quick brown fox")
	if jaccardSimilarity(a, b) != 1.0 {
		t.Errorf("identical sets should have similarity 1.0")
	}
	c := jaccardTokenSet("completely different words entirely")
	if jaccardSimilarity(a, c) != 0 {
		t.Errorf("disjoint sets should have similarity 0")
	}
}

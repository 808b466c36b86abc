package service

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDiversityWeight  = 0.2
	defaultRecencyWeight    = 0.1
	defaultImportanceWeight = 0.1
	defaultImportance       = 0.5
	recencyHalfLifeDays     = 30.0
	llmBatchSize            = 5
	llmBlendWeight          = 0.7
)

// RankedChunk is a candidate after re-ranking: original fusion score,
// re-ranked score, and the rank assigned by the active strategy.
type RankedChunk struct {
	ChunkID       string
	DocumentID    string
	ChunkIndex    int
	Content       string
	Filename      string
	SectionTitle  string
	OriginalScore float64
	RerankedScore float64
	Rank          int
}

func rankedFromCandidate(c VectorSearchResult) RankedChunk {
	return RankedChunk{
		ChunkID:       c.ChunkID,
		DocumentID:    c.DocumentID,
		ChunkIndex:    c.ChunkIndex,
		Content:       c.Content,
		Filename:      c.Filename,
		SectionTitle:  c.SectionTitle,
		OriginalScore: c.Similarity,
		RerankedScore: c.Similarity,
	}
}

// LLMRelevanceScorer abstracts an LLM call that scores a batch of candidate
// chunks against a query, returning its raw text response for tolerant
// parsing (the model is not trusted to emit clean JSON every time).
type LLMRelevanceScorer interface {
	ScoreBatch(ctx context.Context, query string, texts []string) (string, error)
}

// Reranker applies MMR diversity, recency decay, importance weighting, and
// optional LLM re-scoring on top of a fused candidate list.
type Reranker struct {
	DiversityWeight  float64
	RecencyWeight    float64
	ImportanceWeight float64
	LLM              LLMRelevanceScorer // nil = LLM strategy skipped
}

// NewReranker creates a Reranker with its default weights.
func NewReranker() *Reranker {
	return &Reranker{
		DiversityWeight:  defaultDiversityWeight,
		RecencyWeight:    defaultRecencyWeight,
		ImportanceWeight: defaultImportanceWeight,
	}
}

// MMR performs greedy Maximal Marginal Relevance selection:
// mmr = λ·relevance − (1−λ)·max(jaccard(c, selected)), λ = 1 − diversityWeight.
// Token sets are computed once per candidate and cached for the life of the
// call, bounding the cost to O(K·N) comparisons.
func (rr *Reranker) MMR(candidates []VectorSearchResult, topK int) []RankedChunk {
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	lambda := 1 - rr.DiversityWeight

	tokenSets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		tokenSets[i] = jaccardTokenSet(c.Content)
	}

	selected := make([]int, 0, topK)
	remaining := make([]int, len(candidates))
	for i := range candidates {
		remaining[i] = i
	}

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		bestPos := -1

		for pos, idx := range remaining {
			maxSim := 0.0
			for _, selIdx := range selected {
				sim := jaccardSimilarity(tokenSets[idx], tokenSets[selIdx])
				if sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*candidates[idx].Similarity - (1-lambda)*maxSim
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = idx
				bestPos = pos
			}
		}

		selected = append(selected, bestIdx)
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	ranked := make([]RankedChunk, len(selected))
	for i, idx := range selected {
		rc := rankedFromCandidate(candidates[idx])
		rc.Rank = i + 1
		ranked[i] = rc
	}
	return ranked
}

// Recency blends each chunk's score with an exponential recency decay:
// recency = exp(-age/30d) when a timestamp is present, else 0;
// score' = score·(1-wr) + recency·wr.
func (rr *Reranker) Recency(ranked []RankedChunk, createdAt map[string]time.Time, now time.Time) []RankedChunk {
	for i := range ranked {
		ts, ok := createdAt[ranked[i].ChunkID]
		var recency float64
		if ok && !ts.IsZero() {
			ageDays := now.Sub(ts).Hours() / 24
			if ageDays < 0 {
				ageDays = 0
			}
			recency = math.Exp(-ageDays / recencyHalfLifeDays)
		}
		ranked[i].RerankedScore = ranked[i].RerankedScore*(1-rr.RecencyWeight) + recency*rr.RecencyWeight
	}
	reorder(ranked)
	return ranked
}

// Importance blends each chunk's score with its lineage importance score
// (default 0.5 when absent): score' = score·(1-wi) + importance·wi.
func (rr *Reranker) Importance(ranked []RankedChunk, importance map[string]*float64) []RankedChunk {
	for i := range ranked {
		imp := defaultImportance
		if p, ok := importance[ranked[i].ChunkID]; ok && p != nil {
			imp = *p
		}
		ranked[i].RerankedScore = ranked[i].RerankedScore*(1-rr.ImportanceWeight) + imp*rr.ImportanceWeight
	}
	reorder(ranked)
	return ranked
}

// LLMRescore batches candidates in groups of 5, asks the LLM port for a JSON
// array of relevance scores, and blends 0.7·llm + 0.3·original. A reply that
// does not parse falls back to a neutral 0.5 score, which is still blended;
// a port error leaves that batch unmodified (non-LLM paths cannot fail; this
// is the one that can).
func (rr *Reranker) LLMRescore(ctx context.Context, query string, ranked []RankedChunk) []RankedChunk {
	if rr.LLM == nil {
		return ranked
	}

	for start := 0; start < len(ranked); start += llmBatchSize {
		end := start + llmBatchSize
		if end > len(ranked) {
			end = len(ranked)
		}
		batch := ranked[start:end]

		texts := make([]string, len(batch))
		for i, rc := range batch {
			texts[i] = rc.Content
		}

		raw, err := rr.LLM.ScoreBatch(ctx, query, texts)
		if err != nil {
			continue // &ragerr.RerankError{Cause: err} degrades silently, vector-only order kept
		}

		scores := parseLLMScores(raw, len(batch))
		for i := range batch {
			ranked[start+i].RerankedScore = llmBlendWeight*scores[i] + (1-llmBlendWeight)*ranked[start+i].RerankedScore
		}
	}

	reorder(ranked)
	return ranked
}

// Hybrid runs MMR -> recency -> importance -> (optional) LLM on the top 10,
// never exceeding topK output chunks.
func (rr *Reranker) Hybrid(ctx context.Context, query string, candidates []VectorSearchResult, topK int) []RankedChunk {
	createdAt := make(map[string]time.Time, len(candidates))
	importance := make(map[string]*float64, len(candidates))
	for _, c := range candidates {
		createdAt[c.ChunkID] = c.CreatedAt
		importance[c.ChunkID] = c.Importance
	}

	ranked := rr.MMR(candidates, topK)
	ranked = rr.Recency(ranked, createdAt, time.Now().UTC())
	ranked = rr.Importance(ranked, importance)

	if rr.LLM != nil {
		llmTop := ranked
		if len(llmTop) > 10 {
			llmTop = llmTop[:10]
		}
		rr.LLMRescore(ctx, query, llmTop)
		reorder(ranked)
	}

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// reorder re-sorts by RerankedScore descending and reassigns 1-based ranks.
func reorder(ranked []RankedChunk) {
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RerankedScore > ranked[j].RerankedScore
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
}

var jaccardTokenPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func jaccardTokenSet(text string) map[string]struct{} {
	tokens := jaccardTokenPattern.Split(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

var llmFloatPattern = regexp.MustCompile(`0?\.\d+|1\.0+|[01]`)

// parseLLMScores tolerantly extracts n scores from an LLM's raw text
// response: a clean JSON array first, then a sweep for bare floats in the
// text, then a neutral 0.5 fallback for any still-missing score.
func parseLLMScores(raw string, n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 0.5
	}

	var arr []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &arr); err == nil {
		for i := 0; i < n && i < len(arr); i++ {
			scores[i] = clamp01(arr[i])
		}
		return scores
	}

	matches := llmFloatPattern.FindAllString(raw, -1)
	if len(matches) > 0 {
		for i := 0; i < n && i < len(matches); i++ {
			if f, err := strconv.ParseFloat(matches[i], 64); err == nil {
				scores[i] = clamp01(f)
			}
		}
	}
	return scores
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

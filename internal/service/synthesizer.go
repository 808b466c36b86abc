package service

import (
	"context"
	"sort"
	"strings"
)

const (
	defaultMaxTokens     = 4000
	defaultMinRelevance  = 0.3
	charsPerToken        = 4
	dedupJaccardCutoff   = 0.8
	hierarchicalBatch    = 5
	hybridOvertruncation = 1.5
)

// SynthesisStrategy selects how the Context Synthesizer compresses chunks
// into a token-budgeted prompt context.
type SynthesisStrategy string

const (
	SynthesizeTruncate     SynthesisStrategy = "truncate"
	SynthesizeExtract      SynthesisStrategy = "extract"
	SynthesizeSummarize    SynthesisStrategy = "summarize"
	SynthesizeHierarchical SynthesisStrategy = "hierarchical"
	SynthesizeHybrid       SynthesisStrategy = "hybrid"
)

// SynthesisSource identifies where one synthesized fragment came from.
type SynthesisSource struct {
	DocumentID string
	ChunkIndex int
	Relevance  float64
}

// SynthesisResult is the Context Synthesizer's output: compressed content
// plus enough bookkeeping for callers to cite sources and track compression.
type SynthesisResult struct {
	Content               string
	TokenCount            int
	SourceChunkCount      int
	SynthesizedChunkCount int
	CompressionRatio      float64
	Sources               []SynthesisSource
}

// LLMSummarizer abstracts an LLM summarization call for the summarize and
// hierarchical strategies.
type LLMSummarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}

// Synthesizer compresses ranked chunks to fit a token budget.
type Synthesizer struct {
	MaxTokens    int
	MinRelevance float64
	LLM          LLMSummarizer // nil = summarize/hierarchical degrade to truncate
}

// NewSynthesizer creates a Synthesizer with its default token budget.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{MaxTokens: defaultMaxTokens, MinRelevance: defaultMinRelevance}
}

// Synthesize filters, optionally dedups, then applies strategy to produce a
// token-budgeted context. TokenCount <= MaxTokens is a hard post-condition.
func (s *Synthesizer) Synthesize(ctx context.Context, ranked []RankedChunk, strategy SynthesisStrategy, query string, dedup bool) SynthesisResult {
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	minRelevance := s.MinRelevance

	filtered := make([]RankedChunk, 0, len(ranked))
	for _, rc := range ranked {
		if rc.RerankedScore >= minRelevance {
			filtered = append(filtered, rc)
		}
	}

	if dedup {
		filtered = dedupChunks(filtered)
	}

	sourceCount := len(filtered)
	if sourceCount == 0 {
		return SynthesisResult{}
	}

	var content string
	var used []RankedChunk

	switch strategy {
	case SynthesizeExtract:
		content, used = s.extract(filtered, query, maxTokens)
	case SynthesizeSummarize:
		content, used = s.summarize(ctx, filtered, maxTokens)
	case SynthesizeHierarchical:
		content, used = s.hierarchical(ctx, filtered, maxTokens)
	case SynthesizeHybrid:
		content, used = s.hybrid(ctx, filtered, query, maxTokens)
	default:
		content, used = s.truncate(filtered, maxTokens)
	}

	tokenCount := EstimateTokens(content)
	if tokenCount > maxTokens {
		content = hardTrimToTokens(content, maxTokens)
		tokenCount = EstimateTokens(content)
	}

	sources := make([]SynthesisSource, len(used))
	for i, rc := range used {
		sources[i] = SynthesisSource{DocumentID: rc.DocumentID, ChunkIndex: rc.ChunkIndex, Relevance: rc.RerankedScore}
	}

	ratio := 0.0
	if totalSourceChars(filtered) > 0 {
		ratio = float64(len(content)) / float64(totalSourceChars(filtered))
	}

	return SynthesisResult{
		Content:               content,
		TokenCount:            tokenCount,
		SourceChunkCount:      sourceCount,
		SynthesizedChunkCount: len(used),
		CompressionRatio:      ratio,
		Sources:               sources,
	}
}

// truncate sorts by relevance desc and greedily adds chunks while within
// the byte budget (maxTokens*charsPerToken).
func (s *Synthesizer) truncate(chunks []RankedChunk, maxTokens int) (string, []RankedChunk) {
	sorted := append([]RankedChunk(nil), chunks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RerankedScore > sorted[j].RerankedScore })

	budget := maxTokens * charsPerToken
	var parts []string
	var used []RankedChunk
	size := 0

	for _, rc := range sorted {
		if size+len(rc.Content) > budget {
			break
		}
		parts = append(parts, rc.Content)
		used = append(used, rc)
		size += len(rc.Content)
		if size >= budget {
			break
		}
	}

	if len(used) == 0 && len(sorted) > 0 {
		return "", nil // single chunk exceeding budget synthesizes to empty, compressionRatio 0
	}

	return strings.Join(parts, "\n\n"), used
}

// extract sentence-splits each chunk and keeps sentences sharing at least
// one significant (len > 3) query token, stopping at the byte budget.
func (s *Synthesizer) extract(chunks []RankedChunk, query string, maxTokens int) (string, []RankedChunk) {
	queryTokens := significantTokens(query)
	budget := maxTokens * charsPerToken

	var parts []string
	var used []RankedChunk
	size := 0

	for _, rc := range chunks {
		var kept []string
		for _, sent := range splitSentences(rc.Content) {
			if sharesToken(sent, queryTokens) {
				kept = append(kept, sent)
			}
		}
		if len(kept) == 0 {
			continue
		}
		fragment := strings.Join(kept, " ")
		if size+len(fragment) > budget && size > 0 {
			break
		}
		parts = append(parts, fragment)
		used = append(used, rc)
		size += len(fragment)
		if size >= budget {
			break
		}
	}

	if len(parts) == 0 {
		return s.truncate(chunks, maxTokens)
	}
	return strings.Join(parts, "\n\n"), used
}

// summarize asks the LLM for one summary capped at the budget; on failure
// or when no LLM is configured, degrades to truncate.
func (s *Synthesizer) summarize(ctx context.Context, chunks []RankedChunk, maxTokens int) (string, []RankedChunk) {
	if s.LLM == nil {
		return s.truncate(chunks, maxTokens)
	}
	joined := joinContents(chunks)
	summary, err := s.LLM.Summarize(ctx, joined, maxTokens)
	if err != nil {
		return s.truncate(chunks, maxTokens)
	}
	return summary, chunks
}

// hierarchical LLM-summarizes batches of 5, then summarizes the summaries,
// when the total content exceeds 2x the budget; all batch failures degrade
// to a raw prefix of the joined content.
func (s *Synthesizer) hierarchical(ctx context.Context, chunks []RankedChunk, maxTokens int) (string, []RankedChunk) {
	joined := joinContents(chunks)
	if len(joined) <= 2*maxTokens*charsPerToken || s.LLM == nil {
		return s.truncate(chunks, maxTokens)
	}

	var batchSummaries []string
	anyFailed := false
	for start := 0; start < len(chunks); start += hierarchicalBatch {
		end := start + hierarchicalBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		batchText := joinContents(chunks[start:end])
		summary, err := s.LLM.Summarize(ctx, batchText, maxTokens)
		if err != nil {
			anyFailed = true
			continue
		}
		batchSummaries = append(batchSummaries, summary)
	}

	if anyFailed && len(batchSummaries) == 0 {
		return hardTrimToTokens(joined, maxTokens), chunks
	}

	finalSummary, err := s.LLM.Summarize(ctx, strings.Join(batchSummaries, "\n\n"), maxTokens)
	if err != nil {
		return hardTrimToTokens(joined, maxTokens), chunks
	}
	return finalSummary, chunks
}

// hybrid over-truncates to 1.5x the budget, then extracts if still over.
func (s *Synthesizer) hybrid(ctx context.Context, chunks []RankedChunk, query string, maxTokens int) (string, []RankedChunk) {
	overBudget := int(float64(maxTokens) * hybridOvertruncation)
	content, used := s.truncate(chunks, overBudget)
	if EstimateTokens(content) <= maxTokens {
		return content, used
	}
	return s.extract(used, query, maxTokens)
}

func dedupChunks(chunks []RankedChunk) []RankedChunk {
	kept := make([]RankedChunk, 0, len(chunks))
	sets := make([]map[string]struct{}, 0, len(chunks))

	sorted := append([]RankedChunk(nil), chunks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].RerankedScore > sorted[j].RerankedScore })

	for _, rc := range sorted {
		set := jaccardTokenSet(rc.Content)
		dup := false
		for _, s := range sets {
			if jaccardSimilarity(set, s) > dedupJaccardCutoff {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, rc)
		sets = append(sets, set)
	}
	return kept
}

func significantTokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range tokenizeBM25(text) {
		if len(t) > 3 {
			set[t] = struct{}{}
		}
	}
	return set
}

func sharesToken(sentence string, tokens map[string]struct{}) bool {
	for _, t := range tokenizeBM25(sentence) {
		if _, ok := tokens[t]; ok {
			return true
		}
	}
	return false
}

func joinContents(chunks []RankedChunk) string {
	parts := make([]string, len(chunks))
	for i, rc := range chunks {
		parts[i] = rc.Content
	}
	return strings.Join(parts, "\n\n")
}

func totalSourceChars(chunks []RankedChunk) int {
	total := 0
	for _, rc := range chunks {
		total += len(rc.Content)
	}
	return total
}

func hardTrimToTokens(text string, maxTokens int) string {
	budget := maxTokens * charsPerToken
	if len(text) <= budget {
		return text
	}
	return text[:budget]
}

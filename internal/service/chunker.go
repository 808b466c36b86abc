package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/connexus-ai/ragcore/internal/ragerr"
)

// Strategy names a chunking algorithm.
type Strategy string

const (
	StrategyFixed        Strategy = "fixed"
	StrategySentence     Strategy = "sentence"
	StrategyParagraph    Strategy = "paragraph"
	StrategySemantic     Strategy = "semantic"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyAdaptive     Strategy = "adaptive"
)

const (
	defaultMaxChunkSize = 1000
	defaultOverlap      = 100
	// shortDocumentThreshold: documents under this many characters are
	// given the fixed strategy under adaptive selection.
	shortDocumentThreshold = 500
	// longDocumentThreshold: documents at or above this size are treated
	// as "technical/long" under adaptive selection and chunked hierarchically.
	longDocumentThreshold = 8000
)

// ChunkOptions configures one Chunk call.
type ChunkOptions struct {
	Strategy     Strategy
	MaxChunkSize int
	Overlap      int
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.Strategy == "" {
		o.Strategy = StrategyAdaptive
	}
	if o.MaxChunkSize <= 0 {
		o.MaxChunkSize = defaultMaxChunkSize
	}
	if o.Overlap < 0 || o.Overlap >= o.MaxChunkSize {
		o.Overlap = defaultOverlap
	}
	return o
}

// Chunk is an ordered, pre-embedding span of source text plus the metadata
// that will accompany its eventual ChunkLineage row.
type Chunk struct {
	Content      string
	ContentHash  string
	Index        int
	DocumentID   string
	Filename     string
	SectionTitle string
}

var codeMimeTypes = map[string]bool{
	"text/x-go":          true,
	"text/x-python":      true,
	"text/x-java":        true,
	"text/x-c":           true,
	"text/x-c++":         true,
	"application/json":   true,
	"application/x-yaml": true,
}

func isCodeMime(mimeType string) bool {
	return codeMimeTypes[mimeType]
}

func isMarkdownMime(mimeType, filename string) bool {
	if mimeType == "text/markdown" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(filename), ".md")
}

var conversationalLinePattern = regexp.MustCompile(`(?im)^\s*(user|assistant|system|human|ai)\s*:`)

// isConversational reports whether content looks like a chat transcript: a
// significant fraction of non-blank lines open with a speaker label.
func isConversational(content string) bool {
	lines := strings.Split(content, "\n")
	nonBlank := 0
	labeled := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		nonBlank++
		if conversationalLinePattern.MatchString(l) {
			labeled++
		}
	}
	if nonBlank == 0 {
		return false
	}
	return float64(labeled)/float64(nonBlank) >= 0.2
}

// selectAdaptiveStrategy picks a chunking strategy from content shape: short
// documents go whole, code stays fixed-window, markdown splits on headers,
// chat transcripts split on sentence/turn boundaries, long prose goes
// hierarchical, everything else splits on paragraphs.
func selectAdaptiveStrategy(content, filename, mimeType string) Strategy {
	if len(content) < shortDocumentThreshold {
		return StrategyFixed
	}
	if isCodeMime(mimeType) {
		return StrategyFixed
	}
	if isMarkdownMime(mimeType, filename) {
		return StrategySemantic
	}
	if isConversational(content) {
		return StrategySentence
	}
	if len(content) >= longDocumentThreshold {
		return StrategyHierarchical
	}
	return StrategyParagraph
}

// ChunkerService splits document content into ordered, non-overlapping (save
// for the configured overlap) chunks using the strategy named in opts, or
// one chosen adaptively when opts.Strategy is StrategyAdaptive.
type ChunkerService struct{}

// NewChunkerService creates a ChunkerService.
func NewChunkerService() *ChunkerService {
	return &ChunkerService{}
}

// Chunk splits content into ordered chunks, the Chunker port used by
// PipelineService. Returns a *ragerr.ChunkingError naming the strategy
// attempted on failure.
func (s *ChunkerService) Chunk(ctx context.Context, content, documentID, filename, mimeType string, opts ChunkOptions) ([]Chunk, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	opts = opts.withDefaults()
	if strings.TrimSpace(content) == "" {
		return nil, &ragerr.ChunkingError{Strategy: string(opts.Strategy), Cause: fmt.Errorf("content is empty")}
	}

	strategy := opts.Strategy
	if strategy == StrategyAdaptive {
		strategy = selectAdaptiveStrategy(content, filename, mimeType)
	}

	var rawChunks []segment
	switch strategy {
	case StrategyFixed:
		rawChunks = chunkFixed(content, opts.MaxChunkSize, opts.Overlap)
	case StrategySentence:
		rawChunks = chunkBySentence(content, opts.MaxChunkSize, opts.Overlap)
	case StrategyParagraph:
		rawChunks = chunkByParagraph(content, opts.MaxChunkSize, opts.Overlap)
	case StrategySemantic:
		rawChunks = chunkBySemanticHeaders(content, opts.MaxChunkSize, opts.Overlap)
	case StrategyHierarchical:
		rawChunks = chunkHierarchical(content, opts.MaxChunkSize, opts.Overlap)
	default:
		return nil, &ragerr.ChunkingError{Strategy: string(strategy), Cause: fmt.Errorf("unknown strategy")}
	}

	chunks := make([]Chunk, 0, len(rawChunks))
	for _, seg := range rawChunks {
		text := strings.TrimSpace(seg.content)
		if text == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Content:      text,
			ContentHash:  sha256Hash(text),
			DocumentID:   documentID,
			Filename:     filename,
			SectionTitle: seg.sectionTitle,
		})
	}
	if len(chunks) == 0 {
		return nil, &ragerr.ChunkingError{Strategy: string(strategy), Cause: fmt.Errorf("no content survived splitting")}
	}
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks, nil
}

type segment struct {
	content      string
	sectionTitle string
}

// chunkFixed greedily packs content into maxSize-character windows, each
// prefixed with the trailing `overlap` characters of the previous window.
func chunkFixed(content string, maxSize, overlap int) []segment {
	if len(content) <= maxSize {
		return []segment{{content: content}}
	}
	var segs []segment
	runes := []rune(content)
	n := len(runes)
	start := 0
	for start < n {
		end := start + maxSize
		if end > n {
			end = n
		}
		body := string(runes[start:end])
		if start > 0 && overlap > 0 {
			prevStart := start - overlap
			if prevStart < 0 {
				prevStart = 0
			}
			body = string(runes[prevStart:start]) + body
		}
		segs = append(segs, segment{content: body})
		if end == n {
			break
		}
		start = end
	}
	return segs
}

// chunkByParagraph merges paragraphs (split on blank lines) up to maxSize
// characters, splitting any paragraph that alone exceeds maxSize.
func chunkByParagraph(content string, maxSize, overlap int) []segment {
	paragraphs := splitParagraphs(content)
	segs := packBlocks(paragraphs, "", maxSize)
	return applyCharOverlap(segs, overlap)
}

// chunkBySentence merges sentences up to maxSize characters.
func chunkBySentence(content string, maxSize, overlap int) []segment {
	sentences := splitSentences(content)
	segs := packBlocks(sentences, "", maxSize)
	return applyCharOverlap(segs, overlap)
}

// chunkBySemanticHeaders splits on markdown headers first, then packs the
// body under each header up to maxSize characters, overlapping consecutive
// chunks by their trailing sentences rather than a raw character tail.
func chunkBySemanticHeaders(content string, maxSize, overlap int) []segment {
	blocks := splitSemanticBlocks(content)
	segs := buildSemanticSegments(blocks, maxSize)
	if overlap <= 0 {
		return segs
	}
	return applySemanticOverlap(segs)
}

// chunkHierarchical splits header then paragraph then sentence, in that
// priority order, keeping each leaf segment under maxSize characters.
func chunkHierarchical(content string, maxSize, overlap int) []segment {
	headerSegs := chunkBySemanticHeaders(content, maxSize, 0)
	var out []segment
	for _, hs := range headerSegs {
		if len(hs.content) <= maxSize {
			out = append(out, hs)
			continue
		}
		paras := splitParagraphs(hs.content)
		for _, seg := range packBlocks(paras, hs.sectionTitle, maxSize) {
			if len(seg.content) <= maxSize {
				out = append(out, seg)
				continue
			}
			for _, sub := range splitLargeBlock(seg.content, maxSize) {
				out = append(out, segment{content: sub, sectionTitle: hs.sectionTitle})
			}
		}
	}
	if overlap <= 0 {
		return out
	}
	return applySemanticOverlap(out)
}

// packBlocks merges text blocks (paragraphs or sentences) up to maxSize
// characters per segment, splitting any block that alone exceeds maxSize.
func packBlocks(blocks []string, sectionTitle string, maxSize int) []segment {
	var segs []segment
	var current strings.Builder

	for _, b := range blocks {
		if current.Len() > 0 && current.Len()+1+len(b) > maxSize {
			segs = append(segs, segment{content: current.String(), sectionTitle: sectionTitle})
			current.Reset()
		}
		if len(b) > maxSize {
			if current.Len() > 0 {
				segs = append(segs, segment{content: current.String(), sectionTitle: sectionTitle})
				current.Reset()
			}
			for _, sub := range splitLargeBlock(b, maxSize) {
				segs = append(segs, segment{content: sub, sectionTitle: sectionTitle})
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(b)
	}
	if current.Len() > 0 {
		segs = append(segs, segment{content: current.String(), sectionTitle: sectionTitle})
	}
	return segs
}

// applyCharOverlap prepends the trailing `overlap` characters of each
// segment to the next, preserving source order.
func applyCharOverlap(segs []segment, overlap int) []segment {
	if len(segs) <= 1 || overlap <= 0 {
		return segs
	}
	result := make([]segment, len(segs))
	result[0] = segs[0]
	for i := 1; i < len(segs); i++ {
		prev := []rune(segs[i-1].content)
		n := overlap
		if n > len(prev) {
			n = len(prev)
		}
		tail := string(prev[len(prev)-n:])
		result[i] = segment{
			content:      tail + " " + segs[i].content,
			sectionTitle: segs[i].sectionTitle,
		}
	}
	return result
}

// splitParagraphs splits on blank lines, dropping empty entries.
func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var result []string
	for _, p := range raw {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	return result
}

// splitSentences does a basic sentence split on ". ", "! ", "? ".
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if current.Len() > 0 {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// splitLargeBlock splits a block that alone exceeds maxSize, preferring
// sentence boundaries and falling back to hard character windows.
func splitLargeBlock(block string, maxSize int) []string {
	sentences := splitSentences(block)
	if len(sentences) > 1 {
		var out []string
		var current strings.Builder
		for _, sent := range sentences {
			if current.Len() > 0 && current.Len()+1+len(sent) > maxSize {
				out = append(out, current.String())
				current.Reset()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sent)
		}
		if current.Len() > 0 {
			out = append(out, current.String())
		}
		return out
	}
	runes := []rune(block)
	var out []string
	for i := 0; i < len(runes); i += maxSize {
		end := i + maxSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// extractSectionTitle detects markdown-style headers ("# Title", "## Section").
func extractSectionTitle(block string) string {
	trimmed := strings.TrimSpace(block)
	if !strings.HasPrefix(trimmed, "#") {
		return ""
	}
	return strings.TrimLeft(trimmed, "# ")
}

// EstimateTokens approximates token count as ceil(chars/4), the
// TokenEstimator port's default implementation.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len(text)) / 4))
}

func sha256Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)
}

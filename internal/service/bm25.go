package service

import (
	"context"
	"math"
	"regexp"
	"strings"
)

// CorpusDocument is one chunk's content as seen by the in-process BM25
// scorer, which needs every candidate's text up front to compute term
// frequencies and the collection's average document length.
type CorpusDocument struct {
	ChunkID string
	Content string
}

// CorpusFetcher loads a user's (or the anonymous scope's) chunk corpus for
// BM25 preprocessing.
type CorpusFetcher interface {
	FetchCorpus(ctx context.Context, userID string) ([]CorpusDocument, error)
}

// bm25TokenPattern finds non-word runs so tokenize can split on them.
var bm25TokenPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// tokenizeBM25 lowercases, splits on non-word characters, and drops tokens
// of length <= 2.
func tokenizeBM25(text string) []string {
	lower := strings.ToLower(text)
	raw := bm25TokenPattern.Split(lower, -1)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) > 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// bm25Document is one corpus entry after tokenization, ready for scoring.
type bm25Document struct {
	chunkID string
	content string
	terms   []string
	length  int
	freq    map[string]int
}

// BM25Scorer is a corpus-preprocessed sparse scorer: k1=1.2, b=0.75, the
// standard Okapi BM25 parameterization.
type BM25Scorer struct {
	k1 float64
	b  float64

	docs       []bm25Document
	avgDocLen  float64
	docFreq    map[string]int // term -> number of docs containing it
	totalDocs  int
}

// NewBM25Scorer creates an empty scorer; call PreprocessCorpus before Score.
func NewBM25Scorer() *BM25Scorer {
	return &BM25Scorer{k1: 1.2, b: 0.75}
}

// PreprocessCorpus tokenizes every document and computes avgDocLength and
// per-term document frequency, the statistics BM25's idf and length
// normalization need. Call once per query batch; the pack is treated as a
// read-only snapshot, never mutated across queries.
func (s *BM25Scorer) PreprocessCorpus(corpus []CorpusDocument) {
	docs := make([]bm25Document, len(corpus))
	docFreq := make(map[string]int)
	var totalLen int

	for i, c := range corpus {
		terms := tokenizeBM25(c.Content)
		freq := make(map[string]int, len(terms))
		for _, t := range terms {
			freq[t]++
		}
		docs[i] = bm25Document{chunkID: c.ChunkID, content: c.Content, terms: terms, length: len(terms), freq: freq}
		totalLen += len(terms)
		for t := range freq {
			docFreq[t]++
		}
	}

	s.docs = docs
	s.docFreq = docFreq
	s.totalDocs = len(docs)
	if len(docs) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(docs))
	} else {
		s.avgDocLen = 0
	}
}

// idf implements idf(t) = ln((N - df + 0.5)/(df + 0.5) + 1).
func (s *BM25Scorer) idf(term string) float64 {
	df := float64(s.docFreq[term])
	n := float64(s.totalDocs)
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// score computes the BM25 score of one preprocessed document against query
// terms. Query-term duplicates are not deduplicated: each occurrence
// contributes its own additive term, linearly weighting repeated query
// words — the variant documented as intentional rather than normalized.
func (s *BM25Scorer) score(doc bm25Document, queryTerms []string) float64 {
	if s.avgDocLen == 0 {
		return 0
	}
	var total float64
	for _, q := range queryTerms {
		tf := float64(doc.freq[q])
		if tf == 0 {
			continue
		}
		numerator := tf * (s.k1 + 1)
		denominator := tf + s.k1*(1-s.b+s.b*float64(doc.length)/s.avgDocLen)
		total += s.idf(q) * (numerator / denominator)
	}
	return total
}

// Search scores every preprocessed document against query and returns the
// top-K as VectorSearchResults, sorted by Similarity descending, so that
// downstream fusion can treat it identically to a dense search pass.
func (s *BM25Scorer) Search(query string, topK int) []VectorSearchResult {
	queryTerms := tokenizeBM25(query)
	if len(queryTerms) == 0 || len(s.docs) == 0 {
		return nil
	}

	results := make([]VectorSearchResult, 0, len(s.docs))
	for _, d := range s.docs {
		sc := s.score(d, queryTerms)
		if sc <= 0 {
			continue
		}
		results = append(results, VectorSearchResult{ChunkID: d.chunkID, Content: d.content, Similarity: sc})
	}

	sortResultsDesc(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

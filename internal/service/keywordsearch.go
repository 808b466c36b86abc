package service

import "strings"

// KeywordSearch runs a crude case-insensitive substring match over corpus —
// the LIKE-equivalent fallback used in place of BM25 when hybrid search is
// off. A chunk's score is the fraction of query terms found anywhere in its
// content, so results stay comparable to a similarity score for fusion.
func KeywordSearch(corpus []CorpusDocument, query string, topK int) []VectorSearchResult {
	terms := tokenizeBM25(query)
	if len(terms) == 0 || len(corpus) == 0 {
		return nil
	}

	results := make([]VectorSearchResult, 0, len(corpus))
	for _, c := range corpus {
		lower := strings.ToLower(c.Content)
		matched := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, VectorSearchResult{
			ChunkID:    c.ChunkID,
			Content:    c.Content,
			Similarity: float64(matched) / float64(len(terms)),
		})
	}
	if len(results) == 0 {
		return nil
	}

	sortResultsDesc(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

package service

import "testing"

func TestBM25Scorer_EmptyCorpus(t *testing.T) {
	s := NewBM25Scorer()
	s.PreprocessCorpus(nil)
	if got := s.Search("fox", 10); got != nil {
		t.Fatalf("Search() on empty corpus = %v, want nil", got)
	}
}

func TestBM25Scorer_ExactMatchRanksHigher(t *testing.T) {
	s := NewBM25Scorer()
	corpus := []CorpusDocument{
		{ChunkID: "c1", Content: "the quick brown fox jumps over the lazy dog"},
		{ChunkID: "c2", Content: "a mammalian quadruped runs through the forest"},
	}
	s.PreprocessCorpus(corpus)

	results := s.Search("fox", 10)
	if len(results) != 1 {
		t.Fatalf("expected 1 scoring result, got %d", len(results))
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("top result = %q, want c1", results[0].ChunkID)
	}
}

func TestBM25Scorer_TopKTruncates(t *testing.T) {
	s := NewBM25Scorer()
	corpus := []CorpusDocument{
		{ChunkID: "c1", Content: "alpha beta gamma"},
		{ChunkID: "c2", Content: "alpha delta epsilon"},
		{ChunkID: "c3", Content: "alpha zeta eta"},
	}
	s.PreprocessCorpus(corpus)

	results := s.Search("alpha", 2)
	if len(results) != 2 {
		t.Fatalf("expected topK=2 results, got %d", len(results))
	}
}

func TestBM25Scorer_QueryTermDuplicatesAreAdditive(t *testing.T) {
	s := NewBM25Scorer()
	corpus := []CorpusDocument{{ChunkID: "c1", Content: "fox fox fox rabbit"}}
	s.PreprocessCorpus(corpus)

	once := s.score(s.docs[0], []string{"fox"})
	twice := s.score(s.docs[0], []string{"fox", "fox"})
	if twice <= once {
		t.Errorf("repeated query term should weight additively: once=%v twice=%v", once, twice)
	}
}

func TestTokenizeBM25_DropsShortTokens(t *testing.T) {
	tokens := tokenizeBM25("a an the RAG system!!")
	for _, tok := range tokens {
		if len(tok) <= 2 {
			t.Errorf("tokenizeBM25 kept short token %q", tok)
		}
	}
	found := false
	for _, tok := range tokens {
		if tok == "rag" {
			found = true
		}
	}
	if !found {
		t.Error("expected lowercase 'rag' token to survive")
	}
}

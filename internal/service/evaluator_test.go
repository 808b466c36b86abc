package service

import (
	"testing"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

func TestEvaluator_EvaluateRetrieval_GroundTruth(t *testing.T) {
	e := NewEvaluator(0.25, 0.3)
	m := e.EvaluateRetrieval("query", []string{"c1", "c2", "c3"}, []string{"c2", "c4"})

	if m.Precision != 1.0/3.0 {
		t.Errorf("Precision = %v, want 1/3", m.Precision)
	}
	if m.Recall != 0.5 {
		t.Errorf("Recall = %v, want 0.5", m.Recall)
	}
	if m.MRR != 0.5 {
		t.Errorf("MRR = %v, want 0.5 (c2 is the second result)", m.MRR)
	}
}

func TestEvaluator_EvaluateRetrieval_HeuristicNoGroundTruth(t *testing.T) {
	e := NewEvaluator(0.25, 0.3)
	m := e.EvaluateRetrieval("what is retrieval augmented generation", []string{
		"retrieval augmented generation combines search with language models",
	}, nil)
	if m.Precision <= 0 {
		t.Errorf("expected positive heuristic precision, got %v", m.Precision)
	}
	if m.Recall != 0.5*m.Precision {
		t.Errorf("heuristic recall should be half of precision, got recall=%v precision=%v", m.Recall, m.Precision)
	}
}

func TestEvaluator_AutoTune_RaisesThresholdOnLowPrecision(t *testing.T) {
	e := NewEvaluator(0.25, 0.3)
	for i := 0; i < 10; i++ {
		e.history = append(e.history, model.RetrievalMetrics{Precision: 0.3, Recall: 0.6, Timestamp: time.Now().UTC()})
	}
	thresholds := e.AutoTuneThresholds()
	if thresholds.Semantic != 0.30 {
		t.Errorf("Semantic = %v, want 0.30 (0.25 + 0.05 step)", thresholds.Semantic)
	}
}

func TestEvaluator_AutoTune_LowersThresholdOnLowRecallHighPrecision(t *testing.T) {
	e := NewEvaluator(0.25, 0.3)
	for i := 0; i < 10; i++ {
		e.history = append(e.history, model.RetrievalMetrics{Precision: 0.8, Recall: 0.3, Timestamp: time.Now().UTC()})
	}
	thresholds := e.AutoTuneThresholds()
	if thresholds.Semantic != 0.20 {
		t.Errorf("Semantic = %v, want 0.20 (0.25 - 0.05 step)", thresholds.Semantic)
	}
}

func TestEvaluator_AutoTune_NoOpInHealthyRange(t *testing.T) {
	e := NewEvaluator(0.25, 0.3)
	for i := 0; i < 10; i++ {
		e.history = append(e.history, model.RetrievalMetrics{Precision: 0.6, Recall: 0.6, Timestamp: time.Now().UTC()})
	}
	thresholds := e.AutoTuneThresholds()
	if thresholds.Semantic != 0.25 {
		t.Errorf("expected no-op when precision and recall both in [0.5, 0.7], got %v", thresholds.Semantic)
	}
}

func TestEvaluator_AutoTune_IgnoresStaleHistory(t *testing.T) {
	e := NewEvaluator(0.25, 0.3)
	stale := time.Now().UTC().AddDate(0, 0, -8)
	for i := 0; i < 10; i++ {
		e.history = append(e.history, model.RetrievalMetrics{Precision: 0.1, Recall: 0.1, Timestamp: stale})
	}
	thresholds := e.AutoTuneThresholds()
	if thresholds.Semantic != 0.25 {
		t.Errorf("expected threshold unchanged when all history is outside the 7-day window, got %v", thresholds.Semantic)
	}
}

func TestEvaluator_ThresholdsCappedAndFloored(t *testing.T) {
	e := NewEvaluator(0.48, 0.3)
	for i := 0; i < 10; i++ {
		e.history = append(e.history, model.RetrievalMetrics{Precision: 0.1, Recall: 0.6, Timestamp: time.Now().UTC()})
	}
	thresholds := e.AutoTuneThresholds()
	if thresholds.Semantic != 0.5 {
		t.Errorf("expected threshold capped at 0.5, got %v", thresholds.Semantic)
	}

	e2 := NewEvaluator(0.17, 0.3)
	for i := 0; i < 10; i++ {
		e2.history = append(e2.history, model.RetrievalMetrics{Precision: 0.8, Recall: 0.3, Timestamp: time.Now().UTC()})
	}
	if got := e2.AutoTuneThresholds().Semantic; got != 0.15 {
		t.Errorf("expected threshold floored at 0.15, got %v", got)
	}
}

func TestAnalyzeLLMResponse_DetectsCitationsAndUsefulness(t *testing.T) {
	a := AnalyzeLLMResponse("what is rag", []string{"RAG combines retrieval with generation to ground model answers"},
		"Based on the retrieved documents, RAG combines retrieval with generation to ground model answers in real data.")
	if !a.SourcesCited {
		t.Error("expected SourcesCited true for 'based on' phrase")
	}
	if !a.ResponseUseful {
		t.Error("expected ResponseUseful true for a substantive answer")
	}
	if !a.ChunksRelevant {
		t.Error("expected ChunksRelevant true: a 3-word phrase from the chunk appears verbatim")
	}
}

func TestAnalyzeLLMResponse_BareBracketCitationCounts(t *testing.T) {
	a := AnalyzeLLMResponse("what is the effective date", nil, "The effective date is January 1 [Doc 3].")
	if !a.SourcesCited {
		t.Error("expected SourcesCited true for a bare bracket citation like [Doc 3]")
	}
}

func TestAnalyzeLLMResponse_NoAnswerPhraseMarksUnuseful(t *testing.T) {
	a := AnalyzeLLMResponse("what is rag", nil, "I don't know the answer to that question, sorry.")
	if a.ResponseUseful {
		t.Error("expected ResponseUseful false for an 'I don't know' style answer")
	}
}

func TestRecordFeedback_FeedsHistory(t *testing.T) {
	e := NewEvaluator(0.25, 0.3)
	e.RecordFeedback(model.FeedbackSignal{QueryID: "q1", ResponseUseful: true, ChunksRelevant: true, Timestamp: time.Now().UTC()})
	if len(e.history) != 1 {
		t.Fatalf("expected feedback to append one history entry, got %d", len(e.history))
	}
	if e.history[0].Precision != 1.0 {
		t.Errorf("expected precision 1.0 for ChunksRelevant=true, got %v", e.history[0].Precision)
	}
}

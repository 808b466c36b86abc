package service

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
)

const (
	autoTuneWindow         = 7 * 24 * time.Hour
	autoTuneLowPrecision   = 0.5
	autoTuneLowRecall      = 0.5
	autoTuneHighPrecision  = 0.7
	autoTuneStep           = 0.05
	autoTuneThresholdCap   = 0.5
	autoTuneThresholdFloor = 0.15
	minKeywordLen          = 3
	analyzeMinResponseLen  = 50
)

var noAnswerPhrases = []string{"i don't know", "i do not know", "i'm not sure", "no information", "cannot find"}

var citationMarkers = []string{"[source:", "according to", "based on", "as mentioned in"}

// bracketCitationPattern matches a bare bracket citation like "[Doc 3]" or
// "[p.12]" that doesn't use the literal word "source".
var bracketCitationPattern = regexp.MustCompile(`\[[^\[\]]+\]`)

// Evaluator computes retrieval quality metrics, ingests feedback signals,
// and auto-tunes the active semantic threshold from observed precision and
// recall over a rolling window; the keyword threshold is not tuned.
type Evaluator struct {
	mu                sync.RWMutex
	history           []model.RetrievalMetrics
	semanticThreshold float64
	keywordThreshold  float64
}

// NewEvaluator creates an Evaluator seeded with the given starting thresholds.
func NewEvaluator(semanticThreshold, keywordThreshold float64) *Evaluator {
	return &Evaluator{semanticThreshold: semanticThreshold, keywordThreshold: keywordThreshold}
}

// Thresholds returns the current tuned thresholds; the orchestrator consults
// these on every query.
func (e *Evaluator) Thresholds() (semantic, keyword float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.semanticThreshold, e.keywordThreshold
}

// EvaluateRetrieval scores one query's retrieved chunks. With groundTruth
// supplied, computes exact precision/recall/F1/MRR; otherwise falls back to
// a keyword-overlap heuristic.
func (e *Evaluator) EvaluateRetrieval(query string, retrieved []string, groundTruth []string) model.RetrievalMetrics {
	var m model.RetrievalMetrics
	m.Query = query
	m.ResultsCount = len(retrieved)
	m.Timestamp = time.Now().UTC()

	if len(groundTruth) > 0 {
		relevant := make(map[string]struct{}, len(groundTruth))
		for _, g := range groundTruth {
			relevant[g] = struct{}{}
		}

		var hits int
		mrr := 0.0
		for i, r := range retrieved {
			if _, ok := relevant[r]; ok {
				hits++
				if mrr == 0 {
					mrr = 1.0 / float64(i+1)
				}
			}
		}

		if len(retrieved) > 0 {
			m.Precision = float64(hits) / float64(len(retrieved))
		}
		m.Recall = float64(hits) / float64(len(groundTruth))
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		m.MRR = mrr
	} else {
		m = e.heuristicEvaluate(query, retrieved, m)
	}

	e.mu.Lock()
	e.history = append(e.history, m)
	e.mu.Unlock()

	return m
}

// heuristicEvaluate approximates relevance, absent ground truth, as the
// fraction of query keywords (len > 3) present in each retrieved chunk's
// text; precision is the mean, recall a conservative half of precision.
func (e *Evaluator) heuristicEvaluate(query string, retrievedTexts []string, m model.RetrievalMetrics) model.RetrievalMetrics {
	keywords := significantQueryWords(query)
	if len(keywords) == 0 || len(retrievedTexts) == 0 {
		return m
	}

	var sumRelevance float64
	for _, text := range retrievedTexts {
		sumRelevance += keywordFraction(text, keywords)
	}
	meanRelevance := sumRelevance / float64(len(retrievedTexts))

	m.Precision = meanRelevance
	m.Recall = 0.5 * meanRelevance
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.MRR = meanRelevance
	return m
}

func significantQueryWords(query string) []string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > minKeywordLen {
			words = append(words, w)
		}
	}
	return words
}

func keywordFraction(text string, keywords []string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

// LLMAnalysis reports heuristics on a generated answer relative to the
// chunks that fed it.
type LLMAnalysis struct {
	SourcesCited   bool
	ResponseUseful bool
	ChunksRelevant bool
}

// AnalyzeLLMResponse runs three textual heuristics over an LLM response:
// citation phrasing, answer substance, and chunk-content overlap.
func AnalyzeLLMResponse(query string, chunks []string, response string) LLMAnalysis {
	lower := strings.ToLower(response)

	var a LLMAnalysis
	for _, marker := range citationMarkers {
		if strings.Contains(lower, marker) {
			a.SourcesCited = true
			break
		}
	}
	if !a.SourcesCited && bracketCitationPattern.MatchString(response) {
		a.SourcesCited = true
	}

	noAnswer := false
	for _, phrase := range noAnswerPhrases {
		if strings.Contains(lower, phrase) {
			noAnswer = true
			break
		}
	}
	a.ResponseUseful = !noAnswer && len(response) > analyzeMinResponseLen

	for _, c := range chunks {
		if phraseOverlap(c, response) {
			a.ChunksRelevant = true
			break
		}
	}

	return a
}

// phraseOverlap reports whether any 3-word phrase (len > 15 chars) from
// chunk appears verbatim (case-insensitive) in response.
func phraseOverlap(chunk, response string) bool {
	words := strings.Fields(chunk)
	lowerResponse := strings.ToLower(response)
	for i := 0; i+3 <= len(words); i++ {
		phrase := strings.Join(words[i:i+3], " ")
		if len(phrase) > 15 && strings.Contains(lowerResponse, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// Thresholds is the pair of tuned parameters the orchestrator consults.
type Thresholds struct {
	Semantic float64
	Keyword  float64
}

// AutoTuneThresholds adjusts semanticThreshold from the trailing 7-day
// window's mean precision/recall: precision < 0.5 raises it (cap 0.5);
// recall < 0.5 AND precision > 0.7 lowers it (floor 0.15). A no-op when both
// are within [0.5, 0.7].
func (e *Evaluator) AutoTuneThresholds() Thresholds {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().UTC().Add(-autoTuneWindow)
	var precisionSum, recallSum float64
	var n int
	for _, m := range e.history {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		precisionSum += m.Precision
		recallSum += m.Recall
		n++
	}

	if n > 0 {
		meanPrecision := precisionSum / float64(n)
		meanRecall := recallSum / float64(n)

		if meanPrecision < autoTuneLowPrecision {
			e.semanticThreshold += autoTuneStep
			if e.semanticThreshold > autoTuneThresholdCap {
				e.semanticThreshold = autoTuneThresholdCap
			}
		} else if meanRecall < autoTuneLowRecall && meanPrecision > autoTuneHighPrecision {
			e.semanticThreshold -= autoTuneStep
			if e.semanticThreshold < autoTuneThresholdFloor {
				e.semanticThreshold = autoTuneThresholdFloor
			}
		}
	}

	return Thresholds{Semantic: e.semanticThreshold, Keyword: e.keywordThreshold}
}

// Report is the periodic summary generateReport emits.
type Report struct {
	PeriodDays       int
	QueriesEvaluated int
	AvgPrecision     float64
	AvgRecall        float64
	AvgF1            float64
	AvgMRR           float64
	Recommendations  []string
}

// GenerateReport averages metrics over periodDays and attaches textual
// recommendations matching AutoTuneThresholds's own conditions, so operators
// see the reasoning before the next auto-tune acts on it.
func (e *Evaluator) GenerateReport(periodDays int) Report {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -periodDays)
	var precisionSum, recallSum, f1Sum, mrrSum float64
	var n int
	for _, m := range e.history {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		precisionSum += m.Precision
		recallSum += m.Recall
		f1Sum += m.F1
		mrrSum += m.MRR
		n++
	}

	r := Report{PeriodDays: periodDays, QueriesEvaluated: n}
	if n == 0 {
		return r
	}
	r.AvgPrecision = precisionSum / float64(n)
	r.AvgRecall = recallSum / float64(n)
	r.AvgF1 = f1Sum / float64(n)
	r.AvgMRR = mrrSum / float64(n)

	if r.AvgPrecision < autoTuneLowPrecision {
		r.Recommendations = append(r.Recommendations, "precision below 0.5: consider raising semanticThreshold")
	}
	if r.AvgRecall < autoTuneLowRecall && r.AvgPrecision > autoTuneHighPrecision {
		r.Recommendations = append(r.Recommendations, "recall below 0.5 with high precision: consider lowering semanticThreshold")
	}
	return r
}

// RecordFeedback ingests a post-hoc relevance judgment as an implicit
// quality sample: chunksRelevant and responseUseful stand in for
// precision/recall when no explicit ground truth was ever supplied for
// this query, so feedback still moves the auto-tuner. Durable persistence
// of the raw signal is the caller's responsibility (the repository layer).
func (e *Evaluator) RecordFeedback(signal model.FeedbackSignal) {
	precision := 0.0
	if signal.ChunksRelevant {
		precision = 1.0
	}
	recall := precision
	if !signal.ResponseUseful {
		recall *= 0.5
	}

	m := model.RetrievalMetrics{
		Query:     signal.QueryID,
		Precision: precision,
		Recall:    recall,
		Timestamp: signal.Timestamp,
	}
	if precision+recall > 0 {
		m.F1 = 2 * precision * recall / (precision + recall)
	}

	e.mu.Lock()
	e.history = append(e.history, m)
	e.mu.Unlock()
}

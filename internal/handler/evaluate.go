package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/service"
)

// EvaluateRequest is the request body for POST /api/evaluate.
type EvaluateRequest struct {
	Query       string   `json:"query"`
	Retrieved   []string `json:"retrieved"`
	GroundTruth []string `json:"groundTruth,omitempty"`
}

// Evaluate handles POST /api/evaluate: scores one query's retrieved chunks
// against optional ground truth and folds the result into the evaluator's
// rolling history for auto-tuning.
func Evaluate(evaluator *service.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EvaluateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Query == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "query is required"})
			return
		}

		metrics := evaluator.EvaluateRetrieval(req.Query, req.Retrieved, req.GroundTruth)
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: metrics})
	}
}

// FeedbackRequest is the request body for POST /api/feedback.
type FeedbackRequest struct {
	QueryID        string  `json:"queryId"`
	ResponseUseful bool    `json:"responseUseful"`
	SourcesCited   bool    `json:"sourcesCited"`
	ChunksRelevant bool    `json:"chunksRelevant"`
	UserFeedback   *string `json:"userFeedback,omitempty"`
}

// RecordFeedback handles POST /api/feedback: ingests a post-hoc relevance
// judgment for a previously answered query.
func RecordFeedback(evaluator *service.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.QueryID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "queryId is required"})
			return
		}

		signal := model.FeedbackSignal{
			QueryID:        req.QueryID,
			ResponseUseful: req.ResponseUseful,
			SourcesCited:   req.SourcesCited,
			ChunksRelevant: req.ChunksRelevant,
			Timestamp:      time.Now().UTC(),
		}
		if req.UserFeedback != nil {
			sentiment := model.FeedbackUserSentiment(*req.UserFeedback)
			signal.UserFeedback = &sentiment
		}

		evaluator.RecordFeedback(signal)
		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// AutoTune handles POST /api/autotune: re-derives the semantic threshold
// from the trailing 7-day precision/recall window and returns the (possibly
// unchanged) thresholds; the keyword threshold is returned as it is.
func AutoTune(evaluator *service.Evaluator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		thresholds := evaluator.AutoTuneThresholds()
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: thresholds})
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/connexus-ai/ragcore/internal/cache"
	"github.com/connexus-ai/ragcore/internal/service"
)

// QueryRequest is the request body for POST /api/query.
type QueryRequest struct {
	Query           string `json:"query"`
	TopK            int    `json:"topK,omitempty"`
	UseHybridSearch *bool  `json:"useHybridSearch,omitempty"`
	UseReranking    *bool  `json:"useReranking,omitempty"`
	MaxTokens       int    `json:"maxTokens,omitempty"`
	Strategy        string `json:"strategy,omitempty"`
}

// QueryDeps bundles the dependencies of the retrieval endpoint.
type QueryDeps struct {
	Orchestrator *service.RetrievalOrchestrator
	Cache        *cache.QueryCache // optional — nil disables retrieval caching
}

// Query handles POST /api/query: runs hybrid retrieval, reranking, and
// context synthesis for a natural-language question.
func Query(deps QueryDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Query == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "query is required"})
			return
		}

		uid := userID(r)

		if deps.Cache != nil {
			if cached, ok := deps.Cache.Get(uid, req.Query); ok {
				respondJSON(w, http.StatusOK, envelope{Success: true, Data: cached})
				return
			}
		}

		opts := service.RetrieveOptions{
			UserID:          uid,
			TopK:            req.TopK,
			UseHybridSearch: req.UseHybridSearch == nil || *req.UseHybridSearch,
			UseReranking:    req.UseReranking == nil || *req.UseReranking,
			MaxTokens:       req.MaxTokens,
			Strategy:        service.SynthesisStrategy(req.Strategy),
		}

		outcome, err := deps.Orchestrator.Retrieve(r.Context(), req.Query, opts)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: err.Error()})
			return
		}

		if deps.Cache != nil {
			deps.Cache.Set(uid, req.Query, outcome)
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: outcome})
	}
}

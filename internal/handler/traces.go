package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragcore/internal/model"
	"github.com/connexus-ai/ragcore/internal/service"
)

// ListTraces handles GET /api/traces. Supports optional traceType and
// userId query filters plus limit/offset pagination.
func ListTraces(traces *service.TraceQueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		filter := service.TraceFilter{
			TraceType: model.TraceType(q.Get("traceType")),
			UserID:    q.Get("userId"),
		}

		summaries, total, err := traces.ListTraces(r.Context(), filter, service.ListOpts{Limit: limit, Offset: offset})
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to list traces"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
			"traces": summaries,
			"total":  total,
		}})
	}
}

// GetTrace handles GET /api/traces/{traceId}, returning every event in the
// trace group ordered by timestamp ascending.
func GetTrace(traces *service.TraceQueryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		traceID := chi.URLParam(r, "traceId")
		if traceID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "traceId is required"})
			return
		}

		events, err := traces.GetTrace(r.Context(), traceID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to load trace"})
			return
		}
		if len(events) == 0 {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "trace not found"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: events})
	}
}

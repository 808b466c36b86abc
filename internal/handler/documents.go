package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragcore/internal/service"
)

const maxFilenameLength = 255

// IngestRequest is the request body for POST /api/documents.
type IngestRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Strategy string `json:"strategy,omitempty"`
}

// IngestDocument handles POST /api/documents. It chunks, embeds, and stores
// the submitted content, returning the resulting document and trace IDs.
func IngestDocument(docService *service.DocumentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}

		if req.Filename == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "filename is required"})
			return
		}
		if len(req.Filename) > maxFilenameLength {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "filename exceeds 255 character limit"})
			return
		}
		if req.MimeType == "" {
			req.MimeType = "text/plain"
		}

		strategy := service.Strategy(req.Strategy)
		if strategy == "" {
			strategy = service.StrategyAdaptive
		}

		result, err := docService.IngestDocument(r.Context(), req.Content, req.Filename, req.MimeType, service.IngestOptions{
			Strategy: strategy,
			UserID:   userID(r),
		})
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
			return
		}

		respondJSON(w, http.StatusCreated, envelope{Success: true, Data: result})
	}
}

// ListDocuments handles GET /api/documents.
func ListDocuments(docRepo service.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		docs, total, err := docRepo.ListByUser(r.Context(), userID(r), service.ListOpts{Limit: limit, Offset: offset})
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to list documents"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
			"documents": docs,
			"total":     total,
		}})
	}
}

// GetDocument handles GET /api/documents/{id}.
func GetDocument(docRepo service.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		doc, err := docRepo.GetByID(r.Context(), docID)
		if err != nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		caller := userID(r)
		owner := ""
		if doc.UserID != nil {
			owner = *doc.UserID
		}
		if owner != caller {
			respondJSON(w, http.StatusForbidden, envelope{Success: false, Error: "access denied"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: doc})
	}
}

// DeleteDocument handles DELETE /api/documents/{id}. Removes the document
// row and all of its chunks.
func DeleteDocument(docRepo service.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID := chi.URLParam(r, "id")
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		doc, err := docRepo.GetByID(r.Context(), docID)
		if err != nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		caller := userID(r)
		owner := ""
		if doc.UserID != nil {
			owner = *doc.UserID
		}
		if owner != caller {
			respondJSON(w, http.StatusForbidden, envelope{Success: false, Error: "access denied"})
			return
		}

		if err := docRepo.Delete(r.Context(), docID); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to delete document"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

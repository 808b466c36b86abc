package handler

import (
	"encoding/json"
	"net/http"
)

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// userID resolves the requesting user from the X-User-Id header. An empty
// value is a valid anonymous caller, scoped to NULL-owned documents and chunks.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

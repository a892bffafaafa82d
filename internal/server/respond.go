package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskdeck/internal/store"
	"taskdeck/types"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: http.StatusText(status), Message: message})
}

// writeStoreError maps repository sentinels onto HTTP statuses. The 404/403
// distinction is deliberate and must not collapse.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "you do not have access to this resource")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/contentops/promoflow/pkg/api"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// writeDomainError maps orchestrator errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var vErr *api.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, api.ErrSessionNotFound),
		errors.Is(err, api.ErrEventNotFound),
		errors.Is(err, api.ErrBundleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, api.ErrSessionTerminal),
		errors.Is(err, api.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/topicwire/topicwire/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps a backend error kind onto an HTTP status and the uniform
// envelope. Forbidden responses carry no detail beyond "not permitted";
// which patterns exist is never disclosed.
func writeError(w http.ResponseWriter, cid string, err error) {
	var validationErr *domain.ValidationError
	var transportErr *domain.BrokerTransportError

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, domain.APIResponse{Cid: cid, Details: validationErr.Msg})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, domain.APIResponse{Cid: cid, Details: "invalid credentials"})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, domain.APIResponse{Cid: cid, Details: "not permitted"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, domain.APIResponse{Cid: cid, Details: "not found"})
	case errors.As(err, &transportErr):
		slog.Error("broker hand-off failed", "cid", cid, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, domain.APIResponse{Cid: cid, Details: "message could not be forwarded"})
	default:
		slog.Error("request failed", "cid", cid, "error", err)
		writeJSON(w, http.StatusInternalServerError, domain.APIResponse{Cid: cid, Details: "internal error"})
	}
}

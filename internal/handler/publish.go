package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/topicwire/topicwire/internal/backend"
	"github.com/topicwire/topicwire/internal/domain"
	"github.com/topicwire/topicwire/internal/middleware"
)

const maxPayloadSize = 1 << 20 // 1MB

// PublishHandler handles POST /api/v1/pubsub/publish/{topic}.
type PublishHandler struct {
	backend *backend.Backend
}

// NewPublishHandler creates a PublishHandler.
func NewPublishHandler(b *backend.Backend) *PublishHandler {
	return &PublishHandler{backend: b}
}

// Publish authorizes and forwards one message. The response envelope's cid
// echoes the caller's correl_id when one was sent, the request's generated
// correlation id otherwise.
func (h *PublishHandler) Publish(w http.ResponseWriter, r *http.Request) {
	cid := middleware.GetCid(r.Context())
	topic := chi.URLParam(r, "topic")

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadSize)
	var req domain.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, domain.APIResponse{Cid: cid, Details: "payload too large, max 1MB"})
			return
		}
		writeJSON(w, http.StatusBadRequest, domain.APIResponse{Cid: cid, Details: "invalid JSON: " + err.Error()})
		return
	}

	if req.CorrelID != "" {
		cid = req.CorrelID
	}

	principal := middleware.GetPrincipal(r.Context())
	if err := h.backend.Publish(r.Context(), cid, principal.Username, topic, &req); err != nil {
		writeError(w, cid, err)
		return
	}

	writeJSON(w, http.StatusOK, domain.APIResponse{IsOK: true, Cid: cid})
}

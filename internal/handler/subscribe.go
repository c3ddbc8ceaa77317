package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/topicwire/topicwire/internal/backend"
	"github.com/topicwire/topicwire/internal/domain"
	"github.com/topicwire/topicwire/internal/middleware"
)

// SubscribeHandler handles the subscribe/unsubscribe endpoints.
type SubscribeHandler struct {
	backend *backend.Backend
}

// NewSubscribeHandler creates a SubscribeHandler.
func NewSubscribeHandler(b *backend.Backend) *SubscribeHandler {
	return &SubscribeHandler{backend: b}
}

// Subscribe registers the caller's subscription to a topic after
// authorizing the subscribe action.
func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	cid := middleware.GetCid(r.Context())
	topic := chi.URLParam(r, "topic")
	principal := middleware.GetPrincipal(r.Context())

	if err := h.backend.Subscribe(cid, principal.Username, topic); err != nil {
		writeError(w, cid, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.APIResponse{IsOK: true, Cid: cid})
}

// Unsubscribe removes the caller's subscription to a topic.
func (h *SubscribeHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	cid := middleware.GetCid(r.Context())
	topic := chi.URLParam(r, "topic")
	principal := middleware.GetPrincipal(r.Context())

	if err := h.backend.Unsubscribe(cid, principal.Username, topic); err != nil {
		writeError(w, cid, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.APIResponse{IsOK: true, Cid: cid})
}

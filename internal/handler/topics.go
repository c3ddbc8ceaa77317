package handler

import (
	"net/http"

	"github.com/topicwire/topicwire/internal/backend"
	"github.com/topicwire/topicwire/internal/domain"
	"github.com/topicwire/topicwire/internal/middleware"
)

// TopicsHandler serves the read-only topic listing.
type TopicsHandler struct {
	backend *backend.Backend
}

// NewTopicsHandler creates a TopicsHandler.
func NewTopicsHandler(b *backend.Backend) *TopicsHandler {
	return &TopicsHandler{backend: b}
}

type topicsResponse struct {
	domain.APIResponse
	Topics []domain.TopicInfo `json:"topics"`
}

// List returns all known topics with their subscription counts.
func (h *TopicsHandler) List(w http.ResponseWriter, r *http.Request) {
	cid := middleware.GetCid(r.Context())
	writeJSON(w, http.StatusOK, topicsResponse{
		APIResponse: domain.APIResponse{IsOK: true, Cid: cid},
		Topics:      h.backend.Topics(),
	})
}

package handler

import (
	"net/http"
)

// BrokerStatus reports whether the broker connection is up.
type BrokerStatus interface {
	Connected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	broker BrokerStatus
}

// NewHealthHandler creates a HealthHandler. A nil broker means health
// reports only process liveness.
func NewHealthHandler(broker BrokerStatus) *HealthHandler {
	return &HealthHandler{broker: broker}
}

// Health is a liveness probe. Broker connectivity is reported but does not
// fail the probe; a gateway with a flapping broker should not be restarted.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	broker := "disconnected"
	if h.broker != nil && h.broker.Connected() {
		broker = "connected"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "broker": broker})
}

// Ready is a readiness probe that checks the broker connection.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "ready",
		"broker": "connected",
	}
	status := http.StatusOK

	if h.broker == nil || !h.broker.Connected() {
		response["status"] = "not_ready"
		response["broker"] = "disconnected"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, response)
}

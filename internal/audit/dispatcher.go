package audit

import (
	"encoding/json"

	"github.com/topicwire/topicwire/internal/backend"
)

// Dispatcher wraps a control-event dispatcher and records every applied
// event. Failed events are recorded with the error so rejected
// configuration changes stay visible in the trail.
type Dispatcher struct {
	next   *backend.Backend
	logger *Logger
}

// NewDispatcher wraps a backend with audit recording.
func NewDispatcher(next *backend.Backend, logger *Logger) *Dispatcher {
	return &Dispatcher{next: next, logger: logger}
}

// Dispatch forwards the event and records the outcome.
func (d *Dispatcher) Dispatch(eventType backend.EventType, payload json.RawMessage) error {
	var meta struct {
		Cid string `json:"cid"`
	}
	json.Unmarshal(payload, &meta)

	err := d.next.Dispatch(eventType, payload)

	var detail map[string]any
	if err != nil {
		detail = map[string]any{"error": err.Error()}
	}
	d.logger.Log("control-plane", string(eventType), "", meta.Cid, detail)
	return err
}

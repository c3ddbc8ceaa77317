package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/topicwire/topicwire/internal/backend"
)

// Dispatcher routes a decoded control-plane event to its handler.
type Dispatcher interface {
	Dispatch(eventType backend.EventType, payload json.RawMessage) error
}

// ControlConsumer pulls control-plane events from the control stream and
// feeds them to the backend. A malformed or failing event is logged and
// acknowledged anyway: at-least-once, but one bad message never blocks the
// ones behind it.
type ControlConsumer struct {
	stream     jetstream.Stream
	dispatcher Dispatcher
}

// NewControlConsumer creates a ControlConsumer.
func NewControlConsumer(stream jetstream.Stream, dispatcher Dispatcher) *ControlConsumer {
	return &ControlConsumer{stream: stream, dispatcher: dispatcher}
}

// controlEnvelope is the minimal shape every control message shares. The
// full payload goes to the typed handler.
type controlEnvelope struct {
	Type string `json:"type"`
	Cid  string `json:"cid"`
}

// Start consumes control events until the context is cancelled.
func (c *ControlConsumer) Start(ctx context.Context) error {
	consumer, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        "topicwire-ctl",
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		FilterSubjects: []string{ctlSubjectFilter},
	})
	if err != nil {
		return fmt.Errorf("create control consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume control stream: %w", err)
	}

	<-ctx.Done()
	consumeCtx.Stop()
	return nil
}

func (c *ControlConsumer) handle(msg jetstream.Msg) {
	// Ack no matter what: a control event that cannot be applied is dropped,
	// not redelivered forever.
	defer func() {
		if err := msg.Ack(); err != nil {
			slog.Warn("ack control event", "error", err)
		}
	}()

	var envelope controlEnvelope
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		slog.Error("dropping malformed control event", "subject", msg.Subject(), "error", err)
		return
	}
	if envelope.Type == "" {
		slog.Error("dropping control event without type", "subject", msg.Subject(), "cid", envelope.Cid)
		return
	}

	if err := c.dispatcher.Dispatch(backend.EventType(envelope.Type), msg.Data()); err != nil {
		slog.Error("dropping failed control event",
			"type", envelope.Type,
			"cid", envelope.Cid,
			"error", err,
		)
		return
	}

	slog.Debug("control event applied", "type", envelope.Type, "cid", envelope.Cid)
}

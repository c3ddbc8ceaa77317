package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/sony/gobreaker"
	"github.com/topicwire/topicwire/internal/domain"
)

// Publisher hands accepted message envelopes to JetStream. A circuit
// breaker sits in front of the publish so a dead broker fails requests
// fast instead of piling up blocked handlers.
type Publisher struct {
	js      jetstream.JetStream
	breaker *gobreaker.CircuitBreaker
}

// NewPublisher creates a Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jetstream-publish",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("publish breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Publisher{js: js, breaker: breaker}
}

// Publish sends an envelope to the topic's subject. The JetStream ack is
// awaited synchronously so the caller gets either "forwarded" or an
// explicit error, never an ambiguous in-between.
func (p *Publisher) Publish(ctx context.Context, topic string, msg *domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := subjectForTopic(topic)
	ackAny, err := p.breaker.Execute(func() (any, error) {
		return p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msg.MsgID))
	})
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	ack := ackAny.(*jetstream.PubAck)
	slog.Debug("envelope forwarded",
		"msg_id", msg.MsgID,
		"topic", topic,
		"stream", ack.Stream,
		"seq", ack.Sequence,
	)
	return nil
}

// subjectForTopic maps a topic name onto a NATS subject. Topic segments may
// be empty or contain characters NATS subjects cannot, so each segment is
// query-escaped and an empty segment becomes "%" (query escaping never
// emits a bare "%", so the mapping stays unambiguous).
func subjectForTopic(topic string) string {
	segments := strings.Split(topic, ".")
	for i, s := range segments {
		if s == "" {
			segments[i] = "%"
		} else {
			segments[i] = url.QueryEscape(s)
		}
	}
	return msgSubjectPrefix + strings.Join(segments, ".")
}

// Package broker is the NATS JetStream transport: outbound message
// publishing for accepted publishes and the inbound control-plane consumer.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// MsgStreamName holds published topic messages.
	MsgStreamName = "TOPICWIRE_MSGS"
	// CtlStreamName holds control-plane events.
	CtlStreamName = "TOPICWIRE_CTL"

	msgSubjectPrefix = "pubsub.topic."
	ctlSubjectFilter = "pubsub.ctl.>"
)

// Client wraps a NATS connection and JetStream.
type Client struct {
	conn      *nats.Conn
	js        jetstream.JetStream
	ctlStream jetstream.Stream
}

// Connect establishes a connection to NATS and initializes JetStream.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	return &Client{conn: nc, js: js}, nil
}

// EnsureStreams creates or updates the message and control streams.
func (c *Client) EnsureStreams(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      MsgStreamName,
		Subjects:  []string{msgSubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1 << 30, // 1GB
		Replicas:  1,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("create message stream: %w", err)
	}
	slog.Info("JetStream stream ready", "name", MsgStreamName)

	ctlStream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CtlStreamName,
		Subjects:  []string{ctlSubjectFilter},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create control stream: %w", err)
	}
	c.ctlStream = ctlStream
	slog.Info("JetStream stream ready", "name", CtlStreamName)

	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// CtlStream returns the control-plane stream.
func (c *Client) CtlStream() jetstream.Stream {
	return c.ctlStream
}

// Connected reports whether the underlying connection is up.
func (c *Client) Connected() bool {
	return c.conn.IsConnected()
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	c.conn.Drain()
}

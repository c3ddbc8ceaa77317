package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PublishRequest is the request body for POST /api/v1/pubsub/publish/{topic}.
type PublishRequest struct {
	Data       json.RawMessage `json:"data"`
	Priority   *int            `json:"priority,omitempty"`
	Expiration *int64          `json:"expiration,omitempty"`
	CorrelID   string          `json:"correl_id,omitempty"`
	InReplyTo  string          `json:"in_reply_to,omitempty"`
}

// Message is the normalized envelope handed to the broker transport after a
// publish has been authorized. Optional fields are omitted when the caller
// did not send them; the expiration unit is caller-defined and passed
// through unchanged.
type Message struct {
	MsgID      string          `json:"msg_id"`
	Topic      string          `json:"topic"`
	Data       json.RawMessage `json:"data"`
	Priority   *int            `json:"priority,omitempty"`
	Expiration *int64          `json:"expiration,omitempty"`
	CorrelID   string          `json:"correl_id,omitempty"`
	InReplyTo  string          `json:"in_reply_to,omitempty"`
	PubTime    time.Time       `json:"pub_time"`
	Publisher  string          `json:"publisher,omitempty"`
}

// NewMessage builds an envelope from an accepted publish request.
func NewMessage(topic, publisher string, req *PublishRequest) *Message {
	return &Message{
		MsgID:      generateMsgID(),
		Topic:      topic,
		Data:       req.Data,
		Priority:   req.Priority,
		Expiration: req.Expiration,
		CorrelID:   req.CorrelID,
		InReplyTo:  req.InReplyTo,
		PubTime:    time.Now().UTC(),
		Publisher:  publisher,
	}
}

func generateMsgID() string {
	return "msg_" + uuid.NewString()
}

// APIResponse is the uniform response envelope for every ingress endpoint.
// Cid always echoes the request's correlation id, also on failure.
type APIResponse struct {
	IsOK    bool   `json:"is_ok"`
	Cid     string `json:"cid"`
	Details string `json:"details,omitempty"`
}

// TopicInfo is the read-only diagnostic view of one topic.
type TopicInfo struct {
	Name      string `json:"name"`
	SubCount  int    `json:"sub_count"`
	CreatedAt string `json:"created_at,omitempty"`
}

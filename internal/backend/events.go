package backend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/topicwire/topicwire/internal/matcher"
)

// EventType identifies a control-plane event.
type EventType string

const (
	EventSecurityBasicAuthCreate         EventType = "SECURITY_BASIC_AUTH_CREATE"
	EventSecurityBasicAuthEdit           EventType = "SECURITY_BASIC_AUTH_EDIT"
	EventSecurityBasicAuthChangePassword EventType = "SECURITY_BASIC_AUTH_CHANGE_PASSWORD"
	EventSecurityBasicAuthDelete         EventType = "SECURITY_BASIC_AUTH_DELETE"
	EventPermissionCreate                EventType = "PUBSUB_PERMISSION_CREATE"
	EventPermissionEdit                  EventType = "PUBSUB_PERMISSION_EDIT"
	EventPermissionDelete                EventType = "PUBSUB_PERMISSION_DELETE"
	EventSubscriptionCreate              EventType = "PUBSUB_SUBSCRIPTION_CREATE"
	EventSubscriptionEdit                EventType = "PUBSUB_SUBSCRIPTION_EDIT"
	EventSubscriptionDelete              EventType = "PUBSUB_SUBSCRIPTION_DELETE"
	EventTopicCreate                     EventType = "PUBSUB_TOPIC_CREATE"
	EventTopicEdit                       EventType = "PUBSUB_TOPIC_EDIT"
	EventTopicDelete                     EventType = "PUBSUB_TOPIC_DELETE"
)

// Control event payloads. Unknown extra fields in incoming messages are
// ignored by json.Unmarshal.

type SecurityBasicAuthCreate struct {
	Cid      string `json:"cid"`
	Username string `json:"username"`
	Password string `json:"password"`
	SecName  string `json:"sec_name"`
}

type SecurityBasicAuthEdit struct {
	Cid                string `json:"cid"`
	HasSecNameChanged  bool   `json:"has_sec_name_changed"`
	HasUsernameChanged bool   `json:"has_username_changed"`
	OldSecName         string `json:"old_sec_name"`
	NewSecName         string `json:"new_sec_name"`
	OldUsername        string `json:"old_username"`
	NewUsername        string `json:"new_username"`
}

type SecurityBasicAuthChangePassword struct {
	Cid      string `json:"cid"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type SecurityBasicAuthDelete struct {
	Cid      string `json:"cid"`
	Username string `json:"username"`
	SecName  string `json:"sec_name"`
}

type PermissionChange struct {
	Cid        string `json:"cid"`
	Pattern    string `json:"pattern"` // newline-joined pattern list
	AccessType string `json:"access_type"`
	Username   string `json:"username"`
}

type PermissionDelete struct {
	Cid      string `json:"cid"`
	Username string `json:"username"`
}

type SubscriptionChange struct {
	Cid           string   `json:"cid"`
	SubKey        string   `json:"sub_key"`
	SecName       string   `json:"sec_name"`
	TopicNameList []string `json:"topic_name_list"`
	DeliveryType  string   `json:"delivery_type,omitempty"`
	PushTarget    string   `json:"push_target,omitempty"`
}

type SubscriptionDelete struct {
	Cid     string `json:"cid"`
	SubKey  string `json:"sub_key"`
	SecName string `json:"sec_name"`
}

type TopicCreate struct {
	Cid       string `json:"cid"`
	TopicName string `json:"topic_name"`
}

type TopicEdit struct {
	Cid          string `json:"cid"`
	OldTopicName string `json:"old_topic_name"`
	NewTopicName string `json:"new_topic_name"`
}

type TopicDelete struct {
	Cid       string `json:"cid"`
	TopicName string `json:"topic_name"`
}

// eventHandlers maps an event type to a decoder+handler pair. Adding a new
// control event means adding a payload struct above and one entry here.
var eventHandlers = map[EventType]func(*Backend, json.RawMessage) error{
	EventSecurityBasicAuthCreate:         typed((*Backend).OnSecurityBasicAuthCreate),
	EventSecurityBasicAuthEdit:           typed((*Backend).OnSecurityBasicAuthEdit),
	EventSecurityBasicAuthChangePassword: typed((*Backend).OnSecurityBasicAuthChangePassword),
	EventSecurityBasicAuthDelete:         typed((*Backend).OnSecurityBasicAuthDelete),
	EventPermissionCreate:                typed((*Backend).OnPermissionCreate),
	EventPermissionEdit:                  typed((*Backend).OnPermissionEdit),
	EventPermissionDelete:                typed((*Backend).OnPermissionDelete),
	EventSubscriptionCreate:              typed((*Backend).OnSubscriptionCreate),
	EventSubscriptionEdit:                typed((*Backend).OnSubscriptionEdit),
	EventSubscriptionDelete:              typed((*Backend).OnSubscriptionDelete),
	EventTopicCreate:                     typed((*Backend).OnTopicCreate),
	EventTopicEdit:                       typed((*Backend).OnTopicEdit),
	EventTopicDelete:                     typed((*Backend).OnTopicDelete),
}

func typed[T any](handle func(*Backend, T) error) func(*Backend, json.RawMessage) error {
	return func(b *Backend, payload json.RawMessage) error {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		return handle(b, msg)
	}
}

// Dispatch routes a raw control-plane payload to the handler for its event
// type. An unknown type or a handler failure is returned to the caller,
// which logs and drops the event; one bad message never stops the stream.
func (b *Backend) Dispatch(eventType EventType, payload json.RawMessage) error {
	handler, ok := eventHandlers[eventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	return handler(b, payload)
}

// OnSecurityBasicAuthCreate inserts a credential, first-writer-wins: a
// later create for an existing username is ignored and the original
// password is kept. Empty passwords create nothing.
func (b *Backend) OnSecurityBasicAuthCreate(msg SecurityBasicAuthCreate) error {
	if msg.Password == "" {
		slog.Warn("ignoring security create with empty password", "cid", msg.Cid, "username", msg.Username)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.users[msg.Username]; ok {
		slog.Info("credential already exists, keeping original", "cid", msg.Cid, "username", msg.Username)
		return nil
	}
	b.users[msg.Username] = Credential{SecName: msg.SecName, Password: msg.Password}

	if perms, ok := b.secPerms[msg.SecName]; ok && !b.matcher.HasClient(msg.Username) {
		if err := b.matcher.SetPermissions(msg.Username, perms); err != nil {
			slog.Warn("seeding permissions failed", "cid", msg.Cid, "username", msg.Username, "error", err)
		} else {
			slog.Info("permissions seeded from security definition", "cid", msg.Cid, "username", msg.Username, "sec_name", msg.SecName, "count", len(perms))
		}
	}

	slog.Info("credential created", "cid", msg.Cid, "username", msg.Username, "sec_name", msg.SecName)
	return nil
}

// OnSecurityBasicAuthEdit renames a username and/or its security definition
// name, moving the credential, the matcher client and the subscription
// index entries along with it.
func (b *Backend) OnSecurityBasicAuthEdit(msg SecurityBasicAuthEdit) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.HasUsernameChanged {
		cred, ok := b.users[msg.OldUsername]
		if !ok {
			slog.Warn("security edit for unknown username", "cid", msg.Cid, "username", msg.OldUsername)
			return nil
		}
		delete(b.users, msg.OldUsername)
		b.users[msg.NewUsername] = cred
		b.matcher.ChangeClientID(msg.OldUsername, msg.NewUsername)
	}

	if msg.HasSecNameChanged {
		username := msg.NewUsername
		if !msg.HasUsernameChanged {
			username = msg.OldUsername
		}
		if cred, ok := b.users[username]; ok && cred.SecName == msg.OldSecName {
			cred.SecName = msg.NewSecName
			b.users[username] = cred
		}
		for _, subs := range b.subsByTopic {
			if sub, ok := subs[msg.OldSecName]; ok {
				delete(subs, msg.OldSecName)
				sub.SecName = msg.NewSecName
				subs[msg.NewSecName] = sub
			}
		}
	}

	slog.Info("credential updated",
		"cid", msg.Cid,
		"username_changed", msg.HasUsernameChanged,
		"sec_name_changed", msg.HasSecNameChanged,
	)
	return nil
}

// OnSecurityBasicAuthChangePassword updates an existing credential's
// password. Empty passwords and unknown usernames are ignored.
func (b *Backend) OnSecurityBasicAuthChangePassword(msg SecurityBasicAuthChangePassword) error {
	if msg.Password == "" {
		slog.Warn("ignoring empty password change", "cid", msg.Cid, "username", msg.Username)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cred, ok := b.users[msg.Username]
	if !ok {
		slog.Warn("password change for unknown username", "cid", msg.Cid, "username", msg.Username)
		return nil
	}
	cred.Password = msg.Password
	b.users[msg.Username] = cred
	slog.Info("password changed", "cid", msg.Cid, "username", msg.Username)
	return nil
}

// OnSecurityBasicAuthDelete removes a credential and the matching matcher
// client.
func (b *Backend) OnSecurityBasicAuthDelete(msg SecurityBasicAuthDelete) error {
	b.mu.Lock()
	delete(b.users, msg.Username)
	b.mu.Unlock()

	b.matcher.RemoveClient(msg.Username)
	slog.Info("credential deleted", "cid", msg.Cid, "username", msg.Username)
	return nil
}

// OnPermissionCreate sets a client's permission set from the event's
// newline-joined pattern list. Events for usernames without a credential
// are ignored.
func (b *Backend) OnPermissionCreate(msg PermissionChange) error {
	return b.applyPermissionChange(msg)
}

// OnPermissionEdit replaces a client's permission set wholesale.
func (b *Backend) OnPermissionEdit(msg PermissionChange) error {
	return b.applyPermissionChange(msg)
}

func (b *Backend) applyPermissionChange(msg PermissionChange) error {
	if !b.HasUser(msg.Username) {
		slog.Warn("permission change for unknown username", "cid", msg.Cid, "username", msg.Username)
		return nil
	}

	perms := parsePatternLines(msg.Pattern, matcher.AccessType(msg.AccessType))
	if err := b.matcher.SetPermissions(msg.Username, perms); err != nil {
		return fmt.Errorf("set permissions for %q: %w", msg.Username, err)
	}

	slog.Info("permissions updated", "cid", msg.Cid, "username", msg.Username, "count", len(perms))
	return nil
}

// parsePatternLines expands a newline-joined pattern field into individual
// permissions. Blank lines are skipped. A line may carry an explicit
// "pub=" or "sub=" direction prefix (the persisted form); a bare line uses
// the event's access type.
func parsePatternLines(joined string, access matcher.AccessType) []matcher.Permission {
	var perms []matcher.Permission
	for _, line := range strings.Split(joined, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "pub="):
			perms = append(perms, matcher.Permission{Pattern: line[len("pub="):], Access: matcher.AccessPublisher})
		case strings.HasPrefix(line, "sub="):
			perms = append(perms, matcher.Permission{Pattern: line[len("sub="):], Access: matcher.AccessSubscriber})
		default:
			perms = append(perms, matcher.Permission{Pattern: line, Access: access})
		}
	}
	return perms
}

// OnPermissionDelete drops all of a client's permissions.
func (b *Backend) OnPermissionDelete(msg PermissionDelete) error {
	b.matcher.RemoveClient(msg.Username)
	slog.Info("permissions deleted", "cid", msg.Cid, "username", msg.Username)
	return nil
}

// OnSubscriptionCreate registers one subscription per listed topic, all
// sharing the event's sub_key, creating topics that do not exist yet.
func (b *Backend) OnSubscriptionCreate(msg SubscriptionChange) error {
	if len(msg.TopicNameList) == 0 {
		return fmt.Errorf("subscription %q references no topics", msg.SubKey)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, topic := range msg.TopicNameList {
		b.ensureTopicLocked(topic)
		b.subsByTopic[topic][msg.SecName] = &Subscription{
			TopicName:    topic,
			SecName:      msg.SecName,
			SubKey:       msg.SubKey,
			DeliveryType: msg.DeliveryType,
			PushTarget:   msg.PushTarget,
		}
	}

	slog.Info("subscription created", "cid", msg.Cid, "sub_key", msg.SubKey, "sec_name", msg.SecName, "topics", len(msg.TopicNameList))
	return nil
}

// OnSubscriptionEdit replaces a subscription's topic set: entries under the
// old topics are removed, the new list is registered under the same key.
func (b *Backend) OnSubscriptionEdit(msg SubscriptionChange) error {
	if len(msg.TopicNameList) == 0 {
		return fmt.Errorf("subscription %q references no topics", msg.SubKey)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeSubscriptionLocked(msg.SecName, msg.SubKey)
	for _, topic := range msg.TopicNameList {
		b.ensureTopicLocked(topic)
		b.subsByTopic[topic][msg.SecName] = &Subscription{
			TopicName:    topic,
			SecName:      msg.SecName,
			SubKey:       msg.SubKey,
			DeliveryType: msg.DeliveryType,
			PushTarget:   msg.PushTarget,
		}
	}

	slog.Info("subscription updated", "cid", msg.Cid, "sub_key", msg.SubKey, "sec_name", msg.SecName, "topics", len(msg.TopicNameList))
	return nil
}

// OnSubscriptionDelete removes a subscription from every topic it appears
// under.
func (b *Backend) OnSubscriptionDelete(msg SubscriptionDelete) error {
	b.mu.Lock()
	b.removeSubscriptionLocked(msg.SecName, msg.SubKey)
	b.mu.Unlock()

	slog.Info("subscription deleted", "cid", msg.Cid, "sub_key", msg.SubKey, "sec_name", msg.SecName)
	return nil
}

func (b *Backend) removeSubscriptionLocked(secName, subKey string) {
	for topic, subs := range b.subsByTopic {
		sub, ok := subs[secName]
		if !ok {
			continue
		}
		if subKey != "" && sub.SubKey != subKey {
			continue
		}
		delete(subs, secName)
		if len(subs) == 0 {
			delete(b.subsByTopic, topic)
		}
	}
}

// OnTopicCreate registers a topic.
func (b *Backend) OnTopicCreate(msg TopicCreate) error {
	b.mu.Lock()
	b.ensureTopicLocked(msg.TopicName)
	b.mu.Unlock()

	slog.Info("topic created", "cid", msg.Cid, "topic", msg.TopicName)
	return nil
}

// OnTopicEdit renames a topic, re-keying its subscriptions and updating
// every client's exact matcher patterns. Renaming an unknown topic is a
// no-op.
func (b *Backend) OnTopicEdit(msg TopicEdit) error {
	b.mu.Lock()

	created, ok := b.topics[msg.OldTopicName]
	if !ok {
		b.mu.Unlock()
		slog.Warn("topic edit for unknown topic", "cid", msg.Cid, "topic", msg.OldTopicName)
		return nil
	}

	delete(b.topics, msg.OldTopicName)
	b.topics[msg.NewTopicName] = created

	if subs, ok := b.subsByTopic[msg.OldTopicName]; ok {
		delete(b.subsByTopic, msg.OldTopicName)
		for _, sub := range subs {
			sub.TopicName = msg.NewTopicName
		}
		b.subsByTopic[msg.NewTopicName] = subs
	}
	b.mu.Unlock()

	for _, clientID := range b.matcher.ClientIDs() {
		b.matcher.RenameTopic(clientID, msg.OldTopicName, msg.NewTopicName)
	}

	slog.Info("topic renamed", "cid", msg.Cid, "old", msg.OldTopicName, "new", msg.NewTopicName)
	return nil
}

// OnTopicDelete drops a topic, its subscriptions and every client's exact
// matcher patterns for it. Deleting an unknown topic is a no-op.
func (b *Backend) OnTopicDelete(msg TopicDelete) error {
	b.mu.Lock()

	if _, ok := b.topics[msg.TopicName]; !ok {
		b.mu.Unlock()
		slog.Warn("topic delete for unknown topic", "cid", msg.Cid, "topic", msg.TopicName)
		return nil
	}
	delete(b.topics, msg.TopicName)
	delete(b.subsByTopic, msg.TopicName)
	b.mu.Unlock()

	for _, clientID := range b.matcher.ClientIDs() {
		b.matcher.DeleteTopic(clientID, msg.TopicName)
	}

	slog.Info("topic deleted", "cid", msg.Cid, "topic", msg.TopicName)
	return nil
}

// Package backend is the authorization and routing decision point between
// the REST ingress and the broker transport. It owns the credential store,
// the subscription index and the pattern matcher; the REST handlers read
// that state and the control-plane handlers are its only writers.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/topicwire/topicwire/internal/domain"
	"github.com/topicwire/topicwire/internal/matcher"
)

// BrokerClient is the outbound message transport. Delivery past the
// hand-off is its responsibility, not this package's.
type BrokerClient interface {
	Publish(ctx context.Context, topic string, msg *domain.Message) error
}

// Credential is one username's authentication record.
type Credential struct {
	SecName  string
	Password string
}

// Subscription records one subscriber's interest in one topic.
type Subscription struct {
	TopicName    string `json:"topic_name"`
	SecName      string `json:"sec_name"`
	SubKey       string `json:"sub_key"`
	DeliveryType string `json:"delivery_type,omitempty"`
	PushTarget   string `json:"push_target,omitempty"`
}

// Backend holds all in-memory pub/sub state for the process lifetime.
type Backend struct {
	broker  BrokerClient
	matcher *matcher.PatternMatcher

	mu          sync.RWMutex
	users       map[string]Credential                // username -> credential
	topics      map[string]time.Time                 // topic name -> creation time
	subsByTopic map[string]map[string]*Subscription  // topic name -> sec name -> subscription
	secPerms    map[string][]matcher.Permission      // sec name -> seeded permission set
}

// New creates a Backend with empty state.
func New(broker BrokerClient) *Backend {
	return &Backend{
		broker:      broker,
		matcher:     matcher.New(),
		users:       make(map[string]Credential),
		topics:      make(map[string]time.Time),
		subsByTopic: make(map[string]map[string]*Subscription),
		secPerms:    make(map[string][]matcher.Permission),
	}
}

// SeedSecurityPermissions registers the permission set synced for a security
// definition from the composed `pub=`/`sub=` pattern text. Existing and
// future credentials referencing the definition start with this set;
// explicit permission events replace it.
func (b *Backend) SeedSecurityPermissions(secName, pattern string) error {
	perms := parsePatternLines(pattern, matcher.AccessPublisherSubscriber)

	b.mu.Lock()
	b.secPerms[secName] = perms
	var usernames []string
	for username, cred := range b.users {
		if cred.SecName == secName {
			usernames = append(usernames, username)
		}
	}
	b.mu.Unlock()

	for _, username := range usernames {
		if b.matcher.HasClient(username) {
			continue
		}
		if err := b.matcher.SetPermissions(username, perms); err != nil {
			return fmt.Errorf("seed permissions for %q: %w", username, err)
		}
	}
	return nil
}

// Matcher exposes the pattern matcher, e.g. for seeding permissions at
// startup.
func (b *Backend) Matcher() *matcher.PatternMatcher {
	return b.matcher
}

// Authenticate checks a username/password pair against the credential store
// and returns the security definition name on success. The check is
// stateless; there is no lockout or backoff.
func (b *Backend) Authenticate(username, password string) (string, error) {
	b.mu.RLock()
	cred, ok := b.users[username]
	b.mu.RUnlock()

	if !ok || cred.Password != password {
		return "", domain.ErrUnauthorized
	}
	return cred.SecName, nil
}

// Evaluate reports whether the client may perform the operation on the
// topic. It never errors; a non-matching or unknown input yields a not-OK
// result.
func (b *Backend) Evaluate(clientID, topic string, op matcher.Operation) matcher.Result {
	return b.matcher.Evaluate(clientID, topic, op)
}

// Publish authorizes a publish request and, on success, hands the message
// envelope to the broker transport. Authorization failures surface as
// ErrForbidden before anything reaches the broker; a failed hand-off
// surfaces as a BrokerTransportError and is never retried here.
func (b *Backend) Publish(ctx context.Context, cid, username, topic string, req *domain.PublishRequest) error {
	if len(req.Data) == 0 {
		return &domain.ValidationError{Msg: "data is required"}
	}

	result := b.matcher.Evaluate(username, topic, matcher.OperationPublish)
	if !result.OK {
		slog.Info("publish denied", "cid", cid, "username", username, "topic", topic)
		return domain.ErrForbidden
	}

	msg := domain.NewMessage(topic, username, req)
	if err := b.broker.Publish(ctx, topic, msg); err != nil {
		return &domain.BrokerTransportError{Err: err}
	}

	slog.Info("message published",
		"cid", cid,
		"msg_id", msg.MsgID,
		"topic", topic,
		"username", username,
		"matched_pattern", result.MatchedPattern,
	)
	return nil
}

// Subscribe authorizes a subscribe request and registers the caller's
// subscription in the index, creating the topic if needed.
func (b *Backend) Subscribe(cid, username, topic string) error {
	result := b.matcher.Evaluate(username, topic, matcher.OperationSubscribe)
	if !result.OK {
		slog.Info("subscribe denied", "cid", cid, "username", username, "topic", topic)
		return domain.ErrForbidden
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cred, ok := b.users[username]
	if !ok {
		return domain.ErrUnauthorized
	}

	b.ensureTopicLocked(topic)
	existing := b.subsByTopic[topic][cred.SecName]
	subKey := "sk." + uuid.NewString()
	if existing != nil {
		subKey = existing.SubKey
	}
	b.subsByTopic[topic][cred.SecName] = &Subscription{
		TopicName:    topic,
		SecName:      cred.SecName,
		SubKey:       subKey,
		DeliveryType: "rest",
	}

	slog.Info("subscription registered", "cid", cid, "topic", topic, "sec_name", cred.SecName, "sub_key", subKey)
	return nil
}

// Unsubscribe removes the caller's subscription to a topic.
func (b *Backend) Unsubscribe(cid, username, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cred, ok := b.users[username]
	if !ok {
		return domain.ErrUnauthorized
	}

	subs, ok := b.subsByTopic[topic]
	if !ok {
		return domain.ErrNotFound
	}
	if _, ok := subs[cred.SecName]; !ok {
		return domain.ErrNotFound
	}

	delete(subs, cred.SecName)
	if len(subs) == 0 {
		delete(b.subsByTopic, topic)
	}

	slog.Info("subscription removed", "cid", cid, "topic", topic, "sec_name", cred.SecName)
	return nil
}

// Topics returns a diagnostic view of all known topics with their
// subscription counts, sorted by name.
func (b *Backend) Topics() []domain.TopicInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.TopicInfo, 0, len(b.topics))
	for name, created := range b.topics {
		out = append(out, domain.TopicInfo{
			Name:      name,
			SubCount:  len(b.subsByTopic[name]),
			CreatedAt: created.UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SubscriptionsForTopic returns the subscriptions fanning out from one
// topic. The result is a copy; mutating it does not affect the index.
func (b *Backend) SubscriptionsForTopic(topic string) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subsByTopic[topic]
	out := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SecName < out[j].SecName })
	return out
}

// HasTopic reports whether a topic is registered.
func (b *Backend) HasTopic(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.topics[name]
	return ok
}

// HasUser reports whether a username has a credential.
func (b *Backend) HasUser(username string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.users[username]
	return ok
}

func (b *Backend) ensureTopicLocked(name string) {
	if _, ok := b.topics[name]; !ok {
		b.topics[name] = time.Now()
	}
	if _, ok := b.subsByTopic[name]; !ok {
		b.subsByTopic[name] = make(map[string]*Subscription)
	}
}

// Package matcher decides whether a client may publish or subscribe to a
// topic, based on per-client permission patterns.
//
// Patterns are dot-separated segments. A segment is a literal, "*" (matches
// exactly one segment, including an empty one) or "**" (matches zero or more
// consecutive segments). When several patterns match the same topic, the most
// specific one wins: fewest wildcard segments first, then fewest "**"
// segments, then registration order.
package matcher

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MaxPatternLength is the maximum accepted pattern length in characters.
const MaxPatternLength = 200

// reservedNames are namespaces for internal control topics and credentials.
// A pattern whose first segment equals one of these is rejected.
var reservedNames = []string{"zato", "zpsk"}

// AccessType says what a pattern grants.
type AccessType string

const (
	AccessPublisher           AccessType = "publisher"
	AccessSubscriber          AccessType = "subscriber"
	AccessPublisherSubscriber AccessType = "publisher-subscriber"
)

// Operation is a requested action on a topic.
type Operation string

const (
	OperationPublish   Operation = "publish"
	OperationSubscribe Operation = "subscribe"
)

// Permission pairs a pattern with the access it grants.
type Permission struct {
	Pattern string
	Access  AccessType
}

// Result is the outcome of a single evaluation. It is produced fresh on
// every call and never stored.
type Result struct {
	OK             bool
	ClientID       string
	Topic          string
	Operation      Operation
	MatchedPattern string
	Reason         string
}

// ValidationError reports a pattern rejected at registration time.
type ValidationError struct {
	Pattern string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pattern %q %s", e.Pattern, e.Message)
}

type compiledPattern struct {
	text      string
	segments  []string
	wildcards int // "*" and "**" segments
	multis    int // "**" segments
	order     int // registration order, ties broken first-registered
}

type clientPermissions struct {
	pub []compiledPattern
	sub []compiledPattern
}

// PatternMatcher holds compiled permission sets for all known clients.
// All methods are safe for concurrent use.
type PatternMatcher struct {
	mu      sync.RWMutex
	clients map[string]*clientPermissions
}

// New creates an empty PatternMatcher.
func New() *PatternMatcher {
	return &PatternMatcher{
		clients: make(map[string]*clientPermissions),
	}
}

// ValidatePattern checks a single pattern against the registration rules.
func ValidatePattern(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return &ValidationError{Pattern: pattern, Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxPatternLength)}
	}
	for _, c := range pattern {
		if c > 127 {
			return &ValidationError{Pattern: pattern, Message: "must contain only ASCII characters"}
		}
	}
	first := pattern
	if idx := strings.IndexByte(pattern, '.'); idx >= 0 {
		first = pattern[:idx]
	}
	for _, name := range reservedNames {
		if strings.EqualFold(first, name) {
			return &ValidationError{Pattern: pattern, Message: fmt.Sprintf("uses the reserved name %q", name)}
		}
	}
	return nil
}

// AddClient registers a client with the given permissions, replacing any
// prior set. The call is atomic: if any pattern fails validation, the
// client's existing permissions are left untouched.
func (m *PatternMatcher) AddClient(clientID string, permissions []Permission) error {
	compiled, err := compilePermissions(permissions)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[clientID] = compiled
	return nil
}

// SetPermissions replaces a client's permission set, creating the client if
// it does not exist yet. Same atomicity as AddClient.
func (m *PatternMatcher) SetPermissions(clientID string, permissions []Permission) error {
	return m.AddClient(clientID, permissions)
}

// RemoveClient drops a client and all its permissions.
func (m *PatternMatcher) RemoveClient(clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, clientID)
}

// ChangeClientID moves a client's permissions to a new identifier.
func (m *PatternMatcher) ChangeClientID(oldID, newID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perms, ok := m.clients[oldID]
	if !ok {
		return
	}
	delete(m.clients, oldID)
	m.clients[newID] = perms
}

// HasClient reports whether a client is registered.
func (m *PatternMatcher) HasClient(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[clientID]
	return ok
}

// ClientCount returns the number of registered clients.
func (m *PatternMatcher) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// ClientIDs returns the identifiers of all registered clients.
func (m *PatternMatcher) ClientIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RenameTopic updates a client's exact, wildcard-free patterns that equal
// oldTopic to newTopic. Wildcard patterns are left alone.
func (m *PatternMatcher) RenameTopic(clientID, oldTopic, newTopic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perms, ok := m.clients[clientID]
	if !ok {
		return
	}
	renameExact(perms.pub, oldTopic, newTopic)
	renameExact(perms.sub, oldTopic, newTopic)
}

// DeleteTopic removes a client's exact, wildcard-free patterns that equal
// topic.
func (m *PatternMatcher) DeleteTopic(clientID, topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perms, ok := m.clients[clientID]
	if !ok {
		return
	}
	perms.pub = dropExact(perms.pub, topic)
	perms.sub = dropExact(perms.sub, topic)
}

// Evaluate reports whether a client may perform an operation on a topic.
// It never returns an error: unknown clients, unknown operations and
// non-matching topics all yield a not-OK result with a reason.
func (m *PatternMatcher) Evaluate(clientID, topic string, op Operation) Result {
	result := Result{ClientID: clientID, Topic: topic, Operation: op}

	// The lock covers the whole match loop: RenameTopic and DeleteTopic
	// rewrite the candidate slices in place under the write lock.
	m.mu.RLock()
	defer m.mu.RUnlock()

	perms, ok := m.clients[clientID]
	if !ok {
		result.Reason = "client not found"
		return result
	}

	var candidates []compiledPattern
	switch op {
	case OperationPublish:
		candidates = perms.pub
	case OperationSubscribe:
		candidates = perms.sub
	default:
		result.Reason = fmt.Sprintf("invalid operation: %s", op)
		return result
	}

	segments := strings.Split(topic, ".")
	for _, cp := range candidates {
		if matchSegments(cp.segments, segments) {
			result.OK = true
			result.MatchedPattern = cp.text
			return result
		}
	}

	result.Reason = "no matching pattern found"
	return result
}

func compilePermissions(permissions []Permission) (*clientPermissions, error) {
	for _, p := range permissions {
		if err := ValidatePattern(p.Pattern); err != nil {
			return nil, err
		}
	}

	perms := &clientPermissions{}
	for i, p := range permissions {
		cp := compilePattern(p.Pattern, i)
		switch p.Access {
		case AccessPublisher:
			perms.pub = append(perms.pub, cp)
		case AccessSubscriber:
			perms.sub = append(perms.sub, cp)
		case AccessPublisherSubscriber:
			perms.pub = append(perms.pub, cp)
			perms.sub = append(perms.sub, cp)
		}
	}

	// Most specific first so Evaluate can stop at the first match.
	sortBySpecificity(perms.pub)
	sortBySpecificity(perms.sub)
	return perms, nil
}

func compilePattern(pattern string, order int) compiledPattern {
	segments := strings.Split(pattern, ".")
	cp := compiledPattern{text: pattern, segments: segments, order: order}
	for _, s := range segments {
		switch s {
		case "*":
			cp.wildcards++
		case "**":
			cp.wildcards++
			cp.multis++
		}
	}
	return cp
}

func sortBySpecificity(patterns []compiledPattern) {
	sort.SliceStable(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.wildcards != b.wildcards {
			return a.wildcards < b.wildcards
		}
		if a.multis != b.multis {
			return a.multis < b.multis
		}
		return a.order < b.order
	})
}

// matchSegments walks pattern and topic segments in step. "**" backtracks:
// it tries to consume zero segments first, then one more at a time, so
// "**.admin.**" matches "admin", "x.admin.y" and "x.y.admin".
func matchSegments(pattern, topic []string) bool {
	if len(pattern) == 0 {
		return len(topic) == 0
	}
	switch pattern[0] {
	case "**":
		for skip := 0; skip <= len(topic); skip++ {
			if matchSegments(pattern[1:], topic[skip:]) {
				return true
			}
		}
		return false
	case "*":
		if len(topic) == 0 {
			return false
		}
		return matchSegments(pattern[1:], topic[1:])
	default:
		if len(topic) == 0 || topic[0] != pattern[0] {
			return false
		}
		return matchSegments(pattern[1:], topic[1:])
	}
}

func renameExact(patterns []compiledPattern, oldTopic, newTopic string) {
	for i := range patterns {
		if patterns[i].wildcards == 0 && patterns[i].text == oldTopic {
			patterns[i] = compilePattern(newTopic, patterns[i].order)
		}
	}
}

func dropExact(patterns []compiledPattern, topic string) []compiledPattern {
	kept := patterns[:0]
	for _, cp := range patterns {
		if cp.wildcards == 0 && cp.text == topic {
			continue
		}
		kept = append(kept, cp)
	}
	return kept
}

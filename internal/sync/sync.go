// Package sync reconciles a declarative list of desired pub/sub permission
// definitions against the persisted set, producing create and update sets.
// Running it twice with the same input converges: the second run creates
// nothing and refreshes every existing record.
package sync

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/topicwire/topicwire/internal/domain"
	"github.com/topicwire/topicwire/internal/matcher"
)

// Definition is one desired-state entry: the pub and sub patterns one
// security identity should hold.
type Definition struct {
	Security string   `yaml:"security" json:"security"`
	Pub      []string `yaml:"pub,omitempty" json:"pub,omitempty"`
	Sub      []string `yaml:"sub,omitempty" json:"sub,omitempty"`
	IsActive *bool    `yaml:"is_active,omitempty" json:"is_active,omitempty"`
}

// PermissionRecord is the persisted form of one identity's permissions:
// all pub and sub patterns composed into a single newline-joined string,
// stored under the combined access type.
type PermissionRecord struct {
	SecBaseID  int
	Security   string // definition name the id was resolved from
	Pattern    string
	AccessType matcher.AccessType
	IsActive   bool
}

// Key identifies a record for reconciliation.
func (r PermissionRecord) Key() string {
	return fmt.Sprintf("%d_%s_%s", r.SecBaseID, r.Pattern, r.AccessType)
}

// SecurityResolver maps a security definition name to its id. Owned by the
// persistence layer.
type SecurityResolver interface {
	ResolveSecurity(name string) (int, error)
}

// DefinitionStore reads and writes persisted permission records. Owned by
// the persistence layer.
type DefinitionStore interface {
	List() ([]PermissionRecord, error)
	Create(rec PermissionRecord) error
	Update(rec PermissionRecord) error
}

// Result reports what one sync run did.
type Result struct {
	Created []PermissionRecord
	Updated []PermissionRecord
}

// Syncer reconciles definitions against a store.
type Syncer struct {
	resolver SecurityResolver
	store    DefinitionStore
}

// NewSyncer creates a Syncer.
func NewSyncer(resolver SecurityResolver, store DefinitionStore) *Syncer {
	return &Syncer{resolver: resolver, store: store}
}

// Sync applies the desired definitions. For each entry the security name is
// resolved (an unknown name is a hard configuration error), the patterns
// are validated and composed, and the record is created when its key is
// absent or updated unconditionally when present. Entries with neither pub
// nor sub patterns produce nothing.
func (s *Syncer) Sync(defs []Definition) (Result, error) {
	var result Result

	existing, err := s.store.List()
	if err != nil {
		return result, fmt.Errorf("list permission definitions: %w", err)
	}
	byKey := make(map[string]PermissionRecord, len(existing))
	for _, rec := range existing {
		byKey[rec.Key()] = rec
	}

	for _, def := range defs {
		if len(def.Pub) == 0 && len(def.Sub) == 0 {
			slog.Info("skipping permission definition without patterns", "security", def.Security)
			continue
		}

		secBaseID, err := s.resolver.ResolveSecurity(def.Security)
		if err != nil {
			return result, &domain.ValidationError{Msg: fmt.Sprintf("unknown security definition %q", def.Security)}
		}

		pattern, err := composePattern(def)
		if err != nil {
			return result, err
		}

		rec := PermissionRecord{
			SecBaseID:  secBaseID,
			Security:   def.Security,
			Pattern:    pattern,
			AccessType: matcher.AccessPublisherSubscriber,
			IsActive:   def.IsActive == nil || *def.IsActive,
		}

		if _, ok := byKey[rec.Key()]; ok {
			if err := s.store.Update(rec); err != nil {
				return result, fmt.Errorf("update permission definition %q: %w", rec.Key(), err)
			}
			result.Updated = append(result.Updated, rec)
		} else {
			if err := s.store.Create(rec); err != nil {
				return result, fmt.Errorf("create permission definition %q: %w", rec.Key(), err)
			}
			result.Created = append(result.Created, rec)
		}
	}

	slog.Info("permission definitions synced", "created", len(result.Created), "updated", len(result.Updated))
	return result, nil
}

// composePattern joins all pub patterns as "pub=<pattern>" lines and all
// sub patterns as "sub=<pattern>" lines, validating each pattern first.
func composePattern(def Definition) (string, error) {
	lines := make([]string, 0, len(def.Pub)+len(def.Sub))
	for _, p := range def.Pub {
		if err := matcher.ValidatePattern(p); err != nil {
			return "", fmt.Errorf("security %q: %w", def.Security, err)
		}
		lines = append(lines, "pub="+p)
	}
	for _, p := range def.Sub {
		if err := matcher.ValidatePattern(p); err != nil {
			return "", fmt.Errorf("security %q: %w", def.Security, err)
		}
		lines = append(lines, "sub="+p)
	}
	return strings.Join(lines, "\n"), nil
}

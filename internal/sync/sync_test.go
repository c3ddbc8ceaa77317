package sync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/topicwire/topicwire/internal/domain"
	"github.com/topicwire/topicwire/internal/matcher"
)

func testResolver() StaticResolver {
	return StaticResolver{
		"alice_sec": 1,
		"bob_sec":   2,
	}
}

func TestSyncCreatesThenUpdates(t *testing.T) {
	defs := []Definition{
		{Security: "alice_sec", Pub: []string{"orders.*"}, Sub: []string{"alerts.**"}},
		{Security: "bob_sec", Pub: []string{"invoices.*"}},
	}
	syncer := NewSyncer(testResolver(), NewMemoryStore())

	first, err := syncer.Sync(defs)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if len(first.Created) != 2 || len(first.Updated) != 0 {
		t.Fatalf("first sync: created=%d updated=%d, want 2/0", len(first.Created), len(first.Updated))
	}

	// The second run with identical input touches every existing record and
	// creates nothing.
	second, err := syncer.Sync(defs)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(second.Created) != 0 || len(second.Updated) != 2 {
		t.Fatalf("second sync: created=%d updated=%d, want 0/2", len(second.Created), len(second.Updated))
	}
}

func TestSyncComposesPattern(t *testing.T) {
	defs := []Definition{
		{Security: "alice_sec", Pub: []string{"orders.*", "invoices.*"}, Sub: []string{"alerts.critical"}},
	}
	syncer := NewSyncer(testResolver(), NewMemoryStore())

	result, err := syncer.Sync(defs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Created) != 1 {
		t.Fatalf("created %d records, want 1", len(result.Created))
	}

	rec := result.Created[0]
	want := "pub=orders.*\npub=invoices.*\nsub=alerts.critical"
	if rec.Pattern != want {
		t.Errorf("pattern = %q, want %q", rec.Pattern, want)
	}
	if rec.Security != "alice_sec" {
		t.Errorf("security = %q, want %q", rec.Security, "alice_sec")
	}
	if rec.AccessType != matcher.AccessPublisherSubscriber {
		t.Errorf("access type = %q, want publisher-subscriber", rec.AccessType)
	}
	if rec.SecBaseID != 1 {
		t.Errorf("sec base id = %d, want 1", rec.SecBaseID)
	}
	if !rec.IsActive {
		t.Error("is_active should default to true")
	}
}

func TestSyncSkipsEmptyEntries(t *testing.T) {
	defs := []Definition{
		{Security: "alice_sec"},
	}
	syncer := NewSyncer(testResolver(), NewMemoryStore())

	result, err := syncer.Sync(defs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Created)+len(result.Updated) != 0 {
		t.Errorf("empty entry produced records: %+v", result)
	}
}

func TestSyncUnknownSecurityFailsHard(t *testing.T) {
	defs := []Definition{
		{Security: "nobody_sec", Pub: []string{"orders.*"}},
	}
	syncer := NewSyncer(testResolver(), NewMemoryStore())

	_, err := syncer.Sync(defs)
	var validationErr *domain.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestSyncRejectsInvalidPattern(t *testing.T) {
	defs := []Definition{
		{Security: "alice_sec", Pub: []string{"zato.internal"}},
	}
	syncer := NewSyncer(testResolver(), NewMemoryStore())

	if _, err := syncer.Sync(defs); err == nil {
		t.Fatal("reserved pattern was accepted")
	}
}

func TestSyncInactiveFlag(t *testing.T) {
	inactive := false
	defs := []Definition{
		{Security: "alice_sec", Pub: []string{"orders.*"}, IsActive: &inactive},
	}
	syncer := NewSyncer(testResolver(), NewMemoryStore())

	result, err := syncer.Sync(defs)
	if err != nil {
		t.Fatal(err)
	}
	if result.Created[0].IsActive {
		t.Error("is_active=false was not preserved")
	}
}

func TestLoadDefinitions(t *testing.T) {
	content := `pubsub_permissions:
  - security: alice_sec
    pub:
      - orders.*
    sub:
      - alerts.**
  - security: bob_sec
    sub:
      - invoices.paid
    is_active: false
`
	path := filepath.Join(t.TempDir(), "permissions.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("loaded %d definitions, want 2", len(defs))
	}
	if defs[0].Security != "alice_sec" || len(defs[0].Pub) != 1 || defs[0].Pub[0] != "orders.*" {
		t.Errorf("first definition = %+v", defs[0])
	}
	if defs[1].IsActive == nil || *defs[1].IsActive {
		t.Errorf("second definition is_active = %v, want false", defs[1].IsActive)
	}
}

func TestLoadDefinitionsRejectsMissingSecurity(t *testing.T) {
	content := `pubsub_permissions:
  - pub:
      - orders.*
`
	path := filepath.Join(t.TempDir(), "permissions.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadDefinitions(path); err == nil {
		t.Fatal("definition without security name was accepted")
	}
}

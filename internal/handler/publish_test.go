package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/topicwire/topicwire/internal/backend"
	"github.com/topicwire/topicwire/internal/domain"
	"github.com/topicwire/topicwire/internal/matcher"
	"github.com/topicwire/topicwire/internal/middleware"
)

type captureBroker struct {
	published []*domain.Message
	fail      error
}

func (c *captureBroker) Publish(_ context.Context, _ string, msg *domain.Message) error {
	if c.fail != nil {
		return c.fail
	}
	c.published = append(c.published, msg)
	return nil
}

// newTestRouter wires the real middleware chain and routes around a backend
// seeded with one user.
func newTestRouter(t *testing.T, b *backend.Backend) http.Handler {
	t.Helper()

	r := chi.NewRouter()
	r.Use(middleware.Correlation)
	r.Route("/api/v1/pubsub", func(r chi.Router) {
		r.Use(middleware.BasicAuth(b))
		publishHandler := NewPublishHandler(b)
		subscribeHandler := NewSubscribeHandler(b)
		topicsHandler := NewTopicsHandler(b)
		r.Post("/publish/{topic}", publishHandler.Publish)
		r.Post("/subscribe/{topic}", subscribeHandler.Subscribe)
		r.Delete("/subscribe/{topic}", subscribeHandler.Unsubscribe)
		r.Get("/topics", topicsHandler.List)
	})
	return r
}

func seedBackend(t *testing.T) (*backend.Backend, *captureBroker) {
	t.Helper()
	broker := &captureBroker{}
	b := backend.New(broker)

	err := b.OnSecurityBasicAuthCreate(backend.SecurityBasicAuthCreate{
		Cid: "seed", Username: "alice", Password: "secret", SecName: "alice_sec",
	})
	if err != nil {
		t.Fatal(err)
	}
	err = b.Matcher().SetPermissions("alice", []matcher.Permission{
		{Pattern: "orders.*", Access: matcher.AccessPublisher},
		{Pattern: "alerts.*", Access: matcher.AccessSubscriber},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b, broker
}

func doRequest(t *testing.T, router http.Handler, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.SetBasicAuth("alice", "secret")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) domain.APIResponse {
	t.Helper()
	var resp domain.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestPublishOK(t *testing.T) {
	b, broker := seedBackend(t)
	router := newTestRouter(t, b)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/orders.new",
		`{"data": {"order_id": 42}, "priority": 3, "correl_id": "corr-7"}`, true)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeEnvelope(t, rec)
	if !resp.IsOK {
		t.Error("is_ok = false, want true")
	}
	if resp.Cid != "corr-7" {
		t.Errorf("cid = %q, want the caller's correl_id", resp.Cid)
	}
	if len(broker.published) != 1 {
		t.Fatalf("broker received %d messages, want 1", len(broker.published))
	}
	if broker.published[0].Topic != "orders.new" {
		t.Errorf("topic = %q", broker.published[0].Topic)
	}
}

func TestPublishGeneratesCidWhenAbsent(t *testing.T) {
	b, _ := seedBackend(t)
	router := newTestRouter(t, b)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/orders.new", `{"data": 1}`, true)
	resp := decodeEnvelope(t, rec)
	if resp.Cid == "" {
		t.Error("cid missing from response")
	}
}

func TestPublishForbiddenTopic(t *testing.T) {
	b, broker := seedBackend(t)
	router := newTestRouter(t, b)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/test.topic", `{"data": 1}`, true)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	resp := decodeEnvelope(t, rec)
	if resp.IsOK {
		t.Error("is_ok = true on denial")
	}
	if resp.Cid == "" {
		t.Error("denial response lost the cid")
	}
	// The rejection must not reveal the client's patterns.
	if strings.Contains(rec.Body.String(), "orders.*") {
		t.Error("response leaked permission patterns")
	}
	if len(broker.published) != 0 {
		t.Error("broker received a message despite denial")
	}
}

func TestPublishUnauthorized(t *testing.T) {
	b, broker := seedBackend(t)
	router := newTestRouter(t, b)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/orders.new", `{"data": 1}`, false)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decodeEnvelope(t, rec); resp.IsOK || resp.Cid == "" {
		t.Errorf("envelope = %+v", resp)
	}
	if len(broker.published) != 0 {
		t.Error("broker received a message from an unauthenticated caller")
	}
}

func TestPublishWrongPassword(t *testing.T) {
	b, _ := seedBackend(t)
	router := newTestRouter(t, b)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pubsub/publish/orders.new", strings.NewReader(`{"data": 1}`))
	req.SetBasicAuth("alice", "wrong")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestPublishInvalidBody(t *testing.T) {
	b, _ := seedBackend(t)
	router := newTestRouter(t, b)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/orders.new", `{not json`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPublishMissingData(t *testing.T) {
	b, _ := seedBackend(t)
	router := newTestRouter(t, b)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/orders.new", `{"priority": 1}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPublishPayloadTooLarge(t *testing.T) {
	b, broker := seedBackend(t)
	router := newTestRouter(t, b)

	body := `{"data": "` + strings.Repeat("a", 1<<20) + `"}`
	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/orders.new", body, true)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if len(broker.published) != 0 {
		t.Error("oversized payload reached the broker")
	}
}

func TestPublishBrokerDown(t *testing.T) {
	b, broker := seedBackend(t)
	broker.fail = context.DeadlineExceeded
	router := newTestRouter(t, b)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/pubsub/publish/orders.new", `{"data": 1, "correl_id": "c1"}`, true)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if resp := decodeEnvelope(t, rec); resp.IsOK || resp.Cid != "c1" {
		t.Errorf("envelope = %+v", resp)
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	b, _ := seedBackend(t)
	router := newTestRouter(t, b)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pubsub/publish/orders.new", strings.NewReader(`{"data": 1}`))
	req.SetBasicAuth("alice", "secret")
	req.Header.Set(middleware.CorrelationHeader, "hdr-cid-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if resp := decodeEnvelope(t, rec); resp.Cid != "hdr-cid-9" {
		t.Errorf("cid = %q, want header value", resp.Cid)
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/org/datacapture/internal/collection"
	"github.com/org/datacapture/internal/principal"
	"github.com/org/datacapture/internal/registry"
	"github.com/org/datacapture/internal/storage"
	"github.com/org/datacapture/pkg/models"
)

// stubRegistry records publications and fails when err is set.
type stubRegistry struct {
	calls int
	err   error
}

func (s *stubRegistry) Publish(ctx context.Context, req *registry.PublishRequest) error {
	s.calls++
	return s.err
}

type testEnv struct {
	handler  http.Handler
	store    *storage.MemoryBackend
	registry *stubRegistry
	admin    int64
	owner    int64
	other    int64
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	if err := principal.Seed(ctx, store, principal.Bootstrap{AdminEmail: "root@example.org", AdminName: "Root"}); err != nil {
		t.Fatalf("seeding: %v", err)
	}
	admin, err := store.GetPrincipalByEmail(ctx, "root@example.org")
	if err != nil {
		t.Fatalf("loading admin: %v", err)
	}
	owner := &models.Principal{DisplayName: "Owner", Email: "owner@example.org", Kind: models.KindOrdinary}
	other := &models.Principal{DisplayName: "Other", Email: "other@example.org", Kind: models.KindOrdinary}
	for _, p := range []*models.Principal{owner, other} {
		if err := store.CreatePrincipal(ctx, p); err != nil {
			t.Fatalf("creating principal: %v", err)
		}
	}

	reg := &stubRegistry{}
	srv := NewServer(store, reg, Config{
		Collection: collectionTestConfig,
		Registry:   registry.Config{Enabled: true, AppURL: "https://capture.example.org"},
	})
	return &testEnv{
		handler:  srv.BuildRouter(),
		store:    store,
		registry: reg,
		admin:    admin.ID,
		owner:    owner.ID,
		other:    other.ID,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, principalID int64) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if principalID != 0 {
		req.Header.Set(PrincipalHeader, strconv.FormatInt(principalID, 10))
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func expectCode(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func (e *testEnv) createCollection(t *testing.T, name string) int64 {
	t.Helper()
	w := e.do(t, "POST", "/v1/collections", map[string]any{
		"name":        name,
		"description": "Readings from the field station",
	}, e.owner)
	expectCode(t, w, http.StatusCreated)
	data := decodeBody(t, w)["data"].(map[string]any)
	return int64(data["id"].(float64))
}

func collectionPath(id int64, suffix string) string {
	return fmt.Sprintf("/v1/collections/%d%s", id, suffix)
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, "GET", "/v1/sys/health", nil, 0)
	expectCode(t, w, http.StatusOK)
	if status := decodeBody(t, w)["status"]; status != "ok" {
		t.Errorf("expected status ok, got %v", status)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
	if w.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("expected security headers")
	}
}

func TestIdentityHeader(t *testing.T) {
	env := newTestServer(t)

	req := httptest.NewRequest("GET", "/v1/principals/self", nil)
	req.Header.Set(PrincipalHeader, "not-a-number")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	expectCode(t, w, http.StatusUnauthorized)

	expectCode(t, env.do(t, "GET", "/v1/principals/self", nil, 9999), http.StatusUnauthorized)

	anon, err := env.store.GetVirtualPrincipal(context.Background(), models.KindAnonymous)
	if err != nil {
		t.Fatal(err)
	}
	expectCode(t, env.do(t, "GET", "/v1/principals/self", nil, anon.ID), http.StatusForbidden)
	expectCode(t, env.do(t, "GET", "/v1/principals/self", nil, 0), http.StatusUnauthorized)

	w = env.do(t, "GET", "/v1/principals/self", nil, env.owner)
	expectCode(t, w, http.StatusOK)
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["email"] != "owner@example.org" {
		t.Errorf("unexpected principal %v", data)
	}
}

func TestPrincipalCreateRequiresAdmin(t *testing.T) {
	env := newTestServer(t)
	body := map[string]any{"display_name": "New", "email": "new@example.org"}

	expectCode(t, env.do(t, "POST", "/v1/principals", body, env.owner), http.StatusForbidden)
	expectCode(t, env.do(t, "POST", "/v1/principals", body, env.admin), http.StatusCreated)
	expectCode(t, env.do(t, "POST", "/v1/principals", body, env.admin), http.StatusConflict)
	expectCode(t, env.do(t, "POST", "/v1/principals",
		map[string]any{"display_name": "V", "email": "v@example.org", "kind": "anonymous"}, env.admin), http.StatusBadRequest)
	expectCode(t, env.do(t, "POST", "/v1/principals",
		map[string]any{"display_name": "Bad", "email": "not-an-email"}, env.admin), http.StatusBadRequest)
}

func TestCollectionPermissionScenario(t *testing.T) {
	env := newTestServer(t)
	id := env.createCollection(t, "Survey")

	// private by default
	w := env.do(t, "GET", collectionPath(id, "/permissions/effective"), nil, 0)
	expectCode(t, w, http.StatusOK)
	view := decodeBody(t, w)["data"].(map[string]any)
	if view["source"] != "inherited-anonymous" {
		t.Errorf("expected inherited-anonymous, got %v", view["source"])
	}
	if view["flags"].(map[string]any)["view"] != false {
		t.Error("anonymous should not view a new collection")
	}
	expectCode(t, env.do(t, "GET", collectionPath(id, ""), nil, env.other), http.StatusForbidden)

	// owner opens view to all registered users
	w = env.do(t, "GET", collectionPath(id, "/permissions"), nil, env.owner)
	expectCode(t, w, http.StatusOK)
	assigned := decodeBody(t, w)["data"].(map[string]any)
	allReg := assigned["all_registered"].(map[string]any)
	grantID := int64(allReg["grant_id"].(float64))

	expectCode(t, env.do(t, "POST", collectionPath(id, "/permissions"), map[string]any{
		"update": []map[string]any{{"grant_id": grantID, "flags": map[string]any{"view": true}}},
	}, env.owner), http.StatusNoContent)

	w = env.do(t, "GET", collectionPath(id, "/permissions/effective"), nil, env.other)
	expectCode(t, w, http.StatusOK)
	view = decodeBody(t, w)["data"].(map[string]any)
	if view["source"] != "inherited-all-registered" {
		t.Errorf("expected inherited-all-registered, got %v", view["source"])
	}
	flags := view["flags"].(map[string]any)
	for name, v := range flags {
		if want := name == "view"; v != want {
			t.Errorf("flag %s: expected %v, got %v", name, want, v)
		}
	}
	expectCode(t, env.do(t, "GET", collectionPath(id, ""), nil, env.other), http.StatusOK)

	// only the owner or an admin manages grants
	expectCode(t, env.do(t, "GET", collectionPath(id, "/permissions"), nil, env.other), http.StatusForbidden)
	expectCode(t, env.do(t, "GET", collectionPath(id, "/permissions"), nil, env.admin), http.StatusOK)
}

func TestDuplicateGrantAndName(t *testing.T) {
	env := newTestServer(t)
	id := env.createCollection(t, "Survey")

	w := env.do(t, "POST", "/v1/collections", map[string]any{"name": "survey", "description": "again"}, env.other)
	expectCode(t, w, http.StatusConflict)

	insert := map[string]any{"insert": []map[string]any{{"principal_id": env.other, "flags": map[string]any{"view": true}}}}
	expectCode(t, env.do(t, "POST", collectionPath(id, "/permissions"), insert, env.owner), http.StatusNoContent)
	expectCode(t, env.do(t, "POST", collectionPath(id, "/permissions"), insert, env.owner), http.StatusConflict)
}

func TestCollectionValidation(t *testing.T) {
	env := newTestServer(t)
	w := env.do(t, "POST", "/v1/collections", map[string]any{"name": ""}, env.owner)
	expectCode(t, w, http.StatusBadRequest)
	errs := decodeBody(t, w)["errors"].([]any)
	if len(errs) != 2 {
		t.Errorf("expected name and description errors, got %v", errs)
	}

	expectCode(t, env.do(t, "POST", "/v1/collections", map[string]any{"name": "x", "description": "y"}, 0), http.StatusForbidden)
	expectCode(t, env.do(t, "GET", "/v1/collections/abc", nil, env.owner), http.StatusBadRequest)
	expectCode(t, env.do(t, "GET", "/v1/collections/424242", nil, env.owner), http.StatusNotFound)
}

func TestCollectionUpdateAndDelete(t *testing.T) {
	env := newTestServer(t)
	id := env.createCollection(t, "Survey")

	w := env.do(t, "PUT", collectionPath(id, ""), map[string]any{"name": "Survey 2024", "description": "updated"}, env.owner)
	expectCode(t, w, http.StatusOK)
	if name := decodeBody(t, w)["data"].(map[string]any)["name"]; name != "Survey 2024" {
		t.Errorf("expected renamed collection, got %v", name)
	}

	expectCode(t, env.do(t, "DELETE", collectionPath(id, ""), nil, env.other), http.StatusForbidden)
	expectCode(t, env.do(t, "DELETE", collectionPath(id, ""), nil, env.owner), http.StatusNoContent)
	expectCode(t, env.do(t, "GET", collectionPath(id, ""), nil, env.owner), http.StatusNotFound)

	w = env.do(t, "GET", "/v1/collections", nil, env.owner)
	expectCode(t, w, http.StatusOK)
	if data := decodeBody(t, w)["data"]; data != nil && len(data.([]any)) != 0 {
		t.Errorf("expected no collections, got %v", data)
	}
}

func TestDatasetImport(t *testing.T) {
	env := newTestServer(t)
	id := env.createCollection(t, "Survey")

	w := env.do(t, "POST", collectionPath(id, "/datasets"), map[string]any{"name": "readings.nc"}, env.owner)
	expectCode(t, w, http.StatusCreated)
	expectCode(t, env.do(t, "POST", collectionPath(id, "/datasets"), map[string]any{"name": "readings.nc"}, env.owner), http.StatusConflict)
	expectCode(t, env.do(t, "POST", collectionPath(id, "/datasets"), map[string]any{"name": "other.nc"}, env.other), http.StatusForbidden)
	expectCode(t, env.do(t, "POST", collectionPath(id, "/datasets"),
		map[string]any{"name": "r.nc", "restricted": true}, env.owner), http.StatusBadRequest)

	w = env.do(t, "GET", collectionPath(id, "/datasets"), nil, env.owner)
	expectCode(t, w, http.StatusOK)
	if n := len(decodeBody(t, w)["data"].([]any)); n != 1 {
		t.Errorf("expected 1 dataset, got %d", n)
	}
}

func TestRegister(t *testing.T) {
	env := newTestServer(t)
	id := env.createCollection(t, "Survey")
	body := map[string]any{
		"parties": []map[string]any{{"id": "p1", "name": "Owner"}},
		"rights":  map[string]any{"type": "CC-BY"},
	}

	env.registry.err = errors.New("registry down")
	expectCode(t, env.do(t, "POST", collectionPath(id, "/register"), body, env.owner), http.StatusBadGateway)
	col, err := env.store.GetCollection(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if col.Published {
		t.Error("collection must stay unpublished when the registry fails")
	}

	env.registry.err = nil
	w := env.do(t, "POST", collectionPath(id, "/register"), body, env.owner)
	expectCode(t, w, http.StatusOK)
	if published := decodeBody(t, w)["data"].(map[string]any)["published"]; published != true {
		t.Errorf("expected published collection, got %v", published)
	}
	if env.registry.calls != 2 {
		t.Errorf("expected 2 registry calls, got %d", env.registry.calls)
	}
	expectCode(t, env.do(t, "POST", collectionPath(id, "/register"), body, env.other), http.StatusForbidden)
}

func TestAuditEventsScopedToOwner(t *testing.T) {
	env := newTestServer(t)
	env.createCollection(t, "Survey")
	w := env.do(t, "POST", "/v1/collections", map[string]any{"name": "Other", "description": "d"}, env.other)
	expectCode(t, w, http.StatusCreated)

	expectCode(t, env.do(t, "GET", "/v1/audit-events", nil, 0), http.StatusUnauthorized)

	w = env.do(t, "GET", fmt.Sprintf("/v1/audit-events?owner_id=%d", env.other), nil, env.owner)
	expectCode(t, w, http.StatusOK)
	events := decodeBody(t, w)["data"].([]any)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if desc := events[0].(map[string]any)["description"]; desc != "Survey has been created" {
		t.Errorf("unexpected event %v", desc)
	}

	w = env.do(t, "GET", "/v1/audit-events", nil, env.admin)
	expectCode(t, w, http.StatusOK)
	if n := len(decodeBody(t, w)["data"].([]any)); n != 2 {
		t.Errorf("admin expected 2 events, got %d", n)
	}

	expectCode(t, env.do(t, "GET", "/v1/audit-events?since=yesterday", nil, env.admin), http.StatusBadRequest)
}

var collectionTestConfig = collection.Config{UserRootPrefix: "u", UniqueKeyPrefix: "capture:"}

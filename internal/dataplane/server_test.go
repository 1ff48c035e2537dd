package dataplane

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
	"github.com/faceit-mod/chatfleet/internal/config"
	"github.com/faceit-mod/chatfleet/internal/dataplane/store"
)

func newTestServer(t *testing.T, cfg *config.DataPlaneConfig) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chatfleet.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if cfg == nil {
		cfg = &config.DataPlaneConfig{
			FanoutTimeout: 200 * time.Millisecond,
			WorkerHost:    "127.0.0.1",
		}
	}
	return New(cfg, st, nil), st
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("status field = %v, want healthy", body["status"])
	}
	if _, ok := body["schemaVersion"]; !ok {
		t.Fatal("missing schemaVersion in health response")
	}
}

func TestHandleActiveBots(t *testing.T) {
	s, st := newTestServer(t, nil)
	if err := st.UpsertBot(store.Bot{ID: 1, Status: "active"}); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/bots/active", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var bots []apitypes.ActiveBot
	if err := json.Unmarshal(rr.Body.Bytes(), &bots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(bots) != 1 || bots[0].BotID != 1 {
		t.Fatalf("bots = %+v, want [{1}]", bots)
	}
}

func TestHandleEntityDataNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/entities/missing/data", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleEntityDataFound(t *testing.T) {
	s, st := newTestServer(t, nil)
	cfg := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity, Status: "active", Commands: map[string]apitypes.Command{}}
	if err := st.UpsertEntity(cfg, 1); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/entities/e1/data", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

// TestFanOutAcceptedWhenWorkerUnreachable verifies the 202 behavior of
// spec §4.5: a mutation against an entity whose owning worker cannot be
// reached still succeeds, with the caller told the worker will reconcile
// later rather than seeing an error.
func TestFanOutAcceptedWhenWorkerUnreachable(t *testing.T) {
	s, st := newTestServer(t, nil)
	cfg := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity, Status: "active", Commands: map[string]apitypes.Command{}}
	if err := st.UpsertEntity(cfg, 999); err != nil { // port 4999, nothing listens there
		t.Fatalf("UpsertEntity: %v", err)
	}

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/entities/e1/update", nil))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
}

func TestFanOutEntityWithoutOwnerIsNotFound(t *testing.T) {
	s, st := newTestServer(t, nil)
	cfg := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity, Status: "active", Commands: map[string]apitypes.Command{}}
	if err := st.UpsertEntity(cfg, 0); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/entities/e1/assign", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleEntityStatusInvalidBody(t *testing.T) {
	s, st := newTestServer(t, nil)
	cfg := apitypes.EntityConfig{GUID: "e1", Type: apitypes.EntityCommunity, Status: "active", Commands: map[string]apitypes.Command{}}
	if err := st.UpsertEntity(cfg, 1); err != nil {
		t.Fatalf("UpsertEntity: %v", err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/entities/e1/status", strings.NewReader(`{"status":"bogus"}`))
	s.router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHandlePresetNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/profanity-filter-presets/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandlePresetFound(t *testing.T) {
	s, st := newTestServer(t, nil)
	if err := st.UpsertPreset(apitypes.Preset{ID: "p1", Name: "Basic", Words: []string{"bad"}}); err != nil {
		t.Fatalf("UpsertPreset: %v", err)
	}

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/profanity-filter-presets/p1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestHandlePresetRefreshIsBestEffort(t *testing.T) {
	s, st := newTestServer(t, nil)
	if err := st.UpsertPreset(apitypes.Preset{ID: "p1", Name: "Basic", Words: []string{"bad"}}); err != nil {
		t.Fatalf("UpsertPreset: %v", err)
	}
	if err := st.UpsertBot(store.Bot{ID: 1, Status: "active"}); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}
	if err := st.UpsertBot(store.Bot{ID: 2, Status: "inactive"}); err != nil {
		t.Fatalf("UpsertBot: %v", err)
	}

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/profanity-filter-presets/p1/refresh", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (best-effort fanout never fails the request)", rr.Code)
	}
}

func TestHandleProfanityConfigUnconfiguredIsOKNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/profanity-filter-config/e1", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var cfg apitypes.ProfanityConfig
	if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Active {
		t.Fatal("expected Active=false for unconfigured entity")
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	cfg := &config.DataPlaneConfig{
		FanoutTimeout: 200 * time.Millisecond,
		WorkerHost:    "127.0.0.1",
		AuthToken:     "secret",
	}
	s, _ := newTestServer(t, cfg)

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/bots/active", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}

	rr2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/bots/active", nil)
	req.Header.Set("Authorization", "Bearer secret")
	s.router().ServeHTTP(rr2, req)
	if rr2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid token", rr2.Code)
	}
}

func TestAuthMiddlewareAlwaysAllowsHealth(t *testing.T) {
	cfg := &config.DataPlaneConfig{
		FanoutTimeout: 200 * time.Millisecond,
		WorkerHost:    "127.0.0.1",
		AuthToken:     "secret",
	}
	s, _ := newTestServer(t, cfg)

	rr := httptest.NewRecorder()
	s.router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

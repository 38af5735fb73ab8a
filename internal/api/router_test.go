package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/stager/internal/api"
	"github.com/kiranshivaraju/stager/internal/api/handler"
	mw "github.com/kiranshivaraju/stager/internal/api/middleware"
	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// newTestRouter wires every route to okHandler behind real auth backed by a
// memory store.
func newTestRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: nil,
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
		ListStyles:       okHandler,
		ListItems:        okHandler,
		DetectRoom:       okHandler,
		Estimate:         okHandler,
		GetCredits:       okHandler,
		TopUp:            okHandler,
		CreateJob:        okHandler,
		ListJobs:         okHandler,
		GetJob:           okHandler,
		CancelJob:        okHandler,
		GetObject:        okHandler,
		CreateKeyHandler: okHandler,
		ListKeysHandler:  okHandler,
		RevokeKeyHandler: okHandler,
	}), st
}

func seedKey(t *testing.T, st *store.MemoryStore, scopes ...string) string {
	t.Helper()
	raw, err := handler.GenerateRawKey()
	require.NoError(t, err)
	key, err := handler.NewAPIKey("test", raw, scopes)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(context.Background(), key))
	return raw
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

var protectedEndpoints = []struct {
	method string
	path   string
	scope  string
}{
	{"GET", "/api/v1/styles", models.ScopeRead},
	{"GET", "/api/v1/rooms/kitchen/items", models.ScopeRead},
	{"GET", "/api/v1/estimate", models.ScopeRead},
	{"GET", "/api/v1/credits", models.ScopeRead},
	{"GET", "/api/v1/jobs", models.ScopeRead},
	{"GET", "/api/v1/jobs/22222222-2222-2222-2222-222222222222", models.ScopeRead},
	{"GET", "/api/v1/objects/uploads/a.jpg", models.ScopeRead},
	{"POST", "/api/v1/rooms/detect", models.ScopeStage},
	{"POST", "/api/v1/jobs", models.ScopeStage},
	{"POST", "/api/v1/jobs/22222222-2222-2222-2222-222222222222/cancel", models.ScopeStage},
	{"POST", "/api/v1/credits/topup", models.ScopeAdmin},
	{"POST", "/api/v1/admin/keys", models.ScopeAdmin},
	{"GET", "/api/v1/admin/keys", models.ScopeAdmin},
	{"DELETE", "/api/v1/admin/keys/22222222-2222-2222-2222-222222222222", models.ScopeAdmin},
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, ep := range protectedEndpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_ScopeEnforcement(t *testing.T) {
	router, st := newTestRouter(t)
	readKey := seedKey(t, st, models.ScopeRead)
	stageKey := seedKey(t, st, models.ScopeRead, models.ScopeStage)
	adminKey := seedKey(t, st, models.ScopeAdmin)

	allowed := func(key, scope string) bool {
		switch key {
		case adminKey:
			return true
		case stageKey:
			return scope != models.ScopeAdmin
		default:
			return scope == models.ScopeRead
		}
	}

	for _, key := range []string{readKey, stageKey, adminKey} {
		for _, ep := range protectedEndpoints {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			req.Header.Set("Authorization", "Bearer "+key)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			want := http.StatusForbidden
			if allowed(key, ep.scope) {
				want = http.StatusOK
			}
			assert.Equal(t, want, w.Code, "%s %s with key %s", ep.method, ep.path, key[:8])
		}
	}
}

func TestRouter_MissingHandler_NotImplemented(t *testing.T) {
	st := store.NewMemoryStore()
	router := api.NewRouter(api.Dependencies{Auth: mw.NewAuth(st)})
	key := seedKey(t, st, models.ScopeRead)

	req := httptest.NewRequest("GET", "/api/v1/styles", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

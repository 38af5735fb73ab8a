package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/stager/internal/api"
	"github.com/kiranshivaraju/stager/internal/api/handler"
	mw "github.com/kiranshivaraju/stager/internal/api/middleware"
	"github.com/kiranshivaraju/stager/internal/catalog"
	"github.com/kiranshivaraju/stager/internal/credits"
	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/internal/staging"
	"github.com/kiranshivaraju/stager/internal/storage"
	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	testAdminKey = "stg_admin_contract_key_1234567890"
	testStageKey = "stg_stage_contract_key_1234567890"
	testReadKey  = "stg_read__contract_key_1234567890"
)

// ─── in-memory counter ───────────────────────────────────────────────────────

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (c *memCounter) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

// ─── server assembly ─────────────────────────────────────────────────────────

type contractEnv struct {
	router     http.Handler
	clock      clockwork.FakeClock
	dispatcher *staging.TimerDispatcher
}

func newContractEnv(t *testing.T, limit int) *contractEnv {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	require.NoError(t, st.InitCredits(ctx, 100, 100))
	for raw, scopes := range map[string][]string{
		testAdminKey: {models.ScopeAdmin},
		testStageKey: {models.ScopeRead, models.ScopeStage},
		testReadKey:  {models.ScopeRead},
	} {
		key, err := handler.NewAPIKey("contract", raw, scopes)
		require.NoError(t, err)
		require.NoError(t, st.CreateAPIKey(ctx, key))
	}

	clock := clockwork.NewFakeClock()
	ledger := credits.NewLedger(st)
	svc := staging.NewService(st, ledger, staging.WithClock(clock))
	backend := render.NewSimulated()
	exec := staging.NewExecutor(svc, backend, time.Minute)
	dispatcher := staging.NewTimerDispatcher(exec, clock, 1*time.Second, 5*time.Second)
	svc.SetDispatcher(dispatcher)
	t.Cleanup(dispatcher.Stop)

	objects := storage.NewMemoryStorage()
	cat := catalog.New()
	jobs := handler.NewJobHandlers(svc, objects)
	keys := handler.NewKeyHandlers(st)

	router := api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(&memCounter{counts: map[string]int64{}}, limit),

		HealthHandler: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": st,
			"storage":  objects,
		}),
		ListStyles:       handler.NewListStylesHandler(cat),
		ListItems:        handler.NewListItemsHandler(cat),
		DetectRoom:       handler.NewDetectRoomHandler(backend, objects),
		Estimate:         handler.NewEstimateHandler(),
		GetCredits:       handler.NewGetCreditsHandler(ledger),
		TopUp:            handler.NewTopUpHandler(ledger),
		CreateJob:        jobs.Create,
		ListJobs:         jobs.List,
		GetJob:           jobs.Get,
		CancelJob:        jobs.Cancel,
		GetObject:        handler.NewGetObjectHandler(objects),
		CreateKeyHandler: keys.Create,
		ListKeysHandler:  keys.List,
		RevokeKeyHandler: keys.Revoke,
	})

	return &contractEnv{router: router, clock: clock, dispatcher: dispatcher}
}

func (e *contractEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *contractEnv) job(t *testing.T, id string) models.Job {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/v1/jobs/"+id, testReadKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var job models.Job
	decodeData(t, rec, &job)
	return job
}

func (e *contractEnv) credits(t *testing.T) models.Credits {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/v1/credits", testReadKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var c models.Credits
	decodeData(t, rec, &c)
	return c
}

var livingRoomJob = map[string]any{
	"url":        "https://example.com/living.jpg",
	"room_type":  "living-room",
	"style":      "industrial",
	"items":      []string{"sofa-3p", "mesa-centro", "sillon"},
	"resolution": "2k",
}

// ─── contract tests ──────────────────────────────────────────────────────────

func TestHealth_200_AllOK(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodGet, "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateJob_202_LifecycleToDone(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", testStageKey, livingRoomJob)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		JobID string     `json:"job_id"`
		Job   models.Job `json:"job"`
	}
	decodeData(t, rec, &created)
	assert.Equal(t, 13, created.Job.Cost)
	assert.Equal(t, models.JobStatusQueued, created.Job.Status)
	assert.Equal(t, 87, env.credits(t).Current)

	env.clock.BlockUntil(1)
	env.clock.Advance(1 * time.Second)
	assert.Eventually(t, func() bool {
		return env.job(t, created.JobID).Status == models.JobStatusProcessing
	}, 2*time.Second, 5*time.Millisecond)

	env.clock.BlockUntil(1)
	env.clock.Advance(4 * time.Second)
	assert.Eventually(t, func() bool {
		return env.job(t, created.JobID).Status == models.JobStatusDone
	}, 2*time.Second, 5*time.Millisecond)

	done := env.job(t, created.JobID)
	require.NotNil(t, done.ResultImageRef)
	assert.NotEmpty(t, *done.ResultImageRef)

	// cancelling a finished job is a no-op
	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", testStageKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var after models.Job
	decodeData(t, rec, &after)
	assert.Equal(t, models.JobStatusDone, after.Status)
	assert.Equal(t, *done.ResultImageRef, *after.ResultImageRef)
	assert.Equal(t, 87, env.credits(t).Current)
}

func TestCancelJob_200_RefundsQueuedJob(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", testStageKey, livingRoomJob)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created struct {
		JobID string `json:"job_id"`
	}
	decodeData(t, rec, &created)

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/"+created.JobID+"/cancel", testStageKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, models.JobStatusCanceled, env.job(t, created.JobID).Status)
	assert.Equal(t, 100, env.credits(t).Current)

	// the armed timer fires later and must not revive the job
	env.clock.BlockUntil(1)
	env.clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return env.dispatcher.Pending() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.JobStatusCanceled, env.job(t, created.JobID).Status)
	assert.Equal(t, 100, env.credits(t).Current)
}

func TestListJobs_200_FilteredNewestFirst(t *testing.T) {
	env := newContractEnv(t, 100)

	var ids []string
	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/jobs", testStageKey, livingRoomJob)
		require.Equal(t, http.StatusAccepted, rec.Code)
		var created struct {
			JobID string `json:"job_id"`
		}
		decodeData(t, rec, &created)
		ids = append(ids, created.JobID)
		env.clock.Advance(10 * time.Millisecond)
	}
	env.do(t, http.MethodPost, "/api/v1/jobs/"+ids[1]+"/cancel", testStageKey, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/jobs?status=queued", testReadKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []models.Job
	decodeData(t, rec, &jobs)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID.String())
	assert.Equal(t, ids[0], jobs[1].ID.String())

	again := env.do(t, http.MethodGet, "/api/v1/jobs?status=queued", testReadKey, nil)
	assert.JSONEq(t, rec.Body.String(), again.Body.String())
}

func TestGetJob_404_Unknown(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/22222222-2222-2222-2222-222222222222", testReadKey, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeErr(t, rec).Error.Code)
}

func TestCreateJob_402_InsufficientCredits(t *testing.T) {
	env := newContractEnv(t, 100)

	expensive := map[string]any{
		"url": "https://example.com/a.jpg", "room_type": "kitchen",
		"style": "classic", "resolution": "4k",
	}
	for i := 0; i < 4; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/jobs", testStageKey, expensive)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", testStageKey, expensive)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, 8, env.credits(t).Current)
	assert.True(t, env.credits(t).Low)

	rec = env.do(t, http.MethodPost, "/api/v1/credits/topup", testAdminKey, map[string]int{"amount": 50})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 58, env.credits(t).Current)
}

func TestCreateJob_403_ReadOnlyKey(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodPost, "/api/v1/jobs", testReadKey, livingRoomJob)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCatalog_200(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodGet, "/api/v1/styles", testReadKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/rooms/terrace/items", testReadKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/estimate?style=classic&resolution=2k&items=7", testReadKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var est struct {
		Cost int `json:"cost"`
	}
	decodeData(t, rec, &est)
	assert.Equal(t, 15, est.Cost)
}

func TestKeys_CreatedKeyAuthenticates(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodPost, "/api/v1/admin/keys", testAdminKey, map[string]any{
		"name": "viewer", "scopes": []string{"read"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Key string `json:"key"`
	}
	decodeData(t, rec, &created)

	rec = env.do(t, http.MethodGet, "/api/v1/styles", created.Key, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/admin/keys", created.Key, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimit_429_Exceeded(t *testing.T) {
	env := newContractEnv(t, 2)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodGet, "/api/v1/styles", testReadKey, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := env.do(t, http.MethodGet, "/api/v1/styles", testReadKey, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decodeErr(t, rec).Error.Code)
}

func TestResponseFormat_ErrorEnvelope(t *testing.T) {
	env := newContractEnv(t, 100)

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", testReadKey, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "INVALID_REQUEST", errObj["code"])
	assert.NotEmpty(t, errObj["message"])
}

package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/stager/internal/api"
	"github.com/kiranshivaraju/stager/internal/api/handler"
	mw "github.com/kiranshivaraju/stager/internal/api/middleware"
	"github.com/kiranshivaraju/stager/internal/catalog"
	"github.com/kiranshivaraju/stager/internal/client"
	"github.com/kiranshivaraju/stager/internal/credits"
	"github.com/kiranshivaraju/stager/internal/poller"
	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/internal/staging"
	"github.com/kiranshivaraju/stager/internal/storage"
	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "stg_client_test_key_0123456789"

var _ poller.JobSource = (*client.Client)(nil)

// newServer runs the full API with in-process timers using short real delays.
func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemoryStore()
	require.NoError(t, st.InitCredits(ctx, 100, 100))
	key, err := handler.NewAPIKey("client-test", testKey, []string{models.ScopeAdmin})
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(ctx, key))

	clock := clockwork.NewRealClock()
	ledger := credits.NewLedger(st)
	svc := staging.NewService(st, ledger)
	backend := render.NewSimulated()
	exec := staging.NewExecutor(svc, backend, time.Second)
	dispatcher := staging.NewTimerDispatcher(exec, clock, 20*time.Millisecond, 60*time.Millisecond)
	svc.SetDispatcher(dispatcher)

	objects := storage.NewMemoryStorage()
	cat := catalog.New()
	jobs := handler.NewJobHandlers(svc, objects)
	keys := handler.NewKeyHandlers(st)

	srv := httptest.NewServer(api.NewRouter(api.Dependencies{
		Auth:             mw.NewAuth(st),
		HealthHandler:    handler.NewHealthHandler(map[string]handler.Pinger{"database": st}),
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
	}))
	t.Cleanup(func() {
		srv.Close()
		dispatcher.Stop()
	})
	return srv
}

func TestClient_CatalogAndEstimate(t *testing.T) {
	c := client.New(newServer(t).URL, testKey)
	ctx := context.Background()

	styles, err := c.ListStyles(ctx)
	require.NoError(t, err)
	assert.Len(t, styles, 5)

	items, err := c.ListItems(ctx, models.RoomKitchen)
	require.NoError(t, err)
	assert.NotEmpty(t, items)

	none, err := c.ListItems(ctx, "garage")
	require.NoError(t, err)
	assert.Empty(t, none)

	est, err := c.Estimate(ctx, models.StyleClassic, models.Resolution2K, 7)
	require.NoError(t, err)
	assert.Equal(t, 15, est.Cost)
	assert.Equal(t, 10, est.BaseCost)
	assert.Equal(t, 3, est.StyleSurcharge)
	assert.Equal(t, 2, est.ItemsCost)
}

func TestClient_Health(t *testing.T) {
	c := client.New(newServer(t).URL, "")

	services, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", services["database"])
}

func TestClient_CreateAndWatchJob(t *testing.T) {
	c := client.New(newServer(t).URL, testKey)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, client.CreateJobRequest{
		URL:        "https://example.com/living.jpg",
		RoomType:   models.RoomLivingRoom,
		Style:      models.StyleIndustrial,
		Items:      []string{"sofa-3p", "mesa-centro", "sillon"},
		Resolution: models.Resolution2K,
	})
	require.NoError(t, err)
	assert.Equal(t, 13, job.Cost)
	assert.Equal(t, models.JobStatusQueued, job.Status)

	var (
		mu   sync.Mutex
		seen []models.JobStatus
	)
	w := poller.New(c, clockwork.NewRealClock()).WatchJob(ctx, job.ID, func(j *models.Job) {
		mu.Lock()
		seen = append(seen, j.Status)
		mu.Unlock()
	}, poller.WithInterval(5*time.Millisecond), poller.WithMaxDuration(5*time.Second))
	require.NoError(t, w.Wait())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, models.JobStatusDone, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Rank(), seen[i-1].Rank())
	}

	done, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, done.ResultImageRef)

	snap, err := c.Credits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 87, snap.Current)
}

func TestClient_UploadJobAndFetchObject(t *testing.T) {
	srv := newServer(t)
	c := client.New(srv.URL, testKey)
	ctx := context.Background()

	photo := []byte("\xff\xd8\xff\xe0fake-jpeg")
	job, err := c.CreateJobUpload(ctx, client.CreateJobRequest{
		RoomType: models.RoomBedroom,
		Style:    models.StyleNordic,
		Items:    []string{"cama-doble"},
	}, "bed.jpg", "image/jpeg", bytes.NewReader(photo))
	require.NoError(t, err)
	assert.Regexp(t, `^uploads/.+\.jpg$`, job.InputImageRef)
	assert.Equal(t, models.DefaultResolution, job.Resolution)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/objects/"+job.InputImageRef, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, photo, body)
}

func TestClient_ValidationError(t *testing.T) {
	c := client.New(newServer(t).URL, testKey)

	_, err := c.CreateJob(context.Background(), client.CreateJobRequest{
		RoomType: "garage",
		Style:    models.StyleNordic,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrValidation)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.Code)
	assert.Len(t, apiErr.Details, 2)
}

func TestClient_NotFoundIsJobNotFound(t *testing.T) {
	c := client.New(newServer(t).URL, testKey)

	_, err := c.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.ErrorIs(t, err, staging.ErrJobNotFound)

	_, err = c.CancelJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestClient_Unauthorized(t *testing.T) {
	c := client.New(newServer(t).URL, "stg_wrong_key_000000")

	_, err := c.ListStyles(context.Background())
	assert.ErrorIs(t, err, client.ErrUnauthorized)
}

func TestClient_CancelAndList(t *testing.T) {
	c := client.New(newServer(t).URL, testKey)
	ctx := context.Background()

	job, err := c.CreateJob(ctx, client.CreateJobRequest{
		URL: "https://example.com/k.jpg", RoomType: models.RoomKitchen, Style: models.StyleMinimal,
	})
	require.NoError(t, err)

	canceled, err := c.CancelJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCanceled, canceled.Status)

	list, err := c.ListJobs(ctx, models.JobStatusCanceled)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, job.ID, list[0].ID)
}

func TestClient_TopUpAndKeys(t *testing.T) {
	c := client.New(newServer(t).URL, testKey)
	ctx := context.Background()

	_, err := c.TopUp(ctx, 0)
	assert.ErrorIs(t, err, client.ErrValidation)

	created, err := c.CreateKey(ctx, "viewer", []string{models.ScopeRead})
	require.NoError(t, err)
	require.NotNil(t, created.APIKey)

	keys, err := c.ListKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, c.RevokeKey(ctx, created.APIKey.ID))
	err = c.RevokeKey(ctx, created.APIKey.ID)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClient_TransientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":"DEGRADED","message":"down"}}`))
	}))
	defer srv.Close()

	_, err := client.New(srv.URL, testKey).Credits(context.Background())
	assert.ErrorIs(t, err, client.ErrTransient)

	srv.Close()
	_, err = client.New(srv.URL, testKey, client.WithTimeout(time.Second)).Credits(context.Background())
	assert.ErrorIs(t, err, client.ErrTransient)
}

func TestClient_RetriesReads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"code":"UPSTREAM","message":"retry"}}`))
			return
		}
		w.Write([]byte(`{"data":{"current":50,"total":100}}`))
	}))
	defer srv.Close()

	c := client.New(srv.URL, testKey, client.WithRetries(3, time.Millisecond))
	snap, err := c.Credits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, snap.Current)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := client.New(srv.URL, testKey, client.WithRetries(3, time.Millisecond))
	_, err := c.CancelJob(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, client.ErrTransient))
	assert.Equal(t, int32(1), calls.Load())
}

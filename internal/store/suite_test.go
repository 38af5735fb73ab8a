package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/internal/store"
	"github.com/kiranshivaraju/stager/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Behaviour shared by every Store implementation. Each backend's test file
// calls these with a fresh store.

func newJob(createdAt time.Time) *models.Job {
	return &models.Job{
		ID:            uuid.New(),
		InputImageRef: "uploads/" + uuid.NewString() + ".jpg",
		RoomType:      models.RoomLivingRoom,
		Style:         models.StyleIndustrial,
		Items:         []string{"sofa-3p", "mesa-centro", "sillon"},
		Resolution:    models.Resolution2K,
		Status:        models.JobStatusQueued,
		Cost:          13,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func testCreateAndGetJob(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := newJob(now)

	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.InputImageRef, got.InputImageRef)
	assert.Equal(t, models.RoomLivingRoom, got.RoomType)
	assert.Equal(t, models.StyleIndustrial, got.Style)
	assert.Equal(t, []string{"sofa-3p", "mesa-centro", "sillon"}, got.Items)
	assert.Equal(t, models.Resolution2K, got.Resolution)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 13, got.Cost)
	assert.Nil(t, got.ResultImageRef)
	assert.True(t, now.Equal(got.CreatedAt))

	err = s.CreateJob(ctx, job)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func testGetJobNotFound(t *testing.T, s store.Store) {
	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTransitionLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	got, err = s.TransitionJob(ctx, job.ID, models.JobStatusDone, store.WithResultImageRef("results/a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, got.Status)
	require.NotNil(t, got.ResultImageRef)
	assert.Equal(t, "results/a.jpg", *got.ResultImageRef)
	assert.NotNil(t, got.CompletedAt)

	// terminal: nothing leaves done
	for _, to := range []models.JobStatus{models.JobStatusQueued, models.JobStatusProcessing, models.JobStatusFailed, models.JobStatusCanceled} {
		_, err = s.TransitionJob(ctx, job.ID, to)
		assert.ErrorIs(t, err, store.ErrInvalidTransition, "done -> %s", to)
	}

	after, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, after.Status)
	assert.Equal(t, "results/a.jpg", *after.ResultImageRef)
}

func testTransitionRules(t *testing.T, s store.Store) {
	ctx := context.Background()

	tests := []struct {
		name    string
		path    []models.JobStatus
		wantErr bool
	}{
		{"queued to failed", []models.JobStatus{models.JobStatusFailed}, false},
		{"queued to canceled", []models.JobStatus{models.JobStatusCanceled}, false},
		{"processing to canceled", []models.JobStatus{models.JobStatusProcessing, models.JobStatusCanceled}, false},
		{"queued to done skips processing", []models.JobStatus{models.JobStatusDone}, true},
		{"canceled to processing", []models.JobStatus{models.JobStatusCanceled, models.JobStatusProcessing}, true},
		{"processing back to queued", []models.JobStatus{models.JobStatusProcessing, models.JobStatusQueued}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(time.Now().UTC())
			require.NoError(t, s.CreateJob(ctx, job))

			var err error
			for _, to := range tt.path {
				_, err = s.TransitionJob(ctx, job.ID, to, store.WithResultImageRef("results/x.jpg"))
				if err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, store.ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func testTransitionNotFound(t *testing.T, s store.Store) {
	_, err := s.TransitionJob(context.Background(), uuid.New(), models.JobStatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testFailureReasonOnlyOnFailed(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing, store.WithFailureReason("ignored"))
	require.NoError(t, err)
	assert.Nil(t, got.FailureReason)

	got, err = s.TransitionJob(ctx, job.ID, models.JobStatusFailed, store.WithFailureReason(models.FailureRenderTimeout))
	require.NoError(t, err)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, models.FailureRenderTimeout, *got.FailureReason)
	assert.Nil(t, got.ResultImageRef)
}

func testDoneRequiresResult(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)

	_, err = s.TransitionJob(ctx, job.ID, models.JobStatusDone)
	require.Error(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func testListJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		job := newJob(base.Add(time.Duration(i) * time.Second))
		require.NoError(t, s.CreateJob(ctx, job))
		ids = append(ids, job.ID)
	}
	_, err := s.TransitionJob(ctx, ids[1], models.JobStatusProcessing)
	require.NoError(t, err)
	_, err = s.TransitionJob(ctx, ids[1], models.JobStatusDone, store.WithResultImageRef("r1"))
	require.NoError(t, err)
	_, err = s.TransitionJob(ctx, ids[3], models.JobStatusProcessing)
	require.NoError(t, err)
	_, err = s.TransitionJob(ctx, ids[3], models.JobStatusDone, store.WithResultImageRef("r3"))
	require.NoError(t, err)

	all, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []uuid.UUID{ids[3], ids[2], ids[1], ids[0]}, jobIDs(all))

	done, err := s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusDone})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[3], ids[1]}, jobIDs(done))

	again, err := s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusDone})
	require.NoError(t, err)
	assert.Equal(t, done, again)

	none, err := s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusCanceled})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testConcurrentTransitionsSingleWinner(t *testing.T, s store.Store) {
	ctx := context.Background()
	job := newJob(time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.TransitionJob(ctx, job.ID, models.JobStatusProcessing)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	targets := []models.JobStatus{models.JobStatusDone, models.JobStatusCanceled, models.JobStatusFailed}
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(to models.JobStatus) {
			defer wg.Done()
			_, err := s.TransitionJob(ctx, job.ID, to, store.WithResultImageRef("r"))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, store.ErrInvalidTransition), "unexpected error: %v", err)
		}(targets[i%len(targets)])
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func testCredits(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, _, err := s.GetCredits(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.InitCredits(ctx, 30, 100))
	current, total, err := s.GetCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, current)
	assert.Equal(t, 100, total)

	// re-init keeps the running balance
	require.NoError(t, s.InitCredits(ctx, 100, 100))
	current, _, err = s.GetCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, current)

	current, err = s.DebitCredits(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, 17, current)

	current, err = s.DebitCredits(ctx, 20)
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)
	assert.Equal(t, 17, current)

	current, err = s.CreditCredits(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, 100, current, "credits are capped at total")
}

func testConcurrentDebits(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InitCredits(ctx, 50, 50))

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DebitCredits(ctx, 5); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	current, _, err := s.GetCredits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, current)
}

func testAPIKeys(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      "ops",
		KeyHash:   "bcrypt-hash-" + uuid.NewString(),
		KeyPrefix: "stg_abcd",
		Scopes:    []string{models.ScopeRead, models.ScopeStage},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "stg_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, []string{models.ScopeRead, models.ScopeStage}, keys[0].Scopes)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	listed, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.NotNil(t, listed[0].LastUsedAt)

	require.NoError(t, s.RevokeAPIKey(ctx, key.ID))
	assert.ErrorIs(t, s.RevokeAPIKey(ctx, key.ID), store.ErrNotFound)

	keys, err = s.GetAPIKeyByPrefix(ctx, "stg_abcd")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func testListAPIKeysNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	// created out of order so insertion order cannot pass for sorting
	offsets := []time.Duration{2 * time.Minute, 0, 4 * time.Minute, time.Minute, 3 * time.Minute}
	byOffset := map[time.Duration]uuid.UUID{}
	for i, off := range offsets {
		key := &models.APIKey{
			ID:        uuid.New(),
			Name:      fmt.Sprintf("key-%d", i),
			KeyHash:   "bcrypt-hash-" + uuid.NewString(),
			KeyPrefix: fmt.Sprintf("stg_srt%d", i),
			Scopes:    []string{models.ScopeRead},
			CreatedAt: base.Add(off),
			UpdatedAt: base.Add(off),
		}
		require.NoError(t, s.CreateAPIKey(ctx, key))
		byOffset[off] = key.ID
	}
	require.NoError(t, s.RevokeAPIKey(ctx, byOffset[3*time.Minute]))

	listed, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)

	var got []uuid.UUID
	for _, k := range listed {
		for _, id := range byOffset {
			if k.ID == id {
				got = append(got, k.ID)
			}
		}
	}
	want := []uuid.UUID{byOffset[4*time.Minute], byOffset[2*time.Minute], byOffset[time.Minute], byOffset[0]}
	assert.Equal(t, want, got)
}

func jobIDs(jobs []*models.Job) []uuid.UUID {
	ids := make([]uuid.UUID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

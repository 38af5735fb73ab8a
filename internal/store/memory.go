package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// MemoryStore implements Store in process memory. A single RWMutex serializes
// writers, so every transition is atomic with respect to reads. Records are
// copied on the way in and out.
type MemoryStore struct {
	mu sync.RWMutex

	jobs  map[uuid.UUID]*models.Job
	order []uuid.UUID

	keys map[uuid.UUID]*models.APIKey

	creditsSet bool
	current    int
	total      int

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			keys = append(keys, &c)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.ID == key.ID || k.KeyHash == key.KeyHash {
			return ErrDuplicateKey
		}
	}
	c := *key
	c.Scopes = append([]string{}, key.Scopes...)
	s.keys[key.ID] = &c
	return nil
}

func (s *MemoryStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]*models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		if k.DeletedAt == nil {
			c := *k
			keys = append(keys, &c)
		}
	}
	// newest first, matching the Postgres ORDER BY created_at DESC
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := s.now()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Jobs ---

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// ListJobs walks insertion order backwards, so results are newest first.
func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := []*models.Job{}
	for i := len(s.order) - 1; i >= 0; i-- {
		j := s.jobs[s.order[i]]
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		jobs = append(jobs, j.Clone())
	}
	return jobs, nil
}

func (s *MemoryStore) TransitionJob(_ context.Context, id uuid.UUID, to models.JobStatus, opts ...JobUpdateOption) (*models.Job, error) {
	params, err := applyOptions(to, opts)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(j.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	now := s.now()
	j.Status = to
	j.UpdatedAt = now
	if to == models.JobStatusProcessing {
		j.StartedAt = &now
	}
	if to.Terminal() {
		j.CompletedAt = &now
	}
	if params.ResultImageRef != nil {
		j.ResultImageRef = params.ResultImageRef
	}
	if params.FailureReason != nil {
		j.FailureReason = params.FailureReason
	}
	return j.Clone(), nil
}

// --- Credits ---

func (s *MemoryStore) InitCredits(_ context.Context, current, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current > total {
		current = total
	}
	if s.creditsSet {
		s.total = total
		if s.current > total {
			s.current = total
		}
		return nil
	}
	s.current, s.total, s.creditsSet = current, total, true
	return nil
}

func (s *MemoryStore) GetCredits(_ context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.creditsSet {
		return 0, 0, ErrNotFound
	}
	return s.current, s.total, nil
}

func (s *MemoryStore) DebitCredits(_ context.Context, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.creditsSet {
		return 0, ErrNotFound
	}
	if s.current < amount {
		return s.current, ErrInsufficientBalance
	}
	s.current -= amount
	return s.current, nil
}

func (s *MemoryStore) CreditCredits(_ context.Context, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.creditsSet {
		return 0, ErrNotFound
	}
	s.current += amount
	if s.current > s.total {
		s.current = s.total
	}
	return s.current, nil
}

var _ Store = (*MemoryStore)(nil)

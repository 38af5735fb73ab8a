package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")
var ErrInsufficientBalance = errors.New("insufficient credit balance")

// Store is the data access interface. All persistence goes through here.
// Implementations must apply each job transition atomically with respect to reads.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	TransitionJob(ctx context.Context, id uuid.UUID, to models.JobStatus, opts ...JobUpdateOption) (*models.Job, error)

	InitCredits(ctx context.Context, current, total int) error
	GetCredits(ctx context.Context) (current, total int, err error)
	DebitCredits(ctx context.Context, amount int) (int, error)
	CreditCredits(ctx context.Context, amount int) (int, error)
}

// JobFilter narrows ListJobs. A zero Status matches every job.
type JobFilter struct {
	Status models.JobStatus
}

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusQueued:     {models.JobStatusProcessing, models.JobStatusFailed, models.JobStatusCanceled},
	models.JobStatusProcessing: {models.JobStatusDone, models.JobStatusFailed, models.JobStatusCanceled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to models.JobStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// sourcesFor returns every status that may transition to the given one.
func sourcesFor(to models.JobStatus) []string {
	var out []string
	for _, from := range models.JobStatuses {
		if CanTransition(from, to) {
			out = append(out, string(from))
		}
	}
	return out
}

type jobUpdateParams struct {
	ResultImageRef *string
	FailureReason  *string
}

type JobUpdateOption func(*jobUpdateParams)

// WithResultImageRef sets the result reference. Only applied on transitions to done.
func WithResultImageRef(ref string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultImageRef = &ref
	}
}

// WithFailureReason records why a job failed.
func WithFailureReason(reason string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.FailureReason = &reason
	}
}

func applyOptions(to models.JobStatus, opts []JobUpdateOption) (*jobUpdateParams, error) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if to == models.JobStatusDone {
		if params.ResultImageRef == nil || *params.ResultImageRef == "" {
			return nil, errors.New("result image ref is required to complete a job")
		}
	} else {
		params.ResultImageRef = nil
	}
	if to != models.JobStatusFailed {
		params.FailureReason = nil
	}
	return params, nil
}

// Package handler implements the HTTP handlers mounted by the API router.
// Handlers depend on small interfaces so they can be tested without a store.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/internal/api/response"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// JobService is the staging operations the job handlers call.
type JobService interface {
	CreateJob(ctx context.Context, req models.JobRequest) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// CreditsService reads and tops up the credit balance.
type CreditsService interface {
	Snapshot(ctx context.Context) (models.Credits, error)
	TopUp(ctx context.Context, amount int) (models.Credits, error)
}

// urlUUID parses a UUID route parameter, writing a 400 when it is malformed.
func urlUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			param+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func internalError(w http.ResponseWriter) {
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"An unexpected error occurred", nil)
}

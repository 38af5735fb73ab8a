package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/internal/api/response"
	"github.com/kiranshivaraju/stager/internal/credits"
	"github.com/kiranshivaraju/stager/internal/staging"
	"github.com/kiranshivaraju/stager/internal/storage"
	"github.com/kiranshivaraju/stager/internal/validate"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// MaxUploadBytes caps multipart job submissions.
const MaxUploadBytes = 20 << 20

// JobHandlers serves the /api/v1/jobs routes.
type JobHandlers struct {
	svc     JobService
	objects storage.ObjectStorage
}

func NewJobHandlers(svc JobService, objects storage.ObjectStorage) *JobHandlers {
	return &JobHandlers{svc: svc, objects: objects}
}

type createJobResponse struct {
	JobID uuid.UUID   `json:"job_id"`
	Job   *models.Job `json:"job"`
}

// createJobBody keeps every field untyped so that a value of the wrong JSON
// type is reported by validation with the rest of the request's problems.
type createJobBody struct {
	URL        any `json:"url"`
	RoomType   any `json:"room_type"`
	Style      any `json:"style"`
	Items      any `json:"items"`
	Resolution any `json:"resolution"`
}

// Create handles POST /api/v1/jobs. The body is either JSON referencing a
// photo by url, or multipart/form-data carrying the photo as "file".
func (h *JobHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var (
		in     validate.CreateJobInput
		upload multipart.File
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid multipart body", nil)
			return
		}
		in = formInput(r.MultipartForm)

		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable file part", nil)
			return
		default:
			defer file.Close()
			upload = file
			in.File = &validate.FileInput{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
			}
		}
	} else {
		var body createJobBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		in = validate.CreateJobInput{
			URL:        body.URL,
			RoomType:   body.RoomType,
			Style:      body.Style,
			Items:      body.Items,
			Resolution: body.Resolution,
		}
	}

	req, verr := validate.CreateJob(in)
	if verr != nil {
		response.ValidationFailed(w, verr.Messages)
		return
	}

	ref := req.URL
	if req.File != nil {
		key := storage.UploadKey(uuid.New(), req.File.Name)
		if err := h.objects.Put(r.Context(), key, upload, req.File.Size, req.File.ContentType); err != nil {
			slog.Error("storing upload", "error", err, "key", key)
			response.Error(w, http.StatusBadGateway, "STORAGE_UNAVAILABLE",
				"The uploaded image could not be stored", nil)
			return
		}
		ref = key
	}

	job, err := h.svc.CreateJob(r.Context(), req.Normalized(ref))
	if err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
				"Not enough credits for this job", nil)
			return
		}
		slog.Error("creating job", "error", err)
		internalError(w)
		return
	}

	response.Accepted(w, createJobResponse{JobID: job.ID, Job: job})
}

func formInput(form *multipart.Form) validate.CreateJobInput {
	get := func(k string) string {
		if v := form.Value[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	items := make([]any, 0, len(form.Value["items"]))
	for _, it := range form.Value["items"] {
		items = append(items, it)
	}
	return validate.CreateJobInput{
		URL:        get("url"),
		RoomType:   get("room_type"),
		Style:      get("style"),
		Items:      items,
		Resolution: get("resolution"),
	}
}

// List handles GET /api/v1/jobs?status=.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	status := models.JobStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		response.ValidationFailed(w, []string{
			"status must be one of queued, processing, done, failed, canceled",
		})
		return
	}

	jobs, err := h.svc.ListJobs(r.Context(), status)
	if err != nil {
		slog.Error("listing jobs", "error", err, "status", status)
		internalError(w)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	response.Collection(w, jobs, response.ListMeta{Count: len(jobs), Status: string(status)})
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		writeJobError(w, err, id)
		return
	}
	response.JSON(w, job)
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel. Cancelling a finished job
// returns its unchanged snapshot.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(w, r, "jobID")
	if !ok {
		return
	}

	job, err := h.svc.CancelJob(r.Context(), id)
	if err != nil {
		writeJobError(w, err, id)
		return
	}
	response.JSON(w, job)
}

func writeJobError(w http.ResponseWriter, err error, id uuid.UUID) {
	if errors.Is(err, staging.ErrJobNotFound) {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	slog.Error("job request failed", "error", err, "job_id", id)
	internalError(w)
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a staging job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusDone, JobStatusFailed, JobStatusCanceled}

func (s JobStatus) Valid() bool {
	for _, st := range JobStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCanceled
}

// Rank orders statuses along the lifecycle. All terminal statuses share the
// highest rank.
func (s JobStatus) Rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusDone, JobStatusFailed, JobStatusCanceled:
		return 2
	default:
		return -1
	}
}

// Failure reasons recorded on jobs that end in JobStatusFailed.
const (
	FailureRenderTimeout     = "render_timeout"
	FailureRenderUnavailable = "render_unavailable"
	FailureRenderRejected    = "render_rejected"
	FailureRenderError       = "render_error"
)

// Job tracks an asynchronous virtual staging request. The API returns the job
// on POST /api/v1/jobs; the client polls GET /api/v1/jobs/{job_id} until the
// status is terminal.
type Job struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	InputImageRef  string     `db:"input_image_ref"  json:"input_image_ref"`
	RoomType       RoomType   `db:"room_type"        json:"room_type"`
	Style          StyleID    `db:"style"            json:"style"`
	Items          []string   `db:"items"            json:"items"`
	Resolution     Resolution `db:"resolution"       json:"resolution"`
	Status         JobStatus  `db:"status"           json:"status"`
	ResultImageRef *string    `db:"result_image_ref" json:"result_image_ref,omitempty"`
	FailureReason  *string    `db:"failure_reason"   json:"failure_reason,omitempty"`
	Cost           int        `db:"cost"             json:"cost"`
	StartedAt      *time.Time `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"       json:"updated_at"`
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Items = append([]string{}, j.Items...)
	if j.ResultImageRef != nil {
		v := *j.ResultImageRef
		c.ResultImageRef = &v
	}
	if j.FailureReason != nil {
		v := *j.FailureReason
		c.FailureReason = &v
	}
	if j.StartedAt != nil {
		v := *j.StartedAt
		c.StartedAt = &v
	}
	if j.CompletedAt != nil {
		v := *j.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// JobRequest is a validated, normalized request to stage a photo.
type JobRequest struct {
	InputImageRef string
	RoomType      RoomType
	Style         StyleID
	Items         []string
	Resolution    Resolution
}

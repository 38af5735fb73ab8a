// Package client is a Go client for the stager HTTP API. It is used by
// stagerctl and satisfies poller.JobSource, so jobs can be watched remotely.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/internal/credits"
	"github.com/kiranshivaraju/stager/internal/staging"
	"github.com/kiranshivaraju/stager/pkg/models"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrNotFound is returned for unknown jobs. It is staging.ErrJobNotFound,
	// so pollers stop on it exactly as they do in-process.
	ErrNotFound = staging.ErrJobNotFound

	// ErrInsufficientCredits mirrors the server's 402.
	ErrInsufficientCredits = credits.ErrInsufficientCredits

	// ErrTransient marks failures that may succeed when retried: transport
	// errors, rate limiting and 5xx responses.
	ErrTransient = errors.New("transient fetch error")

	// ErrValidation marks a 422; APIError.Details lists every message.
	ErrValidation = errors.New("request failed validation")

	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details []string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error %s (%d): %s", e.Code, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Code == "JOB_NOT_FOUND":
		return ErrNotFound
	case e.Status == http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case e.Status == http.StatusUnprocessableEntity:
		return ErrValidation
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError:
		return ErrTransient
	}
	return nil
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details struct {
			Errors []string `json:"errors"`
		} `json:"details"`
	} `json:"error"`
}

// Client talks to a stager server.
type Client struct {
	http *resty.Client
}

type Option func(*resty.Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// WithRetries retries idempotent reads up to n times on transient failures.
func WithRetries(n int, wait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(n).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(4 * wait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
					return false
				}
				return err != nil || r.StatusCode() == http.StatusTooManyRequests ||
					r.StatusCode() >= http.StatusInternalServerError
			})
	}
}

// New creates a Client for the server at baseURL authenticating with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		rc.SetAuthToken(apiKey)
	}
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}
}

func do[T any](ctx context.Context, c *Client, method, path string, build func(*resty.Request)) (T, error) {
	var (
		out    envelope[T]
		errEnv errorEnvelope
	)
	req := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&errEnv)
	if build != nil {
		build(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return out.Data, ctx.Err()
		}
		return out.Data, fmt.Errorf("%s %s: %w: %w", method, path, ErrTransient, err)
	}
	if resp.IsError() {
		return out.Data, &APIError{
			Status:  resp.StatusCode(),
			Code:    errEnv.Error.Code,
			Message: errEnv.Error.Message,
			Details: errEnv.Error.Details.Errors,
		}
	}
	return out.Data, nil
}

// Health reports per-dependency status. A degraded server returns an
// APIError wrapping ErrTransient.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	type health struct {
		Services map[string]string `json:"services"`
	}
	h, err := do[health](ctx, c, http.MethodGet, "/api/v1/health", nil)
	return h.Services, err
}

func (c *Client) ListStyles(ctx context.Context) ([]models.Style, error) {
	return do[[]models.Style](ctx, c, http.MethodGet, "/api/v1/styles", nil)
}

func (c *Client) ListItems(ctx context.Context, roomType models.RoomType) ([]models.Item, error) {
	return do[[]models.Item](ctx, c, http.MethodGet, "/api/v1/rooms/{roomType}/items", func(r *resty.Request) {
		r.SetPathParam("roomType", string(roomType))
	})
}

// DetectRoom classifies an already reachable image.
func (c *Client) DetectRoom(ctx context.Context, imageRef string) (models.RoomDetection, error) {
	return do[models.RoomDetection](ctx, c, http.MethodPost, "/api/v1/rooms/detect", func(r *resty.Request) {
		r.SetBody(map[string]string{"image_ref": imageRef})
	})
}

// DetectRoomUpload uploads a photo and classifies it.
func (c *Client) DetectRoomUpload(ctx context.Context, fileName, contentType string, content io.Reader) (models.RoomDetection, error) {
	return do[models.RoomDetection](ctx, c, http.MethodPost, "/api/v1/rooms/detect", func(r *resty.Request) {
		r.SetMultipartField("file", fileName, contentType, content)
	})
}

// Estimate is the server's cost breakdown.
type Estimate struct {
	Style          models.StyleID    `json:"style"`
	Resolution     models.Resolution `json:"resolution"`
	ItemCount      int               `json:"item_count"`
	BaseCost       int               `json:"base_cost"`
	StyleSurcharge int               `json:"style_surcharge"`
	ItemsCost      int               `json:"items_cost"`
	Cost           int               `json:"cost"`
}

func (c *Client) Estimate(ctx context.Context, style models.StyleID, res models.Resolution, itemCount int) (Estimate, error) {
	return do[Estimate](ctx, c, http.MethodGet, "/api/v1/estimate", func(r *resty.Request) {
		r.SetQueryParams(map[string]string{
			"style":      string(style),
			"resolution": string(res),
			"items":      strconv.Itoa(itemCount),
		})
	})
}

func (c *Client) Credits(ctx context.Context) (models.Credits, error) {
	return do[models.Credits](ctx, c, http.MethodGet, "/api/v1/credits", nil)
}

func (c *Client) TopUp(ctx context.Context, amount int) (models.Credits, error) {
	return do[models.Credits](ctx, c, http.MethodPost, "/api/v1/credits/topup", func(r *resty.Request) {
		r.SetBody(map[string]int{"amount": amount})
	})
}

// CreateJobRequest is the job description sent to the server. For uploads
// URL is ignored.
type CreateJobRequest struct {
	URL        string            `json:"url,omitempty"`
	RoomType   models.RoomType   `json:"room_type"`
	Style      models.StyleID    `json:"style"`
	Items      []string          `json:"items"`
	Resolution models.Resolution `json:"resolution,omitempty"`
}

type createJobResponse struct {
	JobID uuid.UUID   `json:"job_id"`
	Job   *models.Job `json:"job"`
}

// CreateJob submits a job whose photo is referenced by URL.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	if req.Items == nil {
		req.Items = []string{}
	}
	out, err := do[createJobResponse](ctx, c, http.MethodPost, "/api/v1/jobs", func(r *resty.Request) {
		r.SetBody(req)
	})
	return out.Job, err
}

// CreateJobUpload submits a job together with its photo.
func (c *Client) CreateJobUpload(ctx context.Context, req CreateJobRequest, fileName, contentType string, content io.Reader) (*models.Job, error) {
	form := url.Values{}
	form.Set("room_type", string(req.RoomType))
	form.Set("style", string(req.Style))
	if req.Resolution != "" {
		form.Set("resolution", string(req.Resolution))
	}
	for _, it := range req.Items {
		form.Add("items", it)
	}

	out, err := do[createJobResponse](ctx, c, http.MethodPost, "/api/v1/jobs", func(r *resty.Request) {
		r.SetFormDataFromValues(form).
			SetMultipartField("file", fileName, contentType, content)
	})
	return out.Job, err
}

// GetJob returns the current snapshot of a job, or ErrNotFound.
func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return do[*models.Job](ctx, c, http.MethodGet, "/api/v1/jobs/{jobID}", func(r *resty.Request) {
		r.SetPathParam("jobID", id.String())
	})
}

// ListJobs returns jobs newest first. An empty status lists every job.
func (c *Client) ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	return do[[]*models.Job](ctx, c, http.MethodGet, "/api/v1/jobs", func(r *resty.Request) {
		if status != "" {
			r.SetQueryParam("status", string(status))
		}
	})
}

// CancelJob cancels a job. Finished jobs come back unchanged.
func (c *Client) CancelJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return do[*models.Job](ctx, c, http.MethodPost, "/api/v1/jobs/{jobID}/cancel", func(r *resty.Request) {
		r.SetPathParam("jobID", id.String())
	})
}

// CreatedKey carries a new API key. Key is never retrievable again.
type CreatedKey struct {
	Key    string         `json:"key"`
	APIKey *models.APIKey `json:"api_key"`
}

func (c *Client) CreateKey(ctx context.Context, name string, scopes []string) (CreatedKey, error) {
	return do[CreatedKey](ctx, c, http.MethodPost, "/api/v1/admin/keys", func(r *resty.Request) {
		r.SetBody(map[string]any{"name": name, "scopes": scopes})
	})
}

func (c *Client) ListKeys(ctx context.Context) ([]*models.APIKey, error) {
	return do[[]*models.APIKey](ctx, c, http.MethodGet, "/api/v1/admin/keys", nil)
}

func (c *Client) RevokeKey(ctx context.Context, id uuid.UUID) error {
	_, err := do[struct{}](ctx, c, http.MethodDelete, "/api/v1/admin/keys/{keyID}", func(r *resty.Request) {
		r.SetPathParam("keyID", id.String())
	})
	return err
}

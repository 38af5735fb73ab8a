package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// Remote implements models.Renderer and models.RoomDetector against an
// external staging backend's HTTP API.
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemote creates a new backend client.
func NewRemote(baseURL, apiKey string, timeout time.Duration) *Remote {
	return &Remote{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *Remote) Name() string { return "remote" }

type renderRequest struct {
	JobID         uuid.UUID         `json:"job_id"`
	InputImageRef string            `json:"input_image_ref"`
	RoomType      models.RoomType   `json:"room_type"`
	Style         models.StyleID    `json:"style"`
	Items         []string          `json:"items"`
	Resolution    models.Resolution `json:"resolution"`
}

type renderResponse struct {
	ResultImageRef string `json:"result_image_ref"`
}

type detectRequest struct {
	ImageRef string `json:"image_ref"`
}

func (r *Remote) Render(ctx context.Context, job models.Job) (string, error) {
	var resp renderResponse
	err := r.post(ctx, "/v1/render", renderRequest{
		JobID:         job.ID,
		InputImageRef: job.InputImageRef,
		RoomType:      job.RoomType,
		Style:         job.Style,
		Items:         job.Items,
		Resolution:    job.Resolution,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ResultImageRef == "" {
		return "", fmt.Errorf("%w: empty result_image_ref", ErrInvalidResponse)
	}
	return resp.ResultImageRef, nil
}

func (r *Remote) Detect(ctx context.Context, imageRef string) (models.RoomDetection, error) {
	var resp models.RoomDetection
	if err := r.post(ctx, "/v1/detect", detectRequest{ImageRef: imageRef}, &resp); err != nil {
		return models.RoomDetection{}, err
	}

	if !resp.RoomType.Valid() {
		resp.RoomType = models.RoomOther
	}
	// Clamp confidence to [0, 1]
	if resp.Confidence < 0 {
		resp.Confidence = 0
	}
	if resp.Confidence > 1.0 {
		resp.Confidence = 1.0
	}
	return resp, nil
}

// Ready checks that the backend answers its health endpoint.
func (r *Remote) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	r.setHeaders(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: backend not ready (status %d)", ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func (r *Remote) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	r.setHeaders(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return fmt.Errorf("%w: status %d", ErrBackendTimeout, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrBackendRejected, resp.StatusCode, bytes.TrimSpace(msg))
	default:
		return fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func (r *Remote) setHeaders(req *http.Request) {
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}

var (
	_ models.Renderer     = (*Remote)(nil)
	_ models.RoomDetector = (*Remote)(nil)
)

package mock

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/stager/internal/render"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// MockBackend satisfies render.Backend for testing.
type MockBackend struct {
	Name_      string
	RenderFunc func(ctx context.Context, job models.Job) (string, error)
	DetectFunc func(ctx context.Context, imageRef string) (models.RoomDetection, error)
}

func (m *MockBackend) Name() string { return m.Name_ }

func (m *MockBackend) Render(ctx context.Context, job models.Job) (string, error) {
	if m.RenderFunc != nil {
		return m.RenderFunc(ctx, job)
	}
	return "", nil
}

func (m *MockBackend) Detect(ctx context.Context, imageRef string) (models.RoomDetection, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, imageRef)
	}
	return models.RoomDetection{RoomType: models.RoomOther}, nil
}

// NewMockBackend returns a MockBackend with sensible default responses.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Name_: "mock",
		RenderFunc: func(_ context.Context, job models.Job) (string, error) {
			return fmt.Sprintf("mock/%s.jpg", job.ID), nil
		},
		DetectFunc: func(_ context.Context, _ string) (models.RoomDetection, error) {
			return models.RoomDetection{RoomType: models.RoomLivingRoom, Confidence: 0.9}, nil
		},
	}
}

// NewFailingBackend returns a MockBackend that always returns the given error.
func NewFailingBackend(err error) *MockBackend {
	return &MockBackend{
		Name_: "mock-failing",
		RenderFunc: func(_ context.Context, _ models.Job) (string, error) {
			return "", err
		},
		DetectFunc: func(_ context.Context, _ string) (models.RoomDetection, error) {
			return models.RoomDetection{}, err
		},
	}
}

// NewTimeoutBackend returns a MockBackend that blocks until context is cancelled.
func NewTimeoutBackend() *MockBackend {
	return &MockBackend{
		Name_: "mock-timeout",
		RenderFunc: func(ctx context.Context, _ models.Job) (string, error) {
			<-ctx.Done()
			return "", render.ErrBackendTimeout
		},
		DetectFunc: func(ctx context.Context, _ string) (models.RoomDetection, error) {
			<-ctx.Done()
			return models.RoomDetection{}, render.ErrBackendTimeout
		},
	}
}

// Compile-time check that MockBackend implements render.Backend.
var _ render.Backend = (*MockBackend)(nil)

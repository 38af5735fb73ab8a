package models

import "context"

// Renderer produces a staged image for a job. Never call a specific backend
// directly; always inject this interface.
type Renderer interface {
	// Render stages the job's input image and returns a reference to the result.
	Render(ctx context.Context, job Job) (string, error)
	// Name returns the backend identifier (e.g., "simulated", "remote").
	Name() string
}

// RoomDetection is the outcome of classifying a source photo.
type RoomDetection struct {
	RoomType   RoomType `json:"room_type"`
	Confidence float64  `json:"confidence"`
}

// RoomDetector guesses the room type shown in an image.
type RoomDetector interface {
	Detect(ctx context.Context, imageRef string) (RoomDetection, error)
}

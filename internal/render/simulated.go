package render

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/stager/pkg/models"
)

// Simulated stands in for a real staging backend. Its result references are
// derived from the job alone, so repeated renders of a job agree.
type Simulated struct{}

func NewSimulated() *Simulated {
	return &Simulated{}
}

func (s *Simulated) Name() string { return "simulated" }

func (s *Simulated) Render(ctx context.Context, job models.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classifyError(err)
	}
	return fmt.Sprintf("staged/%s_%s_%s.jpg", job.ID, job.Style, job.Resolution), nil
}

// Detect always answers "other" with zero confidence; room classification
// needs a vision backend.
func (s *Simulated) Detect(ctx context.Context, _ string) (models.RoomDetection, error) {
	if err := ctx.Err(); err != nil {
		return models.RoomDetection{}, classifyError(err)
	}
	return models.RoomDetection{RoomType: models.RoomOther, Confidence: 0}, nil
}

var (
	_ models.Renderer     = (*Simulated)(nil)
	_ models.RoomDetector = (*Simulated)(nil)
)

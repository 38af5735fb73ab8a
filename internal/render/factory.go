// Package render provides the staging backends that turn a queued job into a
// result image, and the room detectors used before a job is created.
package render

import (
	"fmt"

	"github.com/kiranshivaraju/stager/internal/config"
	"github.com/kiranshivaraju/stager/pkg/models"
)

// Backend is a renderer that can also classify rooms.
type Backend interface {
	models.Renderer
	models.RoomDetector
}

// NewBackend constructs the configured render backend.
// Called once at server and worker startup.
func NewBackend(cfg config.RenderConfig) (Backend, error) {
	switch cfg.Provider {
	case config.RenderProviderSimulated:
		return NewSimulated(), nil
	case config.RenderProviderRemote:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("remote render provider requires a base URL")
		}
		return NewRemote(cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown render provider %q: must be one of simulated, remote", cfg.Provider)
	}
}

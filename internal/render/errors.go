package render

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/kiranshivaraju/stager/pkg/models"
)

var (
	ErrBackendUnavailable = errors.New("render backend unavailable")
	ErrBackendTimeout     = errors.New("render backend timeout")
	ErrBackendRejected    = errors.New("render backend rejected request")
	ErrInvalidResponse    = errors.New("render backend returned invalid response")
)

// FailureReason maps a render error to the reason code stored on a failed job.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrBackendTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.FailureRenderTimeout
	case errors.Is(err, ErrBackendUnavailable):
		return models.FailureRenderUnavailable
	case errors.Is(err, ErrBackendRejected):
		return models.FailureRenderRejected
	default:
		return models.FailureRenderError
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

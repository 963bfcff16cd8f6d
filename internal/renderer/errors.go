package renderer

import (
	"context"
	"errors"
)

var (
	ErrInvalidRequest   = errors.New("invalid render request")
	ErrLaunch           = errors.New("failed to launch browser")
	ErrNavigation       = errors.New("navigation failed")
	ErrExtraction       = errors.New("extraction failed")
	ErrDeadlineExceeded = errors.New("operation timed out")
)

// Kind names the failure class of an error returned by Service.Render.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrDeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrLaunch):
		return "launch"
	case errors.Is(err, ErrNavigation):
		return "navigation"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "internal"
	}
}

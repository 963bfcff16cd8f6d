package renderer

import (
	"context"
	"log/slog"
	"time"
)

const readyStateScript = "document.readyState"

// settler approximates "page is stable" with fixed delays. Nothing it observes is a gate.
type settler struct {
	page         Page
	settleDelay  time.Duration
	captureDelay time.Duration
	log          *slog.Logger
}

func (s *settler) settle(ctx context.Context) Step {
	s.log.Info("waiting for network to be idle...", slog.Duration("delay", s.settleDelay))
	if err := sleep(ctx, s.settleDelay); err != nil {
		return fatal(err)
	}

	var state string
	if err := s.page.Evaluate(ctx, readyStateScript, &state); err != nil {
		if ctx.Err() != nil {
			return fatal(ctx.Err())
		}
		s.log.Warn("failed to get ready state.", slog.String("err", err.Error()))
		return softFailed(err)
	}
	s.log.Info("page ready state.", slog.String("state", state))

	return ok()
}

// beforeCapture lets in-page animations finish.
func (s *settler) beforeCapture(ctx context.Context) error {
	return sleep(ctx, s.captureDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

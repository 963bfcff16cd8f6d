package renderer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/telemetry"
)

// navigator loads a url into the page. A failed navigate command falls back to setting
// window.location from script; a missing completion signal is logged and ignored.
type navigator struct {
	page        Page
	waitTimeout time.Duration
	log         *slog.Logger
	metrics     *telemetry.RenderMetrics
}

func (n *navigator) navigate(ctx context.Context, url string) (model.NavigationOutcome, error) {
	outcome := model.Completed

	submit := n.submit(ctx, url)
	switch submit.Status {
	case StepFatal:
		return outcome, submit.Err
	case StepSoftFailed:
		outcome = model.CompletedViaFallback
	}

	if wait := n.waitForSignal(ctx); wait.Status != StepOK {
		outcome = model.TimedOutWaitingForSignal
	}

	return outcome, nil
}

func (n *navigator) submit(ctx context.Context, url string) Step {
	n.log.Info("navigating.")
	err := n.page.Navigate(ctx, url)
	if ctx.Err() != nil {
		return fatal(ctx.Err())
	}
	if err == nil {
		n.log.Info("initial navigation completed.")
		return ok()
	}

	n.log.Warn("initial navigation failed, trying script navigation.", slog.String("err", err.Error()))
	n.metrics.FallbackNavigationCnt(1)
	if fallbackErr := n.page.NavigateByScript(ctx, url); fallbackErr != nil {
		if ctx.Err() != nil {
			return fatal(ctx.Err())
		}
		n.log.Error("script navigation failed.", slog.String("err", fallbackErr.Error()))
		return fatal(fmt.Errorf("%w: navigate command: %v; script navigation: %w", ErrNavigation, err, fallbackErr))
	}
	n.log.Info("script navigation completed.")

	return softFailed(err)
}

func (n *navigator) waitForSignal(ctx context.Context) Step {
	n.log.Info("waiting for navigation to complete...")
	wctx, cancel := context.WithTimeout(ctx, n.waitTimeout)
	defer cancel()

	if err := n.page.WaitForNavigation(wctx); err != nil {
		// The page may still be usable.
		n.log.Warn("navigation wait failed, continuing.", slog.String("err", err.Error()))
		n.metrics.MissedNavigationSignal(1)
		return softFailed(err)
	}
	n.log.Info("navigation completed.")

	return ok()
}

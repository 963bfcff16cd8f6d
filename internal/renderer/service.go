package renderer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/telemetry"
	"github.com/google/uuid"
)

// Service renders one url per call. Every call launches its own engine and tears it down
// before returning, whatever the outcome.
type Service struct {
	launch  LaunchFunc
	cfg     *config.RenderConfig
	metrics *telemetry.RenderMetrics
	encode  func([]byte) string
}

func NewService(launch LaunchFunc, cfg *config.RenderConfig, metrics *telemetry.RenderMetrics) *Service {
	return &Service{
		launch:  launch,
		cfg:     cfg,
		metrics: metrics,
		encode:  base64.StdEncoding.EncodeToString,
	}
}

func (s *Service) Render(ctx context.Context, req *model.RenderRequest) (*model.RenderResult, error) {
	if req == nil || strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	log := slog.With(slog.String("request_id", uuid.NewString()), slog.String("url", req.URL))
	mode := req.ParsedMode()
	if req.Mode != "" && req.Mode != mode.String() {
		log.Warn("invalid mode, defaulting to screenshot.", slog.String("mode", req.Mode))
	}
	log.Info("processing url.", slog.String("mode", mode.String()))

	startTime := time.Now()
	res, err := s.render(ctx, log, req.URL, mode)
	s.metrics.RenderDurationMs(time.Since(startTime).Milliseconds())
	switch {
	case err == nil:
		s.metrics.SuccessfulRenderCnt(1)
		log.Info("render finished.", slog.Int64("time_to_render_ms", time.Since(startTime).Milliseconds()))
	case errors.Is(err, ErrDeadlineExceeded):
		s.metrics.TimedOutRenderCnt(1)
		log.Error("render timed out.", slog.String("err", err.Error()))
	default:
		s.metrics.FailedRenderCnt(1)
		log.Error("render failed.", slog.String("kind", Kind(err)), slog.String("err", err.Error()))
	}

	return res, err
}

func (s *Service) render(ctx context.Context, log *slog.Logger, url string, mode model.Mode) (*model.RenderResult, error) {
	page, err := s.launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	defer teardown(log, page)

	return s.guard(ctx, func(ctx context.Context) (*model.RenderResult, error) {
		return s.sequence(ctx, log, page, url, mode)
	})
}

// guard runs fn under the render deadline. Every step observes ctx, so fn has returned and
// issues no further page calls by the time guard does.
func (s *Service) guard(ctx context.Context, fn func(context.Context) (*model.RenderResult, error)) (*model.RenderResult, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	res, err := fn(dctx)
	if expired := s.expired(ctx, dctx); expired != nil {
		return nil, expired
	}
	if err != nil {
		return nil, fmt.Errorf("browser operation failed: %w", err)
	}

	return res, nil
}

// expired reports the deadline error once the render deadline, not the caller, ended dctx.
func (s *Service) expired(parent, dctx context.Context) error {
	if parent.Err() != nil {
		return fmt.Errorf("browser operation failed: %w", parent.Err())
	}
	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrDeadlineExceeded, s.cfg.Timeout)
	}
	return nil
}

func (s *Service) sequence(ctx context.Context, log *slog.Logger, page Page, url string,
	mode model.Mode) (*model.RenderResult, error) {
	nav := &navigator{
		page:        page,
		waitTimeout: s.cfg.NavigationWaitTimeout,
		log:         log,
		metrics:     s.metrics,
	}
	st := &settler{
		page:         page,
		settleDelay:  s.cfg.SettleDelay,
		captureDelay: s.cfg.CaptureDelay,
		log:          log,
	}
	ext := &extractor{
		page:    page,
		settler: st,
		encode:  s.encode,
		log:     log,
	}

	outcome, err := nav.navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	log.Info("navigation finished.", slog.String("outcome", outcome.String()))

	if step := st.settle(ctx); step.Status == StepFatal {
		return nil, step.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &model.RenderResult{
		Message: model.SuccessMessage,
		Title:   ext.title(ctx),
		URL:     url,
	}
	if err := ext.extract(ctx, mode, res); err != nil {
		return nil, err
	}

	return res, nil
}

// teardown closes the engine, then stops the pump. Its failures are logged and never replace
// the render result or error.
func teardown(log *slog.Logger, page Page) {
	if err := page.Close(); err != nil {
		log.Warn("failed to close browser.", slog.String("err", err.Error()))
	}
	events := page.Pump().Stop()
	log.Debug("browser session closed.", slog.Int64("drained_events", events))
}

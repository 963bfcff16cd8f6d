package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/IliaW/page-renderer/config"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
)

const eventBuffer = 128

var (
	ErrSessionClosed = errors.New("browser session is closed")
	ErrNoNavigation  = errors.New("no navigation in progress")
)

// Supervisor launches one engine process per Launch call and hands ownership of it to the
// returned Session.
type Supervisor struct {
	cfg *config.BrowserConfig
}

func NewSupervisor(cfg *config.BrowserConfig) *Supervisor {
	return &Supervisor{cfg: cfg}
}

func (sv *Supervisor) Launch(ctx context.Context) (*Session, error) {
	if sv.cfg.ListInstallDir {
		ListInstallDir(sv.cfg.InstallDir)
	}
	slog.Info("launching browser.", slog.String("exec_path", sv.cfg.ExecPath),
		slog.Any("args", commandLine()))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(sv.cfg.ExecPath, sv.cfg.LibraryPath)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	s := &Session{
		ctx:           browserCtx,
		cancelBrowser: browserCancel,
		cancelAlloc:   allocCancel,
		events:        make(chan any, eventBuffer),
	}
	// The pump outlives the caller's deadline scope and stops only on teardown.
	s.pump = StartEventPump(context.WithoutCancel(ctx), s.events)
	chromedp.ListenTarget(browserCtx, s.dispatch)

	// The first Run starts the process and opens the page.
	if err := chromedp.Run(browserCtx, enableLifeCycleEvents()); err != nil {
		if closeErr := s.Close(); closeErr != nil {
			slog.Debug("failed to clean up after launch failure.", slog.String("err", closeErr.Error()))
		}
		s.pump.Stop()
		return nil, err
	}
	slog.Info("browser launched successfully.")

	return s, nil
}

// Session is one engine process with one open page. It is valid between a successful
// Launch and Close; every method fails with ErrSessionClosed afterwards.
type Session struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	events        chan any
	pump          *EventPump
	closed        atomic.Bool
	closeOnce     sync.Once

	mu     sync.Mutex
	loaded chan struct{}
}

// Pump drains the target event stream. It runs from before the first command until the
// owner stops it, after Close.
func (s *Session) Pump() *EventPump {
	return s.pump
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.armNavigation()
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation error: %s", errorText)
		}
		return nil
	}))
}

// NavigateByScript assigns window.location from the page itself. It re-arms the load signal,
// so a load event left over from a failed Navigate is not taken for this one.
func (s *Session) NavigateByScript(ctx context.Context, url string) error {
	script, err := locationScript(url)
	if err != nil {
		return err
	}
	s.armNavigation()
	return s.run(ctx, chromedp.Evaluate(script, nil))
}

func (s *Session) Evaluate(ctx context.Context, expression string, res any) error {
	return s.run(ctx, chromedp.Evaluate(expression, res))
}

// WaitForNavigation blocks until the page fires its load event for the latest Navigate or
// NavigateByScript call.
func (s *Session) WaitForNavigation(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	ch := s.loaded
	s.mu.Unlock()
	if ch == nil {
		return ErrNoNavigation
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

func (s *Session) Document(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		rootNode, err := dom.GetDocument().Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(rootNode.NodeID).Do(ctx)
		return err
	}))
	return html, err
}

// CaptureViewport takes a png of the visible viewport with the page background included.
func (s *Session) CaptureViewport(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(false).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	return buf, err
}

// Close shuts the browser down and kills the process. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		slog.Info("closing browser...")
		err = chromedp.Cancel(s.ctx)
		s.cancelBrowser()
		s.cancelAlloc()
	})
	return err
}

// run executes actions on the page, bounded by both ctx and the session lifetime.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	opCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(opCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

// dispatch is called synchronously from the chromedp target loop. It blocks until the
// event pump takes the event, so an undrained stream holds up command completion.
func (s *Session) dispatch(ev any) {
	if _, ok := ev.(*page.EventLoadEventFired); ok {
		s.signalNavigation()
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) armNavigation() {
	s.mu.Lock()
	s.loaded = make(chan struct{})
	s.mu.Unlock()
}

func (s *Session) signalNavigation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded == nil {
		return
	}
	select {
	case <-s.loaded:
	default:
		close(s.loaded)
	}
}

func enableLifeCycleEvents() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		err := page.Enable().Do(ctx)
		if err != nil {
			return err
		}
		err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		if err != nil {
			return err
		}
		return nil
	}
}

// locationScript quotes url as a JS string literal.
func locationScript(url string) (string, error) {
	quoted, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(url)
	if err != nil {
		return "", err
	}
	return "window.location.href = " + quoted, nil
}

package renderer

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal/browser"
	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleHTML = "<html><head><title>Example Domain</title></head><body>hi</body></html>"

type fakePage struct {
	mu sync.Mutex

	navigateErr error
	scriptErr   error
	waitErr     error
	readyErr    error
	titleErr    error
	documentErr error
	captureErr  error
	closeErr    error

	navigateDelay time.Duration
	emitEvents    int

	title string
	html  string
	png   []byte

	events chan any
	pump   *browser.EventPump
	calls  []string
	closed int
}

func newFakePage() *fakePage {
	return &fakePage{
		title:  "Example Domain",
		html:   exampleHTML,
		png:    []byte{0x89, 'P', 'N', 'G', 1, 2, 3},
		events: make(chan any),
	}
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.record("navigate " + url)
	for i := 0; i < p.emitEvents; i++ {
		select {
		case p.events <- i:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.navigateDelay > 0 {
		select {
		case <-time.After(p.navigateDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.navigateErr
}

func (p *fakePage) NavigateByScript(_ context.Context, url string) error {
	p.record("script " + url)
	return p.scriptErr
}

func (p *fakePage) Evaluate(_ context.Context, expression string, res any) error {
	p.record("evaluate " + expression)
	if p.readyErr != nil {
		return p.readyErr
	}
	if s, ok := res.(*string); ok {
		*s = "complete"
	}
	return nil
}

func (p *fakePage) WaitForNavigation(ctx context.Context) error {
	p.record("wait")
	if p.waitErr != nil {
		return p.waitErr
	}
	return ctx.Err()
}

func (p *fakePage) Title(context.Context) (string, error) {
	p.record("title")
	return p.title, p.titleErr
}

func (p *fakePage) Document(context.Context) (string, error) {
	p.record("document")
	return p.html, p.documentErr
}

func (p *fakePage) CaptureViewport(context.Context) ([]byte, error) {
	p.record("capture")
	return p.png, p.captureErr
}

func (p *fakePage) Pump() *browser.EventPump {
	return p.pump
}

func (p *fakePage) Close() error {
	p.record("close")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return p.closeErr
}

// assertReleased checks that the engine was closed once, that nothing touched the page
// afterwards and that the event pump goroutine has exited.
func assertReleased(t *testing.T, page *fakePage) {
	t.Helper()
	assert.Equal(t, 1, page.Closed())
	calls := page.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "close", calls[len(calls)-1])
	require.NotNil(t, page.pump)
	select {
	case <-page.pump.Done():
	default:
		t.Fatal("event pump still running after render returned")
	}
}

func testConfig() *config.RenderConfig {
	return &config.RenderConfig{
		Timeout:               2 * time.Second,
		SettleDelay:           time.Millisecond,
		CaptureDelay:          time.Millisecond,
		NavigationWaitTimeout: 50 * time.Millisecond,
	}
}

func newTestService(page *fakePage, cfg *config.RenderConfig) (*Service, *int) {
	launches := 0
	launch := func(ctx context.Context) (Page, error) {
		launches++
		page.pump = browser.StartEventPump(context.WithoutCancel(ctx), page.events)
		return page, nil
	}
	return NewService(launch, cfg, telemetry.Discard().RenderMetrics), &launches
}

func TestRender_HTMLMode(t *testing.T) {
	page := newFakePage()
	svc, _ := newTestService(page, testConfig())

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com", Mode: "html"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.SuccessMessage, res.Message)
	assert.Equal(t, "Example Domain", res.Title)
	assert.Equal(t, "https://example.com", res.URL)
	require.NotNil(t, res.HTML)
	require.NotNil(t, res.ContentLength)
	assert.Equal(t, exampleHTML, *res.HTML)
	assert.Equal(t, len(exampleHTML), *res.ContentLength)
	assert.Nil(t, res.Screenshot)
	assert.Nil(t, res.ScreenshotSize)
	assert.NotContains(t, page.Calls(), "capture")
	assertReleased(t, page)
}

func TestRender_DefaultModeScreenshot(t *testing.T) {
	page := newFakePage()
	svc, _ := newTestService(page, testConfig())

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com"})
	require.NoError(t, err)

	require.NotNil(t, res.Screenshot)
	require.NotNil(t, res.ScreenshotSize)
	assert.Equal(t, base64.StdEncoding.EncodeToString(page.png), *res.Screenshot)
	assert.Equal(t, len(page.png), *res.ScreenshotSize)
	assert.Nil(t, res.HTML)
	assert.Nil(t, res.ContentLength)
	assertReleased(t, page)
}

func TestRender_UnrecognizedModeFallsBackToScreenshot(t *testing.T) {
	for _, mode := range []string{"", "screenshot", "pdf", "HTMLX", "  ", "HTML", " html", "Html"} {
		t.Run("mode="+mode, func(t *testing.T) {
			page := newFakePage()
			svc, _ := newTestService(page, testConfig())

			res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com", Mode: mode})
			require.NoError(t, err)
			assert.NotNil(t, res.Screenshot)
			assert.NotNil(t, res.ScreenshotSize)
			assert.Nil(t, res.HTML)
			assert.Nil(t, res.ContentLength)
		})
	}
}

func TestRender_FallbackNavigationProceeds(t *testing.T) {
	page := newFakePage()
	page.navigateErr = errors.New("net::ERR_ABORTED")
	svc, _ := newTestService(page, testConfig())

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com", Mode: "html"})
	require.NoError(t, err)
	assert.NotNil(t, res.HTML)
	assert.Contains(t, page.Calls(), "script https://example.com")
	assertReleased(t, page)
}

func TestRender_BothNavigationsFail(t *testing.T) {
	page := newFakePage()
	page.navigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	page.scriptErr = errors.New("execution context was destroyed")
	svc, _ := newTestService(page, testConfig())

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://bad.invalid"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNavigation)
	assert.NotErrorIs(t, err, ErrDeadlineExceeded)
	assert.Equal(t, "navigation", Kind(err))
	assert.True(t, strings.HasPrefix(err.Error(), "browser operation failed:"))
	assert.NotContains(t, page.Calls(), "capture")
	assertReleased(t, page)
}

func TestRender_DeadlineExceeded(t *testing.T) {
	page := newFakePage()
	page.navigateDelay = 500 * time.Millisecond
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	svc, _ := newTestService(page, cfg)

	start := time.Now()
	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com"})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNavigation)
	assert.Equal(t, "timeout", Kind(err))
	assert.Less(t, elapsed, 400*time.Millisecond)
	assertReleased(t, page)

	// Nothing keeps driving the page after the render has failed.
	calls := page.Calls()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, calls, page.Calls())
	assert.Equal(t, []string{"navigate https://example.com", "close"}, calls)
}

func TestRender_LaunchFailure(t *testing.T) {
	launch := func(context.Context) (Page, error) {
		return nil, errors.New("exec: chrome: not found")
	}
	svc := NewService(launch, testConfig(), telemetry.Discard().RenderMetrics)

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Equal(t, "launch", Kind(err))
}

func TestRender_ExtractionFailure(t *testing.T) {
	page := newFakePage()
	page.captureErr = errors.New("target closed")
	svc, _ := newTestService(page, testConfig())

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExtraction)
	assertReleased(t, page)
}

func TestRender_InvalidRequestNeverLaunches(t *testing.T) {
	page := newFakePage()
	svc, launches := newTestService(page, testConfig())

	_, err := svc.Render(context.Background(), &model.RenderRequest{URL: "  "})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Render(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, *launches)
}

func TestRender_TitleSentinels(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		titleErr error
		want     string
	}{
		{name: "present", title: "Example Domain", want: "Example Domain"},
		{name: "absent", title: "", want: model.NoTitle},
		{name: "read error", titleErr: errors.New("cannot find context"), want: model.TitleError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			page.title = tt.title
			page.titleErr = tt.titleErr
			svc, _ := newTestService(page, testConfig())

			res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com", Mode: "html"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Title)
		})
	}
}

func TestRender_SoftFailuresContinue(t *testing.T) {
	page := newFakePage()
	page.waitErr = context.DeadlineExceeded
	page.readyErr = errors.New("cannot evaluate")
	svc, _ := newTestService(page, testConfig())

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com", Mode: "html"})
	require.NoError(t, err)
	assert.NotNil(t, res.HTML)
}

func TestRender_TeardownErrorDoesNotMaskResult(t *testing.T) {
	page := newFakePage()
	page.closeErr = errors.New("browser already gone")
	svc, _ := newTestService(page, testConfig())

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assertReleased(t, page)
}

func TestRender_EventsAreDrainedWhileCommandsRun(t *testing.T) {
	page := newFakePage()
	page.emitEvents = 50 // unbuffered: Navigate blocks unless the pump reads
	cfg := testConfig()
	cfg.Timeout = time.Second
	svc, _ := newTestService(page, cfg)

	res, err := svc.Render(context.Background(), &model.RenderRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assertReleased(t, page)
	assert.Equal(t, int64(50), page.pump.Stop())
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "timeout", Kind(errors.Join(errors.New("x"), ErrDeadlineExceeded)))
	assert.Equal(t, "extraction", Kind(ErrExtraction))
	assert.Equal(t, "internal", Kind(errors.New("boom")))
}

package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == "--"+name || strings.HasPrefix(arg, "--"+name+"=") {
			return true
		}
	}
	return false
}

func TestCommandLine_HardenedFlags(t *testing.T) {
	args := commandLine()
	for _, name := range []string{
		"no-sandbox",
		"disable-setuid-sandbox",
		"disable-gpu",
		"single-process",
		"headless",
		"disable-background-networking",
		"disable-breakpad",
		"disable-sync",
		"metrics-recording-only",
		"window-size",
		"user-agent",
	} {
		assert.True(t, hasFlag(args, name), "missing --%s", name)
	}
	assert.Contains(t, args, "--window-size=1920,1080")
	assert.Contains(t, args, "--user-agent="+userAgent)
	assert.Contains(t, args, "--disable-features=IsolateOrigins,site-per-process,AudioServiceOutOfProcess")
}

func TestAllocatorOptions_LibraryPathIsOptional(t *testing.T) {
	withLib := allocatorOptions("/opt/chromium/chrome", "/opt/chromium/lib")
	withoutLib := allocatorOptions("/opt/chromium/chrome", "")
	assert.Len(t, withLib, len(withoutLib)+1)
	assert.Len(t, withoutLib, len(launchFlags)+3)
}

func TestEventPump_DrainsUntilStopped(t *testing.T) {
	events := make(chan any)
	pump := StartEventPump(context.Background(), events)

	for i := 0; i < 10; i++ {
		select {
		case events <- i:
		case <-time.After(time.Second):
			t.Fatal("pump is not draining events")
		}
	}

	assert.Equal(t, int64(10), pump.Stop())
	select {
	case <-pump.Done():
	default:
		t.Fatal("pump goroutine still running after Stop")
	}
}

func TestEventPump_ExitsWhenChannelCloses(t *testing.T) {
	events := make(chan any, 3)
	events <- 1
	events <- 2
	close(events)
	pump := StartEventPump(context.Background(), events)

	select {
	case <-pump.Done():
	case <-time.After(time.Second):
		t.Fatal("pump did not exit on closed channel")
	}
	assert.Equal(t, int64(2), pump.Stop())
}

func TestEventPump_StopIsSafeAfterParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pump := StartEventPump(ctx, make(chan any))
	cancel()
	<-pump.Done()
	assert.Zero(t, pump.Stop())
}

func TestListInstallDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "chromium", "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "chromium", "chrome"), []byte("bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "chromium", "lib", "libnss3.so"), nil, 0o644))

	assert.Equal(t, 4, ListInstallDir(root))
}

func TestListInstallDir_MissingDirectory(t *testing.T) {
	assert.Zero(t, ListInstallDir(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestSession_ClosedSessionRejectsCommands(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ctx:           ctx,
		cancelBrowser: cancel,
		cancelAlloc:   func() {},
		events:        make(chan any, eventBuffer),
	}
	s.closed.Store(true)
	s.closeOnce.Do(cancel)

	assert.NoError(t, s.Close())
	assert.ErrorIs(t, s.Navigate(context.Background(), "https://example.com"), ErrSessionClosed)
	assert.ErrorIs(t, s.NavigateByScript(context.Background(), "https://example.com"), ErrSessionClosed)
	assert.ErrorIs(t, s.WaitForNavigation(context.Background()), ErrSessionClosed)
	_, err := s.Document(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_NavigationSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &Session{ctx: ctx, events: make(chan any, eventBuffer)}

	assert.ErrorIs(t, s.WaitForNavigation(context.Background()), ErrNoNavigation)

	s.armNavigation()
	wctx, wcancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer wcancel()
	assert.ErrorIs(t, s.WaitForNavigation(wctx), context.DeadlineExceeded)

	s.signalNavigation()
	s.signalNavigation()
	assert.NoError(t, s.WaitForNavigation(context.Background()))
}

func TestSession_ScriptNavigationRearmsSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &Session{ctx: ctx, events: make(chan any, eventBuffer)}

	// The error page of a failed navigate fires its own load event.
	s.armNavigation()
	s.signalNavigation()
	require.NoError(t, s.WaitForNavigation(context.Background()))

	// Not a chromedp context, so the command fails after arming.
	assert.Error(t, s.NavigateByScript(context.Background(), "https://example.com"))

	wctx, wcancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer wcancel()
	assert.ErrorIs(t, s.WaitForNavigation(wctx), context.DeadlineExceeded)

	s.signalNavigation()
	assert.NoError(t, s.WaitForNavigation(context.Background()))
}

func TestLocationScript(t *testing.T) {
	script, err := locationScript(`https://example.com/?q='x'&a="b"</script>`)
	require.NoError(t, err)
	assert.Equal(t, `window.location.href = "https://example.com/?q='x'\u0026a=\"b\"\u003c/script\u003e"`, script)
}

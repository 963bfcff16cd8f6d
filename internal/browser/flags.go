package browser

import (
	"fmt"

	"github.com/chromedp/chromedp"
)

const (
	windowWidth  = 1920
	windowHeight = 1080
	userAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"
)

type flag struct {
	name  string
	value any
}

// launchFlags is the fixed engine argument set. The host cannot provide OS sandbox primitives,
// has no GPU and forces a single process, so those subsystems are switched off.
var launchFlags = []flag{
	{"headless", "new"},
	{"no-sandbox", true},
	{"disable-setuid-sandbox", true},
	{"disable-namespace-sandbox", true},
	{"disable-dev-shm-usage", true},
	{"disable-gpu", true},
	{"single-process", true},
	{"enable-javascript", true},
	{"js-flags", "--expose-gc"},
	{"enable-features", "NetworkService,NetworkServiceInProcess"},
	{"disable-features", "IsolateOrigins,site-per-process,AudioServiceOutOfProcess"},
	{"disable-web-security", true},
	{"allow-running-insecure-content", true},
	{"disable-site-isolation-trials", true},
	{"start-maximized", true},
	{"disable-extensions", true},
	{"disable-default-apps", true},
	{"disable-popup-blocking", true},
	{"disable-notifications", true},
	{"disable-infobars", true},
	{"disable-blink-features", "AutomationControlled"},
	{"disable-background-networking", true},
	{"disable-background-timer-throttling", true},
	{"disable-backgrounding-occluded-windows", true},
	{"disable-breakpad", true},
	{"disable-client-side-phishing-detection", true},
	{"disable-component-update", true},
	{"disable-domain-reliability", true},
	{"disable-hang-monitor", true},
	{"disable-ipc-flooding-protection", true},
	{"disable-prompt-on-repost", true},
	{"disable-renderer-backgrounding", true},
	{"disable-sync", true},
	{"force-color-profile", "srgb"},
	{"metrics-recording-only", true},
	{"no-first-run", true},
	{"password-store", "basic"},
	{"use-mock-keychain", true},
}

// allocatorOptions builds the exec allocator options from scratch instead of on top of
// chromedp.DefaultExecAllocatorOptions, so the engine sees exactly launchFlags.
func allocatorOptions(execPath, libraryPath string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.ExecPath(execPath),
		chromedp.WindowSize(windowWidth, windowHeight),
		chromedp.UserAgent(userAgent),
	}
	for _, f := range launchFlags {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if libraryPath != "" {
		opts = append(opts, chromedp.Env("LD_LIBRARY_PATH="+libraryPath))
	}

	return opts
}

// commandLine renders launchFlags the way the engine receives them. Used for logging.
func commandLine() []string {
	args := make([]string, 0, len(launchFlags)+2)
	for _, f := range launchFlags {
		switch v := f.value.(type) {
		case bool:
			if v {
				args = append(args, "--"+f.name)
			}
		case string:
			args = append(args, "--"+f.name+"="+v)
		}
	}
	args = append(args, fmt.Sprintf("--window-size=%d,%d", windowWidth, windowHeight), "--user-agent="+userAgent)

	return args
}

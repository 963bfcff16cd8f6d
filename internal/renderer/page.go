package renderer

import (
	"context"

	"github.com/IliaW/page-renderer/internal/browser"
)

// Page is the browser capability the orchestration drives. browser.Session implements it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	NavigateByScript(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expression string, res any) error
	WaitForNavigation(ctx context.Context) error
	Title(ctx context.Context) (string, error)
	Document(ctx context.Context) (string, error)
	CaptureViewport(ctx context.Context) ([]byte, error)
	Pump() *browser.EventPump
	Close() error
}

// LaunchFunc starts one engine with one open page and its event pump already running.
type LaunchFunc func(ctx context.Context) (Page, error)

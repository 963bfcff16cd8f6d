package renderer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IliaW/page-renderer/internal/model"
)

type extractor struct {
	page    Page
	settler *settler
	encode  func([]byte) string
	log     *slog.Logger
}

// title never fails: a missing title and a read error map to fixed sentinels.
func (e *extractor) title(ctx context.Context) string {
	e.log.Info("getting page title...")
	title, err := e.page.Title(ctx)
	switch {
	case err != nil:
		e.log.Warn("failed to get title.", slog.String("err", err.Error()))
		return model.TitleError
	case title == "":
		return model.NoTitle
	}
	e.log.Info("page title.", slog.String("title", title))

	return title
}

// extract fills exactly one of the html or screenshot field pairs of res.
func (e *extractor) extract(ctx context.Context, mode model.Mode, res *model.RenderResult) error {
	switch mode {
	case model.Document:
		e.log.Info("getting page content...")
		html, err := e.page.Document(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExtraction, err)
		}
		size := len(html)
		e.log.Info("content length.", slog.Int("bytes", size))
		res.ContentLength = &size
		res.HTML = &html
	default:
		e.log.Info("taking screenshot...")
		if err := e.settler.beforeCapture(ctx); err != nil {
			return err
		}
		buf, err := e.page.CaptureViewport(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrExtraction, err)
		}
		size := len(buf)
		encoded := e.encode(buf)
		e.log.Info("screenshot size.", slog.Int("bytes", size))
		res.ScreenshotSize = &size
		res.Screenshot = &encoded
	}

	return nil
}

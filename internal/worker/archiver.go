package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/IliaW/page-renderer/internal/aws_s3"
	"github.com/IliaW/page-renderer/internal/cache"
	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/persistence"
)

// Archiver records a finished render in the configured sinks. Every sink is optional and
// a failing sink is only logged: the caller's result never depends on it.
type Archiver struct {
	S3      aws_s3.BucketClient
	Bucket  string
	Db      persistence.MetadataStorage
	Cache   cache.CachedClient
	Version string
}

func (a *Archiver) Archive(ctx context.Context, res *model.RenderResult, timeToRender time.Duration) *model.RenderNotice {
	notice := &model.RenderNotice{
		URL:   res.URL,
		Mode:  res.Mode().String(),
		Title: res.Title,
		Size:  artifactSize(res),
	}
	if a == nil {
		return notice
	}

	if a.Cache != nil {
		a.Cache.DecrementThreshold(res.URL)
	}
	if a.S3 != nil {
		s3Key, err := a.S3.WriteRender(ctx, res)
		if err != nil {
			slog.Error("failed to archive render to s3.", slog.String("url", res.URL),
				slog.String("err", err.Error()))
		} else {
			notice.S3Bucket = a.Bucket
			notice.S3Key = s3Key
		}
	}
	if a.Db != nil {
		a.Db.Save(ctx, &model.RenderMetadata{
			URL:             res.URL,
			Mode:            notice.Mode,
			Title:           res.Title,
			Size:            notice.Size,
			TimeToRender:    timeToRender.Milliseconds(),
			Status:          res.Message,
			RendererVersion: a.Version,
			S3Key:           notice.S3Key,
		})
	}

	return notice
}

func artifactSize(res *model.RenderResult) int {
	switch {
	case res.ContentLength != nil:
		return *res.ContentLength
	case res.ScreenshotSize != nil:
		return *res.ScreenshotSize
	}
	return 0
}

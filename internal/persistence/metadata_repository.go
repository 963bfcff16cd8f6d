package persistence

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/IliaW/page-renderer/internal"
	"github.com/IliaW/page-renderer/internal/model"
)

type MetadataStorage interface {
	Save(context.Context, *model.RenderMetadata)
}

type MetadataRepository struct {
	db *sql.DB
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

func (mr *MetadataRepository) Save(ctx context.Context, meta *model.RenderMetadata) {
	_, err := mr.db.ExecContext(ctx, `INSERT INTO web_renderer.render_metadata
    (url_hash, mode, full_url, title, size, time_to_render, timestamp, status, renderer_version, s3_key)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (url_hash, mode) DO UPDATE
	SET full_url = EXCLUDED.full_url,
	    title = EXCLUDED.title,
	    size = EXCLUDED.size,
	    time_to_render = EXCLUDED.time_to_render,
	    timestamp = EXCLUDED.timestamp,
		status = EXCLUDED.status,
		renderer_version = EXCLUDED.renderer_version,
		s3_key = EXCLUDED.s3_key;`,
		internal.HashURL(meta.URL),
		meta.Mode,
		meta.URL,
		meta.Title,
		meta.Size,
		meta.TimeToRender,
		time.Now().UTC(),
		meta.Status,
		meta.RendererVersion,
		meta.S3Key)
	if err != nil {
		slog.Error("failed to save render metadata to database.", slog.String("err", err.Error()))
		return
	}
	slog.Debug("render metadata saved to db.")
}

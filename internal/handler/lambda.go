package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/worker"
	"github.com/aws/aws-lambda-go/lambda"
)

type Renderer interface {
	Render(context.Context, *model.RenderRequest) (*model.RenderResult, error)
}

// LambdaHandler serves one render per function invocation.
type LambdaHandler struct {
	renderer Renderer
	archiver *worker.Archiver
}

func NewLambdaHandler(rd Renderer, archiver *worker.Archiver) *LambdaHandler {
	return &LambdaHandler{renderer: rd, archiver: archiver}
}

func (h *LambdaHandler) Handle(ctx context.Context, req model.RenderRequest) (*model.RenderResult, error) {
	startTime := time.Now()
	res, err := h.renderer.Render(ctx, &req)
	if err != nil {
		return nil, err
	}
	h.archiver.Archive(ctx, res, time.Since(startTime))

	return res, nil
}

// Start blocks serving invocations from the lambda runtime.
func (h *LambdaHandler) Start() {
	slog.Info("starting lambda handler.")
	lambda.Start(h.Handle)
}

package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/IliaW/page-renderer/internal/model"
	jsoniter "github.com/json-iterator/go"
)

type Renderer interface {
	Render(context.Context, *model.RenderRequest) (*model.RenderResult, error)
}

type DeadLetterSender interface {
	SendToDLQ(payload string, cause error)
}

// RenderWorker renders requests read from kafka one at a time. Each render owns its own
// browser, so parallelism comes from running several workers.
type RenderWorker struct {
	RequestChan <-chan []byte
	NoticeChan  chan<- *model.RenderNotice
	Renderer    Renderer
	Archiver    *Archiver
	DLQ         DeadLetterSender
	Wg          *sync.WaitGroup
}

func (w *RenderWorker) Run() {
	defer w.Wg.Done()
	slog.Debug("starting render worker.")

	for value := range w.RequestChan {
		var req model.RenderRequest
		if err := jsoniter.Unmarshal(value, &req); err != nil {
			slog.Error("failed to unmarshal message.", slog.String("err", err.Error()))
			w.DLQ.SendToDLQ(string(value), err)
			continue
		}

		ctx := context.Background()
		startTime := time.Now()
		res, err := w.Renderer.Render(ctx, &req)
		if err != nil {
			w.DLQ.SendToDLQ(string(value), err)
			continue
		}
		w.NoticeChan <- w.Archiver.Archive(ctx, res, time.Since(startTime))
	}
	slog.Debug("render worker stopped.")
}

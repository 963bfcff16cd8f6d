package browser

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// EventPump drains a protocol event stream in the background and discards every event.
type EventPump struct {
	cancel  context.CancelFunc
	done    chan struct{}
	drained atomic.Int64
}

// StartEventPump runs until events is closed or Stop is called.
func StartEventPump(ctx context.Context, events <-chan any) *EventPump {
	ctx, cancel := context.WithCancel(ctx)
	p := &EventPump{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run(ctx, events)

	return p
}

func (p *EventPump) run(ctx context.Context, events <-chan any) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			p.drained.Add(1)
		}
	}
}

// Stop cancels the pump and waits for it to exit. Returns the number of drained events.
func (p *EventPump) Stop() int64 {
	p.cancel()
	<-p.done
	n := p.drained.Load()
	slog.Debug("event pump stopped.", slog.Int64("events", n))

	return n
}

// Done is closed once the pump goroutine has exited.
func (p *EventPump) Done() <-chan struct{} {
	return p.done
}

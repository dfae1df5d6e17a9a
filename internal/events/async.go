package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Async hands events to a background worker so callers never wait on the broker.
// When the queue is full the event is dropped and logged.
type Async struct {
	next    Publisher
	queue   chan Event
	timeout time.Duration
	log     *zap.SugaredLogger

	once sync.Once
	done chan struct{}
}

func NewAsync(next Publisher, size int, timeout time.Duration, log *zap.SugaredLogger) *Async {
	a := &Async{
		next:    next,
		queue:   make(chan Event, size),
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, ev); err != nil {
			a.log.Warnw("publish event failed", "event", ev.Name, "conversation_id", ev.ConversationID, "err", err)
		}
		cancel()
	}
}

func (a *Async) Publish(_ context.Context, ev Event) error {
	select {
	case a.queue <- ev:
	default:
		a.log.Warnw("event queue full, dropping", "event", ev.Name)
	}
	return nil
}

// Close drains queued events and closes the underlying publisher. Publish must not be called afterwards.
func (a *Async) Close() error {
	a.once.Do(func() { close(a.queue) })
	<-a.done
	return a.next.Close()
}

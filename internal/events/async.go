package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Async queues events for a background publisher so callers never wait on
// the network. When the queue is full the event is dropped and counted.
type Async struct {
	next    Publisher
	queue   chan *Event
	timeout time.Duration
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewAsync(next Publisher, size int) *Async {
	if size <= 0 {
		size = 256
	}
	return &Async{
		next:    next,
		queue:   make(chan *Event, size),
		timeout: 3 * time.Second,
		done:    make(chan struct{}),
	}
}

func (a *Async) Publish(_ context.Context, event *Event) error {
	select {
	case a.queue <- event:
	default:
		a.dropped.Add(1)
		log.Warn().Str("module", "events").Str("type", event.Type).Msg("event queue full, dropping")
	}
	return nil
}

// Dropped is the number of events discarded because the queue was full.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Run drains the queue until ctx is done or Close is called.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case <-a.done:
			a.drain()
			return
		case ev := <-a.queue:
			a.send(ev)
		}
	}
}

func (a *Async) drain() {
	for {
		select {
		case ev := <-a.queue:
			a.send(ev)
		default:
			return
		}
	}
}

func (a *Async) send(ev *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.next.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("module", "events").Str("type", ev.Type).Str("meeting", ev.MeetingID).Msg("publish failed")
	}
}

// Close stops Run after it drains the queue. The wrapped publisher is
// closed by its owner once Run has returned.
func (a *Async) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return nil
}

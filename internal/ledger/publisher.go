package ledger

import (
	"context"
	"log/slog"
	"sync"
)

// publisher delivers committed events to a sink from a single goroutine so
// a slow sink never holds the contract lock. Events are delivered in the
// order they were enqueued.
type publisher struct {
	sink   EventSink
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	busy    bool
	closed  bool
	stopped chan struct{}
}

func newPublisher(sink EventSink, logger *slog.Logger) *publisher {
	p := &publisher{sink: sink, logger: logger, stopped: make(chan struct{})}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// enqueue never blocks on the sink. Events enqueued after close are dropped.
func (p *publisher) enqueue(events []Event) {
	if len(events) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("ledger events dropped after close", slog.Int("count", len(events)))
		return
	}
	p.queue = append(p.queue, events...)
	p.cond.Broadcast()
}

func (p *publisher) run() {
	defer close(p.stopped)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		batch := p.queue
		p.queue = nil
		p.busy = true
		p.mu.Unlock()

		for _, ev := range batch {
			p.deliver(ev)
		}

		p.mu.Lock()
		p.busy = false
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *publisher) deliver(ev Event) {
	if err := p.sink.Publish(context.Background(), ev); err != nil {
		p.logger.Warn("publish ledger event",
			slog.String("ledger", ev.LedgerID),
			slog.String("event", ev.Name()),
			slog.String("event_id", ev.ID),
			slog.Any("error", err),
		)
	}
}

// flush waits until every event enqueued so far has been handed to the sink.
func (p *publisher) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.busy {
		p.cond.Wait()
	}
}

// close delivers what is queued and stops the goroutine, or gives up when
// ctx is done.
func (p *publisher) close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

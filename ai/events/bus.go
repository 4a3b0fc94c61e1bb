// Package events fans "record completed" events out to background workers.
//
// Each subscriber owns a bounded queue and a goroutine. Publish never blocks:
// when a queue is full its oldest event is dropped and the drop is logged and
// counted.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MasterofNull/hybrid-coordinator/ai/metrics"
	"github.com/MasterofNull/hybrid-coordinator/store"
)

// DefaultQueueSize is the per-subscriber queue bound.
const DefaultQueueSize = 256

// RecordCompleted is emitted after an interaction record is durable, and
// again after feedback changes its value score.
type RecordCompleted struct {
	Record store.InteractionRecord
	// Rescored is set when the event follows a feedback recompute.
	Rescored bool
}

// Handler processes one event.
type Handler func(ctx context.Context, ev RecordCompleted)

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ev RecordCompleted)
}

// Bus delivers events to named subscribers.
type Bus struct {
	queueSize int
	metrics   *metrics.PrometheusExporter
	logger    *slog.Logger

	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	wg     sync.WaitGroup
}

type subscriber struct {
	name    string
	handler Handler

	mu      sync.Mutex
	queue   []RecordCompleted
	notify  chan struct{}
	stop    chan struct{}
	dropped atomic.Int64
}

// NewBus creates a bus. A non-positive queueSize uses DefaultQueueSize.
func NewBus(queueSize int, m *metrics.PrometheusExporter) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		metrics:   m,
		logger:    slog.Default(),
	}
}

// Subscribe registers a handler and starts its worker.
func (b *Bus) Subscribe(name string, h Handler) {
	s := &subscriber{
		name:    name,
		handler: h,
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	go b.run(s)
}

// Publish enqueues ev for every subscriber without blocking.
func (b *Bus) Publish(ev RecordCompleted) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		s.mu.Lock()
		if len(s.queue) >= b.queueSize {
			oldest := s.queue[0]
			s.queue = s.queue[1:]
			s.dropped.Add(1)
			b.metrics.RecordEventDropped(s.name)
			b.logger.Warn("event queue full, dropped oldest event",
				"subscriber", s.name,
				"dropped_interaction_id", oldest.Record.ID,
				"queue_size", b.queueSize,
			)
		}
		s.queue = append(s.queue, ev)
		s.mu.Unlock()

		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) run(s *subscriber) {
	defer b.wg.Done()
	for {
		select {
		case <-s.notify:
			b.drain(s)
		case <-s.stop:
			b.drain(s)
			return
		}
	}
}

func (b *Bus) drain(s *subscriber) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		b.dispatch(s, ev)
	}
}

// dispatch isolates handler panics so one bad event cannot kill a worker.
func (b *Bus) dispatch(s *subscriber, ev RecordCompleted) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscriber", s.name,
				"interaction_id", ev.Record.ID,
				"panic", r,
			)
		}
	}()
	s.handler(context.Background(), ev)
}

// Dropped returns how many events a subscriber has lost.
func (b *Bus) Dropped(name string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.name == name {
			return s.dropped.Load()
		}
	}
	return 0
}

// Pending returns the number of queued events for a subscriber.
func (b *Bus) Pending(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.name == name {
			s.mu.Lock()
			n := len(s.queue)
			s.mu.Unlock()
			return n
		}
	}
	return 0
}

// Close stops accepting events, lets workers drain, and waits up to timeout.
func (b *Bus) Close(timeout time.Duration) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.stop)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("event bus: timed out draining subscribers")
	}
}

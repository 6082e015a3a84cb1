// Package eventbus fans device events out to slow consumers (ledger, radio)
// without ever blocking the control loop.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType identifies a device event.
type EventType string

const (
	EventBoot            EventType = "boot"
	EventMeasurement     EventType = "measurement"
	EventRelay           EventType = "relay"
	EventModeChanged     EventType = "mode_changed"
	EventCommandApplied  EventType = "command_applied"
	EventCommandRejected EventType = "command_rejected"
	EventDisplayPhase    EventType = "display_phase"
	EventButton          EventType = "button"
	EventSleep           EventType = "sleep"
)

const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 64
)

// Event is a device event. At is the superloop time it was raised.
type Event struct {
	Type EventType
	At   time.Time
	Data map[string]any
}

// Handler consumes events on a worker goroutine.
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus routes events to handlers through a bounded worker pool.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler

	queue chan work
	wg    sync.WaitGroup

	// closed before the queue so publishers stop first
	closing   chan struct{}
	closeOnce sync.Once

	dropped atomic.Int64
}

// New creates a bus with the default pool size.
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a bus with workers goroutines and a queue of queueSize.
func NewWithConfig(workers, queueSize int) *Bus {
	if workers <= 0 {
		workers = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers: make(map[EventType][]Handler),
		queue:    make(chan work, queueSize),
		closing:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workers).Int("queue_size", queueSize).Msg("Event bus started")
	return b
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish queues event for its handlers. It never blocks: when the queue
// is full or the bus is closing the event is dropped for that handler.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.all)+len(b.handlers[event.Type]))
	handlers = append(handlers, b.handlers[event.Type]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		select {
		case <-b.closing:
			b.dropped.Add(1)
			return
		default:
		}

		select {
		case b.queue <- work{event: event, handler: h}:
		default:
			b.dropped.Add(1)
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Dropped returns the number of deliveries dropped so far.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close stops accepting events and waits for queued ones until ctx expires.
// Publish must not be called concurrently with Close.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)
		close(b.queue)
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus stopped")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Package messaging carries domain events from committed work to the side
// effect handlers that react to them.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keystep/practice-hub/internal/domain/shared"
	"github.com/keystep/practice-hub/internal/infrastructure/metrics"
	"github.com/keystep/practice-hub/pkg/logger"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("handler panicked")
)

// Config tunes NewInMemoryEventBus.
type Config struct {
	// AsyncMode hands deliveries to a worker pool. Otherwise Publish runs
	// every handler before returning.
	AsyncMode bool

	Workers int
	// QueueSize bounds deliveries waiting for a worker. Publish blocks
	// while the queue is full.
	QueueSize int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

func DefaultConfig() Config {
	return Config{AsyncMode: true, Workers: 4, QueueSize: 256}
}

type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// InMemoryEventBus implements shared.EventBus inside one process. Handler
// errors and panics are logged and counted, never returned to publishers.
type InMemoryEventBus struct {
	mu     sync.RWMutex
	byType map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed bool

	queue   chan delivery
	pending sync.WaitGroup
	workers sync.WaitGroup

	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewInMemoryEventBus(cfg Config) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	b := &InMemoryEventBus{
		byType:  make(map[shared.EventType][]shared.EventHandler),
		log:     cfg.Logger.With(logger.Component("event_bus")),
		metrics: cfg.Metrics,
	}
	if !cfg.AsyncMode {
		return b
	}

	workers := max(cfg.Workers, 1)
	b.queue = make(chan delivery, max(cfg.QueueSize, workers))
	b.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go b.work()
	}
	return b
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(handler, func() {
		b.byType[eventType] = append(b.byType[eventType], handler)
	})
}

func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.subscribe(handler, func() { b.catchAll = append(b.catchAll, handler) })
}

func (b *InMemoryEventBus) subscribe(handler shared.EventHandler, add func()) error {
	if handler == nil {
		return errors.New("event bus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish fans event out to the handlers of its type, then to catch-all
// handlers. Handlers must not publish while the queue can be full.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event bus: nil event")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrEventBusClosed
	}

	kind := event.EventType()
	b.metrics.EventPublished(string(kind))

	for _, list := range [][]shared.EventHandler{b.byType[kind], b.catchAll} {
		for _, h := range list {
			if b.queue == nil {
				b.run(delivery{event, h})
				continue
			}
			b.pending.Add(1)
			b.queue <- delivery{event, h}
		}
	}
	return nil
}

func (b *InMemoryEventBus) work() {
	defer b.workers.Done()
	for d := range b.queue {
		b.run(d)
		b.pending.Done()
	}
}

func (b *InMemoryEventBus) run(d delivery) {
	kind := string(d.event.EventType())
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return d.handler(d.event)
	}()

	b.metrics.HandlerExecuted(kind, time.Since(start), err == nil)
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", kind),
			logger.UserID(d.event.AggregateID()),
			logger.Err(err))
	}
}

// Drain blocks until every delivery queued so far has run. The bus stays
// open.
func (b *InMemoryEventBus) Drain() { b.pending.Wait() }

// Close refuses new events and subscriptions, then waits for queued
// deliveries to finish.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
	b.log.Debug("event bus closed")
	return nil
}

// Package messaging carries dispatch outcome events between the router and
// its observers. The local bus serves a single process; the Redis bus fans
// events out so the API and the worker see each other's dispatches.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/donorhub/notification-engine/internal/domain/shared"
)

var (
	ErrEventBusClosed = errors.New("event bus is closed")
	ErrHandlerPanic   = errors.New("event handler panicked")
)

// ══════════════════════════════════════════════════════════════════════════════
// LOCAL BUS
// ══════════════════════════════════════════════════════════════════════════════

// LocalBusConfig tunes a LocalBus.
type LocalBusConfig struct {
	// Async runs handlers on goroutines bounded by Workers. Publish then
	// returns before handlers finish; Close waits for them.
	Async   bool
	Workers int

	Logger *slog.Logger
}

// BusCounters are cumulative handler statistics.
type BusCounters struct {
	Published int64 `json:"published"`
	Handled   int64 `json:"handled"`
	Failed    int64 `json:"failed"`
}

// LocalBus delivers events to handlers registered in this process.
type LocalBus struct {
	async  bool
	slots  chan struct{}
	logger *slog.Logger

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool
	pending  sync.WaitGroup

	published, handled, failed atomic.Int64
}

// NewLocalBus creates a LocalBus.
func NewLocalBus(cfg LocalBusConfig) *LocalBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &LocalBus{
		async:  cfg.Async,
		slots:  make(chan struct{}, cfg.Workers),
		logger: cfg.Logger.With("component", "event_bus"),
		byType: make(map[shared.EventType][]shared.EventHandler),
	}
}

// Subscribe registers handler for one event type.
func (b *LocalBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(handler, func() { b.byType[eventType] = append(b.byType[eventType], handler) })
}

// SubscribeAll registers handler for every event type.
func (b *LocalBus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(handler, func() { b.wildcard = append(b.wildcard, handler) })
}

func (b *LocalBus) add(handler shared.EventHandler, register func()) error {
	if handler == nil {
		return errors.New("event bus: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	register()
	return nil
}

// Publish hands event to every matching handler. Handler errors are logged
// and counted, never returned.
func (b *LocalBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event bus: nil event")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := make([]shared.EventHandler, 0, len(b.byType[event.EventType()])+len(b.wildcard))
	targets = append(targets, b.byType[event.EventType()]...)
	targets = append(targets, b.wildcard...)
	if b.async {
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	b.published.Add(1)
	for _, h := range targets {
		if !b.async {
			b.run(h, event)
			continue
		}
		go func(h shared.EventHandler) {
			defer b.pending.Done()
			b.slots <- struct{}{}
			defer func() { <-b.slots }()
			b.run(h, event)
		}(h)
	}
	return nil
}

func (b *LocalBus) run(h shared.EventHandler, event shared.Event) {
	b.handled.Add(1)
	if err := invoke(h, event); err != nil {
		b.failed.Add(1)
		b.logger.Error("event handler failed", "event_type", event.EventType(), "error", err)
	}
}

// Close stops accepting events and waits until every handler of an
// already published event has returned.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()
	return nil
}

// Counters returns the handler statistics so far.
func (b *LocalBus) Counters() BusCounters {
	return BusCounters{
		Published: b.published.Load(),
		Handled:   b.handled.Load(),
		Failed:    b.failed.Load(),
	}
}

func invoke(h shared.EventHandler, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

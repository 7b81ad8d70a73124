package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Event is anything the bus can carry. Names are stable tags, not Go types,
// so subscriptions survive refactors of the payload structs.
type Event interface {
	EventName() string
}

// Handler processes one delivered event. A non-nil error (or a panic) is
// logged by the bus and never reaches the publisher or sibling handlers.
type Handler func(ctx context.Context, ev Event) error

// Bus is an in-process publish/subscribe registry. Subscriptions happen once
// during composition; Publish is safe for concurrent use afterwards.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With().Str("component", "events").Logger(),
	}
}

// Subscribe registers a handler for the named event. Handlers run in
// registration order on every publish of that event.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
	b.logger.Debug().Str("event", name).Int("handlers", len(b.handlers[name])).Msg("handler subscribed")
}

// Publish delivers ev to every handler registered for its name and returns
// once all of them have run. Handler failures are isolated: they are logged
// and counted, never propagated. Events are not persisted or replayed; a
// handler registered after a publish never sees it.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.EventName()]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug().Str("event", ev.EventName()).Msg("no handlers for event")
		return
	}

	for i, handler := range handlers {
		if err := b.invoke(ctx, handler, ev); err != nil {
			b.logger.Error().Err(err).
				Str("event", ev.EventName()).
				Int("handler_index", i).
				Msg("event handler failed")
		}
	}
}

// HandlerCount reports how many handlers are registered for an event name.
func (b *Bus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}

func (b *Bus) invoke(ctx context.Context, handler Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, ev)
}

package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event)

// Bus dispatches events to in-process handlers. Handlers run synchronously, in subscription order,
// so a subscriber sees events for one key in the order they were committed.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
	log      *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[Type][]Handler),
		log:      log.Named("bus"),
	}
}

// Subscribe adds a handler for one event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll adds a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[event.Type()])+len(b.all))
	handlers = append(handlers, b.handlers[event.Type()]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for i, h := range handlers {
		b.call(ctx, i, h, event)
	}
	return nil
}

func (b *Bus) call(ctx context.Context, i int, h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("type", string(event.Type())),
				zap.Int("handler", i),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"bidding-service/pkg/sl"
)

type Handler func(ctx context.Context, ev Event) error

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Bus delivers events synchronously, in subscription order. Handler errors and
// panics are logged and never reach the publisher.
type Bus struct {
	log *slog.Logger

	mu          sync.RWMutex
	handlers    map[Type][]Handler
	allHandlers []Handler
}

func NewBus(log *slog.Logger) *Bus {
	return &Bus{
		log:      log,
		handlers: make(map[Type][]Handler),
	}
}

func (b *Bus) Subscribe(t Type, h Handler) error {
	if h == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], h)
	b.mu.Unlock()

	return nil
}

func (b *Bus) SubscribeAll(h Handler) error {
	if h == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	b.allHandlers = append(b.allHandlers, h)
	b.mu.Unlock()

	return nil
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[ev.Type])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[ev.Type]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := b.run(ctx, ev, h); err != nil {
			b.log.Error("event handler failed",
				slog.String("event_type", string(ev.Type)),
				slog.String("event_id", ev.ID),
				sl.Err(err),
			)
		}
	}
}

func (b *Bus) run(ctx context.Context, ev Event, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return h(ctx, ev)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Publish(ctx context.Context, ev Event) {
	_ = r.Handle(ctx, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

package event

import (
	"log"
	"runtime/debug"
	"sync"
)

// Handler is a function that handles an event.
type Handler func(Event)

// Token identifies a subscription for later removal.
type Token uint64

// subscription pairs a handler with its removal token.
type subscription struct {
	token   Token
	handler Handler
}

// Bus is a synchronous pub-sub event bus. It lets the orchestrator,
// monitor, and telemetry sinks observe run progress without direct
// dependencies: publishers block until every handler has seen the event,
// so a run's event stream is totally ordered.
type Bus struct {
	onPanic func(eventType string, recovered any)

	mu            sync.RWMutex
	subscriptions map[string][]subscription
	nextToken     Token
}

// Option configures a Bus.
type Option func(*Bus)

// WithPanicHandler routes handler panics to fn instead of the standard
// log package.
func WithPanicHandler(fn func(eventType string, recovered any)) Option {
	return func(b *Bus) { b.onPanic = fn }
}

// NewBus creates an empty event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscriptions: make(map[string][]subscription),
		onPanic: func(eventType string, recovered any) {
			log.Printf("ERROR: event handler panicked for event %s: %v\n%s",
				eventType, recovered, debug.Stack())
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a specific event type and returns a
// token for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	b.subscriptions[eventType] = append(b.subscriptions[eventType],
		subscription{token: b.nextToken, handler: handler})
	return b.nextToken
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) Token {
	return b.Subscribe("*", handler)
}

// Unsubscribe removes a subscription by token. It reports whether the
// subscription existed.
func (b *Bus) Unsubscribe(token Token) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscriptions {
		for i, sub := range subs {
			if sub.token == token {
				b.subscriptions[eventType] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches an event to all registered handlers. Specific
// handlers are called first, then wildcard handlers, each in registration
// order. A panicking handler is reported through the panic handler and the
// remaining handlers still see the event.
func (b *Bus) Publish(event Event) {
	eventType := event.EventType()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscriptions[eventType])+len(b.subscriptions["*"]))
	for _, sub := range b.subscriptions[eventType] {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range b.subscriptions["*"] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.safeCall(h, event)
	}
}

// safeCall invokes a handler and recovers from any panics.
func (b *Bus) safeCall(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.onPanic(event.EventType(), r)
		}
	}()
	handler(event)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string][]subscription)
}

// SubscriptionCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.subscriptions {
		count += len(subs)
	}
	return count
}

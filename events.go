package oidcrp

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Event is an ordered multicast callback registry parameterized by payload
// shape.  Subscribing returns a capability to remove that exact callback;
// callbacks are invoked synchronously in subscription order on the raiser's
// goroutine.  A panicking callback is logged and skipped rather than failing
// the raiser, and a raise never removes a callback mid-iteration.
type Event[T any] struct {
	name   string
	logger hclog.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers []eventHandler[T]
}

type eventHandler[T any] struct {
	id uint64
	cb func(T)
}

// NewEvent creates an Event with the given name (used for logging).
// Supported options: WithLogger
func NewEvent[T any](name string, opt ...Option) *Event[T] {
	opts := getEventOpts(opt...)
	return &Event[T]{
		name:   name,
		logger: opts.withLogger,
	}
}

// Subscribe registers cb and returns a func that unsubscribes it.  The
// returned func is idempotent.
func (e *Event[T]) Subscribe(cb func(T)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, eventHandler[T]{id: id, cb: cb})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, h := range e.handlers {
			if h.id == id {
				e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
				return
			}
		}
	}
}

// Raise invokes every subscribed callback, in subscription order, with the
// payload.  A subscription or unsubscription made while Raise is running
// takes effect on the next Raise.
func (e *Event[T]) Raise(payload T) {
	e.mu.Lock()
	handlers := make([]eventHandler[T], len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		e.invoke(h, payload)
	}
}

func (e *Event[T]) invoke(h eventHandler[T], payload T) {
	defer func() {
		if r := recover(); r != nil && e.logger != nil {
			e.logger.Error("event callback panicked", "event", e.name, "panic", r)
		}
	}()
	h.cb(payload)
}

type eventOptions struct {
	withLogger hclog.Logger
}

func eventDefaults() eventOptions {
	return eventOptions{}
}

func getEventOpts(opt ...Option) eventOptions {
	opts := eventDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

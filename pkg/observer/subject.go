// Package observer provides a small typed fan-out for in-process events.
package observer

import (
	"context"
	"fmt"
	"sync"
)

// Observer receives published events of type T.
type Observer[T any] interface {
	Notify(context.Context, T) error
}

// ObserverFunc adapts a standalone function into an Observer.
//
//revive:disable-next-line:exported
type ObserverFunc[T any] func(context.Context, T) error

// Notify executes the wrapped function.
func (f ObserverFunc[T]) Notify(ctx context.Context, evt T) error {
	if f == nil {
		return nil
	}
	return f(ctx, evt)
}

// Publisher publishes events to downstream observers.
type Publisher[T any] interface {
	Publish(context.Context, T)
}

// Subject delivers each event to its observers in registration order.
// A failing or panicking observer does not stop delivery to the rest.
type Subject[T any] struct {
	mu        sync.RWMutex
	observers map[uint64]Observer[T]
	order     []uint64
	nextID    uint64
	onError   func(error)
}

var _ Publisher[struct{}] = (*Subject[struct{}])(nil)

// NewSubject constructs a Subject with optional initial observers.
func NewSubject[T any](observers ...Observer[T]) *Subject[T] {
	s := &Subject[T]{observers: make(map[uint64]Observer[T], len(observers))}
	for _, o := range observers {
		if o != nil {
			s.attach(o)
		}
	}
	return s
}

// Publish invokes every observer with evt.
func (s *Subject[T]) Publish(ctx context.Context, evt T) {
	if s == nil {
		return
	}

	s.mu.RLock()
	observers := make([]Observer[T], 0, len(s.order))
	for _, id := range s.order {
		observers = append(observers, s.observers[id])
	}
	errHandler := s.onError
	s.mu.RUnlock()

	for _, obs := range observers {
		if err := notify(ctx, obs, evt); err != nil && errHandler != nil {
			errHandler(err)
		}
	}
}

func notify[T any](ctx context.Context, obs Observer[T], evt T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return obs.Notify(ctx, evt)
}

// Attach registers an observer and returns a func that removes it again.
func (s *Subject[T]) Attach(obs Observer[T]) (detach func()) {
	if s == nil || obs == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.attach(obs)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.observers, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Subject[T]) attach(obs Observer[T]) uint64 {
	if s.observers == nil {
		s.observers = make(map[uint64]Observer[T])
	}
	s.nextID++
	s.observers[s.nextID] = obs
	s.order = append(s.order, s.nextID)
	return s.nextID
}

// Len reports how many observers are attached.
func (s *Subject[T]) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// SetErrorHandler configures a callback for observer failures.
func (s *Subject[T]) SetErrorHandler(fn func(error)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

package core

import "sync"

// Emitter is a typed listener registry for one named event.
// Listeners run synchronously on the emitting goroutine, in registration order.
type Emitter[T any] struct {
	mu        sync.Mutex
	next      uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

// On registers fn and returns the function that removes it.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	return e.add(fn, false)
}

// once registers fn for the next emission only.
func (e *Emitter[T]) once(fn func(T)) (off func()) {
	return e.add(fn, true)
}

func (e *Emitter[T]) add(fn func(T), once bool) func() {
	e.mu.Lock()
	e.next++
	id := e.next
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn, once: once})
	e.mu.Unlock()
	return func() { e.remove(id) }
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	kept := e.listeners[:0:0]
	for _, l := range e.listeners {
		if !l.once {
			kept = append(kept, l)
		}
	}
	e.listeners = kept
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// len reports the number of registered listeners.
func (e *Emitter[T]) len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Clear drops every listener.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}

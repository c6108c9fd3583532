// Package observable provides a latest-value reactive cell.
package observable

import (
	"context"
	"sync"
)

// Value holds the latest value of T and notifies watchers on change.
//
// Watchers see values coalesced: a slow reader skips intermediate values
// but always ends up with the latest one.
type Value[T any] struct {
	mu       sync.Mutex
	v        T
	equal    func(a, b T) bool
	watchers map[*watcher[T]]struct{}
	closed   bool
}

type watcher[T any] struct {
	ch   chan T
	stop func() bool
}

func New[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, watchers: make(map[*watcher[T]]struct{})}
}

// NewDistinct returns a Value that ignores a Set equal to the current value.
func NewDistinct[T any](initial T, equal func(a, b T) bool) *Value[T] {
	v := New(initial)
	v.equal = equal
	return v
}

func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set stores next and reports whether watchers were notified.
func (v *Value[T]) Set(next T) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.setLocked(next)
}

// Update atomically replaces the value with fn(current) and returns the result.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := fn(v.v)
	v.setLocked(next)
	return next
}

func (v *Value[T]) setLocked(next T) bool {
	if v.equal != nil && v.equal(v.v, next) {
		return false
	}
	v.v = next
	for w := range v.watchers {
		deliver(w.ch, next)
	}
	return true
}

// Watch returns a channel that receives the current value at once and
// then every change. The channel is closed when ctx is done or the Value
// is closed.
func (v *Value[T]) Watch(ctx context.Context) <-chan T {
	w := &watcher[T]{ch: make(chan T, 1)}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		close(w.ch)
		return w.ch
	}

	w.ch <- v.v
	v.watchers[w] = struct{}{}
	w.stop = context.AfterFunc(ctx, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.watchers[w]; ok {
			delete(v.watchers, w)
			close(w.ch)
		}
	})
	return w.ch
}

// Close closes every watcher channel. Later Set calls still update the value.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	for w := range v.watchers {
		w.stop()
		close(w.ch)
		delete(v.watchers, w)
	}
}

// deliver replaces any unread value. Callers hold the Value lock, so they
// are the only sender and the send never blocks.
func deliver[T any](ch chan T, value T) {
	select {
	case <-ch:
	default:
	}
	ch <- value
}

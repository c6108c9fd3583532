package source

import (
	"context"
	"sync"
)

// Update is one emission of a subscription. Err is set when the producer
// failed; the subscription may or may not close afterwards.
type Update[T any] struct {
	Value T
	Err   error
}

type Subscription[T any] interface {
	// Updates delivers the latest update. It is closed with the subscription.
	Updates() <-chan Update[T]
	// Done is closed when the subscription is closed by either side.
	Done() <-chan struct{}
	Close() error
}

// Stream is the Subscription implementation shared by the backends.
// Publishing never blocks: an unread update is replaced by the newer one.
type Stream[T any] struct {
	mu      sync.Mutex
	updates chan Update[T]
	done    chan struct{}
	closed  bool
	onClose func()
	stopCtx func() bool
}

// NewStream returns an open stream. onClose, if not nil, runs once when
// the stream closes.
func NewStream[T any](onClose func()) *Stream[T] {
	return &Stream[T]{
		updates: make(chan Update[T], 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Publish delivers v and reports whether the stream was still open.
func (s *Stream[T]) Publish(v T) bool {
	return s.send(Update[T]{Value: v})
}

// Fail delivers err as an update without closing the stream.
func (s *Stream[T]) Fail(err error) bool {
	return s.send(Update[T]{Err: err})
}

func (s *Stream[T]) send(u Update[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case <-s.updates:
	default:
	}
	s.updates <- u
	return true
}

// CloseWhenDone closes the stream once ctx is done.
func (s *Stream[T]) CloseWhenDone(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	s.mu.Lock()
	s.stopCtx = stop
	s.mu.Unlock()
}

func (s *Stream[T]) Updates() <-chan Update[T] {
	return s.updates
}

func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent.
func (s *Stream[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.updates)
	close(s.done)
	onClose, stop := s.onClose, s.stopCtx
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

// Closed reports whether Close has run.
func (s *Stream[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Map returns a subscription that emits fn applied to every update of sub.
// A value fn rejects is delivered as an error update. Closing the result
// closes sub; sub ending closes the result.
func Map[A, B any](sub Subscription[A], fn func(A) (B, error)) Subscription[B] {
	out := NewStream[B](func() { _ = sub.Close() })
	go func() {
		defer out.Close()
		for u := range sub.Updates() {
			if u.Err != nil {
				out.Fail(u.Err)
				continue
			}
			v, err := fn(u.Value)
			if err != nil {
				out.Fail(err)
				continue
			}
			out.Publish(v)
		}
	}()
	return out
}

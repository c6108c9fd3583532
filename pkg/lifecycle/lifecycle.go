// Package lifecycle implements the connection lifecycle shared by the
// logbook stores.
//
// A Lifecycle owns at most one running stream. Every connect, disconnect
// or restart supersedes the running stream: its context is cancelled and
// its Sink stops accepting writes before the new state is published, so
// a late emission of an old stream can never overwrite a newer state.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/observable"
)

type Action string

const (
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
)

// StreamFunc runs one subscription, writing states through sink. It must
// return soon after ctx is done and must not call back into the Lifecycle
// other than through sink.
type StreamFunc[T any] func(ctx context.Context, sink *Sink[T])

type Option[T any] func(*Lifecycle[T])

func WithLogger[T any](l logger.Logger) Option[T] {
	return func(lc *Lifecycle[T]) { lc.log = l }
}

// WithFailureMessage sets the message of the Failed state entered when a
// stream panics.
func WithFailureMessage[T any](msg string) Option[T] {
	return func(lc *Lifecycle[T]) { lc.failureMessage = msg }
}

// WithProvisional sets the value carried by Connecting after a connect.
func WithProvisional[T any](fn func() T) Option[T] {
	return func(lc *Lifecycle[T]) { lc.provisional = fn }
}

type Lifecycle[T any] struct {
	name           string
	stream         StreamFunc[T]
	provisional    func() T
	failureMessage string
	log            logger.Logger

	state *observable.Value[State[T]]

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New returns a Disconnected lifecycle. Nothing runs until the first
// ManageStream(ActionConnect).
func New[T any](name string, stream StreamFunc[T], opts ...Option[T]) *Lifecycle[T] {
	lc := &Lifecycle[T]{
		name:           name,
		stream:         stream,
		failureMessage: "stream failed",
		state:          observable.New[State[T]](Disconnected[T]{}),
	}
	for _, opt := range opts {
		opt(lc)
	}
	lc.log = logger.OrDiscard(lc.log)
	return lc
}

func (lc *Lifecycle[T]) State() State[T] {
	return lc.state.Get()
}

// Watch emits the current state and then every transition, coalesced.
func (lc *Lifecycle[T]) Watch(ctx context.Context) <-chan State[T] {
	return lc.state.Watch(ctx)
}

// ManageStream applies action. Connect enters Connecting and starts a new
// stream; disconnect enters Disconnected. Either way the previous stream
// is released before ManageStream returns.
func (lc *Lifecycle[T]) ManageStream(action Action) {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return
	}
	lc.log.Info("manageStream", "store", lc.name, "action", string(action))

	prev := lc.stopLocked()
	switch action {
	case ActionConnect:
		var provisional T
		if lc.provisional != nil {
			provisional = lc.provisional()
		}
		lc.setLocked(Connecting[T]{Provisional: provisional})
		lc.startLocked()
	case ActionDisconnect:
		if lc.state.Get().Status() != StatusDisconnected {
			lc.setLocked(Disconnected[T]{})
		}
	default:
		lc.log.Warn("unknown action", "store", lc.name, "action", string(action))
	}
	lc.mu.Unlock()

	wait(prev)
}

// Restart replaces the running stream. prepare receives the current state
// and returns the state to publish before the new stream starts; returning
// false leaves everything untouched. Restart reports whether it restarted.
func (lc *Lifecycle[T]) Restart(prepare func(current State[T]) (State[T], bool)) bool {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return false
	}
	next, ok := prepare(lc.state.Get())
	if !ok {
		lc.mu.Unlock()
		return false
	}

	prev := lc.stopLocked()
	lc.setLocked(next)
	lc.startLocked()
	lc.mu.Unlock()

	wait(prev)
	return true
}

// Close releases the running stream, enters Disconnected and closes
// every watcher. Later actions are ignored.
func (lc *Lifecycle[T]) Close() {
	lc.mu.Lock()
	if lc.closed {
		lc.mu.Unlock()
		return
	}
	prev := lc.stopLocked()
	if lc.state.Get().Status() != StatusDisconnected {
		lc.setLocked(Disconnected[T]{})
	}
	lc.closed = true
	lc.mu.Unlock()

	wait(prev)
	lc.state.Close()
}

// stopLocked invalidates the running stream and returns its done channel.
func (lc *Lifecycle[T]) stopLocked() chan struct{} {
	lc.gen++
	if lc.cancel == nil {
		return nil
	}
	lc.cancel()
	done := lc.done
	lc.cancel, lc.done = nil, nil
	return done
}

func (lc *Lifecycle[T]) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	sink := &Sink[T]{lc: lc, gen: lc.gen}
	lc.cancel, lc.done = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				lc.log.Error("stream panicked", "store", lc.name, "panic", fmt.Sprint(r))
				sink.Set(Failed[T]{Message: lc.failureMessage})
			}
		}()
		lc.stream(ctx, sink)
	}()
}

func (lc *Lifecycle[T]) setLocked(s State[T]) {
	lc.state.Set(s)
	lc.log.Debug("state", "store", lc.name, "status", s.Status().String())
}

func wait(done chan struct{}) {
	if done != nil {
		<-done
	}
}

// Sink is the write side a stream gets. Writes through a superseded Sink
// are dropped.
type Sink[T any] struct {
	lc  *Lifecycle[T]
	gen uint64
}

// Set publishes s and reports whether the stream is still current.
func (sink *Sink[T]) Set(s State[T]) bool {
	return sink.Update(func(State[T]) State[T] { return s })
}

// Update publishes fn(current) atomically. fn is not called when the
// stream has been superseded.
func (sink *Sink[T]) Update(fn func(current State[T]) State[T]) bool {
	lc := sink.lc
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.closed || lc.gen != sink.gen {
		return false
	}
	lc.setLocked(fn(lc.state.Get()))
	return true
}

// Current returns the state as the stream last left it.
func (sink *Sink[T]) Current() State[T] {
	return sink.lc.state.Get()
}

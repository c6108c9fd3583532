package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote hands every started stream its own emission channel.
type fakeRemote struct {
	mu      sync.Mutex
	started []chan string
	running atomic.Int32
}

func (f *fakeRemote) stream(ctx context.Context, sink *Sink[string]) {
	ch := make(chan string, 4)
	f.mu.Lock()
	f.started = append(f.started, ch)
	f.mu.Unlock()

	f.running.Add(1)
	defer f.running.Add(-1)

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-ch:
			if v == "fail" {
				sink.Set(Failed[string]{Message: "fetch failed"})
				return
			}
			sink.Set(Connected[string]{Value: v})
		}
	}
}

func (f *fakeRemote) emit(t *testing.T, i int, v string) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.started) > i
	}, time.Second, time.Millisecond)
	f.mu.Lock()
	ch := f.started[i]
	f.mu.Unlock()
	ch <- v
}

func (f *fakeRemote) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

func eventuallyStatus[T any](t *testing.T, lc *Lifecycle[T], want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return lc.State().Status() == want
	}, time.Second, time.Millisecond, "want %s, have %s", want, lc.State().Status())
}

func TestInitialStateIsDisconnected(t *testing.T) {
	remote := &fakeRemote{}
	lc := New("test", remote.stream)
	defer lc.Close()

	assert.Equal(t, StatusDisconnected, lc.State().Status())
	assert.Equal(t, 0, remote.starts())
}

func TestConnectReceiveDisconnect(t *testing.T) {
	remote := &fakeRemote{}
	lc := New("test", remote.stream)
	defer lc.Close()

	lc.ManageStream(ActionConnect)
	assert.Equal(t, StatusConnecting, lc.State().Status())

	remote.emit(t, 0, "a")
	eventuallyStatus(t, lc, StatusConnected)
	data, ok := lc.State().Data()
	require.True(t, ok)
	assert.Equal(t, "a", data)

	remote.emit(t, 0, "b")
	require.Eventually(t, func() bool {
		data, _ := lc.State().Data()
		return data == "b"
	}, time.Second, time.Millisecond)

	lc.ManageStream(ActionDisconnect)
	assert.Equal(t, StatusDisconnected, lc.State().Status())
	_, ok = lc.State().Data()
	assert.False(t, ok)
	assert.Equal(t, int32(0), remote.running.Load(), "disconnect must release the stream")
}

func TestErrorAndReconnect(t *testing.T) {
	remote := &fakeRemote{}
	lc := New("test", remote.stream)
	defer lc.Close()

	lc.ManageStream(ActionConnect)
	remote.emit(t, 0, "fail")
	eventuallyStatus(t, lc, StatusError)
	assert.Equal(t, "fetch failed", lc.State().ErrorMessage())
	_, ok := lc.State().Data()
	assert.False(t, ok)

	lc.ManageStream(ActionConnect)
	assert.Equal(t, StatusConnecting, lc.State().Status())
	assert.Equal(t, "", lc.State().ErrorMessage())
	remote.emit(t, 1, "ok")
	eventuallyStatus(t, lc, StatusConnected)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	lc := New("test", (&fakeRemote{}).stream)
	defer lc.Close()

	lc.ManageStream(ActionDisconnect)
	lc.ManageStream(ActionDisconnect)
	assert.Equal(t, Disconnected[string]{}, lc.State())
}

func TestSupersededStreamCannotWrite(t *testing.T) {
	var stale *Sink[string]
	staleReady := make(chan struct{})
	var calls atomic.Int32

	lc := New("test", func(ctx context.Context, sink *Sink[string]) {
		if calls.Add(1) == 1 {
			stale = sink
			close(staleReady)
		}
		<-ctx.Done()
	})
	defer lc.Close()

	lc.ManageStream(ActionConnect)
	<-staleReady
	lc.ManageStream(ActionConnect)

	assert.False(t, stale.Set(Connected[string]{Value: "stale"}))
	assert.Equal(t, StatusConnecting, lc.State().Status())

	lc.ManageStream(ActionDisconnect)
	assert.False(t, stale.Set(Connected[string]{Value: "stale"}))
	assert.Equal(t, StatusDisconnected, lc.State().Status())
}

func TestLastActionWins(t *testing.T) {
	remote := &fakeRemote{}
	lc := New("test", remote.stream)
	defer lc.Close()

	for i := 0; i < 10; i++ {
		lc.ManageStream(ActionConnect)
		lc.ManageStream(ActionDisconnect)
	}
	assert.Equal(t, StatusDisconnected, lc.State().Status())
	assert.Equal(t, int32(0), remote.running.Load())

	assert.Equal(t, 10, remote.starts())

	lc.ManageStream(ActionConnect)
	require.Eventually(t, func() bool {
		return remote.starts() == 11 && remote.running.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestConcurrentActionsSettleOnLast(t *testing.T) {
	remote := &fakeRemote{}
	lc := New("test", remote.stream)
	defer lc.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				lc.ManageStream(ActionConnect)
			} else {
				lc.ManageStream(ActionDisconnect)
			}
		}(i)
	}
	wg.Wait()

	lc.ManageStream(ActionDisconnect)
	assert.Equal(t, StatusDisconnected, lc.State().Status())
	assert.Equal(t, int32(0), remote.running.Load())
}

func TestProvisional(t *testing.T) {
	lc := New("test", func(ctx context.Context, sink *Sink[int]) {
		<-ctx.Done()
	}, WithProvisional(func() int { return 1 }))
	defer lc.Close()

	lc.ManageStream(ActionConnect)
	params, ok := Params(lc.State())
	require.True(t, ok)
	assert.Equal(t, 1, params)
	_, ok = lc.State().Data()
	assert.False(t, ok, "provisional values are not data")
}

func TestRestart(t *testing.T) {
	started := make(chan int, 4)
	lc := New("test", func(ctx context.Context, sink *Sink[int]) {
		params, _ := Params(sink.Current())
		started <- params
		<-ctx.Done()
	})
	defer lc.Close()

	lc.ManageStream(ActionConnect)
	assert.Equal(t, 0, <-started)

	ok := lc.Restart(func(current State[int]) (State[int], bool) {
		return Connecting[int]{Provisional: 7}, true
	})
	require.True(t, ok)
	assert.Equal(t, 7, <-started)

	ok = lc.Restart(func(current State[int]) (State[int], bool) {
		return nil, false
	})
	assert.False(t, ok)
	params, _ := Params(lc.State())
	assert.Equal(t, 7, params)
}

func TestPanicBecomesFailed(t *testing.T) {
	lc := New("test", func(ctx context.Context, sink *Sink[int]) {
		panic("boom")
	}, WithFailureMessage[int]("Unable to fetch"))
	defer lc.Close()

	lc.ManageStream(ActionConnect)
	eventuallyStatus(t, lc, StatusError)
	assert.Equal(t, "Unable to fetch", lc.State().ErrorMessage())
}

func TestWatch(t *testing.T) {
	remote := &fakeRemote{}
	lc := New("test", remote.stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := lc.Watch(ctx)
	assert.Equal(t, StatusDisconnected, (<-states).Status())

	lc.ManageStream(ActionConnect)
	remote.emit(t, 0, "x")

	require.Eventually(t, func() bool {
		select {
		case s := <-states:
			return s.Status() == StatusConnected
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	lc.Close()
	for range states {
	}
	assert.Equal(t, StatusDisconnected, lc.State().Status())
}

func TestCloseReleasesAndIgnoresLaterActions(t *testing.T) {
	remote := &fakeRemote{}
	lc := New("test", remote.stream)

	lc.ManageStream(ActionConnect)
	lc.Close()
	assert.Equal(t, StatusDisconnected, lc.State().Status())
	assert.Equal(t, int32(0), remote.running.Load())

	lc.ManageStream(ActionConnect)
	assert.Equal(t, StatusDisconnected, lc.State().Status())
	assert.Equal(t, 1, remote.starts())
}

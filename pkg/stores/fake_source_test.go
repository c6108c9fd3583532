package stores

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/logbookhq/logbook/contrib/testenv"
	"github.com/logbookhq/logbook/pkg/auth"
	"github.com/logbookhq/logbook/pkg/db"
	"github.com/logbookhq/logbook/pkg/lifecycle"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/source"
	"github.com/logbookhq/logbook/pkg/source/memory"
)

// flakySource wraps a memory source with failure injection, a record of
// mutations and an optional gate every mutation waits on.
type flakySource struct {
	*memory.Source

	mu           sync.Mutex
	subscribeErr error
	streamErr    error
	calls        []string
	gate         chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFlakySource(t *testing.T) *flakySource {
	src := memory.New()
	t.Cleanup(func() { _ = src.Close() })
	return &flakySource{Source: src}
}

func (f *flakySource) setSubscribeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

func (f *flakySource) setStreamErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamErr = err
}

func (f *flakySource) setGate(gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
}

func (f *flakySource) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *flakySource) failures() (error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeErr, f.streamErr
}

func (f *flakySource) SubscribeObject(ctx context.Context, key string) (source.Subscription[source.Object], error) {
	subErr, streamErr := f.failures()
	if subErr != nil {
		return nil, subErr
	}
	if streamErr != nil {
		st := source.NewStream[source.Object](nil)
		st.Fail(streamErr)
		return st, nil
	}
	return f.Source.SubscribeObject(ctx, key)
}

func (f *flakySource) SubscribePage(ctx context.Context, q source.PageQuery) (source.Subscription[[]source.Document], error) {
	subErr, streamErr := f.failures()
	if subErr != nil {
		return nil, subErr
	}
	if streamErr != nil {
		st := source.NewStream[[]source.Document](nil)
		st.Fail(streamErr)
		return st, nil
	}
	return f.Source.SubscribePage(ctx, q)
}

// enter records the call and waits for the gate, if any.
func (f *flakySource) enter(ctx context.Context, call string) error {
	n := f.inflight.Add(1)
	for {
		peak := f.maxInflight.Load()
		if n <= peak || f.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	gate := f.gate
	f.mu.Unlock()

	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *flakySource) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	defer f.inflight.Add(-1)
	title, _ := fields["title"].(string)
	if err := f.enter(ctx, "create "+title); err != nil {
		return "", err
	}
	return f.Source.Create(ctx, collection, fields)
}

func (f *flakySource) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	defer f.inflight.Add(-1)
	if err := f.enter(ctx, "update "+id); err != nil {
		return err
	}
	return f.Source.Update(ctx, collection, id, fields)
}

func (f *flakySource) Delete(ctx context.Context, collection, id string) error {
	defer f.inflight.Add(-1)
	if err := f.enter(ctx, "delete "+id); err != nil {
		return err
	}
	return f.Source.Delete(ctx, collection, id)
}

func testLogger() logger.Logger {
	return testenv.NewLogger(testenv.WithIgnoreDebug(), testenv.WithWriter(io.Discard))
}

func signedIn(userID string) *auth.Store {
	users := auth.NewStore(nil)
	if userID != "" {
		users.SignIn(userID)
	}
	return users
}

func newEntriesService(src source.Source) *db.EntriesService {
	return db.NewEntriesService(src, testLogger())
}

func waitState[T any](t *testing.T, get func() lifecycle.State[T], cond func(lifecycle.State[T]) bool) lifecycle.State[T] {
	t.Helper()
	require.Eventually(t, func() bool { return cond(get()) }, 2*time.Second, time.Millisecond,
		"last state: %#v", get())
	return get()
}

func hasStatus[T any](want lifecycle.Status) func(lifecycle.State[T]) bool {
	return func(s lifecycle.State[T]) bool { return s.Status() == want }
}

package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logbookhq/logbook/pkg/connection"
	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/server"
	"github.com/logbookhq/logbook/pkg/source"
	"github.com/logbookhq/logbook/pkg/source/memory"
)

func startServer(t *testing.T) (*server.Server, *memory.Source) {
	t.Helper()
	src := memory.New()
	srv := server.New(src)
	require.NoError(t, srv.Start("127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
		_ = src.Close()
	})
	return srv, src
}

func dial(t *testing.T, srv *server.Server) *Client {
	t.Helper()
	conf, err := connection.ParseConfig("ws://" + srv.Address())
	require.NoError(t, err)
	conf.Logger = nil
	conf.Timeout = 2 * time.Second

	c, err := Dial(context.Background(), conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func next[T any](t *testing.T, sub source.Subscription[T]) source.Update[T] {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}
	return source.Update[T]{}
}

func entriesQuery() source.PageQuery {
	return source.PageQuery{
		Collection: "entries",
		Filters:    []source.Filter{{Field: "userId", Op: source.OpEqual, Value: "u1"}},
		OrderBy:    source.OrderBy{Field: "timestamp", Direction: source.Desc},
		Limit:      3,
	}
}

func TestPing(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)
	require.NoError(t, c.Ping(context.Background()))
}

func TestSubscribeObjectOverWebsocket(t *testing.T) {
	ctx := context.Background()
	srv, src := startServer(t)
	c := dial(t, srv)

	sub, err := c.SubscribeObject(ctx, "config")
	require.NoError(t, err)
	defer sub.Close()

	u := next(t, sub)
	require.NoError(t, u.Err)
	assert.Nil(t, u.Value)

	require.NoError(t, src.SetObject(ctx, "config", source.Object{
		"categories": map[string]any{"work": true, "personal": true},
	}))
	u = next(t, sub)
	require.NoError(t, u.Err)
	categories, ok := u.Value["categories"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, categories, 2)
}

func TestPageLifecycleOverWebsocket(t *testing.T) {
	ctx := context.Background()
	srv, _ := startServer(t)
	c := dial(t, srv)

	sub, err := c.SubscribePage(ctx, entriesQuery())
	require.NoError(t, err)
	defer sub.Close()
	u := next(t, sub)
	require.NoError(t, u.Err)
	assert.Empty(t, u.Value)

	id, err := c.Create(ctx, "entries", map[string]any{
		"userId":    "u1",
		"title":     "hello",
		"category":  nil,
		"timestamp": source.ServerTimestamp{},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	u = next(t, sub)
	require.NoError(t, u.Err)
	require.Len(t, u.Value, 1)
	assert.Equal(t, id, u.Value[0].ID)
	assert.IsType(t, time.Time{}, u.Value[0].Fields["timestamp"])

	require.NoError(t, c.Update(ctx, "entries", id, map[string]any{"title": "changed"}))
	u = next(t, sub)
	require.Len(t, u.Value, 1)
	assert.Equal(t, "changed", u.Value[0].Fields["title"])

	require.NoError(t, c.Delete(ctx, "entries", id))
	u = next(t, sub)
	assert.Empty(t, u.Value)

	require.ErrorIs(t, c.Update(ctx, "entries", id, map[string]any{"title": "x"}), constants.ErrNotFound)
}

func TestCursorQueryOverWebsocket(t *testing.T) {
	ctx := context.Background()
	srv, src := startServer(t)
	c := dial(t, srv)

	for i := 0; i < 5; i++ {
		_, err := src.Create(ctx, "entries", map[string]any{"userId": "u1", "timestamp": source.ServerTimestamp{}})
		require.NoError(t, err)
	}

	first, err := c.SubscribePage(ctx, entriesQuery())
	require.NoError(t, err)
	page := next(t, first).Value
	require.Len(t, page, 3)
	require.NoError(t, first.Close())

	q := entriesQuery()
	q.Cursor.StartAt = page[2].Fields["timestamp"]
	second, err := c.SubscribePage(ctx, q)
	require.NoError(t, err)
	defer second.Close()
	got := next(t, second).Value
	require.Len(t, got, 3)
	assert.Equal(t, page[2].ID, got[0].ID)
}

func TestSubscribePageRejectsInvalidQueryLocally(t *testing.T) {
	srv, _ := startServer(t)
	c := dial(t, srv)
	_, err := c.SubscribePage(context.Background(), source.PageQuery{})
	require.ErrorIs(t, err, constants.ErrInvalidQuery)
}

func TestCloseKillsServerSubscription(t *testing.T) {
	ctx := context.Background()
	srv, src := startServer(t)
	c := dial(t, srv)

	sub, err := c.SubscribePage(ctx, entriesQuery())
	require.NoError(t, err)
	next(t, sub)
	require.NoError(t, sub.Close())

	// A write after release must not reach the released subscription.
	_, err = src.Create(ctx, "entries", map[string]any{"userId": "u1", "timestamp": source.ServerTimestamp{}})
	require.NoError(t, err)
	_, ok := <-sub.Updates()
	assert.False(t, ok)
}

func TestConnectionLossFailsSubscriptions(t *testing.T) {
	ctx := context.Background()
	srv, _ := startServer(t)
	c := dial(t, srv)

	sub, err := c.SubscribePage(ctx, entriesQuery())
	require.NoError(t, err)
	next(t, sub)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(stopCtx))

	u := next(t, sub)
	require.ErrorIs(t, u.Err, constants.ErrConnectionClosed)
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed after connection loss")
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed after connection loss")
	}
}

func TestServerErrorsReachCaller(t *testing.T) {
	srv, _ := startServer(t)
	srv.AddStubResponse(server.ErrorStubResponse(connection.Create, connection.CodeSourceError, "disk full"))
	c := dial(t, srv)

	_, err := c.Create(context.Background(), "entries", map[string]any{"userId": "u1"})
	var rpcErr *connection.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "disk full", rpcErr.Message)
}

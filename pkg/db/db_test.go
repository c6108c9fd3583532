package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/models"
	"github.com/logbookhq/logbook/pkg/source"
	"github.com/logbookhq/logbook/pkg/source/memory"
)

func next[T any](t *testing.T, sub source.Subscription[T]) T {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed")
		require.NoError(t, u.Err)
		return u.Value
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
	var zero T
	return zero
}

func TestQueryFirstPage(t *testing.T) {
	s := NewEntriesService(memory.New(), nil)
	q := s.Query("u1", models.PageCursor{}, models.NoFilter())

	assert.Equal(t, constants.EntriesCollection, q.Collection)
	assert.Equal(t, []source.Filter{{Field: models.FieldUserID, Op: source.OpEqual, Value: "u1"}}, q.Filters)
	assert.Equal(t, source.OrderBy{Field: models.FieldTimestamp, Direction: source.Desc}, q.OrderBy)
	assert.Equal(t, FetchSize, q.Limit)
	assert.Nil(t, q.Cursor.StartAt)
	assert.Nil(t, q.Cursor.EndAt)
	assert.NoError(t, q.Validate())
}

func TestQueryCursorAndFilter(t *testing.T) {
	s := NewEntriesService(memory.New(), nil)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	q := s.Query("u1", models.PageCursor{StartAt: &ts}, models.FilterByCategory(models.Ptr("work")))
	assert.Equal(t, ts, q.Cursor.StartAt)
	require.Len(t, q.Filters, 2)
	assert.Equal(t, "work", q.Filters[1].Value)

	q = s.Query("u1", models.PageCursor{EndAt: &ts}, models.FilterByCategory(nil))
	assert.Equal(t, ts, q.Cursor.EndAt)
	require.Len(t, q.Filters, 2)
	assert.Nil(t, q.Filters[1].Value)
}

func TestCreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := NewEntriesService(memory.New(), nil)

	sub, err := s.SubscribePage(ctx, "u1", models.PageCursor{}, models.NoFilter())
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, next(t, sub))

	id, err := s.Create(ctx, "u1", models.EntryInput{Title: "t", Text: "x", Category: models.Ptr("")})
	require.NoError(t, err)

	page := next(t, sub)
	require.Len(t, page, 1)
	assert.Equal(t, id, page[0].ID)
	assert.Equal(t, "u1", page[0].UserID)
	assert.Nil(t, page[0].Category)
	assert.False(t, page[0].Timestamp.IsZero())
	created := page[0].Timestamp

	require.NoError(t, s.Update(ctx, models.EntryPatch{ID: id, Category: models.Ptr("work")}))
	page = next(t, sub)
	require.Len(t, page, 1)
	assert.Equal(t, "t", page[0].Title)
	require.NotNil(t, page[0].Category)
	assert.Equal(t, "work", *page[0].Category)
	assert.True(t, created.Equal(page[0].Timestamp))

	require.NoError(t, s.Update(ctx, models.EntryPatch{ID: id, ClearCategory: true}))
	page = next(t, sub)
	require.Len(t, page, 1)
	assert.Nil(t, page[0].Category)

	require.NoError(t, s.Delete(ctx, id))
	assert.Empty(t, next(t, sub))
}

func TestUpdateMissingEntry(t *testing.T) {
	s := NewEntriesService(memory.New(), nil)
	err := s.Update(context.Background(), models.EntryPatch{ID: "nope", Title: models.Ptr("t")})
	assert.ErrorIs(t, err, constants.ErrNotFound)
}

func TestFilterWithoutCategory(t *testing.T) {
	ctx := context.Background()
	s := NewEntriesService(memory.New(), nil)

	_, err := s.Create(ctx, "u1", models.EntryInput{Title: "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "u1", models.EntryInput{Title: "b", Category: models.Ptr("work")})
	require.NoError(t, err)

	sub, err := s.SubscribePage(ctx, "u1", models.PageCursor{}, models.FilterByCategory(nil))
	require.NoError(t, err)
	defer sub.Close()
	page := next(t, sub)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Title)
}

func TestDecodeEntryRejectsBadTimestamp(t *testing.T) {
	_, err := DecodeEntry(source.Document{ID: "e1", Fields: map[string]any{models.FieldTimestamp: "now"}})
	assert.Error(t, err)
}

func TestConfigSubscribe(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	s := NewConfigService(src, nil)

	sub, err := s.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, []string{}, next(t, sub).Categories)

	require.NoError(t, Seed(ctx, src, []string{"work", "home"}))
	assert.Equal(t, []string{"home", "work"}, next(t, sub).Categories)

	require.NoError(t, src.SetObject(ctx, constants.ConfigKey, source.Object{"other": 1}))
	assert.Equal(t, []string{}, next(t, sub).Categories)
}

package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logbookhq/logbook/pkg/constants"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

// docs returns entries t1..t7 for user u1, newest last, plus one for u2.
func docs() []Document {
	var out []Document
	for i := 1; i <= 7; i++ {
		category := any(nil)
		if i%2 == 0 {
			category = "work"
		}
		out = append(out, Document{
			ID: string(rune('a' + i)),
			Fields: map[string]any{
				"userId":    "u1",
				"timestamp": at(i),
				"category":  category,
			},
		})
	}
	out = append(out, Document{ID: "z", Fields: map[string]any{"userId": "u2", "timestamp": at(100)}})
	return out
}

func ids(page []Document) []string {
	out := make([]string, 0, len(page))
	for _, d := range page {
		out = append(out, d.ID)
	}
	return out
}

func entriesQuery() PageQuery {
	return PageQuery{
		Collection: "entries",
		Filters:    []Filter{{Field: "userId", Op: OpEqual, Value: "u1"}},
		OrderBy:    OrderBy{Field: "timestamp", Direction: Desc},
		Limit:      3,
	}
}

func TestRunQueryFirstPage(t *testing.T) {
	page := RunQuery(docs(), entriesQuery())
	assert.Equal(t, []string{"h", "g", "f"}, ids(page))
}

func TestRunQueryStartAtIsInclusive(t *testing.T) {
	q := entriesQuery()
	q.Cursor.StartAt = at(5)
	assert.Equal(t, []string{"f", "e", "d"}, ids(RunQuery(docs(), q)))
}

func TestRunQueryEndAtKeepsLastItems(t *testing.T) {
	q := entriesQuery()
	q.Cursor.EndAt = at(3)
	// Ordered desc the candidates are h g f e d; the last three precede the cursor.
	assert.Equal(t, []string{"f", "e", "d"}, ids(RunQuery(docs(), q)))
}

func TestRunQueryPagesRoundTrip(t *testing.T) {
	all := docs()

	first := RunQuery(all, entriesQuery())
	require.Len(t, first, 3)

	next := entriesQuery()
	next.Cursor.StartAt = first[2].Fields["timestamp"]
	second := RunQuery(all, next)
	assert.Equal(t, []string{"f", "e", "d"}, ids(second))

	prev := entriesQuery()
	prev.Cursor.EndAt = second[0].Fields["timestamp"]
	assert.Equal(t, ids(first), ids(RunQuery(all, prev)))
}

func TestRunQueryCategoryFilters(t *testing.T) {
	q := entriesQuery()
	q.Limit = 0
	q.Filters = append(q.Filters, Filter{Field: "category", Op: OpEqual, Value: "work"})
	assert.Equal(t, []string{"g", "e", "c"}, ids(RunQuery(docs(), q)))

	q.Filters[1].Value = nil
	assert.Equal(t, []string{"h", "f", "d", "b"}, ids(RunQuery(docs(), q)))
}

func TestRunQueryDoesNotShareFields(t *testing.T) {
	all := docs()
	page := RunQuery(all, entriesQuery())
	page[0].Fields["title"] = "changed"
	_, ok := all[6].Fields["title"]
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	require.NoError(t, entriesQuery().Validate())

	tests := map[string]PageQuery{
		"no collection": {},
		"both cursors": {
			Collection: "entries",
			OrderBy:    OrderBy{Field: "timestamp"},
			Cursor:     Cursor{StartAt: at(1), EndAt: at(2)},
		},
		"cursor without order": {Collection: "entries", Cursor: Cursor{StartAt: at(1)}},
		"bad operator": {
			Collection: "entries",
			Filters:    []Filter{{Field: "a", Op: ">", Value: 1}},
		},
		"bad direction": {Collection: "entries", OrderBy: OrderBy{Field: "a", Direction: "up"}},
		"negative limit": {Collection: "entries", Limit: -1},
	}
	for name, q := range tests {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, q.Validate(), constants.ErrInvalidQuery)
		})
	}
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, 0, CompareValues(int64(3), uint64(3)))
	assert.Equal(t, 0, CompareValues(3, 3.0))
	assert.Equal(t, -1, CompareValues(nil, false))
	assert.Equal(t, -1, CompareValues(false, true))
	assert.Equal(t, -1, CompareValues(1, at(0)))
	assert.Equal(t, -1, CompareValues(at(0), "a"))
	assert.Equal(t, 1, CompareValues("b", "a"))
	assert.Equal(t, 0, CompareValues(at(1), at(1).In(time.FixedZone("x", 3600))))
}

package source

import (
	"fmt"
	"slices"
	"time"

	"github.com/logbookhq/logbook/pkg/constants"
)

type Op string

const (
	OpEqual Op = "=="
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type Filter struct {
	Field string `cbor:"field" json:"field"`
	Op    Op     `cbor:"op" json:"op"`
	Value any    `cbor:"value" json:"value"`
}

type OrderBy struct {
	Field     string    `cbor:"field" json:"field"`
	Direction Direction `cbor:"direction" json:"direction"`
}

// Cursor bounds a page at an ordering key. Both bounds are inclusive.
type Cursor struct {
	StartAt any `cbor:"startAt,omitempty" json:"startAt,omitempty"`
	EndAt   any `cbor:"endAt,omitempty" json:"endAt,omitempty"`
}

// PageQuery selects an ordered page of a collection.
//
// With StartAt the page holds the first Limit documents at or after the
// cursor. With EndAt it holds the last Limit documents at or before the
// cursor, which is the page immediately preceding it. Limit 0 means no
// limit.
type PageQuery struct {
	Collection string   `cbor:"collection" json:"collection"`
	Filters    []Filter `cbor:"filters,omitempty" json:"filters,omitempty"`
	OrderBy    OrderBy  `cbor:"orderBy" json:"orderBy"`
	Limit      int      `cbor:"limit,omitempty" json:"limit,omitempty"`
	Cursor     Cursor   `cbor:"cursor" json:"cursor"`
}

func (q PageQuery) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", constants.ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", constants.ErrInvalidQuery, q.Limit)
	}
	if q.Cursor.StartAt != nil && q.Cursor.EndAt != nil {
		return fmt.Errorf("%w: startAt and endAt are mutually exclusive", constants.ErrInvalidQuery)
	}
	if (q.Cursor.StartAt != nil || q.Cursor.EndAt != nil) && q.OrderBy.Field == "" {
		return fmt.Errorf("%w: a cursor requires orderBy", constants.ErrInvalidQuery)
	}
	switch q.OrderBy.Direction {
	case "", Asc, Desc:
	default:
		return fmt.Errorf("%w: unknown direction %q", constants.ErrInvalidQuery, q.OrderBy.Direction)
	}
	for _, f := range q.Filters {
		if f.Op != OpEqual {
			return fmt.Errorf("%w: unsupported operator %q on %s", constants.ErrInvalidQuery, f.Op, f.Field)
		}
	}
	return nil
}

// Matches reports whether doc satisfies every filter. A missing field
// equals nil.
func (q PageQuery) Matches(doc Document) bool {
	for _, f := range q.Filters {
		if CompareValues(doc.Fields[f.Field], f.Value) != 0 {
			return false
		}
	}
	return true
}

// compare orders documents by OrderBy and then by id.
func (q PageQuery) compare(a, b Document) int {
	if q.OrderBy.Field != "" {
		if c := q.orderKey(a.Fields[q.OrderBy.Field], b.Fields[q.OrderBy.Field]); c != 0 {
			return c
		}
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func (q PageQuery) orderKey(a, b any) int {
	c := CompareValues(a, b)
	if q.OrderBy.Direction == Desc {
		return -c
	}
	return c
}

// RunQuery evaluates q against docs, which it does not modify.
func RunQuery(docs []Document, q PageQuery) []Document {
	page := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if !q.Matches(doc) {
			continue
		}
		key := doc.Fields[q.OrderBy.Field]
		if q.Cursor.StartAt != nil && q.orderKey(key, q.Cursor.StartAt) < 0 {
			continue
		}
		if q.Cursor.EndAt != nil && q.orderKey(key, q.Cursor.EndAt) > 0 {
			continue
		}
		page = append(page, doc.Clone())
	}

	slices.SortStableFunc(page, q.compare)

	if q.Limit > 0 && len(page) > q.Limit {
		if q.Cursor.EndAt != nil && q.Cursor.StartAt == nil {
			page = page[len(page)-q.Limit:]
		} else {
			page = page[:q.Limit]
		}
	}
	return page
}

// Values of different kinds order as nil < bool < number < time < string < other.
func kindRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	}
	return 5
}

// CompareValues returns -1, 0 or 1. Numbers compare by value regardless of
// their Go type, so values decoded from the wire equal local ones.
func CompareValues(a, b any) int {
	ra, rb := kindRank(a), kindRank(b)
	if ra != rb {
		return cmpOrdered(ra, rb)
	}

	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case time.Time:
		return av.Compare(b.(time.Time))
	case string:
		return cmpOrdered(av, b.(string))
	}

	if ra == 2 {
		return cmpOrdered(toFloat(a), toFloat(b))
	}
	return cmpOrdered(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

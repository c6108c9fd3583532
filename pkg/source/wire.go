package source

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// TagServerTimestamp marks a ServerTimestamp sentinel on the wire.
const TagServerTimestamp uint64 = 32900

// ServerTimestamp is a field value the backend replaces with its own,
// strictly increasing, write time.
type ServerTimestamp struct{}

func (ServerTimestamp) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(cbor.Tag{Number: TagServerTimestamp, Content: nil})
}

func (s *ServerTimestamp) UnmarshalCBOR(data []byte) error {
	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != TagServerTimestamp {
		return fmt.Errorf("unexpected tag number for server timestamp: got %d, want %d", tag.Number, TagServerTimestamp)
	}
	return nil
}

// NormalizeValue turns values decoded into interfaces back into the types
// local callers use: tagged sentinels become ServerTimestamp and times
// are moved to UTC.
func NormalizeValue(v any) any {
	switch val := v.(type) {
	case cbor.Tag:
		if val.Number == TagServerTimestamp {
			return ServerTimestamp{}
		}
		return val
	case time.Time:
		return val.UTC()
	case map[string]any:
		return NormalizeFields(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = NormalizeValue(item)
		}
		return out
	}
	return v
}

func NormalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = NormalizeValue(v)
	}
	return out
}

// NormalizeQuery normalizes the filter values and cursor of a decoded query.
func NormalizeQuery(q PageQuery) PageQuery {
	filters := make([]Filter, len(q.Filters))
	for i, f := range q.Filters {
		f.Value = NormalizeValue(f.Value)
		filters[i] = f
	}
	q.Filters = filters
	q.Cursor.StartAt = NormalizeValue(q.Cursor.StartAt)
	q.Cursor.EndAt = NormalizeValue(q.Cursor.EndAt)
	return q
}

// ResolveServerTimestamps returns a copy of fields with every top level
// ServerTimestamp replaced by now.
func ResolveServerTimestamps(fields map[string]any, now time.Time) map[string]any {
	out := CloneFields(fields)
	for k, v := range out {
		switch v.(type) {
		case ServerTimestamp, *ServerTimestamp:
			out[k] = now
		}
	}
	return out
}

// Package source defines the document store the logbook stores read from
// and write to, together with the query semantics every backend shares.
package source

import (
	"context"
)

// Object is a keyed object. A nil Object means the key holds nothing.
type Object map[string]any

// Document is a member of a collection.
type Document struct {
	ID     string         `cbor:"id" json:"id"`
	Fields map[string]any `cbor:"fields" json:"fields"`
}

// Clone returns a copy whose field map can be modified independently.
func (d Document) Clone() Document {
	return Document{ID: d.ID, Fields: CloneFields(d.Fields)}
}

// Source is a subscribable key/value and document store.
//
// Subscriptions emit the current value first and then a fresh value on
// every change until they are closed or their context is cancelled.
type Source interface {
	SubscribeObject(ctx context.Context, key string) (Subscription[Object], error)
	SubscribePage(ctx context.Context, q PageQuery) (Subscription[[]Document], error)

	// Create stores a new document and returns the id assigned to it.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Update merges fields into an existing document. It fails with
	// constants.ErrNotFound when the document does not exist.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Delete removes a document. Removing a missing document succeeds.
	Delete(ctx context.Context, collection, id string) error
}

// CloneFields returns a shallow copy of fields.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

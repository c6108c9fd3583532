// Package memory implements source.Source in process.
//
// Every write fans out to the live subscriptions it affects. A Persister,
// when configured, makes the data survive restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/logbookhq/logbook/pkg/constants"
	"github.com/logbookhq/logbook/pkg/logger"
	"github.com/logbookhq/logbook/pkg/source"
)

// Persister stores what the Source holds. Writes reach the Persister
// before they become visible to subscribers.
type Persister interface {
	Load(ctx context.Context) (objects map[string]source.Object, collections map[string][]source.Document, err error)
	SaveObject(ctx context.Context, key string, obj source.Object) error
	SaveDocument(ctx context.Context, collection string, doc source.Document) error
	DeleteDocument(ctx context.Context, collection, id string) error
}

type Option func(*Source)

func WithPersister(p Persister) Option {
	return func(s *Source) { s.persister = p }
}

// WithClock sets the clock used to resolve source.ServerTimestamp.
func WithClock(clock func() time.Time) Option {
	return func(s *Source) { s.clock = clock }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Source) { s.log = l }
}

type objectSub struct {
	key    string
	stream *source.Stream[source.Object]
}

type pageSub struct {
	query  source.PageQuery
	stream *source.Stream[[]source.Document]
}

type Source struct {
	mu          sync.Mutex
	objects     map[string]source.Object
	collections map[string]map[string]source.Document
	objectSubs  map[*objectSub]struct{}
	pageSubs    map[*pageSub]struct{}
	lastWrite   time.Time
	closed      bool

	clock     func() time.Time
	persister Persister
	log       logger.Logger
}

var _ source.Source = (*Source)(nil)

func New(opts ...Option) *Source {
	s := &Source{
		objects:     make(map[string]source.Object),
		collections: make(map[string]map[string]source.Document),
		objectSubs:  make(map[*objectSub]struct{}),
		pageSubs:    make(map[*pageSub]struct{}),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDiscard(s.log)
	return s
}

// Open returns a Source filled from its Persister.
func Open(ctx context.Context, p Persister, opts ...Option) (*Source, error) {
	s := New(append(opts, WithPersister(p))...)

	objects, collections, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	for key, obj := range objects {
		s.objects[key] = obj
	}
	for name, docs := range collections {
		coll := s.collection(name)
		for _, doc := range docs {
			coll[doc.ID] = doc
			for _, v := range doc.Fields {
				if ts, ok := v.(time.Time); ok && ts.After(s.lastWrite) {
					s.lastWrite = ts
				}
			}
		}
	}
	s.log.Info("memory source loaded", "objects", len(objects), "collections", len(collections))
	return s, nil
}

func (s *Source) collection(name string) map[string]source.Document {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]source.Document)
		s.collections[name] = coll
	}
	return coll
}

// SetObject replaces the object stored under key. A nil obj removes it.
func (s *Source) SetObject(ctx context.Context, key string, obj source.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return constants.ErrClosed
	}

	obj = source.Object(source.NormalizeFields(obj))
	if s.persister != nil {
		if err := s.persister.SaveObject(ctx, key, obj); err != nil {
			return fmt.Errorf("save object %s: %w", key, err)
		}
	}
	if obj == nil {
		delete(s.objects, key)
	} else {
		s.objects[key] = obj
	}
	for sub := range s.objectSubs {
		if sub.key == key {
			sub.stream.Publish(cloneObject(obj))
		}
	}
	return nil
}

func (s *Source) SubscribeObject(ctx context.Context, key string) (source.Subscription[source.Object], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, constants.ErrClosed
	}

	sub := &objectSub{key: key}
	sub.stream = source.NewStream[source.Object](func() {
		s.mu.Lock()
		delete(s.objectSubs, sub)
		s.mu.Unlock()
	})
	s.objectSubs[sub] = struct{}{}
	sub.stream.Publish(cloneObject(s.objects[key]))
	sub.stream.CloseWhenDone(ctx)
	return sub.stream, nil
}

func (s *Source) SubscribePage(ctx context.Context, q source.PageQuery) (source.Subscription[[]source.Document], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, constants.ErrClosed
	}

	sub := &pageSub{query: q}
	sub.stream = source.NewStream[[]source.Document](func() {
		s.mu.Lock()
		delete(s.pageSubs, sub)
		s.mu.Unlock()
	})
	s.pageSubs[sub] = struct{}{}
	sub.stream.Publish(source.RunQuery(s.documents(q.Collection), q))
	sub.stream.CloseWhenDone(ctx)
	return sub.stream, nil
}

func (s *Source) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", constants.ErrClosed
	}

	doc := source.Document{
		ID:     ulid.Make().String(),
		Fields: source.ResolveServerTimestamps(source.NormalizeFields(fields), s.nextWriteTime()),
	}
	if doc.Fields == nil {
		doc.Fields = map[string]any{}
	}
	if s.persister != nil {
		if err := s.persister.SaveDocument(ctx, collection, doc); err != nil {
			return "", fmt.Errorf("save %s/%s: %w", collection, doc.ID, err)
		}
	}
	s.collection(collection)[doc.ID] = doc
	s.publishCollection(collection)
	return doc.ID, nil
}

func (s *Source) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return constants.ErrClosed
	}

	current, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", constants.ErrNotFound, collection, id)
	}

	next := current.Clone()
	if next.Fields == nil {
		next.Fields = map[string]any{}
	}
	for k, v := range source.ResolveServerTimestamps(source.NormalizeFields(fields), s.nextWriteTime()) {
		next.Fields[k] = v
	}
	if s.persister != nil {
		if err := s.persister.SaveDocument(ctx, collection, next); err != nil {
			return fmt.Errorf("save %s/%s: %w", collection, id, err)
		}
	}
	s.collections[collection][id] = next
	s.publishCollection(collection)
	return nil
}

func (s *Source) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return constants.ErrClosed
	}

	if _, ok := s.collections[collection][id]; !ok {
		return nil
	}
	if s.persister != nil {
		if err := s.persister.DeleteDocument(ctx, collection, id); err != nil {
			return fmt.Errorf("delete %s/%s: %w", collection, id, err)
		}
	}
	delete(s.collections[collection], id)
	s.publishCollection(collection)
	return nil
}

// Close ends every subscription. Later calls fail with constants.ErrClosed.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var streams []interface{ Close() error }
	for sub := range s.objectSubs {
		streams = append(streams, sub.stream)
	}
	for sub := range s.pageSubs {
		streams = append(streams, sub.stream)
	}
	s.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Close()
	}
	return nil
}

// nextWriteTime returns the clock reading, bumped so that no two writes
// share a timestamp.
func (s *Source) nextWriteTime() time.Time {
	now := s.clock().UTC()
	if !now.After(s.lastWrite) {
		now = s.lastWrite.Add(time.Nanosecond)
	}
	s.lastWrite = now
	return now
}

func (s *Source) documents(collection string) []source.Document {
	coll := s.collections[collection]
	out := make([]source.Document, 0, len(coll))
	for _, doc := range coll {
		out = append(out, doc)
	}
	return out
}

func (s *Source) publishCollection(collection string) {
	var docs []source.Document
	for sub := range s.pageSubs {
		if sub.query.Collection != collection {
			continue
		}
		if docs == nil {
			docs = s.documents(collection)
		}
		sub.stream.Publish(source.RunQuery(docs, sub.query))
	}
}

func cloneObject(obj source.Object) source.Object {
	if obj == nil {
		return nil
	}
	return source.Object(source.CloneFields(obj))
}

// Package sqlite persists the documents of a memory source in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/logbookhq/logbook/internal/codec"
	"github.com/logbookhq/logbook/pkg/source"
	"github.com/logbookhq/logbook/pkg/source/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	key  TEXT PRIMARY KEY,
	body BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);`

// Store keeps objects and documents as CBOR blobs.
type Store struct {
	sqlDB *sql.DB
	codec *codec.CBOR
}

var _ memory.Persister = (*Store)(nil)

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB, codec: codec.NewCBOR()}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Load(ctx context.Context) (map[string]source.Object, map[string][]source.Document, error) {
	objects := make(map[string]source.Object)
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT key, body FROM objects`)
	if err != nil {
		return nil, nil, fmt.Errorf("query objects: %w", err)
	}
	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			_ = rows.Close()
			return nil, nil, fmt.Errorf("scan object: %w", err)
		}
		var fields map[string]any
		if err := s.codec.Unmarshal(body, &fields); err != nil {
			_ = rows.Close()
			return nil, nil, fmt.Errorf("decode object %s: %w", key, err)
		}
		objects[key] = source.Object(source.NormalizeFields(fields))
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, nil, fmt.Errorf("read objects: %w", err)
	}

	collections := make(map[string][]source.Document)
	rows, err = s.sqlDB.QueryContext(ctx, `SELECT collection, id, body FROM documents ORDER BY collection, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var collection, id string
		var body []byte
		if err := rows.Scan(&collection, &id, &body); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		var fields map[string]any
		if err := s.codec.Unmarshal(body, &fields); err != nil {
			return nil, nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
		}
		collections[collection] = append(collections[collection], source.Document{
			ID:     id,
			Fields: source.NormalizeFields(fields),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read documents: %w", err)
	}
	return objects, collections, nil
}

// SaveObject upserts obj. A nil obj deletes the row.
func (s *Store) SaveObject(ctx context.Context, key string, obj source.Object) error {
	if obj == nil {
		_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM objects WHERE key = ?`, key)
		return err
	}
	body, err := s.codec.Marshal(map[string]any(obj))
	if err != nil {
		return fmt.Errorf("encode object %s: %w", key, err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO objects (key, body) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body`,
		key, body)
	return err
}

func (s *Store) SaveDocument(ctx context.Context, collection string, doc source.Document) error {
	body, err := s.codec.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, doc.ID, err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body`,
		collection, doc.ID, body)
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	return err
}

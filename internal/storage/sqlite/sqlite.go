// Package sqlite backs internal/storage.Store with a single key/value
// table, using ncruces/go-sqlite3's pure-Go driver (no cgo). Every record
// type serializes itself as JSON through internal/storage's generics, so
// one opaque kv table is enough.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// Store is a storage.Store backed by an on-disk (or in-memory) SQLite
// database. Update is serialized with an in-process mutex: the actor
// architectures of C6/C5 already funnel all writes through one goroutine,
// so this only guards against the rare concurrent background task.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) a SQLite-backed Store at dsn. Use
// "file::memory:?cache=shared" for an ephemeral store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite: open %s", dsn)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite: create schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "sqlite: get %s", key)
	}
	return json.RawMessage(raw), true, nil
}

func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		raw, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = raw
		}
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, []byte(value))
	if err != nil {
		return errors.Wrapf(err, "sqlite: set %s", key)
	}
	return nil
}

func (s *Store) SetMany(ctx context.Context, kvs map[string]json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite: begin setMany")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`)
	if err != nil {
		return errors.Wrap(err, "sqlite: prepare setMany")
	}
	defer stmt.Close()

	for key, value := range kvs {
		if _, err := stmt.ExecContext(ctx, key, []byte(value)); err != nil {
			return errors.Wrapf(err, "sqlite: setMany %s", key)
		}
	}
	return errors.Wrap(tx.Commit(), "sqlite: commit setMany")
}

// Update implements the §6.1 CAS contract: the whole read-modify-write
// cycle runs under s.mu, so no concurrent Update call can interleave.
func (s *Store) Update(ctx context.Context, key string, f func(current json.RawMessage, present bool) (json.RawMessage, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := f(current, ok)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, next)
}

func (s *Store) Del(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return errors.Wrapf(err, "sqlite: del %s", key)
	}
	return nil
}

// Package storage defines the key/value interface required from the host
// and generic helpers over it: explicit ctx-first signatures over an
// opaque key/value surface, with a CAS-style Update.
package storage

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Store is the host-provided key/value surface. Update must be atomic:
// no concurrent caller may observe an interleaved read/write.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	GetMany(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	SetMany(ctx context.Context, kvs map[string]json.RawMessage) error
	Update(ctx context.Context, key string, f func(current json.RawMessage, present bool) (json.RawMessage, error)) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrNotFound is returned by Get when no value generic helper finds a key.
var ErrNotFound = errors.New("storage: key not found")

// Get fetches and decodes key into a *T, returning ErrNotFound if absent.
func Get[T any](ctx context.Context, s Store, key string) (*T, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrapf(err, "storage: decode %s", key)
	}
	return &v, nil
}

// GetMany fetches and decodes every present key in keys.
func GetMany[T any](ctx context.Context, s Store, keys []string) (map[string]T, error) {
	raws, err := s.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raws))
	for key, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.Wrapf(err, "storage: decode %s", key)
		}
		out[key] = v
	}
	return out, nil
}

// Set encodes and stores value under key.
func Set[T any](ctx context.Context, s Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "storage: encode %s", key)
	}
	return s.Set(ctx, key, raw)
}

// SetMany encodes and stores every entry in kvs.
func SetMany[T any](ctx context.Context, s Store, kvs map[string]T) error {
	raws := make(map[string]json.RawMessage, len(kvs))
	for key, v := range kvs {
		raw, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "storage: encode %s", key)
		}
		raws[key] = raw
	}
	return s.SetMany(ctx, raws)
}

// Update applies f to the current value at key (nil if absent) under the
// store's CAS guarantee, persisting whatever f returns.
func Update[T any](ctx context.Context, s Store, key string, f func(current *T) T) error {
	return s.Update(ctx, key, func(current json.RawMessage, present bool) (json.RawMessage, error) {
		var ptr *T
		if present {
			var v T
			if err := json.Unmarshal(current, &v); err != nil {
				return nil, errors.Wrapf(err, "storage: decode %s", key)
			}
			ptr = &v
		}
		next := f(ptr)
		return json.Marshal(next)
	})
}

// Del removes key.
func Del(ctx context.Context, s Store, key string) error {
	return s.Del(ctx, key)
}

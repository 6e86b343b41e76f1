package storage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memStore is a minimal in-process Store used to exercise the generic
// helpers without a database.
type memStore struct {
	mu   sync.Mutex
	data map[string]json.RawMessage
}

func newMemStore() *memStore { return &memStore{data: map[string]json.RawMessage{}} }

func (m *memStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) GetMany(_ context.Context, keys []string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]json.RawMessage)
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memStore) Set(_ context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) SetMany(_ context.Context, kvs map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range kvs {
		m.data[k] = v
	}
	return nil
}

func (m *memStore) Update(_ context.Context, key string, f func(json.RawMessage, bool) (json.RawMessage, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.data[key]
	next, err := f(current, ok)
	if err != nil {
		return err
	}
	m.data[key] = next
	return nil
}

func (m *memStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) Close() error { return nil }

type rec struct {
	Count int `json:"count"`
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newMemStore()
	_, err := Get[rec](context.Background(), s, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newMemStore()
	require.NoError(t, Set(context.Background(), s, "k", rec{Count: 3}))
	got, err := Get[rec](context.Background(), s, "k")
	require.NoError(t, err)
	require.Equal(t, 3, got.Count)
}

func TestUpdateIsCASAndInitializesFromNil(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	err := Update(ctx, s, "counter", func(cur *rec) rec {
		if cur == nil {
			return rec{Count: 1}
		}
		return rec{Count: cur.Count + 1}
	})
	require.NoError(t, err)
	err = Update(ctx, s, "counter", func(cur *rec) rec {
		return rec{Count: cur.Count + 1}
	})
	require.NoError(t, err)

	got, err := Get[rec](ctx, s, "counter")
	require.NoError(t, err)
	require.Equal(t, 2, got.Count)
}

func TestSetManyAndGetMany(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	require.NoError(t, SetMany(ctx, s, map[string]rec{"a": {Count: 1}, "b": {Count: 2}}))
	got, err := GetMany[rec](ctx, s, []string{"a", "b", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, got["a"].Count)
}

func TestDelRemovesKey(t *testing.T) {
	s := newMemStore()
	ctx := context.Background()
	require.NoError(t, Set(ctx, s, "k", rec{Count: 1}))
	require.NoError(t, Del(ctx, s, "k"))
	_, err := Get[rec](ctx, s, "k")
	require.ErrorIs(t, err, ErrNotFound)
}

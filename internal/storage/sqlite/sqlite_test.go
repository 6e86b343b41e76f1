package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robosync/refsync/internal/storage"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type rec struct {
	Value string `json:"value"`
}

func TestSetGetRoundTrip(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	require.NoError(t, storage.Set(ctx, s, "k1", rec{Value: "hello"}))

	got, err := storage.Get[rec](ctx, s, "k1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Value)
}

func TestGetMissingKey(t *testing.T) {
	s := open(t)
	_, err := storage.Get[rec](context.Background(), s, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateIsAtomicReadModifyWrite(t *testing.T) {
	s := open(t)
	ctx := context.Background()

	type counter struct {
		N int `json:"n"`
	}
	for i := 0; i < 5; i++ {
		err := storage.Update(ctx, s, "ctr", func(cur *counter) counter {
			if cur == nil {
				return counter{N: 1}
			}
			return counter{N: cur.N + 1}
		})
		require.NoError(t, err)
	}

	got, err := storage.Get[counter](ctx, s, "ctr")
	require.NoError(t, err)
	require.Equal(t, 5, got.N)
}

func TestDelRemovesRow(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	require.NoError(t, storage.Set(ctx, s, "k", rec{Value: "x"}))
	require.NoError(t, s.Del(ctx, "k"))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetManyThenGetMany(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	require.NoError(t, storage.SetMany(ctx, s, map[string]rec{
		"a": {Value: "1"}, "b": {Value: "2"},
	}))
	got, err := storage.GetMany[rec](ctx, s, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
}

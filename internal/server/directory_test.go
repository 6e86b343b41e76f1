package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robosync/refsync/internal/identity"
)

func TestLoadDirectoryIsEmptyOnFirstBoot(t *testing.T) {
	store := newFakeStore()
	d, err := LoadDirectory(store)
	require.NoError(t, err)
	require.Equal(t, "", d.Name(identity.PeerId("nobody")))
}

func TestLoadDirectoryRestoresPersistedNames(t *testing.T) {
	store := newFakeStore()
	first, err := LoadDirectory(store)
	require.NoError(t, err)
	require.NoError(t, first.SetName("peer-1", "Ref Alice"))

	restarted, err := LoadDirectory(store)
	require.NoError(t, err)
	require.Equal(t, "Ref Alice", restarted.Name("peer-1"))
}

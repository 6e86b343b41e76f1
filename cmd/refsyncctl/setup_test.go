package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandTilde("~/.refsync/store.db")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".refsync", "store.db"), got)

	got, err = expandTilde("/abs/path")
	require.NoError(t, err)
	require.Equal(t, "/abs/path", got)

	got, err = expandTilde("~")
	require.NoError(t, err)
	require.Equal(t, home, got)
}

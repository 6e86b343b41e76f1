package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robosync/refsync/internal/client"
	"github.com/robosync/refsync/internal/config"
	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/storage"
	"github.com/robosync/refsync/internal/storage/sqlite"
)

// expandTilde expands a leading ~ to the user's home directory.
func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// newClient loads configuration, opens the local flock-guarded sqlite
// replica store, loads or generates the operator's identity, and builds a
// Client ready for one-shot signed calls. Callers own closing the
// returned storage.Store via the second return value.
func newClient(cmd *cobra.Command) (*client.Client, storage.Store, error) {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	if keyFile != "" {
		cfg.Client.KeyFile = keyFile
	}
	if storePath != "" {
		cfg.Client.StorePath = storePath
	}

	resolvedKeyFile, err := expandTilde(cfg.Client.KeyFile)
	if err != nil {
		return nil, nil, err
	}
	resolvedStorePath, err := expandTilde(cfg.Client.StorePath)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolvedStorePath), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create store dir: %w", err)
	}

	kp, err := identity.LoadOrGenerate(resolvedKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load identity: %w", err)
	}

	sqliteStore, err := sqlite.Open(resolvedStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	store := storage.NewFlocked(sqliteStore, resolvedStorePath+".lock")

	c := client.New(client.Config{
		Store:     store,
		Identity:  kp,
		PeerName:  peerName,
		ServerURL: cfg.Client.ServerURL,
	})
	return c, store, nil
}

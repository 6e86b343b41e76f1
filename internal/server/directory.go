package server

import (
	"context"
	"sync"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/storage"
)

// Directory is the server-wide (not per-SKU) display-name registry used
// by POST /user, since a peer's name is independent of any one event.
type Directory struct {
	mu    sync.RWMutex
	names map[identity.PeerId]string
	store storage.Store
}

// NewDirectory builds a Directory backed by store.
func NewDirectory(store storage.Store) *Directory {
	return &Directory{names: make(map[identity.PeerId]string), store: store}
}

// LoadDirectory builds a Directory pre-populated from store's persisted
// snapshot, so display names survive a refsyncd restart. A missing
// snapshot (first boot) is not an error.
func LoadDirectory(store storage.Store) (*Directory, error) {
	d := NewDirectory(store)
	names, err := storage.Get[map[identity.PeerId]string](context.Background(), store, "directory")
	if err != nil {
		if err == storage.ErrNotFound {
			return d, nil
		}
		return nil, err
	}
	d.names = *names
	return d, nil
}

// SetName records or updates peer's display name.
func (d *Directory) SetName(peer identity.PeerId, name string) error {
	d.mu.Lock()
	d.names[peer] = name
	snapshot := make(map[identity.PeerId]string, len(d.names))
	for k, v := range d.names {
		snapshot[k] = v
	}
	d.mu.Unlock()

	if d.store == nil {
		return nil
	}
	return storage.Set(context.Background(), d.store, "directory", snapshot)
}

// Name returns the display name for peer, or "" if unregistered.
func (d *Directory) Name(peer identity.PeerId) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.names[peer]
}

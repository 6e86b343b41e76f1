package server

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/membership"
	"github.com/robosync/refsync/internal/storage"
)

// Registry owns one Instance actor per event SKU, creating them on an
// explicit Create and reaping them when their own idle alarm fires.
type Registry struct {
	mu          sync.Mutex
	instances   map[string]*Instance
	store       storage.Store
	logger      *zap.SugaredLogger
	idleTimeout time.Duration
}

// NewRegistry builds an empty Registry backed by store.
func NewRegistry(store storage.Store, logger *zap.SugaredLogger, idleTimeout time.Duration) *Registry {
	return &Registry{
		instances:   make(map[string]*Instance),
		store:       store,
		logger:      logger,
		idleTimeout: idleTimeout,
	}
}

// Get returns the already-running instance for sku, if any.
func (r *Registry) Get(sku string) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[sku]
	return inst, ok
}

// Create starts a brand new instance for sku with creator as its sole
// admin, per §4.7 "Create instance". Returns an error if sku already has
// a running instance.
func (r *Registry) Create(sku string, creator identity.PeerId) (*Instance, *membership.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instances[sku]; exists {
		return nil, nil, ErrAlreadyExists
	}
	membershipInst, self := membership.NewInstance(sku, creator)
	inst := NewInstance(sku, membershipInst, r.store, r.logger, r.idleTimeout, r.evict)
	r.instances[sku] = inst
	return inst, self, nil
}

func (r *Registry) evict(sku string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, sku)
}

// Remove stops and drops sku's instance, if running.
func (r *Registry) Remove(sku string) {
	r.mu.Lock()
	inst, ok := r.instances[sku]
	delete(r.instances, sku)
	r.mu.Unlock()
	if ok {
		inst.Close()
	}
}

// ErrAlreadyExists is returned by Create when sku already has a live
// instance.
var ErrAlreadyExists = errAlreadyExists{}

type errAlreadyExists struct{}

func (errAlreadyExists) Error() string { return "server: instance already exists" }

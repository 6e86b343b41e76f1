package client

import (
	"context"

	"github.com/robosync/refsync/internal/cmap"
	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/storage"
)

// Membership is the client's local copy of its §4.7 relationship to one
// event instance: what invitation it holds, and whether it has been
// accepted and/or grants admin rights.
type Membership struct {
	InvitationID   string `json:"invitationId"`
	Admin          bool   `json:"admin"`
	Accepted       bool   `json:"accepted"`
	InstanceSecret string `json:"instanceSecret,omitempty"`
}

// replica is the on-disk shape of everything the client persists for one
// event SKU: a consistent map for that SKU, its membership state, and its
// outbound queue.
type replica struct {
	Incidents   cmap.Side[string, model.Incident]   `json:"incidents"`
	Scratchpads cmap.Side[string, model.Scratchpad] `json:"scratchpads"`
	Membership  Membership                          `json:"membership"`
	Queue       []queuedOp                          `json:"queue"`
}

func newReplica() *replica {
	return &replica{
		Incidents:   cmap.NewSide[string, model.Incident](),
		Scratchpads: cmap.NewSide[string, model.Scratchpad](),
	}
}

func replicaKey(sku string) string { return "replica/" + sku }

// loadReplica fetches the persisted replica for sku, returning a fresh one
// if this is the first time the client has seen it.
func loadReplica(ctx context.Context, store storage.Store, sku string) (*replica, error) {
	r, err := storage.Get[replica](ctx, store, replicaKey(sku))
	if err != nil {
		if err == storage.ErrNotFound {
			return newReplica(), nil
		}
		return nil, err
	}
	if r.Incidents.Values == nil {
		r.Incidents = cmap.NewSide[string, model.Incident]()
	}
	if r.Scratchpads.Values == nil {
		r.Scratchpads = cmap.NewSide[string, model.Scratchpad]()
	}
	return r, nil
}

// withReplica runs f against sku's replica under the store's CAS guarantee
// and persists whatever f leaves behind, so client storage calls never
// interleave incompatibly with each other.
func withReplica(ctx context.Context, store storage.Store, sku string, f func(r *replica) error) error {
	var fnErr error
	err := storage.Update(ctx, store, replicaKey(sku), func(current *replica) replica {
		r := current
		if r == nil {
			r = newReplica()
		}
		if r.Incidents.Values == nil {
			r.Incidents = cmap.NewSide[string, model.Incident]()
		}
		if r.Scratchpads.Values == nil {
			r.Scratchpads = cmap.NewSide[string, model.Scratchpad]()
		}
		if fnErr = f(r); fnErr != nil {
			return *r
		}
		return *r
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

// Package client implements the local replica: per-SKU consistent-map
// persistence, the add/edit/delete/updateScratchpad mutation API, the
// join-reconcile algorithm driven by incoming server_share_info frames,
// and an outbound HTTP queue for when the socket is unavailable. Writes
// take a local-first pipeline, falling back to HTTP only when the socket
// can't take the write immediately.
package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robosync/refsync/internal/growset"
	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/lww"
	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/rpcerr"
	"github.com/robosync/refsync/internal/storage"
	"github.com/robosync/refsync/internal/transport"
	"github.com/robosync/refsync/internal/wire"
)

// Config parameterizes a Client.
type Config struct {
	Store      storage.Store
	Identity   *identity.KeyPair
	PeerName   string
	ServerURL  string // http(s)://host[:port]; transport derives ws(s):// from it
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client
}

// Client owns every per-SKU replica the local peer has touched, the
// outbound HTTP queue, and the live socket sessions feeding reconcile.
type Client struct {
	store      storage.Store
	identity   *identity.KeyPair
	peerName   string
	serverURL  string
	sessionID  string
	logger     *zap.SugaredLogger
	httpClient *http.Client

	queueMu      sync.Mutex
	queueRunning map[string]bool

	sessionsMu sync.Mutex
	sessions   map[string]*transport.Session
}

// New builds a Client. Call Connect per SKU to start its socket session.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		store:        cfg.Store,
		identity:     cfg.Identity,
		peerName:     cfg.PeerName,
		serverURL:    cfg.ServerURL,
		sessionID:    identity.NewSessionID(),
		logger:       logger,
		httpClient:   httpClient,
		queueRunning: make(map[string]bool),
		sessions:     make(map[string]*transport.Session),
	}
}

// Connect opens (or reopens) the §6.3 socket session for sku and starts
// its reconnect loop in the background.
func (c *Client) Connect(ctx context.Context, sku string) {
	sess := transport.New(transport.Config{
		URL:      c.serverURL,
		SKU:      sku,
		Identity: c.identity,
		PeerName: c.peerName,
		Logger:   c.logger,
		OnFrame:  func(f *wire.Frame) { c.handleFrame(sku, f) },
		OnState: func(st transport.State) {
			if st == transport.StateOpen {
				c.kickQueue(sku)
			}
		},
	})
	c.sessionsMu.Lock()
	c.sessions[sku] = sess
	c.sessionsMu.Unlock()
	go sess.Run(ctx)
}

// ID returns the local peer's identity.
func (c *Client) ID() identity.PeerId { return c.identity.ID }

// Disconnect closes sku's socket session, if any, without reconnecting.
func (c *Client) Disconnect(sku string) {
	c.sessionsMu.Lock()
	sess := c.sessions[sku]
	delete(c.sessions, sku)
	c.sessionsMu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

func (c *Client) session(sku string) *transport.Session {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	return c.sessions[sku]
}

// emit sends frame over sku's live socket if one is open; otherwise it
// enqueues the equivalent signed HTTP request for later delivery. target
// and entityID tag the queued op so reconcile can recognize it's in flight.
func (c *Client) emit(ctx context.Context, sku string, frame *wire.Frame, method, path string, body any, target, entityID string) {
	if sess := c.session(sku); sess != nil && sess.State() == transport.StateOpen {
		if err := sess.Send(frame); err == nil {
			return
		}
		c.logger.Warnw("socket send failed, falling back to http queue", "sku", sku, "type", frame.Type)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		c.logger.Errorw("failed to encode queued operation", "sku", sku, "error", err)
		return
	}
	op := queuedOp{Method: method, Path: path, Body: raw, Target: target, EntityID: entityID}
	if err := c.enqueue(ctx, sku, op); err != nil {
		c.logger.Errorw("failed to persist queued operation", "sku", sku, "error", err)
	}
}

// Add implements the §4.5 `add` mutation: wrap in a zero-count envelope,
// persist, and emit/queue add_incident.
func (c *Client) Add(ctx context.Context, sku string, incident model.Incident) (*model.Incident, error) {
	incident.EventSKU = sku
	env, err := lww.Init(incident, string(c.identity.ID), model.IncidentImmutableKeys)
	if err != nil {
		return nil, err
	}

	if err := withReplica(ctx, c.store, sku, func(r *replica) error {
		r.Incidents.Values[incident.ID] = env
		return nil
	}); err != nil {
		return nil, err
	}

	value := env.Value
	c.emit(ctx, sku, &wire.Frame{Type: wire.FrameAddIncident, Incident: &value}, http.MethodPut, incidentPath(sku), env, "incident", incident.ID)
	return &value, nil
}

// Edit implements the §4.5 `edit` mutation: apply each changed field via
// lww.Update, persist, and emit/queue update_incident.
func (c *Client) Edit(ctx context.Context, sku, id string, patch map[string]any) (*model.Incident, error) {
	var result *lww.Envelope[model.Incident]
	err := withReplica(ctx, c.store, sku, func(r *replica) error {
		if r.Incidents.Deleted.Has(id) {
			return rpcerr.New(rpcerr.ReasonForbidden, "incident was deleted").WithDetails("tombstoned")
		}
		env, ok := r.Incidents.Values[id]
		if !ok {
			return rpcerr.New(rpcerr.ReasonBadRequest, "unknown incident id")
		}
		for key, value := range patch {
			updated, err := lww.Update(env, key, value, string(c.identity.ID))
			if err != nil {
				return err
			}
			env = updated
		}
		r.Incidents.Values[id] = env
		result = env
		return nil
	})
	if err != nil {
		return nil, err
	}

	value := result.Value
	c.emit(ctx, sku, &wire.Frame{Type: wire.FrameUpdateIncident, Incident: &value}, http.MethodPatch, incidentPath(sku), result, "incident", id)
	return &value, nil
}

// Delete implements the §4.5 `delete` mutation: tombstone locally and
// emit/queue remove_incident.
func (c *Client) Delete(ctx context.Context, sku, id string) error {
	if err := withReplica(ctx, c.store, sku, func(r *replica) error {
		delete(r.Incidents.Values, id)
		r.Incidents.Deleted.Add(id)
		return nil
	}); err != nil {
		return err
	}
	c.emit(ctx, sku, &wire.Frame{Type: wire.FrameRemoveIncident, ID: id}, http.MethodDelete, incidentPath(sku)+"?id="+id, nil, "incident", id)
	return nil
}

// UpdateScratchpad implements the §4.5 `updateScratchpad` mutation: "same
// discipline as edit", covering both first-write and later patches.
func (c *Client) UpdateScratchpad(ctx context.Context, sku, id string, seed model.Scratchpad, patch map[string]any) (*model.Scratchpad, error) {
	var result *lww.Envelope[model.Scratchpad]
	err := withReplica(ctx, c.store, sku, func(r *replica) error {
		if r.Scratchpads.Deleted.Has(id) {
			return rpcerr.New(rpcerr.ReasonForbidden, "scratchpad was deleted").WithDetails("tombstoned")
		}
		env, ok := r.Scratchpads.Values[id]
		if !ok {
			seed.ID = id
			seed.EventSKU = sku
			var err error
			env, err = lww.Init(seed, string(c.identity.ID), model.ScratchpadImmutableKeys)
			if err != nil {
				return err
			}
		}
		for key, value := range patch {
			updated, err := lww.Update(env, key, value, string(c.identity.ID))
			if err != nil {
				return err
			}
			env = updated
		}
		r.Scratchpads.Values[id] = env
		result = env
		return nil
	})
	if err != nil {
		return nil, err
	}

	value := result.Value
	c.emit(ctx, sku, &wire.Frame{Type: wire.FrameScratchpadUpdate, ID: id, Scratchpad: &value}, http.MethodPatch, scratchpadPath(sku), result, "scratchpad", id)
	return &value, nil
}

// ForceSync fetches GET /get out of band and feeds it into the same
// reconcile pipeline as a server_share_info frame, the recovery path for
// a socket perceived to be stale.
func (c *Client) ForceSync(ctx context.Context, sku string) error {
	raw, err := c.getSnapshot(ctx, sku)
	if err != nil {
		return err
	}
	var frame wire.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}
	return c.reconcile(ctx, sku, &frame)
}

func (c *Client) handleFrame(sku string, frame *wire.Frame) {
	ctx := context.Background()
	switch frame.Type {
	case wire.FrameServerShareInfo:
		if err := c.reconcile(ctx, sku, frame); err != nil {
			c.logger.Errorw("reconcile failed", "sku", sku, "error", err)
		}
	case wire.FrameAddIncident, wire.FrameUpdateIncident:
		if frame.Incident == nil {
			return
		}
		_ = withReplica(ctx, c.store, sku, func(r *replica) error {
			applyAuthoritative(r.Incidents.Values, frame.Incident.ID, *frame.Incident, string(frame.Sender.ID), model.IncidentImmutableKeys)
			return nil
		})
	case wire.FrameRemoveIncident:
		_ = withReplica(ctx, c.store, sku, func(r *replica) error {
			delete(r.Incidents.Values, frame.ID)
			r.Incidents.Deleted.Add(frame.ID)
			return nil
		})
	case wire.FrameScratchpadUpdate:
		if frame.Scratchpad == nil {
			return
		}
		_ = withReplica(ctx, c.store, sku, func(r *replica) error {
			applyAuthoritative(r.Scratchpads.Values, frame.Scratchpad.ID, *frame.Scratchpad, string(frame.Sender.ID), model.ScratchpadImmutableKeys)
			return nil
		})
	}
}

// applyAuthoritative upserts a server-broadcast value directly: the server
// already ran the merge, so the client simply overwrites the value in its
// local envelope unconditionally, keeping that envelope's consistency
// metadata (initializing a fresh envelope if it had never seen the id).
func applyAuthoritative[T any](values map[string]*lww.Envelope[T], id string, value T, peer string, immutable []string) {
	if _, ok := values[id]; ok {
		values[id].Value = value
		return
	}
	env, err := lww.Init(value, peer, immutable)
	if err != nil {
		return
	}
	values[id] = env
}

// reconcile implements the §4.8 join-reconcile algorithm for one
// server_share_info (or force-synced GET /get) payload.
//
// server_share_info carries bare current values, not full lww envelopes
// (§6.3), so there is no remote field-level history to run cmap.Merge
// against: a remote id rebuilt via lww.Init always starts at count 0,
// which would make any locally-edited field "win" the comparison without
// ever being flagged for re-push. Reconcile instead diffs resolved values
// directly: an id with an undelivered queued mutation is left untouched
// (the queue will deliver it), a remote id the client never had is
// adopted outright, and anything else is synced to the remote's value.
// Whatever the client pushes back still goes through the server's real
// per-field lww.MergeLWW on arrival, which is the actual conflict
// arbiter; a queued HTTP push that turns out stale comes back as
// ReasonStale, upon which drainQueue drops it and runs a force-sync. A
// stale push sent over the socket is only logged by the server.
func (c *Client) reconcile(ctx context.Context, sku string, frame *wire.Frame) error {
	remoteIncidents := make(map[string]*model.Incident, len(frame.Data))
	for _, inc := range frame.Data {
		remoteIncidents[inc.ID] = inc
	}
	remoteDeletedIncidents := growset.New(frame.Deleted...)

	remoteScratchpads := frame.Scratchpads
	remoteDeletedScratchpads := growset.New(frame.DeletedScratchpads...)

	pendingIncidents := c.pendingIDs(ctx, sku, "incident")
	pendingScratchpads := c.pendingIDs(ctx, sku, "scratchpad")

	var pushIncidents, removeIncidents, pushScratchpads []string

	err := withReplica(ctx, c.store, sku, func(r *replica) error {
		for id, incVal := range remoteIncidents {
			if pendingIncidents[id] || r.Incidents.Deleted.Has(id) {
				continue
			}
			applyAuthoritative(r.Incidents.Values, id, *incVal, "", model.IncidentImmutableKeys)
		}
		for id := range remoteDeletedIncidents {
			if pendingIncidents[id] {
				continue
			}
			delete(r.Incidents.Values, id)
			r.Incidents.Deleted.Add(id)
		}
		for id := range r.Incidents.Values {
			if _, known := remoteIncidents[id]; !known && !remoteDeletedIncidents.Has(id) {
				pushIncidents = append(pushIncidents, id)
			}
		}
		for id := range r.Incidents.Deleted {
			if !remoteDeletedIncidents.Has(id) {
				removeIncidents = append(removeIncidents, id)
			}
		}

		for id, padVal := range remoteScratchpads {
			if pendingScratchpads[id] || r.Scratchpads.Deleted.Has(id) {
				continue
			}
			applyAuthoritative(r.Scratchpads.Values, id, *padVal, "", model.ScratchpadImmutableKeys)
		}
		for id := range remoteDeletedScratchpads {
			if pendingScratchpads[id] {
				continue
			}
			delete(r.Scratchpads.Values, id)
			r.Scratchpads.Deleted.Add(id)
		}
		for id := range r.Scratchpads.Values {
			if _, known := remoteScratchpads[id]; !known && !remoteDeletedScratchpads.Has(id) {
				pushScratchpads = append(pushScratchpads, id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.pushIncidents(ctx, sku, pushIncidents, remoteIncidents)
	c.pushIncidentDeletes(ctx, sku, removeIncidents)
	c.pushScratchpads(ctx, sku, pushScratchpads)
	return nil
}

// pushIncidents re-emits add_incident (remote never had the id) or
// update_incident (remote had a different, now-superseded value) for
// every id the local resolution kept but the remote snapshot didn't
// reflect, per §4.8 step 4.
func (c *Client) pushIncidents(ctx context.Context, sku string, ids []string, remote map[string]*model.Incident) {
	r, err := loadReplica(ctx, c.store, sku)
	if err != nil {
		return
	}
	for _, id := range ids {
		env, ok := r.Incidents.Values[id]
		if !ok {
			continue
		}
		value := env.Value
		if _, hadRemote := remote[id]; hadRemote {
			c.emit(ctx, sku, &wire.Frame{Type: wire.FrameUpdateIncident, Incident: &value}, http.MethodPatch, incidentPath(sku), env, "incident", id)
		} else {
			c.emit(ctx, sku, &wire.Frame{Type: wire.FrameAddIncident, Incident: &value}, http.MethodPut, incidentPath(sku), env, "incident", id)
		}
	}
}

func (c *Client) pushIncidentDeletes(ctx context.Context, sku string, ids []string) {
	for _, id := range ids {
		c.emit(ctx, sku, &wire.Frame{Type: wire.FrameRemoveIncident, ID: id}, http.MethodDelete, incidentPath(sku)+"?id="+id, nil, "incident", id)
	}
}

func (c *Client) pushScratchpads(ctx context.Context, sku string, ids []string) {
	r, err := loadReplica(ctx, c.store, sku)
	if err != nil {
		return
	}
	for _, id := range ids {
		env, ok := r.Scratchpads.Values[id]
		if !ok {
			continue
		}
		value := env.Value
		c.emit(ctx, sku, &wire.Frame{Type: wire.FrameScratchpadUpdate, ID: id, Scratchpad: &value}, http.MethodPatch, scratchpadPath(sku), env, "scratchpad", id)
	}
	// Scratchpads have no independent tombstone push: there is no
	// remove-scratchpad frame type, since scratchpad deletion isn't a
	// concept distinct from incident deletion.
}

func incidentPath(sku string) string   { return "/api/" + sku + "/incident" }
func scratchpadPath(sku string) string { return "/api/" + sku + "/scratchpad" }

// Package server implements the per-event authoritative instance: a
// single-writer actor with HTTP mutation/membership endpoints and a
// websocket fan-out hub, one goroutine-owned actor per event SKU.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robosync/refsync/internal/growset"
	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/lww"
	"github.com/robosync/refsync/internal/membership"
	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/rpcerr"
	"github.com/robosync/refsync/internal/storage"
)

// DefaultIdleTimeout is the §5 actor idle alarm window.
const DefaultIdleTimeout = 24 * time.Hour

// Instance is the single-writer actor owning all state for one event SKU.
// Every state-touching method is executed on the actor's own goroutine via
// do, so no two calls ever observe an interleaved state.
type Instance struct {
	SKU         string
	Membership  *membership.Instance
	store       storage.Store
	logger      *zap.SugaredLogger
	idleTimeout time.Duration
	onIdle      func(sku string)

	incidents          map[string]*lww.Envelope[model.Incident]
	deletedIncidents   growset.Set[string]
	scratchpads        map[string]*lww.Envelope[model.Scratchpad]
	deletedScratchpads growset.Set[string]
	names              map[identity.PeerId]string
	sessions           map[identity.PeerId]*Session

	cmds chan func()
	stop chan struct{}
	once sync.Once
}

// NewInstance starts the actor goroutine for sku and returns the handle.
func NewInstance(sku string, inst *membership.Instance, store storage.Store, logger *zap.SugaredLogger, idleTimeout time.Duration, onIdle func(string)) *Instance {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	i := &Instance{
		SKU:                sku,
		Membership:         inst,
		store:              store,
		logger:             logger,
		idleTimeout:        idleTimeout,
		onIdle:             onIdle,
		incidents:          make(map[string]*lww.Envelope[model.Incident]),
		deletedIncidents:   growset.New[string](),
		scratchpads:        make(map[string]*lww.Envelope[model.Scratchpad]),
		deletedScratchpads: growset.New[string](),
		names:              make(map[identity.PeerId]string),
		sessions:           make(map[identity.PeerId]*Session),
		cmds:               make(chan func()),
		stop:               make(chan struct{}),
	}
	go i.run()
	return i
}

func (inst *Instance) run() {
	idle := time.NewTimer(inst.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case f, ok := <-inst.cmds:
			if !ok {
				return
			}
			f()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(inst.idleTimeout)
		case <-idle.C:
			inst.logger.Infow("instance idle timeout, evicting", "sku", inst.SKU)
			if inst.onIdle != nil {
				inst.onIdle(inst.SKU)
			}
			return
		}
	}
}

// do schedules f on the actor goroutine and blocks until it completes.
func (inst *Instance) do(f func()) {
	done := make(chan struct{})
	select {
	case inst.cmds <- func() { f(); close(done) }:
		<-done
	case <-inst.stop:
	}
}

// Close stops the actor goroutine without waiting for the idle alarm.
func (inst *Instance) Close() {
	inst.once.Do(func() { close(inst.stop) })
}

// AddIncident implements the §4.6 PUT /incident handler, whose body is a
// full envelope (the client already ran lww.Init locally).
func (inst *Instance) AddIncident(sender Sender, env *lww.Envelope[model.Incident]) (*Frame, error) {
	var frame *Frame
	var err error
	inst.do(func() {
		id := env.Value.ID
		if inst.deletedIncidents.Has(id) {
			err = rpcerr.New(rpcerr.ReasonForbidden, "incident was deleted").WithDetails("tombstoned")
			return
		}
		inst.incidents[id] = env
		inst.persistIncidents()
		incident := env.Value
		frame = &Frame{Type: FrameAddIncident, Sender: sender, Date: nowISO8601(), Incident: &incident}
		inst.broadcast(frame, "")
	})
	return frame, err
}

// EditIncident implements the §4.6 PATCH /incident handler: the caller
// supplies their full local envelope; it is merged against the server's
// copy via the same LWW discipline used between replicas, so a write that
// the server's counters have already superseded is reported stale rather
// than silently overwritten.
func (inst *Instance) EditIncident(sender Sender, incoming *lww.Envelope[model.Incident]) (*Frame, error) {
	var frame *Frame
	var err error
	inst.do(func() {
		if inst.deletedIncidents.Has(incoming.Value.ID) {
			err = rpcerr.New(rpcerr.ReasonForbidden, "incident was deleted").WithDetails("tombstoned")
			return
		}
		frame, err = inst.mergeIncident(sender, incoming.Value.ID, incoming)
	})
	return frame, err
}

// EditIncidentValue merges a socket-originated update_incident frame,
// which carries only the plain value rather than a full envelope. It
// diffs value against the server's current record and applies
// lww.Update per field that actually changed, so the socket path gets
// the same real per-field counts an HTTP PATCH would, instead of a fresh
// lww.Init baseline that would tie at count 0 with the server's copy on
// any field the editing peer hasn't touched before.
func (inst *Instance) EditIncidentValue(sender Sender, value model.Incident) (*Frame, error) {
	var frame *Frame
	var err error
	inst.do(func() {
		id := value.ID
		if inst.deletedIncidents.Has(id) {
			err = rpcerr.New(rpcerr.ReasonForbidden, "incident was deleted").WithDetails("tombstoned")
			return
		}
		var incoming *lww.Envelope[model.Incident]
		if current, ok := inst.incidents[id]; ok {
			incoming, err = diffUpdate(current, value, string(sender.ID), model.IncidentImmutableKeys)
		} else {
			incoming, err = lww.Init(value, string(sender.ID), model.IncidentImmutableKeys)
		}
		if err != nil {
			return
		}
		frame, err = inst.mergeIncident(sender, id, incoming)
	})
	return frame, err
}

// mergeIncident runs the shared merge-and-broadcast tail of EditIncident
// and EditIncidentValue. Callers must already be running inside do().
func (inst *Instance) mergeIncident(sender Sender, id string, incoming *lww.Envelope[model.Incident]) (*Frame, error) {
	current, ok := inst.incidents[id]
	if !ok {
		inst.incidents[id] = incoming
		inst.persistIncidents()
		frame := &Frame{Type: FrameAddIncident, Sender: sender, Date: nowISO8601(), Incident: &incoming.Value}
		inst.broadcast(frame, "")
		return frame, nil
	}
	result, mergeErr := lww.MergeLWW(current, incoming)
	if mergeErr != nil {
		return nil, rpcerr.Wrap(rpcerr.ReasonServerError, mergeErr, "merge incident envelope")
	}
	inst.incidents[id] = result.Resolved
	inst.persistIncidents()
	var err error
	if len(result.Rejected) > 0 {
		err = rpcerr.New(rpcerr.ReasonStale, "server has a newer value for some fields").WithDetails(result.Resolved.Value)
	}
	var frame *Frame
	if len(result.Changed) > 0 {
		frame = &Frame{Type: FrameUpdateIncident, Sender: sender, Date: nowISO8601(), Incident: &result.Resolved.Value}
		inst.broadcast(frame, "")
	}
	return frame, err
}

// DeleteIncident implements the §4.6 DELETE /incident handler. Idempotent:
// a second delete is a silent success with no broadcast.
func (inst *Instance) DeleteIncident(sender Sender, id string) (*Frame, error) {
	var frame *Frame
	inst.do(func() {
		if inst.deletedIncidents.Has(id) {
			return
		}
		delete(inst.incidents, id)
		inst.deletedIncidents.Add(id)
		inst.persistIncidents()
		frame = &Frame{Type: FrameRemoveIncident, Sender: sender, Date: nowISO8601(), ID: id}
		inst.broadcast(frame, "")
	})
	return frame, nil
}

// UpdateScratchpad implements the scratchpad half of §4.5's "same
// discipline as edit", exposed over both HTTP and socket paths.
func (inst *Instance) UpdateScratchpad(sender Sender, incoming *lww.Envelope[model.Scratchpad]) (*Frame, error) {
	var frame *Frame
	var err error
	inst.do(func() {
		if inst.deletedScratchpads.Has(incoming.Value.ID) {
			err = rpcerr.New(rpcerr.ReasonForbidden, "scratchpad was deleted").WithDetails("tombstoned")
			return
		}
		frame, err = inst.mergeScratchpad(sender, incoming.Value.ID, incoming)
	})
	return frame, err
}

// UpdateScratchpadValue merges a socket-originated scratchpad_update
// frame, which carries only the plain value. See EditIncidentValue for
// why this diffs against the server's current envelope instead of
// synthesizing a fresh lww.Init baseline.
func (inst *Instance) UpdateScratchpadValue(sender Sender, value model.Scratchpad) (*Frame, error) {
	var frame *Frame
	var err error
	inst.do(func() {
		id := value.ID
		if inst.deletedScratchpads.Has(id) {
			err = rpcerr.New(rpcerr.ReasonForbidden, "scratchpad was deleted").WithDetails("tombstoned")
			return
		}
		var incoming *lww.Envelope[model.Scratchpad]
		if current, ok := inst.scratchpads[id]; ok {
			incoming, err = diffUpdate(current, value, string(sender.ID), model.ScratchpadImmutableKeys)
		} else {
			incoming, err = lww.Init(value, string(sender.ID), model.ScratchpadImmutableKeys)
		}
		if err != nil {
			return
		}
		frame, err = inst.mergeScratchpad(sender, id, incoming)
	})
	return frame, err
}

// mergeScratchpad runs the shared merge-and-broadcast tail of
// UpdateScratchpad and UpdateScratchpadValue. Callers must already be
// running inside do().
func (inst *Instance) mergeScratchpad(sender Sender, id string, incoming *lww.Envelope[model.Scratchpad]) (*Frame, error) {
	current, ok := inst.scratchpads[id]
	if !ok {
		inst.scratchpads[id] = incoming
		inst.persistScratchpads()
		frame := &Frame{Type: FrameScratchpadUpdate, Sender: sender, Date: nowISO8601(), ID: id, Scratchpad: &incoming.Value}
		inst.broadcast(frame, "")
		return frame, nil
	}
	result, mergeErr := lww.MergeLWW(current, incoming)
	if mergeErr != nil {
		return nil, rpcerr.Wrap(rpcerr.ReasonServerError, mergeErr, "merge scratchpad envelope")
	}
	inst.scratchpads[id] = result.Resolved
	inst.persistScratchpads()
	var err error
	if len(result.Rejected) > 0 {
		err = rpcerr.New(rpcerr.ReasonStale, "server has a newer value for some fields").WithDetails(result.Resolved.Value)
	}
	var frame *Frame
	if len(result.Changed) > 0 {
		frame = &Frame{Type: FrameScratchpadUpdate, Sender: sender, Date: nowISO8601(), ID: id, Scratchpad: &result.Resolved.Value}
		inst.broadcast(frame, "")
	}
	return frame, err
}

// Snapshot builds the server_share_info payload of §6.3, including the
// tombstone sets the §4.8 join-reconcile algorithm needs alongside the
// live incident/scratchpad lists.
func (inst *Instance) Snapshot() *Frame {
	var frame *Frame
	inst.do(func() {
		frame = &Frame{
			Type:               FrameServerShareInfo,
			Sender:             Sender{Type: SenderServer},
			Date:               nowISO8601(),
			ActiveUsers:        inst.activeUsersLocked(),
			Invitations:        inst.invitationViewsLocked(),
			Data:               inst.incidentsLocked(),
			Deleted:            inst.deletedIncidents.Slice(),
			Scratchpads:        inst.scratchpadsLocked(),
			DeletedScratchpads: inst.deletedScratchpads.Slice(),
		}
	})
	return frame
}

// Incidents returns a snapshot of every live (non-tombstoned) incident,
// for read-only export endpoints.
func (inst *Instance) Incidents() []*model.Incident {
	var out []*model.Incident
	inst.do(func() { out = inst.incidentsLocked() })
	return out
}

func (inst *Instance) incidentsLocked() []*model.Incident {
	out := make([]*model.Incident, 0, len(inst.incidents))
	for _, env := range inst.incidents {
		v := env.Value
		out = append(out, &v)
	}
	return out
}

func (inst *Instance) scratchpadsLocked() map[string]*model.Scratchpad {
	out := make(map[string]*model.Scratchpad, len(inst.scratchpads))
	for id, env := range inst.scratchpads {
		v := env.Value
		out[id] = &v
	}
	return out
}

func (inst *Instance) activeUsersLocked() []ActiveUser {
	out := make([]ActiveUser, 0, len(inst.sessions))
	for peer, sess := range inst.sessions {
		if sess.Active() {
			out = append(out, ActiveUser{ID: peer, Name: inst.names[peer]})
		}
	}
	return out
}

func (inst *Instance) invitationViewsLocked() []InvitationView {
	invs := inst.Membership.AllInvitations()
	out := make([]InvitationView, 0, len(invs))
	for _, inv := range invs {
		out = append(out, InvitationView{
			ID: inv.ID, SKU: inv.SKU, From: inv.From, To: inv.To,
			Admin: inv.Admin, Accepted: inv.Accepted, InstanceSecret: inv.InstanceSecret,
		})
	}
	return out
}

// Join registers sess, deduping any prior socket for the same peer before
// sending the new snapshot, per §4.6 step 1-3 and the §8 socket-dedupe
// property.
func (inst *Instance) Join(sess *Session) {
	inst.do(func() {
		if prior, ok := inst.sessions[sess.Peer]; ok {
			prior.Close()
		}
		inst.sessions[sess.Peer] = sess
		inst.names[sess.Peer] = sess.Name
		add := &Frame{
			Type:        FrameServerUserAdd,
			Sender:      Sender{Type: SenderServer},
			Date:        nowISO8601(),
			User:        &ActiveUser{ID: sess.Peer, Name: sess.Name},
			ActiveUsers: inst.activeUsersLocked(),
			Invitations: inst.invitationViewsLocked(),
		}
		inst.broadcast(add, "")
		sess.Send(&Frame{
			Type:               FrameServerShareInfo,
			Sender:             Sender{Type: SenderServer},
			Date:               nowISO8601(),
			ActiveUsers:        inst.activeUsersLocked(),
			Invitations:        inst.invitationViewsLocked(),
			Data:               inst.incidentsLocked(),
			Deleted:            inst.deletedIncidents.Slice(),
			Scratchpads:        inst.scratchpadsLocked(),
			DeletedScratchpads: inst.deletedScratchpads.Slice(),
		})
	})
}

// Leave removes sess and broadcasts server_user_remove, per §4.6 step 5.
func (inst *Instance) Leave(peer identity.PeerId) {
	inst.do(func() {
		if _, ok := inst.sessions[peer]; !ok {
			return
		}
		name := inst.names[peer]
		delete(inst.sessions, peer)
		inst.broadcast(&Frame{
			Type:        FrameServerUserRemove,
			Sender:      Sender{Type: SenderServer},
			Date:        nowISO8601(),
			User:        &ActiveUser{ID: peer, Name: name},
			ActiveUsers: inst.activeUsersLocked(),
			Invitations: inst.invitationViewsLocked(),
		})
	})
}

// broadcastMessage relays a free-text "message" frame to every other
// connected peer, per §6.3's message type.
func (inst *Instance) broadcastMessage(sender Sender, text string) {
	inst.do(func() {
		inst.broadcast(&Frame{Type: FrameMessage, Sender: sender, Date: nowISO8601(), Message: text}, sender.ID)
	})
}

// Revoke force-closes a peer's live socket, per §4.7 "Remove".
func (inst *Instance) Revoke(peer identity.PeerId) {
	inst.do(func() {
		if sess, ok := inst.sessions[peer]; ok {
			sess.Close()
		}
	})
}

// broadcast sends frame to every active session except skipPeer. A send
// failure marks that session inactive and schedules its removal one
// broadcast deep, per §4.6's "no recursive storm" rule.
func (inst *Instance) broadcast(frame *Frame, skipPeer identity.PeerId) {
	var dropped []identity.PeerId
	for peer, sess := range inst.sessions {
		if peer == skipPeer {
			continue
		}
		if err := sess.Send(frame); err != nil {
			sess.Close()
			dropped = append(dropped, peer)
		}
	}
	for _, peer := range dropped {
		name := inst.names[peer]
		delete(inst.sessions, peer)
		go inst.broadcastOnce(&Frame{
			Type:        FrameServerUserRemove,
			Sender:      Sender{Type: SenderServer},
			Date:        nowISO8601(),
			User:        &ActiveUser{ID: peer, Name: name},
			ActiveUsers: inst.activeUsersLocked(),
			Invitations: inst.invitationViewsLocked(),
		})
	}
}

// broadcastOnce is used for the one-level-deep cascading removal frame;
// it re-enters the actor rather than calling broadcast directly since it
// runs from a detached goroutine.
func (inst *Instance) broadcastOnce(frame *Frame) {
	inst.do(func() { inst.broadcast(frame, "") })
}

func (inst *Instance) persistIncidents() {
	if inst.store == nil {
		return
	}
	ctx := context.Background()
	if err := storage.Set(ctx, inst.store, inst.SKU+"/incidents", inst.incidents); err != nil {
		inst.logger.Errorw("persist incidents failed", "sku", inst.SKU, "error", err)
	}
	if err := storage.Set(ctx, inst.store, inst.SKU+"/deleted_incidents", inst.deletedIncidents.Slice()); err != nil {
		inst.logger.Errorw("persist tombstones failed", "sku", inst.SKU, "error", err)
	}
}

func (inst *Instance) persistScratchpads() {
	if inst.store == nil {
		return
	}
	if err := storage.Set(context.Background(), inst.store, inst.SKU+"/scratchpads", inst.scratchpads); err != nil {
		inst.logger.Errorw("persist scratchpads failed", "sku", inst.SKU, "error", err)
	}
}

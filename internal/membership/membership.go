// Package membership implements admission control for one event instance:
// invitation codes, admin roles, and admission checks rooted in the
// instance's creator, held in an in-process map owned by one server actor.
package membership

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/robosync/refsync/internal/growset"
	"github.com/robosync/refsync/internal/identity"
)

// RequestCodeTTL is how long a request code stays valid.
const RequestCodeTTL = 10 * time.Minute

// Instance is the per-SKU admission state.
type Instance struct {
	SKU    string
	Secret string

	Admins      growset.Set[identity.PeerId]
	Invitations growset.Set[identity.PeerId]

	pending map[string]*Invitation // by invitation id
	codes   map[string]*requestCode
}

// Invitation is the per-peer admission record.
type Invitation struct {
	ID             string
	SKU            string
	From           identity.PeerId
	To             identity.PeerId
	Admin          bool
	Accepted       bool
	InstanceSecret string
}

type requestCode struct {
	peer      identity.PeerId
	expiresAt time.Time
}

// NewInstance creates an instance whose creator is its sole admin, with an
// already-accepted self-invitation.
func NewInstance(sku string, creator identity.PeerId) (*Instance, *Invitation) {
	secret := randomSecret()
	inst := &Instance{
		SKU:         sku,
		Secret:      secret,
		Admins:      growset.New(creator),
		Invitations: growset.New(creator),
		pending:     make(map[string]*Invitation),
		codes:       make(map[string]*requestCode),
	}
	self := &Invitation{
		ID:             uuid.NewString(),
		SKU:            sku,
		From:           creator,
		To:             creator,
		Admin:          true,
		Accepted:       true,
		InstanceSecret: secret,
	}
	inst.pending[self.ID] = self
	return inst, self
}

func randomSecret() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

// IsAdmin reports whether peer administers inst.
func (inst *Instance) IsAdmin(peer identity.PeerId) bool {
	return inst.Admins.Has(peer)
}

// IsAdmitted reports whether peer has an accepted invitation to inst.
func (inst *Instance) IsAdmitted(peer identity.PeerId) bool {
	return inst.Invitations.Has(peer)
}

// Invite creates a pending invitation from admin to target, per §4.7.
func (inst *Instance) Invite(admin, target identity.PeerId, asAdmin bool) (*Invitation, error) {
	if !inst.IsAdmin(admin) {
		return nil, ErrForbidden
	}
	inv := &Invitation{
		ID:    uuid.NewString(),
		SKU:   inst.SKU,
		From:  admin,
		To:    target,
		Admin: asAdmin,
	}
	inst.pending[inv.ID] = inv
	return inv, nil
}

// InvitationFor returns an invitation addressed to peer, if any, per the
// "Read caller's invitation state" endpoint. Invitations are not ordered:
// when several are addressed to peer, which one is returned is not defined.
func (inst *Instance) InvitationFor(peer identity.PeerId) *Invitation {
	var found *Invitation
	for _, inv := range inst.pending {
		if inv.To == peer {
			found = inv
		}
	}
	return found
}

// AllInvitations returns every invitation inst currently holds (Remove drops
// those addressed to the removed peer), for the server_share_info snapshot
// of §6.3.
func (inst *Instance) AllInvitations() []*Invitation {
	out := make([]*Invitation, 0, len(inst.pending))
	for _, inv := range inst.pending {
		out = append(out, inv)
	}
	return out
}

// Accept consumes invitationID for target, per §4.7. Consuming an
// invitation twice returns ErrAlreadyAccepted; it does not re-grant
// membership.
func (inst *Instance) Accept(target identity.PeerId, invitationID string) (*Invitation, error) {
	inv, ok := inst.pending[invitationID]
	if !ok || inv.To != target {
		return nil, ErrNotFound
	}
	if inv.Accepted {
		return nil, ErrAlreadyAccepted
	}
	inv.Accepted = true
	inv.InstanceSecret = inst.Secret
	inst.Invitations.Add(target)
	if inv.Admin {
		inst.Admins.Add(target)
	}
	return inv, nil
}

// Remove expunges target from inst, per §4.7. Self-removal is permitted
// even by a non-admin; removing someone else requires admin rights.
func (inst *Instance) Remove(caller, target identity.PeerId) error {
	if caller != target && !inst.IsAdmin(caller) {
		return ErrForbidden
	}
	delete(inst.Invitations, target)
	delete(inst.Admins, target)
	for id, inv := range inst.pending {
		if inv.To == target {
			delete(inst.pending, id)
		}
	}
	return nil
}

// RequestCode produces a short human-readable code bound to peer, per
// §4.7's out-of-band admission UX.
func (inst *Instance) RequestCode(peer identity.PeerId, now time.Time) string {
	code := shortCode()
	inst.codes[code] = &requestCode{peer: peer, expiresAt: now.Add(RequestCodeTTL)}
	return code
}

// ResolveCode resolves a code back to the peer that requested it, per
// §4.7. Codes are single-use and expire after RequestCodeTTL.
func (inst *Instance) ResolveCode(code string, now time.Time) (identity.PeerId, error) {
	rc, ok := inst.codes[code]
	if !ok {
		return "", ErrIncorrectCode
	}
	delete(inst.codes, code)
	if now.After(rc.expiresAt) {
		return "", ErrIncorrectCode
	}
	return rc.peer, nil
}

func shortCode() string {
	const alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ" // crockford base32, no padding chars
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	var sb strings.Builder
	for _, b := range buf {
		sb.WriteByte(alphabet[int(b)%len(alphabet)])
	}
	return sb.String()
}

// Errors corresponding to the §6.2/§7 response reasons.
var (
	ErrForbidden       = errors.New("membership: forbidden")
	ErrNotFound        = errors.New("membership: invitation not found")
	ErrAlreadyAccepted = errors.New("membership: invitation already accepted")
	ErrIncorrectCode   = errors.New("membership: incorrect or expired code")
)

package membership

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robosync/refsync/internal/identity"
)

func TestNewInstanceAdmitsCreator(t *testing.T) {
	creator := identity.PeerId("creator")
	inst, self := NewInstance("RE-VRC-24-0001", creator)

	require.True(t, inst.IsAdmin(creator))
	require.True(t, inst.IsAdmitted(creator))
	require.True(t, self.Accepted)
	require.Equal(t, inst.Secret, self.InstanceSecret)
}

func TestInviteRequiresAdmin(t *testing.T) {
	admin := identity.PeerId("admin")
	outsider := identity.PeerId("outsider")
	target := identity.PeerId("target")
	inst, _ := NewInstance("SKU", admin)

	_, err := inst.Invite(outsider, target, false)
	require.ErrorIs(t, err, ErrForbidden)

	inv, err := inst.Invite(admin, target, false)
	require.NoError(t, err)
	require.Equal(t, target, inv.To)
	require.False(t, inv.Accepted)
}

func TestAcceptGrantsMembershipOnce(t *testing.T) {
	admin := identity.PeerId("admin")
	target := identity.PeerId("target")
	inst, _ := NewInstance("SKU", admin)
	inv, err := inst.Invite(admin, target, true)
	require.NoError(t, err)

	require.False(t, inst.IsAdmitted(target))
	accepted, err := inst.Accept(target, inv.ID)
	require.NoError(t, err)
	require.True(t, inst.IsAdmitted(target))
	require.True(t, inst.IsAdmin(target))
	require.Equal(t, inst.Secret, accepted.InstanceSecret)

	_, err = inst.Accept(target, inv.ID)
	require.ErrorIs(t, err, ErrAlreadyAccepted)
}

func TestAcceptWrongTargetIsNotFound(t *testing.T) {
	admin := identity.PeerId("admin")
	target := identity.PeerId("target")
	other := identity.PeerId("other")
	inst, _ := NewInstance("SKU", admin)
	inv, err := inst.Invite(admin, target, false)
	require.NoError(t, err)

	_, err = inst.Accept(other, inv.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveSelfAllowedOthersRequireAdmin(t *testing.T) {
	admin := identity.PeerId("admin")
	member := identity.PeerId("member")
	inst, _ := NewInstance("SKU", admin)
	inv, err := inst.Invite(admin, member, false)
	require.NoError(t, err)
	_, err = inst.Accept(member, inv.ID)
	require.NoError(t, err)

	require.ErrorIs(t, inst.Remove(member, admin), ErrForbidden)
	require.NoError(t, inst.Remove(member, member))
	require.False(t, inst.IsAdmitted(member))

	require.NoError(t, inst.Remove(admin, admin))
	require.False(t, inst.IsAdmitted(admin))
}

func TestRequestCodeRoundTripAndExpiry(t *testing.T) {
	admin := identity.PeerId("admin")
	requester := identity.PeerId("requester")
	inst, _ := NewInstance("SKU", admin)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	code := inst.RequestCode(requester, now)
	resolved, err := inst.ResolveCode(code, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, requester, resolved)

	// single-use
	_, err = inst.ResolveCode(code, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrIncorrectCode)

	code2 := inst.RequestCode(requester, now)
	_, err = inst.ResolveCode(code2, now.Add(RequestCodeTTL+time.Second))
	require.ErrorIs(t, err, ErrIncorrectCode)
}

func TestInvitationForReturnsLatest(t *testing.T) {
	admin := identity.PeerId("admin")
	target := identity.PeerId("target")
	inst, _ := NewInstance("SKU", admin)

	require.Nil(t, inst.InvitationFor(target))
	inv, err := inst.Invite(admin, target, false)
	require.NoError(t, err)
	require.Equal(t, inv.ID, inst.InvitationFor(target).ID)
}

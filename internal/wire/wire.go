// Package wire defines the §6.3 socket frame shapes shared by the server's
// broadcast hub (internal/server) and the client's transport/replica layers
// (internal/transport, internal/client), so neither side of the connection
// depends on the other's package for the wire format.
package wire

import (
	"encoding/json"
	"time"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/model"
)

// SenderKind distinguishes the two §6.3 sender types.
type SenderKind string

const (
	SenderClient SenderKind = "client"
	SenderServer SenderKind = "server"
)

// Sender identifies who emitted a socket frame.
type Sender struct {
	Type SenderKind      `json:"type"`
	ID   identity.PeerId `json:"id,omitempty"`
	Name string          `json:"name,omitempty"`
}

// FrameType enumerates the §6.3 peer<->server frame discriminants.
type FrameType string

const (
	FrameAddIncident      FrameType = "add_incident"
	FrameUpdateIncident   FrameType = "update_incident"
	FrameRemoveIncident   FrameType = "remove_incident"
	FrameScratchpadUpdate FrameType = "scratchpad_update"
	FrameMessage          FrameType = "message"
	FrameServerShareInfo  FrameType = "server_share_info"
	FrameServerUserAdd    FrameType = "server_user_add"
	FrameServerUserRemove FrameType = "server_user_remove"
)

// Frame is the envelope common to every socket message.
type Frame struct {
	Type   FrameType       `json:"type"`
	Sender Sender          `json:"sender"`
	Date   string          `json:"date"`
	Body   json.RawMessage `json:"-"`

	Incident   *model.Incident   `json:"incident,omitempty"`
	ID         string            `json:"id,omitempty"`
	Scratchpad *model.Scratchpad `json:"scratchpad,omitempty"`
	Message    string            `json:"message,omitempty"`

	ActiveUsers        []ActiveUser                 `json:"activeUsers,omitempty"`
	Invitations        []InvitationView             `json:"invitations,omitempty"`
	Data               []*model.Incident            `json:"data,omitempty"`
	Deleted            []string                     `json:"deleted,omitempty"`
	Scratchpads        map[string]*model.Scratchpad `json:"scratchpads,omitempty"`
	DeletedScratchpads []string                     `json:"deletedScratchpads,omitempty"`
	User               *ActiveUser                  `json:"user,omitempty"`
}

// ActiveUser describes one connected peer, broadcast in §6.3 roster frames.
type ActiveUser struct {
	ID   identity.PeerId `json:"id"`
	Name string          `json:"name"`
}

// InvitationView is the wire shape of a membership.Invitation.
type InvitationView struct {
	ID             string          `json:"id"`
	SKU            string          `json:"sku"`
	From           identity.PeerId `json:"from"`
	To             identity.PeerId `json:"to"`
	Admin          bool            `json:"admin"`
	Accepted       bool            `json:"accepted"`
	InstanceSecret string          `json:"instanceSecret,omitempty"`
}

// NowISO8601 stamps a frame's Date field per §6.3.
func NowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}

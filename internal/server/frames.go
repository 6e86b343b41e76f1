package server

import "github.com/robosync/refsync/internal/wire"

// The socket wire format is shared with the client side (internal/client,
// internal/transport) via internal/wire; these are plain aliases so the
// rest of this package can keep referring to server.Frame etc.
type (
	SenderKind     = wire.SenderKind
	Sender         = wire.Sender
	FrameType      = wire.FrameType
	Frame          = wire.Frame
	ActiveUser     = wire.ActiveUser
	InvitationView = wire.InvitationView
)

const (
	SenderClient = wire.SenderClient
	SenderServer = wire.SenderServer

	FrameAddIncident      = wire.FrameAddIncident
	FrameUpdateIncident   = wire.FrameUpdateIncident
	FrameRemoveIncident   = wire.FrameRemoveIncident
	FrameScratchpadUpdate = wire.FrameScratchpadUpdate
	FrameMessage          = wire.FrameMessage
	FrameServerShareInfo  = wire.FrameServerShareInfo
	FrameServerUserAdd    = wire.FrameServerUserAdd
	FrameServerUserRemove = wire.FrameServerUserRemove
)

var nowISO8601 = wire.NowISO8601

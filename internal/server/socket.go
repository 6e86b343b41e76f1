package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/lww"
	"github.com/robosync/refsync/internal/model"
	"github.com/robosync/refsync/internal/rpcerr"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleJoin implements the §4.6/§6.3 /join socket endpoint. Query-string
// authentication mirrors the signed-HTTP-header path per §4.4.
func (s *Server) handleJoin(c *gin.Context) {
	inst, found := s.instance(c)
	if !found {
		return
	}

	query := c.Request.URL.Query()
	peer := identity.PeerId(query.Get("id"))
	name := query.Get("name")
	h := identity.Headers{
		Signature: query.Get("signature"),
		PeerID:    peer,
		Date:      query.Get("date"),
	}
	canonicalPath := c.Request.URL.Path + "?" + identity.CanonicalSocketQuery(query)
	if err := identity.Verify(h, http.MethodGet, canonicalPath, nil, time.Now(), s.skew); err != nil {
		fail(c, rpcerr.Wrap(rpcerr.ReasonBadSignature, err, "socket handshake signature invalid"))
		return
	}
	if !inst.Membership.IsAdmitted(peer) {
		fail(c, rpcerr.New(rpcerr.ReasonForbidden, "not admitted to this instance"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "sku", inst.SKU, "peer", peer, "error", err)
		return
	}

	sess := NewSession(conn, peer, name, func() { inst.Leave(peer) })
	inst.Join(sess)

	go s.pingLoop(sess)
	s.readLoop(inst, sess)
}

func (s *Server) pingLoop(sess *Session) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !sess.Active() {
			return
		}
		if !sess.Ping() {
			sess.Close()
			return
		}
	}
}

// readLoop dispatches inbound frames per the §6.3 peer→server table until
// the socket closes.
func (s *Server) readLoop(inst *Instance, sess *Session) {
	defer sess.Close()
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.logger.Warnw("malformed socket frame", "sku", inst.SKU, "peer", sess.Peer, "error", err)
			continue
		}
		sender := Sender{Type: SenderClient, ID: sess.Peer, Name: sess.Name}
		s.dispatchFrame(inst, sender, &frame)
	}
}

func (s *Server) dispatchFrame(inst *Instance, sender Sender, frame *Frame) {
	switch frame.Type {
	case FrameAddIncident:
		if frame.Incident == nil {
			return
		}
		env, err := lww.Init(*frame.Incident, string(sender.ID), model.IncidentImmutableKeys)
		if err != nil {
			return
		}
		if _, err := inst.AddIncident(sender, env); err != nil {
			s.logger.Infow("add_incident rejected", "sku", inst.SKU, "error", err)
		}
	case FrameUpdateIncident:
		if frame.Incident == nil {
			return
		}
		if _, err := inst.EditIncidentValue(sender, *frame.Incident); err != nil {
			s.logger.Infow("update_incident rejected", "sku", inst.SKU, "error", err)
		}
	case FrameRemoveIncident:
		if _, err := inst.DeleteIncident(sender, frame.ID); err != nil {
			s.logger.Infow("remove_incident rejected", "sku", inst.SKU, "error", err)
		}
	case FrameScratchpadUpdate:
		if frame.Scratchpad == nil {
			return
		}
		if _, err := inst.UpdateScratchpadValue(sender, *frame.Scratchpad); err != nil {
			s.logger.Infow("scratchpad_update rejected", "sku", inst.SKU, "error", err)
		}
	case FrameMessage:
		inst.broadcastMessage(sender, frame.Message)
	}
}

package server

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robosync/refsync/internal/identity"
)

// PingInterval and MaxMissedPongs implement the §5 socket liveness rule:
// a ping every 30s, force close after two missed pongs.
const (
	PingInterval   = 30 * time.Second
	MaxMissedPongs = 2
)

// Session wraps one live socket connection for one peer, serializing
// writes (gorilla/websocket connections are not safe for concurrent
// writers) and tracking liveness for the ping/pong rule.
type Session struct {
	Peer identity.PeerId
	Name string

	conn        *websocket.Conn
	writeMu     sync.Mutex
	active      atomic.Bool
	missedPongs atomic.Int32
	closeOnce   sync.Once
	onClose     func()
}

// NewSession wraps conn for peer/name. onClose is invoked exactly once,
// from whichever goroutine first observes the session ending.
func NewSession(conn *websocket.Conn, peer identity.PeerId, name string, onClose func()) *Session {
	sess := &Session{Peer: peer, Name: name, conn: conn, onClose: onClose}
	sess.active.Store(true)
	conn.SetPongHandler(func(string) error {
		sess.missedPongs.Store(0)
		return nil
	})
	return sess
}

// Active reports whether the session is still considered live.
func (s *Session) Active() bool { return s.active.Load() }

// Send writes frame as a JSON text message.
func (s *Session) Send(frame *Frame) error {
	if !s.Active() {
		return websocket.ErrCloseSent
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

// Ping sends a ping frame and counts it against the missed-pong budget;
// the pong handler resets the counter on reply. Returns false once the
// session should be force-closed.
func (s *Session) Ping() bool {
	s.writeMu.Lock()
	err := s.conn.WriteMessage(websocket.PingMessage, nil)
	s.writeMu.Unlock()
	if err != nil {
		return false
	}
	return s.missedPongs.Add(1) <= MaxMissedPongs
}

// Close marks the session inactive and closes the underlying connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.active.Store(false)
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

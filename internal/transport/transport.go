// Package transport implements the client half of the websocket
// connection: dial/handshake, reconnect with a flat backoff, and frame
// dispatch to the replica layer.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/wire"
)

// ReconnectInterval is the flat backoff between socket reconnect attempts,
// distinct from the client's exponential HTTP-queue backoff in
// internal/client.
const ReconnectInterval = 5 * time.Second

// State is one stop on the §4.8 Closed -> Connecting -> Open -> Closing ->
// Closed lifecycle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// ErrPermanent wraps a handshake failure the reconnect loop will not retry
// (a 4xx HTTP status on the handshake, or a join URL that cannot be
// built); 5xx statuses and network errors are retried, per §4.8 "stop on
// permanent 4xx".
var ErrPermanent = errors.New("transport: permanent handshake failure")

// Config parameterizes a Session.
type Config struct {
	URL         string // http(s):// or ws(s)://host[:port]; http(s) is dialed as ws(s)
	SKU         string
	Identity    *identity.KeyPair
	PeerName    string
	Logger      *zap.SugaredLogger
	OnFrame     func(*wire.Frame)
	OnState     func(State)
	reconnectAt time.Duration // overridable by tests; defaults to ReconnectInterval
}

// Session owns one logical connection to one event instance's socket,
// reconnecting for as long as Run is active and the caller hasn't called
// Close.
type Session struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	closing bool
}

// New builds a Session that hasn't connected yet; call Run to start it.
func New(cfg Config) *Session {
	if cfg.reconnectAt <= 0 {
		cfg.reconnectAt = ReconnectInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Session{cfg: cfg, state: StateClosed}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the connect/read/reconnect loop until ctx is canceled or
// Close is called. It returns once the loop has permanently stopped.
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			s.setState(StateClosed)
			return
		}
		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrPermanent) {
				s.cfg.Logger.Errorw("socket handshake rejected, giving up", "sku", s.cfg.SKU, "error", err)
				s.setState(StateClosed)
				return
			}
			s.cfg.Logger.Warnw("socket dial failed, retrying", "sku", s.cfg.SKU, "error", err)
			if !s.sleep(ctx, s.cfg.reconnectAt) {
				s.setState(StateClosed)
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateOpen)

		s.readLoop(conn)

		s.mu.Lock()
		explicit := s.closing
		s.conn = nil
		s.mu.Unlock()
		if explicit {
			s.setState(StateClosed)
			return
		}
		if !s.sleep(ctx, s.cfg.reconnectAt) {
			s.setState(StateClosed)
			return
		}
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close marks the session for a permanent shutdown: the in-flight read
// loop (if any) is interrupted and Run will not reconnect afterward.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.mu.Unlock()
	s.setState(StateClosing)
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send writes frame to the live socket. It errors if the session is not
// currently Open.
func (s *Session) Send(frame *wire.Frame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("transport: session not connected")
	}
	if frame.Date == "" {
		frame.Date = wire.NowISO8601()
	}
	return conn.WriteJSON(frame)
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	if s.cfg.OnState != nil {
		s.cfg.OnState(next)
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame wire.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.cfg.Logger.Warnw("malformed frame from server", "sku", s.cfg.SKU, "error", err)
			continue
		}
		if s.cfg.OnFrame != nil {
			s.cfg.OnFrame(&frame)
		}
	}
}

// dial performs the signed §6.3 handshake and returns a live connection.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	joinURL, err := s.signedJoinURL()
	if err != nil {
		return nil, errors.Wrap(ErrPermanent, err.Error())
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, joinURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, errors.Wrapf(ErrPermanent, "handshake rejected: %s", resp.Status)
		}
		return nil, err
	}
	return conn, nil
}

func (s *Session) signedJoinURL() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	case "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/" + s.cfg.SKU + "/join"

	date := time.Now().UTC().Format(time.RFC3339)
	query := url.Values{
		"id":   {string(s.cfg.Identity.ID)},
		"name": {s.cfg.PeerName},
		"date": {date},
	}
	canonicalPath := u.Path + "?" + identity.CanonicalSocketQuery(query)
	h, err := s.cfg.Identity.SignAt(http.MethodGet, canonicalPath, nil, date, identity.NewSessionID())
	if err != nil {
		return "", err
	}
	query.Set("signature", h.Signature)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

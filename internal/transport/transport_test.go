package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/wire"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// newEchoServer accepts one handshake (verifying the signed query string,
// and admitting only allowedPeer if set) per connection and echoes every
// frame it receives back to the caller.
func newEchoServer(t *testing.T, allowedPeer identity.PeerId) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/SKU1/join", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		h := identity.Headers{
			Signature: query.Get("signature"),
			PeerID:    identity.PeerId(query.Get("id")),
			Date:      query.Get("date"),
		}
		canonicalPath := r.URL.Path + "?" + identity.CanonicalSocketQuery(query)
		if err := identity.Verify(h, http.MethodGet, canonicalPath, nil, time.Now(), identity.DefaultSkewWindow); err != nil {
			http.Error(w, "bad signature", http.StatusForbidden)
			return
		}
		if allowedPeer != "" && h.PeerID != allowedPeer {
			http.Error(w, "not admitted", http.StatusForbidden)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(websocket.TextMessage, raw) != nil {
				return
			}
		}
	})
	return httptest.NewServer(mux)
}

func TestSessionConnectsSendsAndReceivesFrames(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)
	srv := newEchoServer(t, kp.ID)
	defer srv.Close()

	received := make(chan *wire.Frame, 1)
	sess := New(Config{
		URL:      srv.URL,
		SKU:      "SKU1",
		Identity: kp,
		PeerName: "Ref A",
		OnFrame:  func(f *wire.Frame) { received <- f },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	require.Eventually(t, func() bool { return sess.State() == StateOpen }, time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Send(&wire.Frame{Type: wire.FrameMessage, Message: "hello"}))

	select {
	case f := <-received:
		require.Equal(t, "hello", f.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}

	require.NoError(t, sess.Close())
	require.Eventually(t, func() bool { return sess.State() == StateClosed }, time.Second, 5*time.Millisecond)
}

func TestSessionTreatsForbiddenHandshakeAsPermanent(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)
	srv := newEchoServer(t, kp.ID) // only kp is admitted; other's handshake is rejected
	defer srv.Close()

	sess := New(Config{
		URL:         srv.URL,
		SKU:         "SKU1",
		Identity:    other,
		PeerName:    "Intruder",
		reconnectAt: time.Millisecond,
	})

	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		require.Equal(t, StateClosed, sess.State())
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after permanent handshake failure")
	}
}

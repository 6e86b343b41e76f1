package server

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/robosync/refsync/internal/identity"
	"github.com/robosync/refsync/internal/rpcerr"
)

const peerContextKey = "refsync.peer"
const sessionContextKey = "refsync.session"

// limiterSet keys a golang.org/x/time/rate.Limiter per session id, mirroring
// teranos-QNTX's watcher engine's per-watcher rate.Limiter map.
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

func (l *limiterSet) allow(sessionID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[sessionID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// signatureMiddleware verifies the §4.4 signed-request headers on every
// non-public route and attaches the caller's PeerId to the gin context.
func signatureMiddleware(skew time.Duration, limiters *limiterSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		h := identity.Headers{
			Signature: c.GetHeader("X-Refsync-Signature"),
			PeerID:    identity.PeerId(c.GetHeader("X-Refsync-Peer")),
			Date:      c.GetHeader("X-Refsync-Date"),
			SessionID: c.GetHeader("X-Refsync-Session"),
		}
		pathWithQuery := c.Request.URL.RequestURI()
		if err := identity.Verify(h, c.Request.Method, pathWithQuery, body, time.Now(), skew); err != nil {
			c.AbortWithStatusJSON(rpcerr.New(rpcerr.ReasonBadSignature, err.Error()).HTTPStatus(), rpcerr.Fail(rpcerr.Wrap(rpcerr.ReasonBadSignature, err, "signature verification failed")))
			return
		}

		if limiters != nil && h.SessionID != "" && !limiters.allow(h.SessionID) {
			err := rpcerr.New(rpcerr.ReasonForbidden, "rate limit exceeded")
			c.AbortWithStatusJSON(err.HTTPStatus(), rpcerr.Fail(err))
			return
		}

		c.Set(peerContextKey, h.PeerID)
		c.Set(sessionContextKey, h.SessionID)
		c.Next()
	}
}

func peerFromContext(c *gin.Context) identity.PeerId {
	v, _ := c.Get(peerContextKey)
	peer, _ := v.(identity.PeerId)
	return peer
}

package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// DefaultSkewWindow is the maximum age of a signed request's Date header
// before it is rejected.
const DefaultSkewWindow = 5 * time.Minute

// Headers carries the three signed-request headers plus the session id,
// independent of any particular HTTP library.
type Headers struct {
	Signature string
	PeerID    PeerId
	Date      string // ISO-8601
	SessionID string
}

// CanonicalString builds "METHOD\nPATH-WITH-QUERY\nISO-8601-DATE\nSHA-256(body)-as-base64url".
func CanonicalString(method, pathWithQuery, date string, body []byte) string {
	return method + "\n" + pathWithQuery + "\n" + date + "\n" + sha256Base64URL(body)
}

// NewSessionID returns a random UUID stable for the process lifetime, used
// for rate limiting and log correlation.
func NewSessionID() string {
	return uuid.NewString()
}

// Sign produces the Headers for an authenticated request, stamping the
// current time as the signed date.
func (kp *KeyPair) Sign(method, pathWithQuery string, body []byte, sessionID string) (Headers, error) {
	return kp.SignAt(method, pathWithQuery, body, time.Now().UTC().Format(time.RFC3339), sessionID)
}

// SignAt signs with an explicit date, for callers (like the socket
// handshake) that must embed the same date both inside the canonical
// string and as a visible query parameter.
func (kp *KeyPair) SignAt(method, pathWithQuery string, body []byte, date, sessionID string) (Headers, error) {
	canonical := CanonicalString(method, pathWithQuery, date, body)
	sig, err := signRaw(kp.Private, []byte(canonical))
	if err != nil {
		return Headers{}, err
	}
	return Headers{
		Signature: sig,
		PeerID:    kp.ID,
		Date:      date,
		SessionID: sessionID,
	}, nil
}

func signRaw(priv *ecdsa.PrivateKey, message []byte) (string, error) {
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return "", errors.Wrap(err, "identity: sign")
	}
	size := (priv.Curve.Params().BitSize + 7) / 8
	raw := make([]byte, 2*size)
	r.FillBytes(raw[:size])
	s.FillBytes(raw[size:])
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify checks headers against the request's method/path/body, enforcing
// the clock skew window. Returns ErrBadSignature or ErrStaleDate on
// failure; both are handled uniformly by callers via errors.Is.
func Verify(h Headers, method, pathWithQuery string, body []byte, now time.Time, skew time.Duration) error {
	if skew <= 0 {
		skew = DefaultSkewWindow
	}
	date, err := time.Parse(time.RFC3339, h.Date)
	if err != nil {
		return errors.Wrapf(ErrBadSignature, "identity: unparseable date %q", h.Date)
	}
	age := now.Sub(date)
	if age < 0 {
		age = -age
	}
	if age > skew {
		return ErrStaleDate
	}

	pub, err := ParsePeerID(h.PeerID)
	if err != nil {
		return errors.Wrapf(ErrBadSignature, "identity: %s", err)
	}

	raw, err := base64.RawURLEncoding.DecodeString(h.Signature)
	if err != nil {
		return errors.Wrap(ErrBadSignature, "identity: decode signature")
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	if len(raw) != 2*size {
		return errors.Wrap(ErrBadSignature, "identity: signature has wrong length")
	}
	r := new(big.Int).SetBytes(raw[:size])
	s := new(big.Int).SetBytes(raw[size:])

	canonical := CanonicalString(method, pathWithQuery, h.Date, body)
	digest := sha256.Sum256([]byte(canonical))
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrBadSignature
	}
	return nil
}

// CanonicalSocketQuery reconstructs the deterministic query string signed
// and verified for a socket join URL: every parameter except signature
// itself, sorted and encoded by net/url so client and server agree
// byte-for-byte.
func CanonicalSocketQuery(values url.Values) string {
	v := url.Values{}
	for k, vv := range values {
		if k == "signature" {
			continue
		}
		v[k] = vv
	}
	return v.Encode()
}

// ErrBadSignature and ErrStaleDate are the two verification failure modes.
var (
	ErrBadSignature = errors.New("identity: bad signature")
	ErrStaleDate    = errors.New("identity: date outside skew window")
)

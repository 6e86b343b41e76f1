// Package identity implements peer keypair lifecycle and request signing:
// ECDSA P-256 keys with base64url raw-point ids.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// PeerId is the base64url encoding of a peer's raw uncompressed P-256
// public key point, minus the leading 0x04 byte.
type PeerId string

// KeyPair is a peer's long-lived ECDSA P-256 identity.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	ID      PeerId
}

// Generate creates a fresh P-256 keypair.
func Generate() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "identity: generate keypair")
	}
	return &KeyPair{Private: priv, ID: peerIDFromPublic(&priv.PublicKey)}, nil
}

func peerIDFromPublic(pub *ecdsa.PublicKey) PeerId {
	raw := elliptic.Marshal(elliptic.P256(), pub.X, pub.Y) // 0x04 || X || Y
	return PeerId(base64.RawURLEncoding.EncodeToString(raw[1:]))
}

// ParsePeerID recovers the ECDSA public key encoded by id.
func ParsePeerID(id PeerId) (*ecdsa.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(id))
	if err != nil {
		return nil, errors.Wrap(err, "identity: decode peer id")
	}
	if len(raw) != 64 {
		return nil, errors.Newf("identity: peer id has unexpected length %d", len(raw))
	}
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(raw[:32])
	y := new(big.Int).SetBytes(raw[32:])
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("identity: peer id is not a point on P-256")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// LoadOrGenerate loads a keypair persisted as a PEM-encoded PKCS#8 private
// key at path, generating and persisting a new one if none exists.
func LoadOrGenerate(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return decodePEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "identity: read key file %s", path)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrapf(err, "identity: create key dir for %s", path)
	}
	pemBytes, err := encodePEM(kp.Private)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, errors.Wrapf(err, "identity: write key file %s", path)
	}
	return kp, nil
}

func encodePEM(priv *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "identity: marshal private key")
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func decodePEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("identity: no PEM block in key file")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "identity: parse private key")
	}
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("identity: key file does not contain an ECDSA key")
	}
	return &KeyPair{Private: priv, ID: peerIDFromPublic(&priv.PublicKey)}, nil
}

// sha256Base64URL is the "SHA-256(body)-as-base64url" component of the
// canonical string.
func sha256Base64URL(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

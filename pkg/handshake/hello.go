// Package handshake implements the signed Hello exchanged when two engines
// link up. It binds a public key, and so a NodeID, to the session.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/Acurast/acup2p/pkg/protocol"
)

var (
	ErrUnexpectedPeer = errors.New("hello from unexpected peer")
	ErrWrongRole      = errors.New("hello with wrong role")
)

const algEd25519 = "ed25519"

// Role is the side of the link a Hello was sent from.
type Role uint8

const (
	Dialer Role = iota + 1
	Listener
)

func (r Role) String() string {
	switch r {
	case Dialer:
		return "dialer"
	case Listener:
		return "listener"
	}
	return "role(" + fmt.Sprint(uint8(r)) + ")"
}

// Hello is a minimal signed identity message sent on a newly established
// link. It binds a public key to an agent string and a fresh nonce with a
// timestamp.
type Hello struct {
	Version   uint32 `cbor:"1,keyasint,omitempty" json:"ver,omitempty"`
	Agent     string `cbor:"2,keyasint,omitempty" json:"agent,omitempty"`
	Alg       string `cbor:"3,keyasint" json:"alg"`
	PubKey    []byte `cbor:"4,keyasint" json:"pubkey"`
	Nonce     []byte `cbor:"5,keyasint" json:"nonce"`
	Timestamp int64  `cbor:"6,keyasint" json:"ts_unix_ms"`
	Sig       []byte `cbor:"7,keyasint" json:"sig"`
	Role      Role   `cbor:"8,keyasint" json:"role"`
}

// BuildHello constructs a Hello for role and signs it with priv.
func BuildHello(agent string, priv ed25519.PrivateKey, role Role) (Hello, protocol.NodeID, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Hello{}, "", errors.New("bad ed25519 private key length")
	}
	pub := priv.Public().(ed25519.PublicKey)
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Hello{}, "", err
	}
	h := Hello{
		Version:   1,
		Agent:     agent,
		Alg:       algEd25519,
		PubKey:    append([]byte(nil), pub...),
		Nonce:     nonce,
		Timestamp: time.Now().UnixMilli(),
		Role:      role,
	}
	id := protocol.NodeIDFromPublicKey(pub)
	h.Sig = ed25519.Sign(priv, transcript(h, id))
	return h, id, nil
}

// VerifyHello checks the signature, the sender's role and basic freshness.
// Returns the sender's NodeID.
func VerifyHello(h Hello, role Role, maxSkew time.Duration) (protocol.NodeID, error) {
	if h.Alg != algEd25519 {
		return "", fmt.Errorf("unsupported alg: %s", h.Alg)
	}
	if len(h.PubKey) != ed25519.PublicKeySize {
		return "", errors.New("bad pubkey length")
	}
	if len(h.Sig) != ed25519.SignatureSize {
		return "", errors.New("bad signature length")
	}
	if h.Role != role {
		return "", fmt.Errorf("%w: want %s, got %s", ErrWrongRole, role, h.Role)
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	now := time.Now().UnixMilli()
	if dt := now - h.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
		return "", errors.New("hello timestamp out of bounds")
	}
	id := protocol.NodeIDFromPublicKey(h.PubKey)
	if !ed25519.Verify(ed25519.PublicKey(h.PubKey), transcript(h, id), h.Sig) {
		return "", errors.New("hello signature invalid")
	}
	return id, nil
}

// VerifyHelloFrom is VerifyHello plus a check that the sender is want.
// Address references match any sender.
func VerifyHelloFrom(h Hello, role Role, want protocol.NodeID, maxSkew time.Duration) (protocol.NodeID, error) {
	got, err := VerifyHello(h, role, maxSkew)
	if err != nil {
		return "", err
	}
	if !want.IsAddress() && want != got {
		return "", fmt.Errorf("%w: want %s, got %s", ErrUnexpectedPeer, want.Short(), got.Short())
	}
	return got, nil
}

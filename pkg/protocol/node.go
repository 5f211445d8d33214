package protocol

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// NodeID identifies a peer. It is either canonical, derived from a public key
// ("pk:<alg>:<base64url-nopad(pubkey)>"), or an address reference
// ("addr:<address>") used to dial a peer whose key is not yet known.
type NodeID string

const (
	keyPrefix  = "pk:"
	addrPrefix = "addr:"
)

var ErrInvalidNodeID = errors.New("invalid node id")

// NodeIDFromPublicKey constructs the canonical id for an ed25519 public key.
// Example: pk:ed25519:AbCd...
func NodeIDFromPublicKey(pub ed25519.PublicKey) NodeID {
	return NodeIDFromKey("ed25519", pub)
}

// NodeIDFromKey constructs a canonical id from raw public key bytes.
func NodeIDFromKey(alg string, pub []byte) NodeID {
	alg = strings.ToLower(strings.TrimSpace(alg))
	return NodeID(keyPrefix + alg + ":" + base64.RawURLEncoding.EncodeToString(pub))
}

// NodeIDFromAddress references a peer by address.
func NodeIDFromAddress(addr string) NodeID {
	return NodeID(addrPrefix + strings.TrimSpace(addr))
}

// ParseNodeID validates s and returns it as a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	id := NodeID(strings.TrimSpace(s))
	switch {
	case id.IsAddress():
		if a, _ := id.Address(); a == "" {
			return "", fmt.Errorf("%w: empty address", ErrInvalidNodeID)
		}
		return id, nil
	case strings.HasPrefix(string(id), keyPrefix):
		if _, err := id.PublicKey(); err != nil {
			return "", err
		}
		return id, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidNodeID, s)
	}
}

// IsAddress reports whether n is an address reference.
func (n NodeID) IsAddress() bool { return strings.HasPrefix(string(n), addrPrefix) }

// Address returns the address of an address reference.
func (n NodeID) Address() (string, bool) {
	if !n.IsAddress() {
		return "", false
	}
	return strings.TrimPrefix(string(n), addrPrefix), true
}

// PublicKey decodes the ed25519 key of a canonical id.
func (n NodeID) PublicKey() (ed25519.PublicKey, error) {
	rest, ok := strings.CutPrefix(string(n), keyPrefix+"ed25519:")
	if !ok {
		return nil, fmt.Errorf("%w: not an ed25519 key id: %q", ErrInvalidNodeID, string(n))
	}
	b, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key size %d", ErrInvalidNodeID, len(b))
	}
	return ed25519.PublicKey(b), nil
}

func (n NodeID) String() string { return string(n) }

// Short returns an abbreviated form for logs.
func (n NodeID) Short() string {
	s := string(n)
	if len(s) <= 20 {
		return s
	}
	return s[:16] + "…"
}

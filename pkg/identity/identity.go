// Package identity holds node key material and derives node ids from it.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/protocol"
)

var ErrNoPrivateKey = errors.New("identity holds no private key")

// Identity is either a held ed25519 keypair or a public-key-only reference
// used to address a peer.
type Identity struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// Random generates a fresh keypair.
func Random() (Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, err
	}
	return Identity{pub: pub, priv: priv}, nil
}

// FromSeed derives a keypair deterministically from a 32-byte seed.
func FromSeed(seed [ed25519.SeedSize]byte) Identity {
	priv := ed25519.NewKeyFromSeed(seed[:])
	return Identity{pub: priv.Public().(ed25519.PublicKey), priv: priv}
}

// FromKeypair wraps an existing private key.
func FromKeypair(priv ed25519.PrivateKey) (Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Identity{}, fmt.Errorf("bad ed25519 private key length %d", len(priv))
	}
	return Identity{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// PublicOnly references a peer by its public key.
func PublicOnly(pub ed25519.PublicKey) Identity {
	return Identity{pub: append(ed25519.PublicKey(nil), pub...)}
}

func (i Identity) NodeID() protocol.NodeID      { return protocol.NodeIDFromPublicKey(i.pub) }
func (i Identity) PublicKey() ed25519.PublicKey { return i.pub }
func (i Identity) HasPrivateKey() bool          { return i.priv != nil }

// PrivateKey returns the held key or ErrNoPrivateKey.
func (i Identity) PrivateKey() (ed25519.PrivateKey, error) {
	if i.priv == nil {
		return nil, ErrNoPrivateKey
	}
	return i.priv, nil
}

// EncodeKey renders a private key the way config.identity.private_key expects it.
func EncodeKey(priv ed25519.PrivateKey) string {
	return base64.RawURLEncoding.EncodeToString(priv)
}

// FromConfig resolves the configured identity. A keypair identity reads the
// key from private_key, falling back to private_key_file.
func FromConfig(c config.IdentityConfig, log *zap.Logger) (Identity, error) {
	if log == nil {
		log = zap.L().Named("identity")
	}
	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case "", config.IdentityRandom:
		id, err := Random()
		if err != nil {
			return Identity{}, err
		}
		log.Info("generated new ed25519 identity (persist to config.identity.private_key)",
			zap.String("node_id", id.NodeID().String()))
		return id, nil

	case config.IdentitySeed:
		b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(c.Seed))
		if err != nil {
			return Identity{}, fmt.Errorf("decode identity.seed: %w", err)
		}
		if len(b) != ed25519.SeedSize {
			return Identity{}, fmt.Errorf("identity.seed must be %d bytes, got %d", ed25519.SeedSize, len(b))
		}
		var seed [ed25519.SeedSize]byte
		copy(seed[:], b)
		return FromSeed(seed), nil

	case config.IdentityKeypair:
		priv, err := loadKey(c, log)
		if err != nil {
			return Identity{}, err
		}
		return FromKeypair(priv)

	default:
		return Identity{}, fmt.Errorf("invalid identity.kind: %q", c.Kind)
	}
}

func loadKey(c config.IdentityConfig, log *zap.Logger) (ed25519.PrivateKey, error) {
	// From base64
	if s := strings.TrimSpace(c.PrivateKey); s != "" {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err == nil {
			return ed25519.PrivateKey(b), nil
		}
		if c.PrivateKeyFile == "" {
			return nil, fmt.Errorf("decode identity.private_key: %w", err)
		}
		log.Warn("failed to decode identity.private_key, trying private_key_file", zap.Error(err))
	}
	// From file
	b, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read identity.private_key_file: %w", err)
	}
	txt := strings.TrimSpace(string(b))
	if db, err := base64.RawURLEncoding.DecodeString(txt); err == nil {
		return ed25519.PrivateKey(db), nil
	}
	// assume raw bytes
	return ed25519.PrivateKey(b), nil
}

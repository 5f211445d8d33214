package config

import (
	"fmt"
	"strings"
)

// Identity kinds.
const (
	IdentityRandom  = "random"
	IdentitySeed    = "seed"
	IdentityKeypair = "keypair"
)

// IdentityConfig describes cryptographic identity settings.
type IdentityConfig struct {
	// Kind: random, seed, keypair
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Seed is base64url(no padding) of a 32-byte ed25519 seed
	Seed string `mapstructure:"seed" yaml:"seed,omitempty"`
	// PrivateKey is base64url(no padding) of raw ed25519 private key bytes
	PrivateKey string `mapstructure:"private_key" yaml:"private_key,omitempty"`
	// PrivateKeyFile is a path to a file containing base64 or raw bytes
	PrivateKeyFile string `mapstructure:"private_key_file" yaml:"private_key_file,omitempty"`
}

func (c *IdentityConfig) validate() error {
	c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
	switch c.Kind {
	case "":
		c.Kind = IdentityRandom
	case IdentityRandom:
	case IdentitySeed:
		if strings.TrimSpace(c.Seed) == "" {
			return fmt.Errorf("identity.kind seed needs identity.seed")
		}
	case IdentityKeypair:
		if strings.TrimSpace(c.PrivateKey) == "" && strings.TrimSpace(c.PrivateKeyFile) == "" {
			return fmt.Errorf("identity.kind keypair needs identity.private_key or identity.private_key_file")
		}
	default:
		return fmt.Errorf("invalid identity.kind: %q", c.Kind)
	}
	return nil
}

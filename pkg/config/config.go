// Package config provides YAML-based configuration loading for acup2p nodes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root node configuration. A node takes its own copy at
// construction and never mutates it afterwards.
type Config struct {
	// Identity controls the node's cryptographic identity.
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`

	// MessageProtocols are the request/response protocols the node answers on.
	MessageProtocols []string `mapstructure:"message_protocols" yaml:"message_protocols"`

	// StreamProtocols are the stream protocols the node advertises as
	// connectable. Each gets an incoming stream registration.
	StreamProtocols []string `mapstructure:"stream_protocols" yaml:"stream_protocols"`

	// RelayAddresses are handed to the engine untouched.
	RelayAddresses []string `mapstructure:"relay_addresses" yaml:"relay_addresses"`

	// ReconnectPolicy: never, always, or attempts:N
	ReconnectPolicy string `mapstructure:"reconnect_policy" yaml:"reconnect_policy"`

	// IdleConnectionTimeout closes connections without traffic; 0 disables.
	IdleConnectionTimeout time.Duration `mapstructure:"idle_connection_timeout" yaml:"idle_connection_timeout"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// Bridge sizes the event and incoming stream replay buffers.
	Bridge BridgeConfig `mapstructure:"bridge" yaml:"bridge"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BridgeConfig sizes the replay buffers kept for late subscribers.
type BridgeConfig struct {
	EventReplay    int `mapstructure:"event_replay" yaml:"event_replay"`
	IncomingReplay int `mapstructure:"incoming_replay" yaml:"incoming_replay"`
}

const (
	DefaultEventReplay    = 1024
	DefaultIncomingReplay = 64
)

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Identity:              IdentityConfig{Kind: IdentityRandom},
		MessageProtocols:      []string{"/echo/1"},
		StreamProtocols:       []string{"/echo/1"},
		ReconnectPolicy:       "never",
		IdleConnectionTimeout: 30 * time.Second,
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stderr"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/acup2p.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Bridge: BridgeConfig{EventReplay: DefaultEventReplay, IncomingReplay: DefaultIncomingReplay},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix ACUP2P and `.`/`-` are replaced with `_`.
// Example: ACUP2P_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ACUP2P")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("identity.kind", cfg.Identity.Kind)
	v.SetDefault("identity.seed", cfg.Identity.Seed)
	v.SetDefault("identity.private_key", cfg.Identity.PrivateKey)
	v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
	v.SetDefault("message_protocols", cfg.MessageProtocols)
	v.SetDefault("stream_protocols", cfg.StreamProtocols)
	v.SetDefault("relay_addresses", cfg.RelayAddresses)
	v.SetDefault("reconnect_policy", cfg.ReconnectPolicy)
	v.SetDefault("idle_connection_timeout", cfg.IdleConnectionTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("bridge.event_replay", cfg.Bridge.EventReplay)
	v.SetDefault("bridge.incoming_replay", cfg.Bridge.IncomingReplay)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("ACUP2P_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("acup2p")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".acup2p"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option values and normalizes them in place.
func (c *Config) Validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if err := c.Identity.validate(); err != nil {
		return err
	}
	if _, err := ParseReconnectPolicy(c.ReconnectPolicy); err != nil {
		return err
	}
	if c.IdleConnectionTimeout < 0 {
		return fmt.Errorf("invalid idle_connection_timeout: %s", c.IdleConnectionTimeout)
	}
	c.MessageProtocols = normalizeProtocols(c.MessageProtocols)
	c.StreamProtocols = normalizeProtocols(c.StreamProtocols)
	if c.Bridge.EventReplay <= 0 {
		c.Bridge.EventReplay = DefaultEventReplay
	}
	if c.Bridge.IncomingReplay <= 0 {
		c.Bridge.IncomingReplay = DefaultIncomingReplay
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.MessageProtocols = append([]string(nil), c.MessageProtocols...)
	out.StreamProtocols = append([]string(nil), c.StreamProtocols...)
	out.RelayAddresses = append([]string(nil), c.RelayAddresses...)
	out.Log.Outputs = append([]string(nil), c.Log.Outputs...)
	return &out
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// trims, drops empties and duplicates, keeps order
func normalizeProtocols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ReconnectPolicy tells the engine what to do when a connection drops.
type ReconnectPolicy struct {
	// Attempts is 0 for never, -1 for always, otherwise the retry count.
	Attempts int
}

var (
	ReconnectNever  = ReconnectPolicy{Attempts: 0}
	ReconnectAlways = ReconnectPolicy{Attempts: -1}
)

// ReconnectAttempts returns a policy that retries n times.
func ReconnectAttempts(n int) ReconnectPolicy { return ReconnectPolicy{Attempts: n} }

// ParseReconnectPolicy parses never, always or attempts:N. Empty means never.
func ParseReconnectPolicy(s string) (ReconnectPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "never":
		return ReconnectNever, nil
	case "always":
		return ReconnectAlways, nil
	}
	if rest, ok := strings.CutPrefix(s, "attempts:"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return ReconnectPolicy{}, fmt.Errorf("invalid reconnect_policy: %q", s)
		}
		return ReconnectAttempts(n), nil
	}
	return ReconnectPolicy{}, fmt.Errorf("invalid reconnect_policy: %q", s)
}

func (p ReconnectPolicy) String() string {
	switch {
	case p.Attempts == 0:
		return "never"
	case p.Attempts < 0:
		return "always"
	default:
		return "attempts:" + strconv.Itoa(p.Attempts)
	}
}

// Reconnect returns the parsed policy. Validate has already rejected bad values.
func (c *Config) Reconnect() ReconnectPolicy {
	p, _ := ParseReconnectPolicy(c.ReconnectPolicy)
	return p
}

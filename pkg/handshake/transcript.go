package handshake

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/Acurast/acup2p/pkg/protocol"
)

// transcript is what a Hello signature covers:
//
//	acup2p/hello/<ver> role=<role> node=<node_id> ts=<unix_ms> nonce=<b64url> agent=<agent>
//
// The node id is derived from the key, so a signature only verifies for the
// id the receiver will register. The role keeps a dialer's Hello from being
// reflected back as the listener's ack.
func transcript(h Hello, id protocol.NodeID) []byte {
	var sb strings.Builder
	sb.Grow(96 + len(id) + len(h.Agent))
	sb.WriteString("acup2p/hello/")
	sb.WriteString(strconv.FormatUint(uint64(h.Version), 10))
	sb.WriteString(" role=")
	sb.WriteString(h.Role.String())
	sb.WriteString(" node=")
	sb.WriteString(string(id))
	sb.WriteString(" ts=")
	sb.WriteString(strconv.FormatInt(h.Timestamp, 10))
	sb.WriteString(" nonce=")
	sb.WriteString(base64.RawURLEncoding.EncodeToString(h.Nonce))
	sb.WriteString(" agent=")
	sb.WriteString(h.Agent)
	return []byte(sb.String())
}

package loopback

import (
	"sort"
	"sync"

	"github.com/Acurast/acup2p/pkg/protocol"
)

// linkTable keeps at most one canonical link per peer. When both sides dial
// each other at once, both keep the link dialed by the smaller NodeID so they
// agree without talking.
type linkTable struct {
	mu    sync.RWMutex
	peers map[protocol.NodeID]*link
}

func newLinkTable() *linkTable { return &linkTable{peers: make(map[protocol.NodeID]*link)} }

// add registers l. accepted is false when l lost against the current link;
// old is the link l replaced, if any.
func (t *linkTable) add(l *link) (accepted bool, old *link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.peers[l.peer]
	if cur == nil {
		t.peers[l.peer] = l
		return true, nil
	}
	if better(l, cur) {
		t.peers[l.peer] = l
		return true, cur
	}
	return false, nil
}

// remove drops l if it is the canonical link and reports whether it was.
func (t *linkTable) remove(l *link) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[l.peer] != l {
		return false
	}
	delete(t.peers, l.peer)
	return true
}

func (t *linkTable) get(id protocol.NodeID) *link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peers[id]
}

// list returns all links ordered by peer.
func (t *linkTable) list() []*link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*link, 0, len(t.peers))
	for _, l := range t.peers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].peer < out[j].peer })
	return out
}

// better decides whether a should replace b as canonical.
func better(a, b *link) bool {
	if a.dialer != b.dialer {
		return a.dialer < b.dialer
	}
	// same dialer: a reconnect, prefer the newer link
	return a.establishedAt.After(b.establishedAt)
}

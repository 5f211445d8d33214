package loopback

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/Acurast/acup2p/pkg/protocol"
)

var (
	ErrUnknownPeer = errors.New("loopback: no such peer")
	ErrNodeExists  = errors.New("loopback: node id already listening")
)

// Network is an in-process switchboard. Engines listen on it under their
// NodeID and an address; dialing hands the listener one end of a net.Pipe.
type Network struct {
	mu    sync.Mutex
	nodes map[protocol.NodeID]*Engine
	addrs map[string]protocol.NodeID
}

// NewNetwork returns an empty switchboard.
func NewNetwork() *Network {
	return &Network{
		nodes: make(map[protocol.NodeID]*Engine),
		addrs: make(map[string]protocol.NodeID),
	}
}

// Address is the listen address of id on a loopback network.
func Address(id protocol.NodeID) string { return "loopback://" + string(id) }

func (n *Network) listen(id protocol.NodeID, e *Engine) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.nodes[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrNodeExists, id.Short())
	}
	addr := Address(id)
	n.nodes[id] = e
	n.addrs[addr] = id
	return addr, nil
}

func (n *Network) unlisten(id protocol.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, id)
	delete(n.addrs, Address(id))
}

// resolve maps a NodeID, canonical or address reference, to a listener.
func (n *Network) resolve(id protocol.NodeID) (*Engine, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr, ok := id.Address(); ok {
		if target, ok := n.addrs[addr]; ok {
			return n.nodes[target], nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	if e, ok := n.nodes[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id.Short())
}

// dial opens a link to id. The listener side is served on its own goroutine.
func (n *Network) dial(id protocol.NodeID) (net.Conn, error) {
	target, err := n.resolve(id)
	if err != nil {
		return nil, err
	}
	cli, srv := net.Pipe()
	if !target.acceptLink(srv) {
		_ = cli.Close()
		return nil, fmt.Errorf("%w: %s is shutting down", ErrUnknownPeer, id.Short())
	}
	return cli, nil
}

// openStream opens a stream to id made of one pipe per direction. The
// opener writes on out and reads on in.
func (n *Network) openStream(from, to protocol.NodeID) (out, in net.Conn, err error) {
	target, err := n.resolve(to)
	if err != nil {
		return nil, nil, err
	}
	outCli, outSrv := net.Pipe()
	inSrv, inCli := net.Pipe()
	if !target.acceptStream(from, outSrv, inSrv) {
		_ = outCli.Close()
		_ = inCli.Close()
		return nil, nil, fmt.Errorf("%w: %s is shutting down", ErrUnknownPeer, to.Short())
	}
	return outCli, inCli, nil
}

// Nodes lists listening node ids.
func (n *Network) Nodes() []protocol.NodeID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]protocol.NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

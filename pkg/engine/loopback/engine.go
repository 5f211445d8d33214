// Package loopback is an in-process engine. Engines on the same Network link
// up over net.Pipe, authenticate with a signed Hello, exchange
// request/response messages as CBOR-bodied Envelopes and carry streams over
// one pipe per direction. It drives a session exactly as a networked engine
// would and backs the tests and the demo CLI.
package loopback

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/engine"
	"github.com/Acurast/acup2p/pkg/identity"
	"github.com/Acurast/acup2p/pkg/observability"
	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/protocol/codec"
)

var (
	ErrRunning      = errors.New("loopback: engine already running")
	ErrNotConnected = errors.New("loopback: not connected")
)

// Options tunes an Engine.
type Options struct {
	Agent            string        // hello agent string (default "acup2p/loopback")
	HandshakeTimeout time.Duration // hello and stream open exchanges (default 5s)
}

func (o Options) withDefaults() Options {
	if o.Agent == "" {
		o.Agent = "acup2p/loopback"
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	return o
}

// Engine is one node on a Network. It runs once.
type Engine struct {
	net  *Network
	opts Options

	mu       sync.Mutex
	running  bool
	stopping bool
	wg       sync.WaitGroup

	// fixed for the duration of Run
	ctx      context.Context
	cancel   context.CancelFunc
	id       protocol.NodeID
	priv     ed25519.PrivateKey
	h        engine.Handler
	incoming map[string]engine.Incoming
	messages map[string]bool
	codecs   *codec.Registry
	log      *zap.Logger

	links *linkTable
	// serializes two-phase establishment per stream protocol
	establish map[string]*sync.Mutex

	streamMu sync.Mutex
	streams  map[protocol.NodeID]map[*pipes]struct{} // live stream pipes per peer

	reqMu    sync.Mutex
	outbound map[[16]byte]protocol.NodeID // requests sent, awaiting a response
	inbound  map[[16]byte]protocol.NodeID // requests received, not yet answered
}

// New returns an engine that will listen on n once run.
func New(n *Network, opts Options) *Engine {
	return &Engine{net: n, opts: opts.withDefaults()}
}

// ID is the node id once Run has started.
func (e *Engine) ID() protocol.NodeID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// Run listens on the network and drives the session until it runs out of
// work or ctx is done.
func (e *Engine) Run(ctx context.Context, b engine.Binding) error {
	if err := e.start(ctx, b); err != nil {
		return err
	}
	addr, err := e.net.listen(e.id, e)
	if err != nil {
		e.cancel()
		return err
	}
	defer e.teardown()

	e.log.Info("listening", zap.String("addr", addr), zap.String("node_id", e.id.String()))
	e.h.Publish(protocol.ListeningOn{Address: addr})

	engine.Drain(e.ctx, e.h, e.handle)
	return nil
}

func (e *Engine) start(ctx context.Context, b engine.Binding) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrRunning
	}
	if b.Handler == nil || b.Config == nil {
		return errors.New("loopback: incomplete binding")
	}
	log := observability.Named(b.Logger, "loopback")
	id, err := identity.FromConfig(b.Config.Identity, log)
	if err != nil {
		return fmt.Errorf("loopback identity: %w", err)
	}
	priv, err := id.PrivateKey()
	if err != nil {
		return fmt.Errorf("loopback identity: %w", err)
	}
	codecs, err := codec.NewRegistry()
	if err != nil {
		return err
	}

	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.id = id.NodeID()
	e.priv = priv
	e.h = b.Handler
	e.incoming = b.Incoming
	e.messages = make(map[string]bool, len(b.Config.MessageProtocols))
	for _, p := range b.Config.MessageProtocols {
		e.messages[p] = true
	}
	e.codecs = codecs
	e.log = log.With(zap.String("node", e.id.Short()))
	e.links = newLinkTable()
	e.establish = make(map[string]*sync.Mutex, len(b.Incoming))
	for p := range b.Incoming {
		e.establish[p] = &sync.Mutex{}
	}
	e.streams = make(map[protocol.NodeID]map[*pipes]struct{})
	e.outbound = make(map[[16]byte]protocol.NodeID)
	e.inbound = make(map[[16]byte]protocol.NodeID)
	return nil
}

// teardown stops accepting, says goodbye on every link and waits for all
// link and stream goroutines.
func (e *Engine) teardown() {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()

	e.net.unlisten(e.id)
	for _, l := range e.links.list() {
		if e.links.remove(l) {
			l.goodbye()
			e.h.Publish(protocol.Disconnected{Node: l.peer})
		}
	}
	e.cancel()
	e.wg.Wait()
	e.log.Info("stopped")
}

// goroutine starts f unless the engine is stopping.
func (e *Engine) goroutine(f func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.stopping {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		f()
	}()
	return true
}

// handle executes one intent. Per-node failures are published as they
// happen; the returned error is published by the driving loop.
func (e *Engine) handle(in protocol.Intent) error {
	switch in := in.(type) {
	case protocol.Connect:
		for _, n := range in.Nodes {
			if err := e.connect(n); err != nil {
				e.fail(err)
			}
		}
	case protocol.Disconnect:
		for _, n := range in.Nodes {
			if err := e.disconnect(n); err != nil {
				e.fail(err)
			}
		}
	case protocol.SendMessage:
		for _, n := range in.Nodes {
			if err := e.sendMessage(in.Message, n); err != nil {
				e.fail(err)
			}
		}
	case protocol.OpenOutgoingStream:
		return e.openStream(in)
	default:
		return fmt.Errorf("loopback: unsupported intent %s", in)
	}
	return nil
}

func (e *Engine) fail(err error) {
	e.log.Debug("intent failed", zap.Error(err))
	e.h.Publish(protocol.Failure{Cause: err.Error()})
}

// lookup finds the link for a canonical id or an address reference.
func (e *Engine) lookup(n protocol.NodeID) *link {
	if addr, ok := n.Address(); ok {
		for _, l := range e.links.list() {
			if Address(l.peer) == addr {
				return l
			}
		}
		return nil
	}
	return e.links.get(n)
}

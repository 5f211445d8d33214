// Package node is the session façade: it owns the intent/event bridge and the
// incoming stream registrations, runs the engine's driving loop in the
// background and exposes the caller API.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/bridge"
	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/engine"
	"github.com/Acurast/acup2p/pkg/incoming"
	"github.com/Acurast/acup2p/pkg/observability"
	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/stream"
)

var (
	ErrClosed   = errors.New("node: closed")
	ErrNoEngine = errors.New("node: no engine")
)

// Options tunes a Node. Logger defaults to the global logger.
type Options struct {
	Logger *zap.Logger
	// CloseTimeout bounds how long Close waits for the engine to finish on
	// its own before cancelling it, and again after cancelling (default 5s).
	CloseTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
	o.Logger = observability.Named(o.Logger, "node")
	return o
}

// Node is one session. It is safe for concurrent use.
type Node struct {
	id       string
	cfg      *config.Config
	bridge   *bridge.Bridge
	incoming *incoming.Registry
	log      *zap.Logger
	timeout  time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	live   map[*stream.Stream]struct{}

	closeOnce sync.Once
}

// New validates a private copy of cfg, builds the session and starts eng on
// its own goroutine.
func New(cfg *config.Config, eng engine.Engine, opts Options) (*Node, error) {
	if eng == nil {
		return nil, ErrNoEngine
	}
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("node config: %w", err)
	}
	opts = opts.withDefaults()

	id := uuid.NewString()
	log := opts.Logger.With(zap.String("session", id))
	n := &Node{
		id:      id,
		cfg:     cfg,
		log:     log,
		timeout: opts.CloseTimeout,
		done:    make(chan struct{}),
		live:    make(map[*stream.Stream]struct{}),
	}
	n.bridge = bridge.New(bridge.Options{EventReplay: cfg.Bridge.EventReplay, Logger: log})
	n.incoming = incoming.NewRegistry(cfg.StreamProtocols, incoming.Options{
		Replay:    cfg.Bridge.IncomingReplay,
		Logger:    log,
		OnPublish: n.track,
	})

	regs := make(map[string]engine.Incoming, len(cfg.StreamProtocols))
	for _, p := range n.incoming.Protocols() {
		r, _ := n.incoming.Get(p)
		regs[p] = r
	}
	b := engine.Binding{
		Handler:  n.bridge,
		Incoming: regs,
		Config:   cfg.Clone(),
		Logger:   log.Named("engine"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.run(ctx, eng, b)

	log.Info("session started", zap.Strings("stream_protocols", cfg.StreamProtocols))
	return n, nil
}

func (n *Node) run(ctx context.Context, eng engine.Engine, b engine.Binding) {
	defer close(n.done)
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("engine panicked", zap.Any("panic", r))
			n.bridge.Publish(protocol.Failuref("engine panicked: %v", r))
		}
	}()
	if err := eng.Run(ctx, b); err != nil && !errors.Is(err, context.Canceled) {
		n.log.Error("engine stopped", zap.Error(err))
		n.bridge.Publish(protocol.Failure{Cause: err.Error()})
		return
	}
	n.log.Debug("engine stopped")
}

// ID is the session id, for logs.
func (n *Node) ID() string { return n.id }

// Config returns a copy of the session configuration.
func (n *Node) Config() *config.Config { return n.cfg.Clone() }

// Connect asks the engine to connect to nodes. It returns once the intent is
// queued.
func (n *Node) Connect(nodes ...protocol.NodeID) {
	n.bridge.Submit(protocol.Connect{Nodes: nodes})
}

// Disconnect asks the engine to drop connections to nodes.
func (n *Node) Disconnect(nodes ...protocol.NodeID) {
	n.bridge.Submit(protocol.Disconnect{Nodes: nodes})
}

// SendMessage queues msg, a protocol.Request or protocol.Response, for nodes.
func (n *Node) SendMessage(msg protocol.OutboundMessage, nodes ...protocol.NodeID) error {
	if msg == nil {
		return errors.New("node: nil message")
	}
	n.bridge.Submit(protocol.SendMessage{Message: msg, Nodes: nodes})
	return nil
}

// OpenOutgoingStream returns a stream to node on proto right away. Reads and
// writes wait until the engine starts driving it.
func (n *Node) OpenOutgoingStream(proto string, node protocol.NodeID) (*stream.Stream, error) {
	s := stream.New(proto, node, stream.Outbound)
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrClosed
	}
	n.live[s] = struct{}{}
	// queue under the lock so Close cannot slip in between
	ok := n.bridge.Submit(protocol.OpenOutgoingStream{
		Protocol: proto,
		Node:     node,
		Producer: s.Producer(),
		Consumer: s.Consumer(),
	})
	n.mu.Unlock()
	if !ok {
		n.untrack(s)
		_ = s.Close()
		return nil, ErrClosed
	}
	n.watch(s)
	return s, nil
}

// Events subscribes to engine events. The channel starts with up to the
// configured replay depth of past events and closes after Close or when ctx
// is done. The caller must keep receiving or cancel ctx.
func (n *Node) Events(ctx context.Context) <-chan protocol.Event {
	return n.bridge.Events(ctx)
}

// Subscribe is the pull form of Events.
func (n *Node) Subscribe() *bridge.Subscription[protocol.Event] {
	return n.bridge.Subscribe()
}

// IncomingStreams merges the inbound streams of every advertised protocol.
func (n *Node) IncomingStreams(ctx context.Context) <-chan *stream.Stream {
	return n.incoming.Streams(ctx)
}

// Done is closed once the engine's driving loop has returned.
func (n *Node) Done() <-chan struct{} { return n.done }

// Close queues a Close intent, ends every live stream, waits for the engine
// and tears the session down. Suspended stream calls resolve to end of
// stream. Idempotent; later calls return immediately.
func (n *Node) Close() error {
	n.closeOnce.Do(n.shutdown)
	return nil
}

func (n *Node) shutdown() {
	n.mu.Lock()
	n.closed = true
	n.bridge.Submit(protocol.Close{})
	n.bridge.CloseIntents()
	live := make([]*stream.Stream, 0, len(n.live))
	for s := range n.live {
		live = append(live, s)
	}
	n.live = make(map[*stream.Stream]struct{})
	n.mu.Unlock()

	for _, s := range live {
		_ = s.Close()
	}

	if !n.wait(n.timeout) {
		n.log.Warn("engine did not stop on Close, cancelling", zap.Duration("waited", n.timeout))
		n.cancel()
		if !n.wait(n.timeout) {
			n.log.Error("engine ignored cancellation, abandoning it")
		}
	}
	n.cancel()
	n.bridge.Shutdown()
	n.incoming.Close()
	n.log.Info("session closed", zap.Int("streams_closed", len(live)))
}

func (n *Node) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-n.done:
		return true
	case <-t.C:
		return false
	}
}

// track registers an inbound stream so Close can end it.
func (n *Node) track(s *stream.Stream) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = s.Close()
		return
	}
	n.live[s] = struct{}{}
	n.mu.Unlock()
	n.watch(s)
}

// drop streams from the live set once both directions have ended
func (n *Node) watch(s *stream.Stream) {
	go func() {
		select {
		case <-s.Done():
			n.untrack(s)
		case <-n.done:
		}
	}()
}

func (n *Node) untrack(s *stream.Stream) {
	n.mu.Lock()
	delete(n.live, s)
	n.mu.Unlock()
}

// LiveStreams returns the number of streams not yet fully closed.
func (n *Node) LiveStreams() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.live)
}

// Package incoming materializes inbound streams for each advertised stream
// protocol and publishes them to subscribers.
//
// Establishment is two-phase. The engine calls CreateStream when a peer
// starts opening a stream, drives the handles it gets from Consumer and
// Producer, and calls FinalizeStream once the stream is fully set up. Only
// then is the stream published.
package incoming

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/bridge"
	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/observability"
	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/stream"
)

var (
	// ErrNoPendingStream is returned by FinalizeStream without a prior
	// CreateStream. It is fatal to the registration.
	ErrNoPendingStream = errors.New("incoming: no pending stream")
	// ErrStreamPending is returned by CreateStream while another stream is
	// still being set up. The pending stream is kept.
	ErrStreamPending = errors.New("incoming: a stream is already pending")
	// ErrRegistrationFailed wraps the cause for every call on a failed
	// registration.
	ErrRegistrationFailed = errors.New("incoming: registration failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("incoming: registration closed")
)

// Options configures registrations; a Registry passes the same options to
// each of its protocols.
type Options struct {
	Replay    int                  // streams retained for late subscribers (default 64)
	Logger    *zap.Logger          // defaults to the global logger
	OnPublish func(*stream.Stream) // called for every published stream
}

func (o Options) withDefaults() Options {
	if o.Replay <= 0 {
		o.Replay = config.DefaultIncomingReplay
	}
	o.Logger = observability.Named(o.Logger, "incoming")
	return o
}

// Registration is the inbound stream state for one protocol.
type Registration struct {
	protocol string
	hub      *bridge.Hub[*stream.Stream]
	log      *zap.Logger
	notify   func(*stream.Stream)

	mu      sync.Mutex
	pending *stream.Stream
	failed  error
	closed  bool
}

// NewRegistration returns an idle registration for proto.
func NewRegistration(proto string, opts Options) *Registration {
	opts = opts.withDefaults()
	return &Registration{
		protocol: proto,
		hub:      bridge.NewHub[*stream.Stream](opts.Replay),
		log:      opts.Logger.With(zap.String("protocol", proto)),
		notify:   opts.OnPublish,
	}
}

// ProtocolName identifies the registration.
func (r *Registration) ProtocolName() string { return r.protocol }

// CreateStream allocates the consumer/producer pair for a new inbound stream
// from node and holds it as pending.
func (r *Registration) CreateStream(node protocol.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usableLocked(); err != nil {
		return err
	}
	if r.pending != nil {
		r.log.Warn("create while a stream is pending",
			zap.String("pending", r.pending.Node().Short()), zap.String("node", node.Short()))
		return ErrStreamPending
	}
	r.pending = stream.New(r.protocol, node, stream.Inbound)
	r.log.Debug("stream pending", zap.String("node", node.Short()))
	return nil
}

// Consumer returns the engine half of the pending stream's read side.
func (r *Registration) Consumer() (protocol.StreamConsumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usableLocked(); err != nil {
		return nil, err
	}
	if r.pending == nil {
		return nil, ErrNoPendingStream
	}
	return r.pending.Consumer(), nil
}

// Producer returns the engine half of the pending stream's write side.
func (r *Registration) Producer() (protocol.StreamProducer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usableLocked(); err != nil {
		return nil, err
	}
	if r.pending == nil {
		return nil, ErrNoPendingStream
	}
	return r.pending.Producer(), nil
}

// FinalizeStream publishes the pending stream. Without a pending stream the
// registration fails permanently: its subscribers are released and every
// later call returns ErrRegistrationFailed.
func (r *Registration) FinalizeStream() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.usableLocked(); err != nil {
		return err
	}
	if r.pending == nil {
		r.failed = ErrNoPendingStream
		r.hub.Close()
		r.log.Error("finalize without create, registration disabled", zap.Error(ErrNoPendingStream))
		return ErrNoPendingStream
	}
	s := r.pending
	r.pending = nil
	if r.notify != nil {
		r.notify(s)
	}
	r.hub.Publish(s)
	r.log.Debug("stream published", zap.String("node", s.Node().Short()))
	return nil
}

// Abort drops the pending stream, closing both its directions. It is a no-op
// without one.
func (r *Registration) Abort() {
	r.mu.Lock()
	s := r.pending
	r.pending = nil
	r.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// Subscribe returns the stream sequence of this protocol.
func (r *Registration) Subscribe() *bridge.Subscription[*stream.Stream] {
	return r.hub.Subscribe()
}

// Err returns the cause of a failed registration, or nil.
func (r *Registration) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Close releases subscribers and drops any pending stream. Idempotent.
func (r *Registration) Close() {
	r.mu.Lock()
	s := r.pending
	r.pending = nil
	r.closed = true
	r.mu.Unlock()
	r.hub.Close()
	if s != nil {
		_ = s.Close()
	}
}

func (r *Registration) usableLocked() error {
	if r.failed != nil {
		return fmt.Errorf("%w: %w", ErrRegistrationFailed, r.failed)
	}
	if r.closed {
		return ErrClosed
	}
	return nil
}

// Registry holds one Registration per advertised stream protocol.
type Registry struct {
	order []string
	regs  map[string]*Registration
}

// NewRegistry builds one registration per protocol, ignoring duplicates.
func NewRegistry(protocols []string, opts Options) *Registry {
	r := &Registry{regs: make(map[string]*Registration, len(protocols))}
	for _, p := range protocols {
		if _, dup := r.regs[p]; dup {
			continue
		}
		r.order = append(r.order, p)
		r.regs[p] = NewRegistration(p, opts)
	}
	return r
}

// Get returns the registration for proto.
func (r *Registry) Get(proto string) (*Registration, bool) {
	reg, ok := r.regs[proto]
	return reg, ok
}

// Protocols lists registered protocols in configuration order.
func (r *Registry) Protocols() []string { return append([]string(nil), r.order...) }

// Streams merges every protocol's stream sequence into one channel. The
// channel closes when all registrations are closed or failed, or ctx is done.
func (r *Registry) Streams(ctx context.Context) <-chan *stream.Stream {
	subs := make([]*bridge.Subscription[*stream.Stream], 0, len(r.order))
	for _, p := range r.order {
		subs = append(subs, r.regs[p].Subscribe())
	}
	return bridge.Merge(ctx, subs...)
}

// Close closes every registration.
func (r *Registry) Close() {
	for _, reg := range r.regs {
		reg.Close()
	}
}

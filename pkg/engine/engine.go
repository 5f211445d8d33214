// Package engine is the boundary between a session and the networking engine
// that drives it. The engine pulls work and pushes results; it never calls
// back into application code.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/protocol"
)

// Handler is the session side the driving loop talks to.
type Handler interface {
	// NextIntent blocks for the next caller command. ok is false when there
	// is no more work; the driving loop should return.
	NextIntent(ctx context.Context) (intent protocol.Intent, ok bool)
	// Publish reports an occurrence. It never blocks.
	Publish(protocol.Event)
}

// Incoming is the registration the engine uses to materialize inbound
// streams of one protocol: CreateStream, drive Consumer and Producer, then
// FinalizeStream.
type Incoming interface {
	ProtocolName() string
	CreateStream(node protocol.NodeID) error
	Consumer() (protocol.StreamConsumer, error)
	Producer() (protocol.StreamProducer, error)
	FinalizeStream() error
	// Abort drops a pending stream that could not be established.
	Abort()
}

// Binding is everything a session hands to its engine.
type Binding struct {
	Handler  Handler
	Incoming map[string]Incoming // by protocol name
	Config   *config.Config      // the session's own copy; read only
	Logger   *zap.Logger
}

// Engine runs the driving loop until the handler reports no more work or ctx
// is done. A non-nil error is reported to observers as a Failure event.
type Engine interface {
	Run(ctx context.Context, b Binding) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, b Binding) error

func (f EngineFunc) Run(ctx context.Context, b Binding) error { return f(ctx, b) }

// Drain is the minimal driving loop: it pulls intents and hands each to fn
// until there is no more work or a Close intent arrives. Errors from fn are
// published as Failure events and do not stop the loop.
func Drain(ctx context.Context, h Handler, fn func(protocol.Intent) error) {
	for {
		in, ok := h.NextIntent(ctx)
		if !ok {
			return
		}
		if _, closing := in.(protocol.Close); closing {
			return
		}
		if err := fn(in); err != nil {
			h.Publish(protocol.Failure{Cause: err.Error()})
		}
	}
}

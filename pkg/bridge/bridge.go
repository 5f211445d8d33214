// Package bridge decouples caller commands from the engine's pull cadence and
// engine events from however many observers exist.
//
// Intents go through an unbounded FIFO that only the engine's driving loop
// drains. Events go through a Hub whose replay ring lets late subscribers
// catch up on recent history.
package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/observability"
	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/queue"
)

// Options tunes a Bridge. The zero value is usable.
type Options struct {
	EventReplay int         // events retained for late subscribers (default 1024)
	Logger      *zap.Logger // defaults to the global logger
}

func (o Options) withDefaults() Options {
	if o.EventReplay <= 0 {
		o.EventReplay = config.DefaultEventReplay
	}
	o.Logger = observability.Named(o.Logger, "bridge")
	return o
}

// Bridge is the intent queue plus event hub of one session.
type Bridge struct {
	intents *queue.Queue[protocol.Intent]
	events  *Hub[protocol.Event]
	log     *zap.Logger
}

// New returns an open bridge with an empty intent queue.
func New(opts Options) *Bridge {
	opts = opts.withDefaults()
	return &Bridge{
		intents: queue.New[protocol.Intent](),
		events:  NewHub[protocol.Event](opts.EventReplay),
		log:     opts.Logger,
	}
}

// Submit enqueues an intent without blocking. After Shutdown the intent is
// accepted and dropped; the return value reports whether it was queued.
func (b *Bridge) Submit(i protocol.Intent) bool {
	if !b.intents.Push(i) {
		b.log.Debug("intent dropped after shutdown", zap.Stringer("intent", i))
		return false
	}
	b.log.Debug("intent queued", zap.Stringer("intent", i))
	return true
}

// NextIntent blocks until an intent is available. ok is false when the
// bridge is shut down and drained or ctx is done: there is no more work.
func (b *Bridge) NextIntent(ctx context.Context) (protocol.Intent, bool) {
	return b.intents.Pop(ctx)
}

// Publish broadcasts ev. It never blocks.
func (b *Bridge) Publish(ev protocol.Event) {
	if !b.events.Publish(ev) {
		b.log.Debug("event dropped after shutdown", zap.Stringer("event", ev))
		return
	}
	b.log.Debug("event", zap.Stringer("event", ev))
}

// Subscribe returns a subscription that starts with the retained events.
func (b *Bridge) Subscribe() *Subscription[protocol.Event] { return b.events.Subscribe() }

// Events subscribes and pumps into a channel until ctx is done or the bridge
// shuts down. The caller must keep receiving or cancel ctx.
func (b *Bridge) Events(ctx context.Context) <-chan protocol.Event {
	return Channel(ctx, b.Subscribe())
}

// CloseIntents stops accepting intents. Intents already queued are still
// handed to the engine.
func (b *Bridge) CloseIntents() { b.intents.Close() }

// Shutdown closes the intent queue, dropping anything not yet pulled, and
// ends every event subscription once its backlog drains. Idempotent.
func (b *Bridge) Shutdown() {
	b.intents.Discard()
	b.events.Close()
}

// Pending returns the number of intents the engine has not pulled yet.
func (b *Bridge) Pending() int { return b.intents.Len() }

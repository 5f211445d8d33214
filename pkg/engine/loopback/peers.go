package loopback

import (
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/handshake"
	"github.com/Acurast/acup2p/pkg/protocol"
)

func (e *Engine) connect(n protocol.NodeID) error {
	if e.lookup(n) != nil {
		return nil
	}
	if n == e.id {
		return fmt.Errorf("connect %s: refusing to dial self", n.Short())
	}
	c, err := e.net.dial(n)
	if err != nil {
		return fmt.Errorf("connect %s: %w", n.Short(), err)
	}
	l, err := e.helloDialer(c, n)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("connect %s: %w", n.Short(), err)
	}
	e.register(l)
	return nil
}

// helloDialer sends our Hello and verifies the HelloAck against want.
func (e *Engine) helloDialer(c net.Conn, want protocol.NodeID) (*link, error) {
	conn := protocol.NewConn(c)
	if err := e.sendHello(c, conn, protocol.MsgHello, handshake.Dialer); err != nil {
		return nil, err
	}
	env, err := expect(c, conn, e.opts.HandshakeTimeout, protocol.MsgHelloAck)
	if err != nil {
		return nil, fmt.Errorf("hello ack: %w", err)
	}
	if env.HasFlag(protocol.FlagError) {
		return nil, fmt.Errorf("hello rejected: %s", env.Payload)
	}
	var h handshake.Hello
	if err := decode(e.codecs, &env, &h); err != nil {
		return nil, fmt.Errorf("hello ack: %w", err)
	}
	peer, err := handshake.VerifyHelloFrom(h, handshake.Listener, want, 0)
	if err != nil {
		return nil, err
	}
	if peer == e.id {
		return nil, errors.New("dialed self")
	}
	return newLink(c, conn, peer, e.id), nil
}

// acceptLink is called by the Network for an inbound link.
func (e *Engine) acceptLink(c net.Conn) bool {
	return e.goroutine(func() {
		l, err := e.helloListener(c)
		if err != nil {
			e.log.Warn("inbound hello failed", zap.Error(err))
			_ = c.Close()
			return
		}
		e.register(l)
	})
}

func (e *Engine) helloListener(c net.Conn) (*link, error) {
	conn := protocol.NewConn(c)
	env, err := expect(c, conn, e.opts.HandshakeTimeout, protocol.MsgHello)
	if err != nil {
		return nil, err
	}
	var h handshake.Hello
	if err := decode(e.codecs, &env, &h); err != nil {
		return nil, err
	}
	peer, err := handshake.VerifyHello(h, handshake.Dialer, 0)
	if err != nil {
		nack := protocol.NewEnvelope(protocol.MsgHelloAck, env.Header.Correlation, []byte(err.Error()))
		nack.SetFlag(protocol.FlagError, true)
		_ = sendNow(c, conn, e.opts.HandshakeTimeout, nack)
		return nil, err
	}
	if err := e.sendHello(c, conn, protocol.MsgHelloAck, handshake.Listener); err != nil {
		return nil, err
	}
	return newLink(c, conn, peer, peer), nil
}

func (e *Engine) sendHello(c net.Conn, conn *protocol.Conn, typ uint8, role handshake.Role) error {
	h, _, err := handshake.BuildHello(e.opts.Agent, e.priv, role)
	if err != nil {
		return err
	}
	env, err := encode(e.codecs, typ, protocol.NewCorrelation(), h)
	if err != nil {
		return err
	}
	return sendNow(c, conn, e.opts.HandshakeTimeout, env)
}

// register makes l the peer's link if it wins against an existing one and
// starts its goroutines. Connected is published for the first link only.
func (e *Engine) register(l *link) {
	accepted, old := e.links.add(l)
	if !accepted {
		e.log.Debug("duplicate link dropped", zap.String("peer", l.peer.Short()))
		l.close()
		return
	}
	if old != nil {
		e.log.Debug("link replaced", zap.String("peer", l.peer.Short()))
		old.close()
	} else {
		e.log.Info("peer connected", zap.String("peer", l.peer.Short()))
		e.h.Publish(protocol.Connected{Node: l.peer})
	}
	if !e.goroutine(l.writeLoop) || !e.goroutine(func() { e.readLoop(l) }) {
		e.linkDown(l)
	}
}

func (e *Engine) readLoop(l *link) {
	defer e.linkDown(l)
	for {
		var env protocol.Envelope
		if err := l.recv(&env); err != nil {
			return
		}
		switch env.Header.Type {
		case protocol.MsgRequest:
			e.onRequest(l, &env)
		case protocol.MsgResponse:
			e.onResponse(l, &env)
		case protocol.MsgGoodbye:
			return
		default:
			e.log.Debug("ignoring frame", zap.Uint8("type", env.Header.Type))
		}
	}
}

// linkDown closes l; if it was the peer's canonical link the peer is gone.
func (e *Engine) linkDown(l *link) {
	l.close()
	if !e.links.remove(l) {
		return
	}
	e.forget(l.peer)
	e.dropStreams(l.peer)
	e.log.Info("peer disconnected", zap.String("peer", l.peer.Short()))
	e.h.Publish(protocol.Disconnected{Node: l.peer})
}

func (e *Engine) disconnect(n protocol.NodeID) error {
	l := e.lookup(n)
	if l == nil {
		return fmt.Errorf("disconnect %s: %w", n.Short(), ErrNotConnected)
	}
	if !e.links.remove(l) {
		return nil
	}
	l.goodbye()
	e.forget(l.peer)
	e.dropStreams(l.peer)
	e.log.Info("peer disconnected", zap.String("peer", l.peer.Short()))
	e.h.Publish(protocol.Disconnected{Node: l.peer})
	return nil
}

package loopback

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/protocol"
)

func (e *Engine) sendMessage(msg protocol.OutboundMessage, n protocol.NodeID) error {
	l := e.lookup(n)
	if l == nil {
		return fmt.Errorf("send on %s to %s: %w", msg.ProtocolName(), n.Short(), ErrNotConnected)
	}
	switch m := msg.(type) {
	case protocol.Request:
		corr := protocol.NewCorrelation()
		env, err := encode(e.codecs, protocol.MsgRequest, corr, messageBody{Protocol: m.Protocol, Bytes: m.Bytes})
		if err != nil {
			return err
		}
		e.reqMu.Lock()
		e.outbound[corr] = l.peer
		e.reqMu.Unlock()
		// published before the frame leaves so a fast reply cannot overtake it
		e.h.Publish(protocol.RequestSent{
			Receiver: l.peer,
			Request:  protocol.OutboundRequest{Protocol: m.Protocol, Bytes: m.Bytes, ID: protocol.CorrelationString(corr)},
		})
		if !l.send(env) {
			e.settle(e.outbound, corr)
			return fmt.Errorf("request %s on %s to %s not sent: %w", protocol.CorrelationString(corr), m.Protocol, n.Short(), ErrNotConnected)
		}

	case protocol.Response:
		corr, err := protocol.ParseCorrelation(m.ID)
		if err != nil {
			return fmt.Errorf("respond on %s: %w", m.Protocol, err)
		}
		if !e.claim(e.inbound, corr, l.peer) {
			return fmt.Errorf("respond on %s to %s: no pending request %s", m.Protocol, n.Short(), m.ID)
		}
		env, err := encode(e.codecs, protocol.MsgResponse, corr, messageBody{Protocol: m.Protocol, Bytes: m.Bytes})
		if err != nil {
			return err
		}
		if !l.send(env) {
			return fmt.Errorf("respond on %s to %s: %w", m.Protocol, n.Short(), ErrNotConnected)
		}
		e.h.Publish(protocol.ResponseSent{
			Receiver: l.peer,
			Response: protocol.OutboundResponse{Protocol: m.Protocol, Bytes: m.Bytes, ID: m.ID},
		})

	default:
		return fmt.Errorf("unsupported message %T", msg)
	}
	return nil
}

func (e *Engine) onRequest(l *link, env *protocol.Envelope) {
	var body messageBody
	if err := decode(e.codecs, env, &body); err != nil {
		e.h.Publish(protocol.Failuref("bad request from %s: %v", l.peer.Short(), err))
		return
	}
	if !e.messages[body.Protocol] {
		e.log.Debug("request on unsupported protocol", zap.String("protocol", body.Protocol), zap.String("peer", l.peer.Short()))
		e.h.Publish(protocol.Failuref("request from %s on unsupported protocol %s", l.peer.Short(), body.Protocol))
		reply, err := encode(e.codecs, protocol.MsgResponse, env.Header.Correlation,
			messageBody{Protocol: body.Protocol, Error: "unsupported protocol"})
		if err == nil {
			reply.SetFlag(protocol.FlagError, true)
			l.send(reply)
		}
		return
	}
	e.reqMu.Lock()
	e.inbound[env.Header.Correlation] = l.peer
	e.reqMu.Unlock()
	e.h.Publish(protocol.RequestReceived{
		Sender:  l.peer,
		Request: protocol.InboundRequest{
			Protocol: body.Protocol,
			Bytes:    body.Bytes,
			ID:       protocol.CorrelationString(env.Header.Correlation),
		},
	})
}

func (e *Engine) onResponse(l *link, env *protocol.Envelope) {
	id := protocol.CorrelationString(env.Header.Correlation)
	if !e.claim(e.outbound, env.Header.Correlation, l.peer) {
		e.h.Publish(protocol.Failuref("unexpected response %s from %s", id, l.peer.Short()))
		return
	}
	var body messageBody
	if err := decode(e.codecs, env, &body); err != nil {
		e.h.Publish(protocol.Failuref("bad response %s from %s: %v", id, l.peer.Short(), err))
		return
	}
	if env.HasFlag(protocol.FlagError) {
		e.h.Publish(protocol.Failuref("request %s on %s to %s failed: %s", id, body.Protocol, l.peer.Short(), body.Error))
		return
	}
	e.h.Publish(protocol.ResponseReceived{
		Sender:   l.peer,
		Response: protocol.InboundResponse{Protocol: body.Protocol, Bytes: body.Bytes, ID: id},
	})
}

// settle drops a pending request id.
func (e *Engine) settle(m map[[16]byte]protocol.NodeID, corr [16]byte) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	delete(m, corr)
}

// claim settles a pending request id only if it belongs to peer; a
// mismatch leaves it pending for the right one.
func (e *Engine) claim(m map[[16]byte]protocol.NodeID, corr [16]byte, peer protocol.NodeID) bool {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	if n, ok := m[corr]; !ok || n != peer {
		return false
	}
	delete(m, corr)
	return true
}

// forget drops pending request state for a peer that went away.
func (e *Engine) forget(peer protocol.NodeID) {
	e.reqMu.Lock()
	defer e.reqMu.Unlock()
	for k, n := range e.outbound {
		if n == peer {
			delete(e.outbound, k)
		}
	}
	for k, n := range e.inbound {
		if n == peer {
			delete(e.inbound, k)
		}
	}
}

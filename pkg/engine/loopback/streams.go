package loopback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/engine"
	"github.com/Acurast/acup2p/pkg/protocol"
)

// openStream starts an outgoing stream. The open exchange and the pumps run
// in the background; the caller's handles end with Eos if the peer refuses.
func (e *Engine) openStream(in protocol.OpenOutgoingStream) error {
	l := e.lookup(in.Node)
	if l == nil {
		end(in.Consumer, in.Producer)
		return fmt.Errorf("open %s stream to %s: %w", in.Protocol, in.Node.Short(), ErrNotConnected)
	}
	peer := l.peer
	w, r, err := e.net.openStream(e.id, peer)
	if err != nil {
		end(in.Consumer, in.Producer)
		return fmt.Errorf("open %s stream to %s: %w", in.Protocol, peer.Short(), err)
	}
	ps := &pipes{r: r, w: w}
	if !e.track(peer, ps) {
		ps.close()
		end(in.Consumer, in.Producer)
		return fmt.Errorf("open %s stream to %s: %w", in.Protocol, peer.Short(), ErrNotConnected)
	}
	started := e.goroutine(func() {
		if err := e.dialStream(in.Protocol, w, r); err != nil {
			e.release(peer, ps)
			end(in.Consumer, in.Producer)
			e.h.Publish(protocol.Failuref("open %s stream to %s: %v", in.Protocol, peer.Short(), err))
			return
		}
		e.log.Debug("stream opened", zap.String("protocol", in.Protocol), zap.String("peer", peer.Short()))
		e.drive(peer, ps, in.Consumer, in.Producer)
	})
	if !started {
		e.release(peer, ps)
		end(in.Consumer, in.Producer)
		return fmt.Errorf("open %s stream to %s: engine stopping", in.Protocol, peer.Short())
	}
	return nil
}

// dialStream announces the protocol on w and waits for the verdict on r.
func (e *Engine) dialStream(proto string, w, r net.Conn) error {
	open, err := encode(e.codecs, protocol.MsgStreamOpen, protocol.NewCorrelation(), streamOpenBody{Protocol: proto})
	if err != nil {
		return err
	}
	if err := writeFrame(w, e.opts.HandshakeTimeout, open); err != nil {
		return err
	}
	reply, err := readFrame(r, e.opts.HandshakeTimeout, protocol.MsgStreamOpen, protocol.MsgStreamReject)
	if err != nil {
		return err
	}
	if reply.Header.Type == protocol.MsgStreamReject {
		return fmt.Errorf("rejected: %s", reply.Payload)
	}
	if !reply.HasFlag(protocol.FlagAck) {
		return errors.New("open reply without ack")
	}
	return nil
}

// acceptStream is called by the Network for a stream from a peer. The
// engine reads the open frame from r and writes on w.
func (e *Engine) acceptStream(from protocol.NodeID, r, w net.Conn) bool {
	return e.goroutine(func() { e.serveStream(from, r, w) })
}

func (e *Engine) serveStream(from protocol.NodeID, r, w net.Conn) {
	ps := &pipes{r: r, w: w}
	open, err := readFrame(r, e.opts.HandshakeTimeout, protocol.MsgStreamOpen)
	if err != nil {
		e.log.Debug("stream open failed", zap.String("peer", from.Short()), zap.Error(err))
		ps.close()
		return
	}
	var body streamOpenBody
	if err := decode(e.codecs, &open, &body); err != nil {
		e.reject(from, ps, open, fmt.Sprintf("bad open: %v", err))
		return
	}
	if !e.track(from, ps) {
		e.reject(from, ps, open, "not connected")
		return
	}
	reg, ok := e.incoming[body.Protocol]
	if !ok {
		e.untrack(from, ps)
		e.reject(from, ps, open, "unsupported protocol "+body.Protocol)
		return
	}

	mu := e.establish[body.Protocol]
	mu.Lock()
	defer mu.Unlock()

	c, p, err := establish(reg, from)
	if err != nil {
		reg.Abort()
		e.untrack(from, ps)
		e.reject(from, ps, open, err.Error())
		return
	}
	ack := protocol.NewEnvelope(protocol.MsgStreamOpen, open.Header.Correlation, nil)
	ack.SetFlag(protocol.FlagAck, true)
	if err := writeFrame(w, e.opts.HandshakeTimeout, ack); err != nil {
		reg.Abort()
		e.release(from, ps)
		return
	}
	e.drive(from, ps, c, p)
	if err := reg.FinalizeStream(); err != nil {
		e.h.Publish(protocol.Failuref("inbound %s stream from %s: %v", body.Protocol, from.Short(), err))
		return
	}
	e.log.Debug("stream accepted", zap.String("protocol", body.Protocol), zap.String("peer", from.Short()))
}

func establish(reg engine.Incoming, from protocol.NodeID) (protocol.StreamConsumer, protocol.StreamProducer, error) {
	if err := reg.CreateStream(from); err != nil {
		return nil, nil, err
	}
	c, err := reg.Consumer()
	if err != nil {
		return nil, nil, err
	}
	p, err := reg.Producer()
	if err != nil {
		return nil, nil, err
	}
	return c, p, nil
}

func (e *Engine) reject(from protocol.NodeID, ps *pipes, open protocol.Envelope, reason string) {
	e.log.Debug("stream rejected", zap.String("peer", from.Short()), zap.String("reason", reason))
	e.h.Publish(protocol.Failuref("inbound stream from %s rejected: %s", from.Short(), reason))
	_ = writeFrame(ps.w, e.opts.HandshakeTimeout,
		protocol.NewEnvelope(protocol.MsgStreamReject, open.Header.Correlation, []byte(reason)))
	ps.close()
}

// drive pumps bytes between the handles and the pipes until both
// directions end. Stopping the engine or losing the peer closes the pipes.
func (e *Engine) drive(peer protocol.NodeID, ps *pipes, c protocol.StreamConsumer, p protocol.StreamProducer) {
	stop := context.AfterFunc(e.ctx, ps.close)
	reads := make(chan struct{})
	okR := e.goroutine(func() { defer close(reads); e.pumpReads(c, ps.r) })
	okW := e.goroutine(func() {
		e.pumpWrites(p, ps.w)
		<-reads
		stop()
		e.untrack(peer, ps)
	})
	if !okR || !okW {
		stop()
		e.release(peer, ps)
		end(c, p)
	}
}

// pumpReads answers each requested size from r. A closed pipe is end of
// stream; any other error is reported and the direction stays open.
func (e *Engine) pumpReads(c protocol.StreamConsumer, r net.Conn) {
	defer c.ReportRead(protocol.ReadEos{})
	defer func() { _ = r.Close() }()
	for {
		size, ok := c.NextReadSize(e.ctx)
		if !ok {
			return
		}
		if size == 0 {
			c.ReportRead(protocol.ReadOk{})
			continue
		}
		buf := make([]byte, size)
		k, err := readSome(r, buf)
		switch {
		case k > 0:
			c.ReportRead(protocol.ReadOk{Bytes: buf[:k]})
		case closedPipe(err):
			return
		default:
			c.ReportRead(protocol.ReadErr{Message: err.Error()})
		}
	}
}

// pumpWrites writes each buffer to w. Closing w signals end of stream to the
// peer.
func (e *Engine) pumpWrites(p protocol.StreamProducer, w net.Conn) {
	defer p.ReportWrite(protocol.WriteEos{})
	defer func() { _ = w.Close() }()
	for {
		buf, ok := p.NextWriteBuffer(e.ctx)
		if !ok {
			return
		}
		if len(buf) == 0 {
			p.ReportWrite(protocol.WriteOk{})
			continue
		}
		if _, err := w.Write(buf); err != nil {
			if closedPipe(err) {
				return
			}
			p.ReportWrite(protocol.WriteErr{Message: err.Error()})
			continue
		}
		p.ReportWrite(protocol.WriteOk{})
	}
}

// readSome reads until it gets at least one byte or an error.
func readSome(r io.Reader, buf []byte) (int, error) {
	for {
		k, err := r.Read(buf)
		if k > 0 || err != nil {
			return k, err
		}
	}
}

func closedPipe(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

// pipes are the two halves of one stream.
type pipes struct{ r, w net.Conn }

func (ps *pipes) close() {
	_ = ps.r.Close()
	_ = ps.w.Close()
}

// track ties ps to peer so the stream ends when the peer goes away. It
// reports false, leaving ps untracked, when peer is no longer linked.
func (e *Engine) track(peer protocol.NodeID, ps *pipes) bool {
	e.streamMu.Lock()
	set := e.streams[peer]
	if set == nil {
		set = make(map[*pipes]struct{})
		e.streams[peer] = set
	}
	set[ps] = struct{}{}
	e.streamMu.Unlock()
	// dropStreams runs after the link is removed, so either it sees ps or we
	// see the link gone.
	if e.links.get(peer) == nil {
		e.untrack(peer, ps)
		return false
	}
	return true
}

func (e *Engine) untrack(peer protocol.NodeID, ps *pipes) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	if set := e.streams[peer]; set != nil {
		delete(set, ps)
		if len(set) == 0 {
			delete(e.streams, peer)
		}
	}
}

// release untracks and closes a stream that will not be driven.
func (e *Engine) release(peer protocol.NodeID, ps *pipes) {
	e.untrack(peer, ps)
	ps.close()
}

// dropStreams closes every stream carried for peer. The pumps see a closed
// pipe and end both directions.
func (e *Engine) dropStreams(peer protocol.NodeID) {
	e.streamMu.Lock()
	set := e.streams[peer]
	delete(e.streams, peer)
	e.streamMu.Unlock()
	for ps := range set {
		ps.close()
	}
}

// end resolves both handles of a stream that will never be driven.
func end(c protocol.StreamConsumer, p protocol.StreamProducer) {
	c.ReportRead(protocol.ReadEos{})
	p.ReportWrite(protocol.WriteEos{})
}

// Stream frames go straight onto the pipe without buffering so no stream
// bytes are read ahead.
func writeFrame(c net.Conn, d time.Duration, e protocol.Envelope) error {
	b, err := e.EncodeFrame()
	if err != nil {
		return err
	}
	_ = c.SetWriteDeadline(time.Now().Add(d))
	defer func() { _ = c.SetWriteDeadline(time.Time{}) }()
	_, err = c.Write(b)
	return err
}

func readFrame(c net.Conn, d time.Duration, types ...uint8) (protocol.Envelope, error) {
	var e protocol.Envelope
	_ = c.SetReadDeadline(time.Now().Add(d))
	defer func() { _ = c.SetReadDeadline(time.Time{}) }()
	if _, err := e.ReadFrom(c); err != nil {
		return e, err
	}
	return e, checkType(&e, types)
}

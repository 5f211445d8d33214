// Package stream bridges a logical byte stream between application code and
// the engine's driving loop.
//
// Each direction is a pair of queues with a single slot in flight: the
// application hands over one read size or one write buffer, the engine pulls
// it, does the network I/O and reports exactly one outcome. That handshake is
// the backpressure for the whole system.
package stream

import (
	"context"
	"io"
	"math"
	"sync"

	"github.com/Acurast/acup2p/pkg/protocol"
)

// Error is an engine-reported read or write failure. The direction stays
// open; the caller decides whether to close.
type Error struct{ Message string }

func (e *Error) Error() string { return "stream: " + e.Message }

// Direction records which side opened the stream.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Stream is a bidirectional byte pipe to one peer on one protocol.
type Stream struct {
	protocol  string
	node      protocol.NodeID
	direction Direction
	consumer  *Consumer
	producer  *Producer

	doneOnce sync.Once
	done     chan struct{}
}

// New allocates a stream with a fresh consumer/producer pair.
func New(proto string, node protocol.NodeID, dir Direction) *Stream {
	return Wrap(proto, node, dir, NewConsumer(), NewProducer())
}

// Wrap binds an existing pair.
func Wrap(proto string, node protocol.NodeID, dir Direction, c *Consumer, p *Producer) *Stream {
	return &Stream{protocol: proto, node: node, direction: dir, consumer: c, producer: p}
}

func (s *Stream) Protocol() string      { return s.protocol }
func (s *Stream) Node() protocol.NodeID { return s.node }
func (s *Stream) Direction() Direction  { return s.direction }
func (s *Stream) Consumer() *Consumer   { return s.consumer }
func (s *Stream) Producer() *Producer   { return s.producer }
func (s *Stream) String() string        { return s.direction.String() + " " + s.protocol + " " + s.node.Short() }

// Read asks for up to n bytes. See Consumer.Read.
func (s *Stream) Read(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if uint64(n) > math.MaxUint32 {
		return s.consumer.Read(ctx, math.MaxUint32)
	}
	return s.consumer.Read(ctx, uint32(n))
}

// Write sends b. See Producer.Write.
func (s *Stream) Write(ctx context.Context, b []byte) (int, error) {
	return s.producer.Write(ctx, b)
}

// CloseRead ends the read direction only.
func (s *Stream) CloseRead() { s.consumer.Close() }

// CloseWrite ends the write direction only.
func (s *Stream) CloseWrite() { s.producer.Close() }

// Done is closed once both directions have ended. Every call returns the
// same channel.
func (s *Stream) Done() <-chan struct{} {
	s.doneOnce.Do(func() {
		s.done = make(chan struct{})
		go func() {
			<-s.consumer.Done()
			<-s.producer.Done()
			close(s.done)
		}()
	})
	return s.done
}

// Close ends both directions. Idempotent.
func (s *Stream) Close() error {
	s.consumer.Close()
	s.producer.Close()
	return nil
}

// ReadWriteCloser adapts s to io.ReadWriteCloser; every call uses ctx.
// io.EOF from Write surfaces as io.ErrClosedPipe, as io.Writer expects.
func (s *Stream) ReadWriteCloser(ctx context.Context) io.ReadWriteCloser {
	return &rwc{ctx: ctx, s: s}
}

type rwc struct {
	ctx  context.Context
	s    *Stream
	rest []byte
}

func (r *rwc) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(r.rest) == 0 {
		b, err := r.s.Read(r.ctx, len(p))
		if err != nil {
			return 0, err
		}
		r.rest = b
	}
	n := copy(p, r.rest)
	r.rest = r.rest[n:]
	return n, nil
}

func (r *rwc) Write(p []byte) (int, error) {
	n, err := r.s.Write(r.ctx, p)
	if err == io.EOF {
		err = io.ErrClosedPipe
	}
	return n, err
}

func (r *rwc) Close() error { return r.s.Close() }

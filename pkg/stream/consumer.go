package stream

import (
	"context"
	"errors"
	"io"

	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/queue"
)

// Consumer is the read side of a stream. The application asks for bytes
// with Read; the engine pulls the requested size with NextReadSize and
// answers with exactly one ReportRead.
type Consumer struct {
	requests *queue.Queue[uint32]
	results  *queue.Queue[protocol.ReadOutcome]
	slot     chan struct{}
}

// NewConsumer returns an open read side.
func NewConsumer() *Consumer {
	return &Consumer{
		requests: queue.New[uint32](),
		results:  queue.New[protocol.ReadOutcome](),
		slot:     make(chan struct{}, 1),
	}
}

// Read asks the engine for up to n bytes and waits for its answer.
//
// End of stream is (nil, io.EOF), on this call and every later one. An
// engine failure is an *Error and leaves the direction open. If ctx ends
// after the request was handed over, the direction is closed for good so a
// late answer can never be matched to a later call.
func (c *Consumer) Read(ctx context.Context, n uint32) ([]byte, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.slot }()

	if c.ended() {
		return nil, io.EOF
	}
	if !c.requests.Push(n) {
		return nil, io.EOF
	}
	out, ok := c.results.Pop(ctx)
	if !ok {
		if c.results.Closed() {
			return nil, io.EOF
		}
		c.Close()
		return nil, ctx.Err()
	}
	switch o := out.(type) {
	case protocol.ReadOk:
		return o.Bytes, nil
	case protocol.ReadErr:
		return nil, &Error{Message: o.Message}
	default:
		return nil, errors.New("stream: unexpected read outcome")
	}
}

// results closed and drained
func (c *Consumer) ended() bool { return c.results.Closed() && c.results.Len() == 0 }

// Close ends the read direction. A pending NextReadSize reports no more
// requests and a suspended Read resolves to io.EOF. Idempotent.
func (c *Consumer) Close() {
	c.requests.Discard()
	c.results.Close()
}

// Closed reports whether the read direction has ended.
func (c *Consumer) Closed() bool { return c.requests.Closed() }

// Done is closed once the read direction has ended.
func (c *Consumer) Done() <-chan struct{} { return c.requests.Done() }

// NextReadSize is called by the engine. ok is false once the direction is
// closed or ctx is done.
func (c *Consumer) NextReadSize(ctx context.Context) (uint32, bool) {
	return c.requests.Pop(ctx)
}

// ReportRead is called by the engine with the outcome of the size it pulled.
// ReadEos ends the direction; a Read still waiting sees io.EOF.
func (c *Consumer) ReportRead(o protocol.ReadOutcome) {
	if _, eos := o.(protocol.ReadEos); eos {
		c.Close()
		return
	}
	c.results.Push(o)
}

var _ protocol.StreamConsumer = (*Consumer)(nil)

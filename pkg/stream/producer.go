package stream

import (
	"context"
	"errors"
	"io"

	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/queue"
)

// Producer is the write side of a stream, the dual of Consumer.
type Producer struct {
	buffers *queue.Queue[[]byte]
	results *queue.Queue[protocol.WriteOutcome]
	slot    chan struct{}
}

// NewProducer returns an open write side.
func NewProducer() *Producer {
	return &Producer{
		buffers: queue.New[[]byte](),
		results: queue.New[protocol.WriteOutcome](),
		slot:    make(chan struct{}, 1),
	}
}

// Write hands b to the engine and waits until it was accepted. It returns
// len(b) on success and (0, io.EOF) once the direction has ended. The engine
// receives its own copy of b.
func (p *Producer) Write(ctx context.Context, b []byte) (int, error) {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-p.slot }()

	if p.results.Closed() && p.results.Len() == 0 {
		return 0, io.EOF
	}
	if len(b) == 0 {
		return 0, nil
	}
	if !p.buffers.Push(append([]byte(nil), b...)) {
		return 0, io.EOF
	}
	out, ok := p.results.Pop(ctx)
	if !ok {
		if p.results.Closed() {
			return 0, io.EOF
		}
		p.Close()
		return 0, ctx.Err()
	}
	switch o := out.(type) {
	case protocol.WriteOk:
		return len(b), nil
	case protocol.WriteErr:
		return 0, &Error{Message: o.Message}
	default:
		return 0, errors.New("stream: unexpected write outcome")
	}
}

// Close ends the write direction. A pending NextWriteBuffer reports no more
// buffers and a suspended Write returns (0, io.EOF). Idempotent.
func (p *Producer) Close() {
	p.buffers.Discard()
	p.results.Close()
}

// Closed reports whether the write direction has ended.
func (p *Producer) Closed() bool { return p.buffers.Closed() }

// Done is closed once the write direction has ended.
func (p *Producer) Done() <-chan struct{} { return p.buffers.Done() }

// NextWriteBuffer is called by the engine. ok is false once the direction is
// closed or ctx is done.
func (p *Producer) NextWriteBuffer(ctx context.Context) ([]byte, bool) {
	return p.buffers.Pop(ctx)
}

// ReportWrite is called by the engine with the outcome of the buffer it
// pulled. WriteEos ends the direction.
func (p *Producer) ReportWrite(o protocol.WriteOutcome) {
	if _, eos := o.(protocol.WriteEos); eos {
		p.Close()
		return
	}
	p.results.Push(o)
}

var _ protocol.StreamProducer = (*Producer)(nil)

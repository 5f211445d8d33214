package loopback

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/queue"
)

// link is one authenticated connection to a peer. Frames are Envelopes.
// Sends are queued and written by a dedicated goroutine: net.Pipe is
// unbuffered, so two readers answering each other inline would deadlock.
type link struct {
	peer          protocol.NodeID
	dialer        protocol.NodeID
	establishedAt time.Time

	c    net.Conn
	conn *protocol.Conn
	out  *queue.Queue[protocol.Envelope]

	once   sync.Once
	closed chan struct{}
}

func newLink(c net.Conn, conn *protocol.Conn, peer, dialer protocol.NodeID) *link {
	return &link{
		peer:          peer,
		dialer:        dialer,
		establishedAt: time.Now(),
		c:             c,
		conn:          conn,
		out:           queue.New[protocol.Envelope](),
		closed:        make(chan struct{}),
	}
}

// send queues e. It reports false once the link is closing.
func (l *link) send(e protocol.Envelope) bool { return l.out.Push(e) }

func (l *link) recv(e *protocol.Envelope) error { return l.conn.Recv(e) }

// writeLoop drains the send queue until it is closed, then closes the link.
func (l *link) writeLoop() {
	defer l.close()
	for {
		e, ok := l.out.Pop(context.Background())
		if !ok {
			return
		}
		if err := l.conn.Send(&e); err != nil {
			return
		}
	}
}

// close is idempotent and reports whether this call closed the link.
func (l *link) close() bool {
	first := false
	l.once.Do(func() {
		first = true
		close(l.closed)
		l.out.Discard()
		_ = l.c.Close()
	})
	return first
}

// goodbye queues a Goodbye after anything still pending; the write loop
// closes the link once it is sent.
func (l *link) goodbye() {
	_ = l.c.SetWriteDeadline(time.Now().Add(time.Second))
	l.send(protocol.NewEnvelope(protocol.MsgGoodbye, [16]byte{}, nil))
	l.out.Close()
}

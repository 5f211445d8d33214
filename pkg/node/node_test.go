package node

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Acurast/acup2p/pkg/config"
	"github.com/Acurast/acup2p/pkg/engine"
	"github.com/Acurast/acup2p/pkg/protocol"
)

const wait = time.Second

func nodeID(s string) protocol.NodeID { return protocol.NodeIDFromAddress(s) }

// recorder drains intents and keeps them, handing each to an optional hook.
type recorder struct {
	mu   sync.Mutex
	got  []protocol.Intent
	hook func(engine.Binding, protocol.Intent)
}

func (r *recorder) Run(ctx context.Context, b engine.Binding) error {
	engine.Drain(ctx, b.Handler, func(in protocol.Intent) error {
		r.mu.Lock()
		r.got = append(r.got, in)
		r.mu.Unlock()
		if r.hook != nil {
			r.hook(b, in)
		}
		return nil
	})
	return nil
}

func (r *recorder) intents() []protocol.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Intent(nil), r.got...)
}

func newNode(t *testing.T, cfg *config.Config, eng engine.Engine) *Node {
	t.Helper()
	n, err := New(cfg, eng, Options{Logger: zap.NewNop(), CloseTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func firstEvent(t *testing.T, n *Node) protocol.Event {
	t.Helper()
	sub := n.Subscribe()
	defer sub.Close()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	ev, ok := sub.Next(ctx)
	require.True(t, ok, "no event")
	return ev
}

func TestIntentsReachEngineInOrder(t *testing.T) {
	rec := &recorder{}
	n := newNode(t, nil, rec)

	req := protocol.Request{Protocol: "/echo/1", Bytes: []byte("hi")}
	n.Connect(nodeID("a"))
	n.Disconnect(nodeID("b"))
	require.NoError(t, n.SendMessage(req, nodeID("a")))
	require.NoError(t, n.Close())

	assert.Equal(t, []protocol.Intent{
		protocol.Connect{Nodes: []protocol.NodeID{nodeID("a")}},
		protocol.Disconnect{Nodes: []protocol.NodeID{nodeID("b")}},
		protocol.SendMessage{Message: req, Nodes: []protocol.NodeID{nodeID("a")}},
	}, rec.intents())
	select {
	case <-n.Done():
	default:
		t.Fatal("engine still running after close")
	}
}

func TestSendMessageRejectsNil(t *testing.T) {
	n := newNode(t, nil, &recorder{})
	assert.Error(t, n.SendMessage(nil, nodeID("a")))
}

func TestOpenOutgoingStreamIsDrivable(t *testing.T) {
	rec := &recorder{hook: func(b engine.Binding, in protocol.Intent) {
		open, ok := in.(protocol.OpenOutgoingStream)
		if !ok {
			return
		}
		go func() {
			ctx := context.Background()
			buf, ok := open.Producer.NextWriteBuffer(ctx)
			if !ok {
				return
			}
			open.Producer.ReportWrite(protocol.WriteOk{})
			if _, ok := open.Consumer.NextReadSize(ctx); !ok {
				return
			}
			open.Consumer.ReportRead(protocol.ReadOk{Bytes: buf})
		}()
	}}
	n := newNode(t, nil, rec)
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	s, err := n.OpenOutgoingStream("/echo/1", nodeID("peer"))
	require.NoError(t, err)
	assert.Equal(t, "/echo/1", s.Protocol())
	assert.Equal(t, nodeID("peer"), s.Node())
	assert.Equal(t, 1, n.LiveStreams())

	_, err = s.Write(ctx, []byte("echo"))
	require.NoError(t, err)
	got, err := s.Read(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("echo"), got)

	require.NoError(t, s.Close())
	require.Eventually(t, func() bool { return n.LiveStreams() == 0 }, wait, 5*time.Millisecond)
}

func TestClosedNodeRefusesWork(t *testing.T) {
	rec := &recorder{}
	n := newNode(t, nil, rec)
	require.NoError(t, n.Close())
	require.NoError(t, n.Close())

	_, err := n.OpenOutgoingStream("/echo/1", nodeID("a"))
	assert.ErrorIs(t, err, ErrClosed)

	n.Connect(nodeID("a"))
	assert.Empty(t, rec.intents(), "intents after close never reach the engine")
}

func TestEngineErrorBecomesFailure(t *testing.T) {
	n := newNode(t, nil, engine.EngineFunc(func(context.Context, engine.Binding) error {
		return errors.New("boom")
	}))
	<-n.Done()
	assert.Equal(t, protocol.Failure{Cause: "boom"}, firstEvent(t, n))
}

func TestEnginePanicBecomesFailure(t *testing.T) {
	n := newNode(t, nil, engine.EngineFunc(func(context.Context, engine.Binding) error {
		panic("kaput")
	}))
	<-n.Done()
	assert.Equal(t, protocol.Failure{Cause: "engine panicked: kaput"}, firstEvent(t, n))
}

func TestCloseResolvesSuspendedRead(t *testing.T) {
	n := newNode(t, nil, &recorder{})
	s, err := n.OpenOutgoingStream("/echo/1", nodeID("a"))
	require.NoError(t, err)

	res := make(chan error, 1)
	go func() {
		_, err := s.Read(context.Background(), 16)
		res <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, n.Close())
	select {
	case err := <-res:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(wait):
		t.Fatal("read still suspended")
	}
	assert.Equal(t, 0, n.LiveStreams())
}

func TestCloseCancelsStuckEngine(t *testing.T) {
	n := newNode(t, nil, engine.EngineFunc(func(ctx context.Context, _ engine.Binding) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	require.NoError(t, n.Close())
	assert.Less(t, time.Since(start), wait)
	select {
	case <-n.Done():
	default:
		t.Fatal("engine not stopped")
	}
}

func TestIncomingStreamsMergeProtocols(t *testing.T) {
	cfg := config.Default()
	cfg.StreamProtocols = []string{"/a/1", "/b/1"}
	n := newNode(t, cfg, engine.EngineFunc(func(ctx context.Context, b engine.Binding) error {
		for _, p := range []string{"/a/1", "/b/1"} {
			reg := b.Incoming[p]
			if err := reg.CreateStream(nodeID("remote")); err != nil {
				return err
			}
			if err := reg.FinalizeStream(); err != nil {
				return err
			}
		}
		engine.Drain(ctx, b.Handler, func(protocol.Intent) error { return nil })
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	seen := map[string]bool{}
	ch := n.IncomingStreams(ctx)
	for len(seen) < 2 {
		select {
		case s := <-ch:
			seen[s.Protocol()] = true
			assert.Equal(t, nodeID("remote"), s.Node())
		case <-ctx.Done():
			t.Fatalf("got %v", seen)
		}
	}
	assert.Equal(t, 2, n.LiveStreams())

	require.NoError(t, n.Close())
	assert.Equal(t, 0, n.LiveStreams())
}

func TestEventsReplayToLateSubscribers(t *testing.T) {
	n := newNode(t, nil, engine.EngineFunc(func(ctx context.Context, b engine.Binding) error {
		b.Handler.Publish(protocol.ListeningOn{Address: "mem://x"})
		engine.Drain(ctx, b.Handler, func(protocol.Intent) error { return nil })
		return nil
	}))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, protocol.ListeningOn{Address: "mem://x"}, firstEvent(t, n))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNoEngine)

	cfg := config.Default()
	cfg.Identity.Kind = "bogus"
	_, err = New(cfg, &recorder{}, Options{Logger: zap.NewNop()})
	assert.Error(t, err)
}

func TestConfigIsPrivate(t *testing.T) {
	cfg := config.Default()
	n := newNode(t, cfg, &recorder{})
	cfg.MessageProtocols[0] = "/changed/1"
	got := n.Config()
	assert.Equal(t, []string{"/echo/1"}, got.MessageProtocols)
	got.MessageProtocols[0] = "/mutated/1"
	assert.Equal(t, []string{"/echo/1"}, n.Config().MessageProtocols)
	assert.NotEmpty(t, n.ID())
}

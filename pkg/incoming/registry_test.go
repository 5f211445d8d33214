package incoming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Acurast/acup2p/pkg/protocol"
	"github.com/Acurast/acup2p/pkg/stream"
)

var alice = protocol.NodeIDFromAddress("alice")

func newReg(t *testing.T, proto string) *Registration {
	return NewRegistration(proto, Options{Logger: zaptest.NewLogger(t)})
}

func next(t *testing.T, ch <-chan *stream.Stream) *stream.Stream {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "stream channel closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("no stream published")
		return nil
	}
}

func TestCreateFinalizePublishes(t *testing.T) {
	r := newReg(t, "/echo/1")
	sub := r.Subscribe()
	defer sub.Close()

	require.NoError(t, r.CreateStream(alice))
	c, err := r.Consumer()
	require.NoError(t, err)
	p, err := r.Producer()
	require.NoError(t, err)

	// nothing is published before finalize
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, ok := sub.Next(ctx)
	cancel()
	assert.False(t, ok)

	require.NoError(t, r.FinalizeStream())
	s, ok := sub.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, "/echo/1", s.Protocol())
	assert.Equal(t, alice, s.Node())
	assert.Equal(t, stream.Inbound, s.Direction())
	assert.Same(t, s.Consumer(), c)
	assert.Same(t, s.Producer(), p)

	// handles belong to the published stream, not to the next one
	_, err = r.Consumer()
	assert.ErrorIs(t, err, ErrNoPendingStream)
	assert.NoError(t, r.Err())
}

func TestPublishedStreamIsDrivable(t *testing.T) {
	r := newReg(t, "/echo/1")
	sub := r.Subscribe()
	require.NoError(t, r.CreateStream(alice))
	c, _ := r.Consumer()
	require.NoError(t, r.FinalizeStream())
	s, _ := sub.Next(context.Background())

	go func() {
		if _, ok := c.NextReadSize(context.Background()); ok {
			c.ReportRead(protocol.ReadOk{Bytes: []byte("yo")})
		}
	}()
	b, err := s.Read(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("yo"), b)
}

func TestFinalizeWithoutCreateFailsRegistration(t *testing.T) {
	r := newReg(t, "/echo/1")
	sub := r.Subscribe()

	assert.ErrorIs(t, r.FinalizeStream(), ErrNoPendingStream)
	assert.ErrorIs(t, r.Err(), ErrNoPendingStream)

	// subscribers are released
	_, ok := sub.Next(context.Background())
	assert.False(t, ok)

	err := r.CreateStream(alice)
	assert.ErrorIs(t, err, ErrRegistrationFailed)
	assert.ErrorIs(t, err, ErrNoPendingStream)
	assert.ErrorIs(t, r.FinalizeStream(), ErrRegistrationFailed)
	_, err = r.Producer()
	assert.ErrorIs(t, err, ErrRegistrationFailed)
}

func TestFailureIsLocalToOneProtocol(t *testing.T) {
	reg := NewRegistry([]string{"/a", "/b", "/a"}, Options{Logger: zaptest.NewLogger(t)})
	defer reg.Close()
	assert.Equal(t, []string{"/a", "/b"}, reg.Protocols())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := reg.Streams(ctx)

	a, _ := reg.Get("/a")
	b, _ := reg.Get("/b")
	require.ErrorIs(t, a.FinalizeStream(), ErrNoPendingStream)

	require.NoError(t, b.CreateStream(alice))
	require.NoError(t, b.FinalizeStream())
	s := next(t, ch)
	assert.Equal(t, "/b", s.Protocol())
}

func TestCreateWhilePending(t *testing.T) {
	r := newReg(t, "/echo/1")
	require.NoError(t, r.CreateStream(alice))
	assert.ErrorIs(t, r.CreateStream(protocol.NodeIDFromAddress("bob")), ErrStreamPending)
	assert.NoError(t, r.Err(), "double create is not fatal")

	sub := r.Subscribe()
	require.NoError(t, r.FinalizeStream())
	s, ok := sub.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, alice, s.Node())
}

func TestAbortDropsPending(t *testing.T) {
	r := newReg(t, "/echo/1")
	require.NoError(t, r.CreateStream(alice))
	c, _ := r.Consumer()
	r.Abort()
	_, ok := c.NextReadSize(context.Background())
	assert.False(t, ok, "aborted stream is closed")
	require.NoError(t, r.CreateStream(alice))
}

func TestRegistryMergesProtocols(t *testing.T) {
	reg := NewRegistry([]string{"/a", "/b"}, Options{Logger: zaptest.NewLogger(t)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := reg.Streams(ctx)

	for _, p := range []string{"/a", "/b"} {
		r, ok := reg.Get(p)
		require.True(t, ok)
		require.NoError(t, r.CreateStream(alice))
		require.NoError(t, r.FinalizeStream())
	}
	got := map[string]bool{next(t, ch).Protocol(): true, next(t, ch).Protocol(): true}
	assert.Equal(t, map[string]bool{"/a": true, "/b": true}, got)

	_, ok := reg.Get("/c")
	assert.False(t, ok)

	reg.Close()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("merged stream channel not closed")
	}
	r, _ := reg.Get("/a")
	assert.ErrorIs(t, r.CreateStream(alice), ErrClosed)
}

func TestLateSubscriberGetsReplay(t *testing.T) {
	r := NewRegistration("/echo/1", Options{Replay: 2, Logger: zaptest.NewLogger(t)})
	for i := 0; i < 3; i++ {
		require.NoError(t, r.CreateStream(alice))
		require.NoError(t, r.FinalizeStream())
	}
	sub := r.Subscribe()
	r.Close()
	n := 0
	for {
		if _, ok := sub.Next(context.Background()); !ok {
			break
		}
		n++
	}
	assert.Equal(t, 2, n)
}

func TestOnPublishSeesEveryStream(t *testing.T) {
	var seen []*stream.Stream
	r := NewRegistration("/echo/1", Options{
		Logger:    zaptest.NewLogger(t),
		OnPublish: func(s *stream.Stream) { seen = append(seen, s) },
	})
	require.NoError(t, r.CreateStream(alice))
	require.NoError(t, r.FinalizeStream())
	require.Len(t, seen, 1)
	assert.Equal(t, alice, seen[0].Node())
}

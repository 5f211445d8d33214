package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Acurast/acup2p/pkg/protocol"
)

const wait = time.Second

func peer() protocol.NodeID { return protocol.NodeIDFromAddress("peer-a") }

func within(t *testing.T, d time.Duration, f func()) {
	t.Helper()
	done := make(chan struct{})
	go func() { defer close(done); f() }()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("call did not resolve in time")
	}
}

func TestWriteThenReadEcho(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx := context.Background()

	go func() {
		b, ok := s.Producer().NextWriteBuffer(ctx)
		if !ok {
			return
		}
		s.Producer().ReportWrite(protocol.WriteOk{})
		n, ok := s.Consumer().NextReadSize(ctx)
		if !ok || int(n) != len(b) {
			s.Consumer().ReportRead(protocol.ReadErr{Message: "size mismatch"})
			return
		}
		s.Consumer().ReportRead(protocol.ReadOk{Bytes: b})
	}()

	n, err := s.Write(ctx, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := s.Read(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), b)
}

func TestEosBeforeFirstRead(t *testing.T) {
	s := New("echo", peer(), Inbound)
	s.Consumer().ReportRead(protocol.ReadEos{})

	within(t, wait, func() {
		for i := 0; i < 3; i++ {
			b, err := s.Read(context.Background(), 10)
			assert.Nil(t, b)
			assert.ErrorIs(t, err, io.EOF)
		}
	})
	_, ok := s.Consumer().NextReadSize(context.Background())
	assert.False(t, ok, "engine sees no more requests after eos")
}

func TestEosAfterPull(t *testing.T) {
	s := New("echo", peer(), Outbound)
	go func() {
		if _, ok := s.Consumer().NextReadSize(context.Background()); ok {
			s.Consumer().ReportRead(protocol.ReadEos{})
		}
	}()
	within(t, wait, func() {
		_, err := s.Read(context.Background(), 4)
		assert.ErrorIs(t, err, io.EOF)
		_, err = s.Read(context.Background(), 4)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestReadErrorKeepsDirectionOpen(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx := context.Background()
	go func() {
		if _, ok := s.Consumer().NextReadSize(ctx); ok {
			s.Consumer().ReportRead(protocol.ReadErr{Message: "reset by peer"})
		}
		if _, ok := s.Consumer().NextReadSize(ctx); ok {
			s.Consumer().ReportRead(protocol.ReadOk{Bytes: []byte("ok")})
		}
	}()

	_, err := s.Read(ctx, 8)
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "reset by peer", se.Message)
	assert.False(t, s.Consumer().Closed())

	b, err := s.Read(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), b)
}

func TestWriteOutcomes(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx := context.Background()
	go func() {
		if _, ok := s.Producer().NextWriteBuffer(ctx); ok {
			s.Producer().ReportWrite(protocol.WriteErr{Message: "broken pipe"})
		}
		if _, ok := s.Producer().NextWriteBuffer(ctx); ok {
			s.Producer().ReportWrite(protocol.WriteEos{})
		}
	}()

	n, err := s.Write(ctx, []byte("a"))
	assert.Equal(t, 0, n)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "stream: broken pipe", se.Error())

	n, err = s.Write(ctx, []byte("b"))
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	within(t, wait, func() {
		n, err = s.Write(ctx, []byte("c"))
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestWriteCopiesBuffer(t *testing.T) {
	s := New("echo", peer(), Outbound)
	buf := []byte("abc")
	got := make(chan []byte, 1)
	go func() {
		b, _ := s.Producer().NextWriteBuffer(context.Background())
		buf[0] = 'X'
		got <- b
		s.Producer().ReportWrite(protocol.WriteOk{})
	}()
	_, err := s.Write(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), <-got)
}

func TestSingleSlotPerDirection(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Read(ctx, 1)
		}()
	}

	// engine: pull one size at a time, check nothing else is pending
	for i := 0; i < 16; i++ {
		_, ok := s.Consumer().NextReadSize(ctx)
		require.True(t, ok)
		cur := inFlight.Add(1)
		if cur > maxInFlight.Load() {
			maxInFlight.Store(cur)
		}
		time.Sleep(time.Millisecond)
		assert.Equal(t, 0, s.Consumer().requests.Len(), "a second request was queued while one is unanswered")
		inFlight.Add(-1)
		s.Consumer().ReportRead(protocol.ReadOk{Bytes: []byte{byte(i)}})
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestCloseTwiceAndWhileOtherDirectionInFlight(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx := context.Background()

	writeDone := make(chan error, 1)
	go func() {
		_, err := s.Write(ctx, []byte("pending"))
		writeDone <- err
	}()
	b, ok := s.Producer().NextWriteBuffer(ctx)
	require.True(t, ok)
	assert.Equal(t, []byte("pending"), b)

	s.CloseRead()
	s.CloseRead()
	_, ok = s.Consumer().NextReadSize(ctx)
	assert.False(t, ok)

	// write side untouched by closing the read side
	s.Producer().ReportWrite(protocol.WriteOk{})
	select {
	case err := <-writeDone:
		assert.NoError(t, err)
	case <-time.After(wait):
		t.Fatal("write did not resolve")
	}

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, ok = s.Producer().NextWriteBuffer(ctx)
	assert.False(t, ok)
	// reports after close go nowhere
	s.Producer().ReportWrite(protocol.WriteOk{})
	s.Consumer().ReportRead(protocol.ReadOk{Bytes: []byte("late")})
	_, err := s.Read(ctx, 4)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCloseReleasesSuspendedRead(t *testing.T) {
	s := New("echo", peer(), Outbound)
	res := make(chan error, 1)
	go func() {
		_, err := s.Read(context.Background(), 10)
		res <- err
	}()
	_, ok := s.Consumer().NextReadSize(context.Background())
	require.True(t, ok)

	require.NoError(t, s.Close())
	select {
	case err := <-res:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(wait):
		t.Fatal("read still suspended after close")
	}
}

func TestCancelledReadClosesDirection(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if _, ok := s.Consumer().NextReadSize(context.Background()); ok {
			cancel()
		}
	}()
	_, err := s.Read(ctx, 3)
	assert.ErrorIs(t, err, context.Canceled)

	// the late answer is never matched to a later read
	s.Consumer().ReportRead(protocol.ReadOk{Bytes: []byte("old")})
	within(t, wait, func() {
		_, err := s.Read(context.Background(), 3)
		assert.ErrorIs(t, err, io.EOF)
	})
	// the write side is unaffected
	assert.False(t, s.Producer().Closed())
}

func TestCancelWhileWaitingForSlotKeepsDirection(t *testing.T) {
	s := New("echo", peer(), Outbound)
	go func() { _, _ = s.Read(context.Background(), 1) }()
	_, ok := s.Consumer().NextReadSize(context.Background())
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Read(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Consumer().Closed())
	s.Consumer().ReportRead(protocol.ReadOk{Bytes: []byte{1}})
}

func TestReadWriteCloserAdapter(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx := context.Background()
	go func() {
		if _, ok := s.Consumer().NextReadSize(ctx); ok {
			s.Consumer().ReportRead(protocol.ReadOk{Bytes: []byte("hello world")})
		}
		if _, ok := s.Consumer().NextReadSize(ctx); ok {
			s.Consumer().ReportRead(protocol.ReadEos{})
		}
		for {
			b, ok := s.Producer().NextWriteBuffer(ctx)
			if !ok {
				return
			}
			if bytes.Equal(b, []byte("stop")) {
				s.Producer().ReportWrite(protocol.WriteEos{})
				continue
			}
			s.Producer().ReportWrite(protocol.WriteOk{})
		}
	}()

	rw := s.ReadWriteCloser(ctx)
	got, err := io.ReadAll(io.LimitReader(rw, 100))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	n, err := rw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = rw.Write([]byte("stop"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	require.NoError(t, rw.Close())
}

func TestStreamIdentity(t *testing.T) {
	s := New("/echo/1", peer(), Inbound)
	assert.Equal(t, "/echo/1", s.Protocol())
	assert.Equal(t, peer(), s.Node())
	assert.Equal(t, Inbound, s.Direction())
	assert.Contains(t, s.String(), "inbound")
	b, err := s.Read(context.Background(), 0)
	assert.NoError(t, err)
	assert.Nil(t, b)
}

func TestReadWriteCloserKeepsOversizedRead(t *testing.T) {
	s := New("echo", peer(), Outbound)
	ctx := context.Background()
	go func() {
		if _, ok := s.Consumer().NextReadSize(ctx); ok {
			s.Consumer().ReportRead(protocol.ReadOk{Bytes: []byte("abcde")})
		}
	}()
	rw := s.ReadWriteCloser(ctx)
	p := make([]byte, 2)
	for _, want := range []string{"ab", "cd", "e"} {
		n, err := rw.Read(p)
		require.NoError(t, err)
		assert.Equal(t, want, string(p[:n]))
	}
}

func TestDoneAfterBothDirectionsEnd(t *testing.T) {
	s := New("echo", peer(), Outbound)
	done := s.Done()
	s.Consumer().ReportRead(protocol.ReadEos{})
	select {
	case <-done:
		t.Fatal("done with the write side still open")
	case <-time.After(10 * time.Millisecond):
	}
	s.CloseWrite()
	select {
	case <-done:
	case <-time.After(wait):
		t.Fatal("done not closed")
	}
}

func TestDoneIsOneChannel(t *testing.T) {
	s := New("echo", peer(), Outbound)
	before := runtime.NumGoroutine()
	first := s.Done()
	for i := 0; i < 100; i++ {
		require.Equal(t, first, s.Done())
	}
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+1)

	require.NoError(t, s.Close())
	select {
	case <-first:
	case <-time.After(wait):
		t.Fatal("done not closed")
	}
}

package bridge

import (
	"context"
	"sync"

	"github.com/Acurast/acup2p/pkg/queue"
)

// Hub is a multi-subscriber broadcast with a replay ring. Publish never
// blocks: every subscriber owns an unbounded queue. A new subscriber first
// receives the retained values, then everything published after it joined,
// in publication order.
type Hub[T any] struct {
	mu     sync.Mutex
	ring   []T
	head   int // index of oldest retained value once the ring is full
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewHub returns a hub retaining the most recent replay values. A replay of
// zero retains nothing.
func NewHub[T any](replay int) *Hub[T] {
	if replay < 0 {
		replay = 0
	}
	return &Hub[T]{
		ring: make([]T, 0, replay),
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Publish delivers v to every current subscriber and retains it for replay.
// It reports false once the hub is closed.
func (h *Hub[T]) Publish(v T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.retain(v)
	for s := range h.subs {
		s.q.Push(v)
	}
	return true
}

func (h *Hub[T]) retain(v T) {
	switch {
	case cap(h.ring) == 0:
	case len(h.ring) < cap(h.ring):
		h.ring = append(h.ring, v)
	default:
		h.ring[h.head] = v
		h.head = (h.head + 1) % len(h.ring)
	}
}

// Subscribe registers a subscriber. On a closed hub the subscription yields
// the retained values and then ends.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{q: queue.New[T](), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < len(h.ring); i++ {
		s.q.Push(h.ring[(h.head+i)%len(h.ring)])
	}
	if h.closed {
		s.q.Close()
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close ends every subscription after its queued values drain. Idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.q.Close()
	}
	h.subs = nil
}

// Closed reports whether Close has been called.
func (h *Hub[T]) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Subscribers returns the number of live subscriptions.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub[T]) unsubscribe(s *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscription is one subscriber's view of a Hub.
type Subscription[T any] struct {
	q    *queue.Queue[T]
	hub  *Hub[T]
	once sync.Once
}

// Next blocks for the next value. ok is false once the hub is closed and the
// backlog drained, after Close, or when ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (v T, ok bool) {
	return s.q.Pop(ctx)
}

// Close detaches the subscription and drops its backlog. Idempotent.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
		s.q.Discard()
	})
}

// Channel pumps s into a channel until s ends or ctx is done, then closes the
// channel and the subscription.
func Channel[T any](ctx context.Context, s *Subscription[T]) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		defer s.Close()
		for {
			v, ok := s.Next(ctx)
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Merge fans several subscriptions into one channel. The channel closes once
// every subscription has ended or ctx is done.
func Merge[T any](ctx context.Context, subs ...*Subscription[T]) <-chan T {
	out := make(chan T)
	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscription[T]) {
			defer wg.Done()
			for v := range Channel(ctx, s) {
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

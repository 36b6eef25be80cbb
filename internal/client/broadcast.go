package client

import (
	"sync"

	"chat-realtime/internal/protocol"
)

// Broadcaster fans values out to every current subscriber. Values published
// before a subscriber joined are not replayed to it. Publishing never waits
// on a subscriber: a full subscription loses its oldest value.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	buffer int
}

func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{}), buffer: buffer}
}

// Subscription delivers values on C until Close, after which C is closed.
type Subscription[T any] struct {
	C <-chan T

	c       chan T
	done    chan struct{}
	once    sync.Once
	release func()
}

func newSubscription[T any](buffer int) *Subscription[T] {
	c := make(chan T, buffer)
	return &Subscription[T]{C: c, c: c, done: make(chan struct{})}
}

func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	sub := newSubscription[T](b.buffer)
	sub.release = func() {
		b.mu.Lock()
		delete(b.subs, sub)
		close(sub.c)
		b.mu.Unlock()
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish hands v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		sub.offer(v)
	}
}

// offer enqueues v, evicting the oldest buffered values while the buffer is
// full. An unbuffered subscription only receives v if a reader is waiting.
func (s *Subscription[T]) offer(v T) {
	for {
		select {
		case <-s.done:
			return
		case s.c <- v:
			return
		default:
		}
		if cap(s.c) == 0 {
			return
		}
		select {
		case <-s.c:
		default:
		}
	}
}

func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// project derives a filtered subscription from src. Closing the result
// closes src.
func project[T any](src *Subscription[protocol.Message], buffer int, pick func(protocol.Message) (T, bool)) *Subscription[T] {
	out := newSubscription[T](buffer)
	out.release = src.Close
	go func() {
		defer close(out.c)
		for m := range src.C {
			v, ok := pick(m)
			if !ok {
				continue
			}
			out.offer(v)
		}
	}()
	return out
}

func ofType[T protocol.Message](m protocol.Message) (T, bool) {
	v, ok := m.(T)
	return v, ok
}

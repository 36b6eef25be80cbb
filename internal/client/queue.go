package client

import (
	"sync"

	"chat-realtime/internal/protocol"
)

// outboundQueue is an unbounded FIFO with a single consumer. Ready fires
// after a push so the consumer can block without polling.
type outboundQueue struct {
	mu    sync.Mutex
	items []protocol.Message
	ready chan struct{}
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{ready: make(chan struct{}, 1)}
}

func (q *outboundQueue) Push(m protocol.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	q.signal()
}

// PushFront returns m to the head, ahead of anything queued after it.
func (q *outboundQueue) PushFront(m protocol.Message) {
	q.mu.Lock()
	q.items = append([]protocol.Message{m}, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *outboundQueue) TryPop() (protocol.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	m := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return m, true
}

func (q *outboundQueue) Ready() <-chan struct{} { return q.ready }

func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *outboundQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

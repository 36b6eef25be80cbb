package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/protocol"
)

func TestOutboundQueueKeepsOrder(t *testing.T) {
	q := newOutboundQueue()
	q.Push(protocol.Typing{ChatID: "a"})
	q.Push(protocol.Typing{ChatID: "b"})
	q.PushFront(protocol.Typing{ChatID: "retry"})
	assert.Equal(t, 3, q.Len())

	var got []string
	for {
		m, ok := q.TryPop()
		if !ok {
			break
		}
		got = append(got, m.Chat())
	}
	assert.Equal(t, []string{"retry", "a", "b"}, got)
}

func TestOutboundQueueSignalsReady(t *testing.T) {
	q := newOutboundQueue()
	select {
	case <-q.Ready():
		t.Fatal("empty queue should not be ready")
	default:
	}

	q.Push(protocol.Typing{ChatID: "a"})
	q.Push(protocol.Typing{ChatID: "b"})
	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal")
	}
	_, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, q.Len())
}

package client

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"chat-realtime/internal/protocol"
)

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrNotPending   = errors.New("message is not pending")
)

// Entry is one line of the local conversation view.
type Entry struct {
	MessageID string
	ChatID    string
	SenderID  string
	Content   string
	Seq       int64
	// SentAt is the server timestamp; zero while Pending.
	SentAt    time.Time
	Pending   bool
}

// Sender hands messages to the transport. *Manager satisfies it.
type Sender interface {
	Send(msg protocol.Message)
}

// Reconciler merges optimistic sends with server echoes for one chat. All
// mutation happens on the goroutine running Run; other methods hand work to
// it.
type Reconciler struct {
	chatID string
	userID string
	sender Sender

	ops     chan func()
	changes *Broadcaster[[]Entry]
	latest  atomic.Pointer[[]Entry]

	// owned by Run
	entries []Entry
	index   map[string]int
	pending map[string]struct{}
}

func NewReconciler(chatID, userID string, sender Sender) *Reconciler {
	r := &Reconciler{
		chatID:  chatID,
		userID:  userID,
		sender:  sender,
		ops:     make(chan func()),
		changes: NewBroadcaster[[]Entry](16),
		index:   make(map[string]int),
		pending: make(map[string]struct{}),
	}
	empty := []Entry{}
	r.latest.Store(&empty)
	return r
}

// Run applies submissions and inbound echoes until ctx ends or inbound is
// closed.
func (r *Reconciler) Run(ctx context.Context, inbound <-chan protocol.ChatMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-r.ops:
			op()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			r.reconcile(msg)
		}
	}
}

// Submit adds a pending entry for content and sends it. The returned entry
// carries the generated message id.
func (r *Reconciler) Submit(ctx context.Context, content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, ErrEmptyContent
	}
	entry := Entry{
		MessageID: protocol.NewID(),
		ChatID:    r.chatID,
		SenderID:  r.userID,
		Content:   content,
		Pending:   true,
	}

	err := r.do(ctx, func() error {
		r.index[entry.MessageID] = len(r.entries)
		r.entries = append(r.entries, entry)
		r.pending[entry.MessageID] = struct{}{}
		r.publish()
		return nil
	})
	if err != nil {
		return Entry{}, err
	}

	r.sender.Send(protocol.ChatMessage{
		ChatID:    entry.ChatID,
		MessageID: entry.MessageID,
		SenderID:  entry.SenderID,
		Content:   entry.Content,
	})
	return entry, nil
}

// Drop removes a pending entry that will never be confirmed.
func (r *Reconciler) Drop(ctx context.Context, messageID string) error {
	return r.do(ctx, func() error {
		if _, ok := r.pending[messageID]; !ok {
			return ErrNotPending
		}
		delete(r.pending, messageID)
		idx := r.index[messageID]
		r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
		r.reindex()
		r.publish()
		return nil
	})
}

// Snapshot returns a copy of the current view.
func (r *Reconciler) Snapshot() []Entry {
	cur := *r.latest.Load()
	out := make([]Entry, len(cur))
	copy(out, cur)
	return out
}

// PendingCount reports how many sends await their echo.
func (r *Reconciler) PendingCount() int {
	n := 0
	for _, e := range *r.latest.Load() {
		if e.Pending {
			n++
		}
	}
	return n
}

// Changes streams a snapshot after every mutation. A subscriber that falls
// behind loses older snapshots, never the latest one.
func (r *Reconciler) Changes() *Subscription[[]Entry] { return r.changes.Subscribe() }

func (r *Reconciler) do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	op := func() { result <- fn() }
	select {
	case r.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-result
}

func (r *Reconciler) reconcile(msg protocol.ChatMessage) {
	if msg.ChatID != r.chatID {
		return
	}
	confirmed := Entry{
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Content:   msg.Content,
		Seq:       msg.Seq,
	}
	if msg.SentAt != nil {
		confirmed.SentAt = *msg.SentAt
	}

	idx, known := r.index[msg.MessageID]
	if known {
		r.entries[idx] = confirmed
		delete(r.pending, msg.MessageID)
	} else {
		r.index[msg.MessageID] = len(r.entries)
		r.entries = append(r.entries, confirmed)
	}
	r.publish()

	if !known && msg.SenderID != r.userID {
		r.sender.Send(protocol.ReadReceipt{ChatID: msg.ChatID, MessageID: msg.MessageID})
	}
}

func (r *Reconciler) reindex() {
	for id := range r.index {
		delete(r.index, id)
	}
	for i, e := range r.entries {
		r.index[e.MessageID] = i
	}
}

func (r *Reconciler) publish() {
	snap := make([]Entry, len(r.entries))
	copy(snap, r.entries)
	r.latest.Store(&snap)
	r.changes.Publish(snap)
}

package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"chat-realtime/internal/protocol"
)

const writeWait = 10 * time.Second

var errSuperseded = errors.New("connection attempt superseded")

// Config controls a Manager. Zero durations take the defaults below.
type Config struct {
	URL          string
	Tokens       TokenSource
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	// MaxAttempts bounds consecutive reconnects; negative means unbounded.
	MaxAttempts  int
	PingInterval time.Duration
	PongWait     time.Duration
	Dialer       *websocket.Dialer
	// Buffer sizes subscriber channels.
	Buffer int
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 2 * c.PingInterval
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	if c.Tokens == nil {
		c.Tokens = StaticToken("")
	}
}

// Manager keeps one authenticated connection to the chat server, reconnecting
// with exponential backoff. Outbound messages are queued while disconnected
// and written in submission order once a session is up.
type Manager struct {
	cfg     Config
	queue   *outboundQueue
	inbound *Broadcaster[protocol.Message]
	states  *Broadcaster[State]
	state   atomic.Int32

	mu         sync.Mutex
	gen        uint64
	running    bool
	attempting bool
	timer      *time.Timer
	cancel     context.CancelFunc
	baseCtx    context.Context
	policy     *reconnectPolicy

	// writerMu keeps a single queue consumer across overlapping sessions.
	writerMu sync.Mutex
}

func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:     cfg,
		queue:   newOutboundQueue(),
		inbound: NewBroadcaster[protocol.Message](cfg.Buffer),
		states:  NewBroadcaster[State](cfg.Buffer),
		policy:  newReconnectPolicy(cfg.BaseDelay, cfg.MaxDelay, cfg.MaxAttempts),
	}
}

func (m *Manager) State() State { return State(m.state.Load()) }

// States streams transitions from the moment of subscription.
func (m *Manager) States() *Subscription[State] { return m.states.Subscribe() }

// Messages streams every decoded inbound message.
func (m *Manager) Messages() *Subscription[protocol.Message] { return m.inbound.Subscribe() }

func (m *Manager) ChatMessages() *Subscription[protocol.ChatMessage] {
	return project(m.inbound.Subscribe(), m.cfg.Buffer, ofType[protocol.ChatMessage])
}

func (m *Manager) ReadReceipts() *Subscription[protocol.ReadReceipt] {
	return project(m.inbound.Subscribe(), m.cfg.Buffer, ofType[protocol.ReadReceipt])
}

func (m *Manager) Typing() *Subscription[protocol.Typing] {
	return project(m.inbound.Subscribe(), m.cfg.Buffer, ofType[protocol.Typing])
}

// Reactions carries both reaction and remove_reaction.
func (m *Manager) Reactions() *Subscription[protocol.Message] {
	return project(m.inbound.Subscribe(), m.cfg.Buffer, func(msg protocol.Message) (protocol.Message, bool) {
		switch msg.(type) {
		case protocol.Reaction, protocol.RemoveReaction:
			return msg, true
		}
		return nil, false
	})
}

// Membership carries join_chat and leave_chat.
func (m *Manager) Membership() *Subscription[protocol.Message] {
	return project(m.inbound.Subscribe(), m.cfg.Buffer, func(msg protocol.Message) (protocol.Message, bool) {
		switch msg.(type) {
		case protocol.JoinChat, protocol.LeaveChat:
			return msg, true
		}
		return nil, false
	})
}

// Send queues msg for delivery. It never blocks.
func (m *Manager) Send(msg protocol.Message) {
	if msg == nil {
		return
	}
	m.queue.Push(msg)
}

// Pending reports how many messages wait for a session.
func (m *Manager) Pending() int { return m.queue.Len() }

// Connect starts connecting unless a connection or attempt is already
// active. It also restarts a manager that gave up after MaxAttempts.
// Cancelling ctx has the effect of Disconnect.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running && (m.attempting || m.timer != nil) {
		return
	}
	m.running = true
	m.gen++
	m.baseCtx = ctx
	m.policy.reset()
	m.startAttemptLocked()
}

// Disconnect stops the active session and any pending reconnect. It is safe
// to call from any state and more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.running = false
	m.attempting = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.setStateLocked(StateDisconnected)
}

// setStateLocked records s. Publish never blocks, so holding m.mu keeps
// subscribers seeing transitions in order.
func (m *Manager) setStateLocked(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	m.states.Publish(s)
}

func (m *Manager) startAttemptLocked() {
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancel = cancel
	m.attempting = true
	m.setStateLocked(StateConnecting)
	go m.run(ctx, m.gen)
}

func (m *Manager) run(ctx context.Context, gen uint64) {
	err := m.session(ctx, gen)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.attempting = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.baseCtx.Err() != nil {
		m.gen++
		m.running = false
		m.setStateLocked(StateDisconnected)
		return
	}

	log.Printf("chat connection lost url=%s: %v", m.cfg.URL, err)
	m.setStateLocked(StateError)
	m.scheduleLocked()
}

// scheduleLocked arms the reconnect timer. At most one timer or attempt
// exists at a time.
func (m *Manager) scheduleLocked() {
	if !m.running || m.timer != nil || m.attempting {
		return
	}
	delay, attempt, ok := m.policy.next()
	if !ok {
		log.Printf("chat reconnect gave up url=%s attempts=%d", m.cfg.URL, attempt)
		return
	}
	log.Printf("chat reconnect scheduled url=%s attempt=%d delay=%s", m.cfg.URL, attempt, delay)

	gen := m.gen
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if gen != m.gen || !m.running {
			return
		}
		m.timer = nil
		m.startAttemptLocked()
	})
}

func (m *Manager) markConnected(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.policy.reset()
	m.setStateLocked(StateConnected)
	return true
}

func (m *Manager) session(ctx context.Context, gen uint64) error {
	token, err := m.cfg.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	if token == "" {
		return ErrNoToken
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := m.cfg.Dialer.DialContext(ctx, m.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if !m.markConnected(gen) {
		return errSuperseded
	}
	log.Printf("chat connected url=%s", m.cfg.URL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.readLoop(gctx, conn) })
	g.Go(func() error { return m.writeLoop(gctx, conn) })
	return g.Wait()
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	extend := func() { conn.SetReadDeadline(time.Now().Add(m.cfg.PongWait)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		extend()
		if kind != websocket.TextMessage {
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("chat dropped inbound frame: %v", err)
			continue
		}
		m.inbound.Publish(msg)
	}
}

// writeLoop drains the queue onto conn. A message whose write fails goes
// back to the head of the queue for the next session.
func (m *Manager) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	m.writerMu.Lock()
	defer m.writerMu.Unlock()
	defer conn.Close()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if msg, ok := m.queue.TryPop(); ok {
			payload, err := protocol.Encode(msg)
			if err != nil {
				log.Printf("chat skipped unencodable %s: %v", msg.Type(), err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				m.queue.PushFront(msg)
				return fmt.Errorf("write: %w", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()
		case <-m.queue.Ready():
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

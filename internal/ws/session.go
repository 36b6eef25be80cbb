package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Session is one live transport of an authenticated user. Outbound frames go
// through a bounded buffer drained by writePump; a session whose buffer
// fills up is closed.
type Session struct {
	info ConnInfo
	conn *websocket.Conn
	send chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSession wraps conn. conn may be nil for sessions that are only buffered,
// which tests use to observe fan-out.
func NewSession(info ConnInfo, conn *websocket.Conn, buffer int) *Session {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		info:   info,
		conn:   conn,
		send:   make(chan []byte, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Session) ID() string               { return s.info.ConnID }
func (s *Session) UserID() string           { return s.info.UserID }
func (s *Session) Info() ConnInfo           { return s.info }
func (s *Session) Context() context.Context { return s.ctx }

// Outbound exposes the buffered frames; intended for tests and for the
// write pump.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Enqueue queues payload without blocking. It reports false when the session
// is closed or its buffer is full, in which case the session is closed.
func (s *Session) Enqueue(payload []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	select {
	case s.send <- payload:
		return true
	default:
		log.Printf("ws session buffer full, closing conn_id=%s user_id=%s", s.info.ConnID, s.info.UserID)
		s.Close()
		return false
	}
}

// Close cancels the session context and closes the transport. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("websocket write error conn_id=%s: %v", s.info.ConnID, err)
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

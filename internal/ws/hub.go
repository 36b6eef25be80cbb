package ws

import (
	"sync"

	"chat-realtime/internal/observability"
)

// Hub tracks live sessions per user. Each user's set has its own lock, so
// registrations and deliveries for different users never contend.
type Hub struct {
	users sync.Map // user id -> *userSessions
}

type userSessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// retired is set once the entry has been removed from users; a writer
	// holding a retired entry must load a fresh one.
	retired bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Add registers a session for its user. Multiple sessions of one user are
// kept side by side and all receive fan-out.
func (h *Hub) Add(s *Session) {
	for {
		v, _ := h.users.LoadOrStore(s.UserID(), &userSessions{sessions: make(map[string]*Session)})
		us := v.(*userSessions)
		us.mu.Lock()
		if us.retired {
			us.mu.Unlock()
			continue
		}
		us.sessions[s.ID()] = s
		us.mu.Unlock()
		return
	}
}

// Remove unregisters a session. Other sessions of the same user are untouched.
func (h *Hub) Remove(s *Session) {
	v, ok := h.users.Load(s.UserID())
	if !ok {
		return
	}
	us := v.(*userSessions)
	us.mu.Lock()
	defer us.mu.Unlock()
	if current, ok := us.sessions[s.ID()]; ok && current == s {
		delete(us.sessions, s.ID())
	}
	if len(us.sessions) == 0 && !us.retired {
		us.retired = true
		h.users.Delete(s.UserID())
	}
}

// Sessions returns a snapshot of the user's live sessions.
func (h *Hub) Sessions(userID string) []*Session {
	v, ok := h.users.Load(userID)
	if !ok {
		return nil
	}
	us := v.(*userSessions)
	us.mu.Lock()
	defer us.mu.Unlock()
	out := make([]*Session, 0, len(us.sessions))
	for _, s := range us.sessions {
		out = append(out, s)
	}
	return out
}

// Deliver enqueues payload on every live session of userID except the one
// with id exceptSessionID, and returns how many sessions accepted it.
// Sessions that cannot accept are dropped from the hub.
func (h *Hub) Deliver(userID string, payload []byte, exceptSessionID string) int {
	delivered := 0
	for _, s := range h.Sessions(userID) {
		if exceptSessionID != "" && s.ID() == exceptSessionID {
			continue
		}
		if s.Enqueue(payload) {
			delivered++
			observability.IncFanout("delivered")
			continue
		}
		observability.IncFanout("dropped")
		h.Remove(s)
	}
	return delivered
}

// Count returns the number of live sessions across all users.
func (h *Hub) Count() int {
	total := 0
	h.users.Range(func(_, v any) bool {
		us := v.(*userSessions)
		us.mu.Lock()
		total += len(us.sessions)
		us.mu.Unlock()
		return true
	})
	return total
}

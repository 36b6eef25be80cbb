package ws

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-realtime/internal/observability"
)

// ConnInfo describes one authenticated realtime session.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Headers returns the AMQP headers attached to lifecycle events.
func (i ConnInfo) Headers() map[string]string {
	headers := observability.BuildHeaders(i.RequestID, i.TraceID)
	headers["x-conn-id"] = i.ConnID
	return headers
}

func newConnID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

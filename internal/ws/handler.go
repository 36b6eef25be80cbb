package ws

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/protocol"
)

const eventsRoutingKey = "ws_events.chats"

// MessageRouter applies inbound frames on behalf of an authenticated session.
type MessageRouter interface {
	Attach(ctx context.Context, userID string) ([]string, error)
	Handle(ctx context.Context, sessionID, userID string, msg protocol.Message) error
}

// Handler serves the realtime endpoint.
type Handler struct {
	hub        *Hub
	router     MessageRouter
	validator  auth.TokenValidator
	bufferSize int
}

// NewHandler constructs a Handler. bufferSize bounds each session's outbound
// queue; zero uses the session default.
func NewHandler(hub *Hub, router MessageRouter, validator auth.TokenValidator, bufferSize int) *Handler {
	return &Handler{hub: hub, router: router, validator: validator, bufferSize: bufferSize}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the connection.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			header = "Bearer " + token
		}
	}
	token, err := auth.BearerToken(header)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.validator.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	chats, err := h.router.Attach(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	sess := NewSession(info, conn, h.bufferSize)
	h.hub.Add(sess)

	log.Printf("ws connected conn_id=%s user_id=%s chats=%d", info.ConnID, userID, len(chats))
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(context.Background(), "ws_connect", info, "")

	go sess.writePump()
	go h.readPump(sess)
}

func (h *Handler) readPump(sess *Session) {
	info := sess.Info()
	var closeReason string
	defer func() {
		h.hub.Remove(sess)
		sess.Close()
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishLifecycle(context.Background(), "ws_disconnect", info, closeReason)
		log.Printf("ws disconnected conn_id=%s user_id=%s reason=%q", info.ConnID, info.UserID, closeReason)
	}()

	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := sess.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishLifecycle(context.Background(), "ws_error", info, closeReason)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			observability.IncProtocolError()
			log.Printf("ws dropped frame conn_id=%s: %v", info.ConnID, err)
			continue
		}

		if err := h.router.Handle(sess.Context(), sess.ID(), sess.UserID(), msg); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ws %s not applied conn_id=%s chat_id=%s: %v", msg.Type(), info.ConnID, msg.Chat(), err)
		}
	}
}

func publishLifecycle(ctx context.Context, event string, info ConnInfo, reason string) {
	var durationMS int64
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, eventsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, info.Headers())
}

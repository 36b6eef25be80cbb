package notify

import (
	"context"
	"fmt"
	"time"

	"chat-realtime/internal/protocol"
)

// Notifier hands an event to the push pipeline for a participant that had no
// live session when it was fanned out.
type Notifier interface {
	NotifyOffline(ctx context.Context, userID string, event protocol.Message) error
}

// Publisher is the subset of rabbitmq.Publisher used here.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// PushRequest is the body consumed by the push-notification service.
type PushRequest struct {
	UserID      string           `json:"user_id"`
	ChatID      string           `json:"chat_id"`
	EventType   string           `json:"event_type"`
	Event       protocol.Message `json:"event"`
	RequestedAt time.Time        `json:"requested_at"`
}

// AMQPNotifier publishes push requests with routing key "push.<event type>".
type AMQPNotifier struct {
	publisher Publisher
}

func NewAMQPNotifier(publisher Publisher) *AMQPNotifier {
	return &AMQPNotifier{publisher: publisher}
}

func (n *AMQPNotifier) NotifyOffline(ctx context.Context, userID string, event protocol.Message) error {
	req := PushRequest{
		UserID:      userID,
		ChatID:      event.Chat(),
		EventType:   string(event.Type()),
		Event:       event,
		RequestedAt: time.Now().UTC(),
	}
	if err := n.publisher.Publish(ctx, "push."+string(event.Type()), req, map[string]string{"user_id": userID}); err != nil {
		return fmt.Errorf("publish push request: %w", err)
	}
	return nil
}

// Nop discards push requests.
type Nop struct{}

func (Nop) NotifyOffline(context.Context, string, protocol.Message) error { return nil }

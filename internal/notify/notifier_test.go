package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/mocks"
	"chat-realtime/internal/protocol"
)

func TestNotifyOfflinePublishesPushRequest(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	n := NewAMQPNotifier(publisher)
	event := protocol.ChatMessage{ChatID: "c1", MessageID: "m1", SenderID: "u1", Content: "hi", Seq: 3}

	publisher.On("Publish", mock.Anything, "push.chat_message", mock.MatchedBy(func(v any) bool {
		req, ok := v.(PushRequest)
		return ok && req.UserID == "u2" && req.ChatID == "c1" && req.EventType == "chat_message"
	}), map[string]string{"user_id": "u2"}).Return(nil).Once()

	assert.NoError(t, n.NotifyOffline(context.Background(), "u2", event))
	publisher.AssertExpectations(t)
	assert.Len(t, publisher.Published("push.chat_message"), 1)
}

func TestNotifyOfflineWrapsPublishError(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError).Once()

	err := NewAMQPNotifier(publisher).NotifyOffline(context.Background(), "u2", protocol.ChatMessage{ChatID: "c1"})
	assert.ErrorIs(t, err, assert.AnError)
}

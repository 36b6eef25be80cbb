package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/mocks"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.router", "chat-realtime", "test")

	publisher.On("Publish", mock.Anything, "audit.router", mock.MatchedBy(func(event any) bool {
		env, ok := event.(AuditEnvelope)
		return ok && env.EventType == "audit_log" && env.UserID == "u1" && env.Payload.ChatID == "c1"
	}), mock.Anything).Return(nil).Once()

	emitter.Emit(context.Background(), "s1", "u1", AuditPayload{Level: "WARN", Text: "rejected", ChatID: "c1"})
	publisher.AssertExpectations(t)
}

func TestNilAuditEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "", "", AuditPayload{})
	})
	assert.Nil(t, emitter)
}

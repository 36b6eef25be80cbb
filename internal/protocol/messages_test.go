package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAddsTypeDiscriminator(t *testing.T) {
	raw, err := Encode(ChatMessage{ChatID: "c1", MessageID: "m1", SenderID: "u1", Content: "hi"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "chat_message", fields["type"])
	assert.Equal(t, "c1", fields["chat_id"])
	assert.Equal(t, "m1", fields["message_id"])
	_, hasSentAt := fields["sent_at"]
	assert.False(t, hasSentAt, "client sends omit sent_at")
	_, hasSeq := fields["seq"]
	assert.False(t, hasSeq)
}

func TestDecodeServerEcho(t *testing.T) {
	frame := []byte(`{"type":"chat_message","chat_id":"c1","message_id":"m1","sender_id":"u1","content":"hi","seq":4,"sent_at":"2024-05-01T10:00:00Z"}`)

	msg, err := Decode(frame)
	require.NoError(t, err)

	chat, ok := msg.(ChatMessage)
	require.True(t, ok)
	assert.Equal(t, int64(4), chat.Seq)
	require.NotNil(t, chat.SentAt)
	assert.True(t, chat.SentAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeEachVariant(t *testing.T) {
	cases := map[string]MessageType{
		`{"type":"join_chat","chat_id":"c","user_id":"u"}`:                                                 TypeJoinChat,
		`{"type":"leave_chat","chat_id":"c","user_id":"u"}`:                                                TypeLeaveChat,
		`{"type":"reaction","chat_id":"c","reaction_id":"r","message_id":"m","reaction_code":"like"}`:        TypeReaction,
		`{"type":"remove_reaction","chat_id":"c","reaction_id":"r","message_id":"m","reaction_code":"like"}`: TypeRemoveReaction,
		`{"type":"typing","chat_id":"c","is_typing":true}`:                                                 TypeTyping,
		`{"type":"read_receipt","chat_id":"c","message_id":"m"}`:                                           TypeReadReceipt,
	}
	for frame, want := range cases {
		msg, err := Decode([]byte(frame))
		require.NoError(t, err, frame)
		assert.Equal(t, want, msg.Type())
		assert.Equal(t, "c", msg.Chat())
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"chat_message","content":"x"}`))
	assert.ErrorIs(t, err, ErrMissingChatID)

	_, err = Decode([]byte(`{"type":"presence","chat_id":"c"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"type":"typing","chat_id":"c","is_typing":"yes"}`))
	assert.Error(t, err)
}

func TestNewIDIsUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		id := NewID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the variant carried by a WebSocket frame.
type MessageType string

const (
	TypeChatMessage    MessageType = "chat_message"
	TypeJoinChat       MessageType = "join_chat"
	TypeLeaveChat      MessageType = "leave_chat"
	TypeReaction       MessageType = "reaction"
	TypeRemoveReaction MessageType = "remove_reaction"
	TypeTyping         MessageType = "typing"
	TypeReadReceipt    MessageType = "read_receipt"
)

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrMissingChatID = errors.New("missing chat_id")
)

// Message is the closed set of variants exchanged over the connection.
// Fields documented as server-populated are left empty by clients and filled
// in on echoes.
type Message interface {
	Type() MessageType
	Chat() string
	sealed()
}

// ChatMessage carries user content. Seq and SentAt are assigned on persistence.
type ChatMessage struct {
	ChatID    string     `json:"chat_id"`
	MessageID string     `json:"message_id"`
	SenderID  string     `json:"sender_id"`
	Content   string     `json:"content"`
	Seq       int64      `json:"seq,omitempty"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// JoinChat announces a participant joining a group chat.
type JoinChat struct {
	ChatID   string     `json:"chat_id"`
	UserID   string     `json:"user_id"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

// LeaveChat announces a participant leaving a group chat.
type LeaveChat struct {
	ChatID string     `json:"chat_id"`
	UserID string     `json:"user_id"`
	LeftAt *time.Time `json:"left_at,omitempty"`
}

// Reaction applies a catalog reaction to a message.
type Reaction struct {
	ChatID       string     `json:"chat_id"`
	ReactionID   string     `json:"reaction_id"`
	MessageID    string     `json:"message_id"`
	UserID       string     `json:"user_id,omitempty"`
	ReactionCode string     `json:"reaction_code"`
	ReactedAt    *time.Time `json:"reacted_at,omitempty"`
}

// RemoveReaction withdraws a previously applied reaction.
type RemoveReaction struct {
	ChatID       string     `json:"chat_id"`
	ReactionID   string     `json:"reaction_id"`
	MessageID    string     `json:"message_id"`
	UserID       string     `json:"user_id,omitempty"`
	ReactionCode string     `json:"reaction_code"`
	RemovedAt    *time.Time `json:"removed_at,omitempty"`
}

// Typing is ephemeral and never persisted.
type Typing struct {
	ChatID    string     `json:"chat_id"`
	UserID    string     `json:"user_id,omitempty"`
	IsTyping  bool       `json:"is_typing"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ReadReceipt reports that a user has seen a message.
type ReadReceipt struct {
	ChatID    string     `json:"chat_id"`
	UserID    string     `json:"user_id,omitempty"`
	MessageID string     `json:"message_id"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

func (ChatMessage) Type() MessageType    { return TypeChatMessage }
func (JoinChat) Type() MessageType       { return TypeJoinChat }
func (LeaveChat) Type() MessageType      { return TypeLeaveChat }
func (Reaction) Type() MessageType       { return TypeReaction }
func (RemoveReaction) Type() MessageType { return TypeRemoveReaction }
func (Typing) Type() MessageType         { return TypeTyping }
func (ReadReceipt) Type() MessageType    { return TypeReadReceipt }

func (m ChatMessage) Chat() string    { return m.ChatID }
func (m JoinChat) Chat() string       { return m.ChatID }
func (m LeaveChat) Chat() string      { return m.ChatID }
func (m Reaction) Chat() string       { return m.ChatID }
func (m RemoveReaction) Chat() string { return m.ChatID }
func (m Typing) Chat() string         { return m.ChatID }
func (m ReadReceipt) Chat() string    { return m.ChatID }

func (ChatMessage) sealed()    {}
func (JoinChat) sealed()       {}
func (LeaveChat) sealed()      {}
func (Reaction) sealed()       {}
func (RemoveReaction) sealed() {}
func (Typing) sealed()         {}
func (ReadReceipt) sealed()    {}

// Each variant marshals flat, with the discriminator next to its fields.

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	type body ChatMessage
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		body
	}{TypeChatMessage, body(m)})
}

func (m JoinChat) MarshalJSON() ([]byte, error) {
	type body JoinChat
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		body
	}{TypeJoinChat, body(m)})
}

func (m LeaveChat) MarshalJSON() ([]byte, error) {
	type body LeaveChat
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		body
	}{TypeLeaveChat, body(m)})
}

func (m Reaction) MarshalJSON() ([]byte, error) {
	type body Reaction
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		body
	}{TypeReaction, body(m)})
}

func (m RemoveReaction) MarshalJSON() ([]byte, error) {
	type body RemoveReaction
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		body
	}{TypeRemoveReaction, body(m)})
}

func (m Typing) MarshalJSON() ([]byte, error) {
	type body Typing
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		body
	}{TypeTyping, body(m)})
}

func (m ReadReceipt) MarshalJSON() ([]byte, error) {
	type body ReadReceipt
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		body
	}{TypeReadReceipt, body(m)})
}

// Encode serializes a message into a text frame payload.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.New("encode nil message")
	}
	return json.Marshal(m)
}

// Decode parses a text frame against its type discriminator.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type   MessageType `json:"type"`
		ChatID string      `json:"chat_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if head.ChatID == "" {
		return nil, ErrMissingChatID
	}

	switch head.Type {
	case TypeChatMessage:
		return decodeAs[ChatMessage](data)
	case TypeJoinChat:
		return decodeAs[JoinChat](data)
	case TypeLeaveChat:
		return decodeAs[LeaveChat](data)
	case TypeReaction:
		return decodeAs[Reaction](data)
	case TypeRemoveReaction:
		return decodeAs[RemoveReaction](data)
	case TypeTyping:
		return decodeAs[Typing](data)
	case TypeReadReceipt:
		return decodeAs[ReadReceipt](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Type(), err)
	}
	return m, nil
}

// NewID returns a random identifier for client-generated message and
// reaction ids.
func NewID() string {
	return uuid.NewString()
}

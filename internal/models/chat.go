package models

import "time"

// Chat is a direct (exactly two participants) or group conversation.
type Chat struct {
	ID        string    `db:"id" json:"id"`
	Name      *string   `db:"name" json:"name,omitempty"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	LastSeq   int64     `db:"last_seq" json:"last_seq"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Participant links a user to a chat.
type Participant struct {
	ChatID   string    `db:"chat_id" json:"chat_id"`
	UserID   string    `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// ChatSummary provides API-friendly view of a chat for a user.
type ChatSummary struct {
	Chat
	Participants []string `json:"participants"`
}

package models

import "time"

// Message is a persisted chat message. ID is generated by the client and
// doubles as the reconciliation key; Seq and SentAt are assigned by the store.
type Message struct {
	ID       string    `db:"id" json:"id"`
	ChatID   string    `db:"chat_id" json:"chat_id"`
	SenderID string    `db:"sender_id" json:"sender_id"`
	Content  string    `db:"content" json:"content"`
	Seq      int64     `db:"seq" json:"seq"`
	SentAt   time.Time `db:"sent_at" json:"sent_at"`
}

// NewMessage is the input to an append; it carries no server fields.
type NewMessage struct {
	ID       string
	ChatID   string
	SenderID string
	Content  string
}

// Reaction is unique per (message, user, code).
type Reaction struct {
	ID        string    `db:"id" json:"id"`
	MessageID string    `db:"message_id" json:"message_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Code      string    `db:"code" json:"reaction_code"`
	ReactedAt time.Time `db:"reacted_at" json:"reacted_at"`
}

// ReadReceipt holds the highest sequence a user has read in a chat.
type ReadReceipt struct {
	UserID      string    `db:"user_id" json:"user_id"`
	ChatID      string    `db:"chat_id" json:"chat_id"`
	LastReadSeq int64     `db:"last_read_seq" json:"last_read_seq"`
	ReadAt      time.Time `db:"read_at" json:"read_at"`
}

var reactionCatalog = []string{"like", "love", "laugh", "wow", "sad", "angry"}

// IsKnownReaction reports whether code belongs to the fixed reaction catalog.
func IsKnownReaction(code string) bool {
	for _, c := range reactionCatalog {
		if c == code {
			return true
		}
	}
	return false
}

// ReactionCodes returns a copy of the catalog.
func ReactionCodes() []string {
	return append([]string(nil), reactionCatalog...)
}

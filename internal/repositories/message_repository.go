package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var (
	ErrMessageNotFound   = errors.New("message not found")
	ErrEmptyContent      = errors.New("message content is empty")
	ErrMessageIDConflict = errors.New("message id already used in another chat")
)

// DefaultHistoryLimit caps ListMessagesAfter when no limit is given.
const DefaultHistoryLimit = 100

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	// AppendMessage assigns the next sequence number of the chat and stores the
	// message in one atomic unit. Re-appending a known message id returns the
	// stored row with created=false and allocates nothing.
	AppendMessage(ctx context.Context, msg models.NewMessage) (stored models.Message, created bool, err error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessagesAfter(ctx context.Context, chatID string, afterSeq int64, limit int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, content, seq, sent_at`

// AppendMessage increments the per-chat counter and inserts the message in a
// single transaction. The UPDATE takes the chat row lock, so appends to one
// chat are serialized while different chats proceed in parallel.
func (r *MessageRepo) AppendMessage(ctx context.Context, msg models.NewMessage) (models.Message, bool, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return models.Message{}, false, ErrEmptyContent
	}

	stored, created, err := r.appendTx(ctx, msg)
	if err != nil && isUniqueViolation(err) {
		// A concurrent append of the same id committed first.
		existing, getErr := r.GetMessage(ctx, msg.ID)
		if getErr != nil {
			return models.Message{}, false, getErr
		}
		if existing.ChatID != msg.ChatID {
			return models.Message{}, false, ErrMessageIDConflict
		}
		return existing, false, nil
	}
	return stored, created, err
}

func (r *MessageRepo) appendTx(ctx context.Context, msg models.NewMessage) (stored models.Message, created bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var existing models.Message
	err = tx.GetContext(ctx, &existing, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, msg.ID)
	switch {
	case err == nil:
		if existing.ChatID != msg.ChatID {
			err = ErrMessageIDConflict
			return models.Message{}, false, err
		}
		return existing, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return models.Message{}, false, err
	}

	var seq int64
	err = tx.QueryRowxContext(ctx, `UPDATE chats SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`, msg.ChatID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrChatNotFound
		return models.Message{}, false, err
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("allocate seq: %w", err)
	}

	// sent_at is read after the row lock so it follows seq order.
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (id, chat_id, sender_id, content, seq, sent_at) VALUES ($1, $2, $3, $4, $5, clock_timestamp())
        RETURNING `+messageColumns, msg.ID, msg.ChatID, msg.SenderID, msg.Content, seq).StructScan(&stored)
	if err != nil {
		return models.Message{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return models.Message{}, false, err
	}
	return stored, true, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessagesAfter returns messages with seq > afterSeq in sequence order.
func (r *MessageRepo) ListMessagesAfter(ctx context.Context, chatID string, afterSeq int64, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE chat_id=$1 AND seq > $2 ORDER BY seq ASC LIMIT $3`, chatID, afterSeq, limit)
	return msgs, err
}

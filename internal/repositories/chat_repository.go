package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var (
	ErrChatNotFound         = errors.New("chat not found")
	ErrInvalidParticipants  = errors.New("direct chat needs exactly two distinct participants")
	ErrAlreadyParticipant   = errors.New("user already a participant")
	ErrNotParticipant       = errors.New("user is not a participant")
	ErrDirectChatMembership = errors.New("direct chat membership is fixed")
)

// ChatRepository abstracts chat and participant persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, name *string, isGroup bool, participantIDs []string) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	IsParticipant(ctx context.Context, chatID string, userID string) (bool, error)
	ListParticipants(ctx context.Context, chatID string) ([]string, error)
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	AddParticipant(ctx context.Context, chatID string, userID string) (models.Participant, error)
	RemoveParticipant(ctx context.Context, chatID string, userID string) error
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `c.id, c.name, c.is_group, c.last_seq, c.created_at`

// CreateChat creates a chat with its participants atomically. A direct chat
// between two users that already exists is returned instead of duplicated.
func (r *ChatRepo) CreateChat(ctx context.Context, name *string, isGroup bool, participantIDs []string) (models.Chat, error) {
	ids := dedupe(participantIDs)
	if !isGroup && len(ids) != 2 {
		return models.Chat{}, ErrInvalidParticipants
	}
	if isGroup && len(ids) == 0 {
		return models.Chat{}, ErrInvalidParticipants
	}

	if !isGroup {
		var existing models.Chat
		err := r.db.GetContext(ctx, &existing, `SELECT `+chatColumns+` FROM chats c
            JOIN chat_participants a ON a.chat_id = c.id AND a.user_id = $1
            JOIN chat_participants b ON b.chat_id = c.id AND b.user_id = $2
            WHERE c.is_group = FALSE LIMIT 1`, ids[0], ids[1])
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.Chat{}, err
		}
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var chat models.Chat
	if err = tx.QueryRowxContext(ctx, `INSERT INTO chats (id, name, is_group) VALUES ($1, $2, $3)
        RETURNING id, name, is_group, last_seq, created_at`, newID(), name, isGroup).StructScan(&chat); err != nil {
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)`, chat.ID, id); err != nil {
			return models.Chat{}, fmt.Errorf("insert participant: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT `+chatColumns+` FROM chats c WHERE c.id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// IsParticipant checks whether a user belongs to the chat.
func (r *ChatRepo) IsParticipant(ctx context.Context, chatID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id=$1 AND user_id=$2)`, chatID, userID)
	return exists, err
}

// ListParticipants returns the user ids of a chat ordered by join time.
func (r *ChatRepo) ListParticipants(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM chat_participants WHERE chat_id=$1 ORDER BY joined_at, user_id`, chatID)
	return ids, err
}

// ListChatsForUser returns every chat the user participates in.
func (r *ChatRepo) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.SelectContext(ctx, &chats, `SELECT `+chatColumns+` FROM chats c
        INNER JOIN chat_participants p ON p.chat_id = c.id
        WHERE p.user_id=$1 ORDER BY c.created_at DESC`, userID)
	return chats, err
}

// AddParticipant adds a user to a group chat.
func (r *ChatRepo) AddParticipant(ctx context.Context, chatID string, userID string) (models.Participant, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return models.Participant{}, err
	}
	if !chat.IsGroup {
		return models.Participant{}, ErrDirectChatMembership
	}

	var p models.Participant
	err = r.db.QueryRowxContext(ctx, `INSERT INTO chat_participants (chat_id, user_id) VALUES ($1, $2)
        ON CONFLICT (chat_id, user_id) DO NOTHING
        RETURNING chat_id, user_id, joined_at`, chatID, userID).StructScan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrAlreadyParticipant
	}
	return p, err
}

// RemoveParticipant removes a user from a group chat. The chat itself is kept
// even when its last participant leaves.
func (r *ChatRepo) RemoveParticipant(ctx context.Context, chatID string, userID string) error {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsGroup {
		return ErrDirectChatMembership
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotParticipant
	}
	return nil
}

func dedupe(ids []string) []string {
	set := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

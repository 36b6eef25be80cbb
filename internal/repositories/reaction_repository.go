package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var (
	ErrDuplicateReaction = errors.New("reaction already applied")
	ErrReactionNotFound  = errors.New("reaction not found")
)

// ReactionRepository stores reactions under the (message, user, code)
// uniqueness rule.
type ReactionRepository interface {
	AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, error)
	RemoveReaction(ctx context.Context, messageID string, userID string, code string) (models.Reaction, error)
	ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error)
}

// ReactionRepo is a sqlx-backed repository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

// AddReaction inserts a reaction; a second identical one fails with
// ErrDuplicateReaction.
func (r *ReactionRepo) AddReaction(ctx context.Context, reaction models.Reaction) (models.Reaction, error) {
	if reaction.ID == "" {
		reaction.ID = newID()
	}
	var stored models.Reaction
	err := r.db.QueryRowxContext(ctx, `INSERT INTO reactions (id, message_id, user_id, code) VALUES ($1, $2, $3, $4)
        RETURNING id, message_id, user_id, code, reacted_at`, reaction.ID, reaction.MessageID, reaction.UserID, reaction.Code).StructScan(&stored)
	if isUniqueViolation(err) {
		return models.Reaction{}, ErrDuplicateReaction
	}
	return stored, err
}

// RemoveReaction deletes the reaction and returns the removed row.
func (r *ReactionRepo) RemoveReaction(ctx context.Context, messageID string, userID string, code string) (models.Reaction, error) {
	var removed models.Reaction
	err := r.db.QueryRowxContext(ctx, `DELETE FROM reactions WHERE message_id=$1 AND user_id=$2 AND code=$3
        RETURNING id, message_id, user_id, code, reacted_at`, messageID, userID, code).StructScan(&removed)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reaction{}, ErrReactionNotFound
	}
	return removed, err
}

// ListReactions returns reactions of a message ordered by time.
func (r *ReactionRepo) ListReactions(ctx context.Context, messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions, `SELECT id, message_id, user_id, code, reacted_at FROM reactions WHERE message_id=$1 ORDER BY reacted_at, id`, messageID)
	return reactions, err
}

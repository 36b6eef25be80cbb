package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrReceiptNotFound = errors.New("read receipt not found")

// ReadReceiptRepository keeps last-read sequence numbers, which never
// decrease.
type ReadReceiptRepository interface {
	// UpsertReadReceipt stores seq only if it is greater than the stored value.
	// advanced is false when the stored receipt was left unchanged.
	UpsertReadReceipt(ctx context.Context, userID string, chatID string, seq int64) (receipt models.ReadReceipt, advanced bool, err error)
	GetReadReceipt(ctx context.Context, userID string, chatID string) (models.ReadReceipt, error)
}

// ReadReceiptRepo is a sqlx-backed repository.
type ReadReceiptRepo struct {
	db *sqlx.DB
}

// NewReadReceiptRepo constructs ReadReceiptRepo.
func NewReadReceiptRepo(db *sqlx.DB) *ReadReceiptRepo {
	return &ReadReceiptRepo{db: db}
}

// UpsertReadReceipt performs a conditional upsert. A seq at or below the
// stored one leaves the row untouched.
func (r *ReadReceiptRepo) UpsertReadReceipt(ctx context.Context, userID string, chatID string, seq int64) (models.ReadReceipt, bool, error) {
	var receipt models.ReadReceipt
	err := r.db.QueryRowxContext(ctx, `INSERT INTO read_receipts (user_id, chat_id, last_read_seq, read_at) VALUES ($1, $2, $3, NOW())
        ON CONFLICT (user_id, chat_id) DO UPDATE SET last_read_seq = EXCLUDED.last_read_seq, read_at = EXCLUDED.read_at
        WHERE read_receipts.last_read_seq < EXCLUDED.last_read_seq
        RETURNING user_id, chat_id, last_read_seq, read_at`, userID, chatID, seq).StructScan(&receipt)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := r.GetReadReceipt(ctx, userID, chatID)
		return current, false, getErr
	}
	if err != nil {
		return models.ReadReceipt{}, false, err
	}
	return receipt, true, nil
}

// GetReadReceipt fetches the receipt of a user in a chat.
func (r *ReadReceiptRepo) GetReadReceipt(ctx context.Context, userID string, chatID string) (models.ReadReceipt, error) {
	var receipt models.ReadReceipt
	err := r.db.GetContext(ctx, &receipt, `SELECT user_id, chat_id, last_read_seq, read_at FROM read_receipts WHERE user_id=$1 AND chat_id=$2`, userID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ReadReceipt{}, ErrReceiptNotFound
	}
	return receipt, err
}

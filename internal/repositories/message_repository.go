package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-core/internal/models"
	"chat-core/internal/reactions"
)

// ReactionUpdate is the state of a message after a reaction change.
type ReactionUpdate struct {
	ChatID    int64
	Reactions string
}

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, chatID int64, username, content string, isAttachment bool) (models.Message, error)
	CreateSystemMessage(ctx context.Context, chatID int64, content string) (models.Message, error)
	GetMessages(ctx context.Context, chatID int64, username string, offset, limit int) ([]models.Message, error)
	DeleteMessage(ctx context.Context, messageID int64, username string) (chatID int64, err error)
	SetReaction(ctx context.Context, messageID int64, username string, reactionID *int) (ReactionUpdate, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

const messageColumns = `id, chat_id, username, content, is_attachment, sent_at, reactions`

// CreateMessage stores a message from a chat member.
func (r *MessageRepo) CreateMessage(ctx context.Context, chatID int64, username, content string, isAttachment bool) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (chat_id, username, content, is_attachment, sent_at)
        SELECT $1, $2, $3, $4, $5
        WHERE EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND username=$2)
        RETURNING `+messageColumns, chatID, username, content, isAttachment, r.now().UnixMilli())
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrNotMember
	}
	return msg, err
}

// CreateSystemMessage stores a server-generated message with no sender.
func (r *MessageRepo) CreateSystemMessage(ctx context.Context, chatID int64, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages (chat_id, username, content, is_attachment, sent_at)
        VALUES ($1, '', $2, FALSE, $3)
        RETURNING `+messageColumns, chatID, content, r.now().UnixMilli())
	return msg, err
}

// GetMessages returns a page of messages newest first, never reaching at or
// below the caller's break point.
func (r *MessageRepo) GetMessages(ctx context.Context, chatID int64, username string, offset, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var member bool
		if err := tx.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND username=$2)`, chatID, username); err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}
		var err error
		msgs, err = messagePage(ctx, tx, chatID, username, offset, limit)
		return err
	})
	return msgs, err
}

// DeleteMessage removes a message authored by username.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int64, username string) (int64, error) {
	var chatID int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var owner struct {
			Username string `db:"username"`
			ChatID   int64  `db:"chat_id"`
		}
		err := tx.GetContext(ctx, &owner, `SELECT username, chat_id FROM messages WHERE id=$1 FOR UPDATE`, messageID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		if owner.Username != username {
			return ErrForbidden
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID); err != nil {
			return err
		}
		chatID = owner.ChatID
		return nil
	})
	return chatID, err
}

// SetReaction upserts or clears username's reaction on a message.
func (r *MessageRepo) SetReaction(ctx context.Context, messageID int64, username string, reactionID *int) (ReactionUpdate, error) {
	var out ReactionUpdate
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var row struct {
			ChatID    int64  `db:"chat_id"`
			Reactions string `db:"reactions"`
		}
		err := tx.GetContext(ctx, &row, `SELECT chat_id, reactions FROM messages WHERE id=$1 FOR UPDATE`, messageID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		var member bool
		if err := tx.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND username=$2)`, row.ChatID, username); err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}

		out = ReactionUpdate{ChatID: row.ChatID, Reactions: reactions.Set(row.Reactions, username, reactionID)}
		_, err = tx.ExecContext(ctx, `UPDATE messages SET reactions=$1 WHERE id=$2`, out.Reactions, messageID)
		return err
	})
	return out, err
}

func messagePage(ctx context.Context, q sqlx.QueryerContext, chatID int64, username string, offset, limit int) ([]models.Message, error) {
	msgs := []models.Message{}
	err := sqlx.SelectContext(ctx, q, &msgs, `SELECT m.id, m.chat_id, m.username, m.content, m.is_attachment, m.sent_at, m.reactions
        FROM messages m
        JOIN chat_members cm ON cm.chat_id = m.chat_id AND cm.username=$2
        WHERE m.chat_id=$1 AND m.id > cm.break_point
        ORDER BY m.id DESC
        LIMIT $3 OFFSET $4`, chatID, username, limit, offset)
	return msgs, err
}

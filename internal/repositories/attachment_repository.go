package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-core/internal/models"
)

// AttachmentRepository stores attachment metadata. Bytes live in the blob store.
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, chatID *int64, typ, name string) (int64, error)
	GetAttachmentData(ctx context.Context, id int64) (models.AttachmentData, error)
	DeleteAttachments(ctx context.Context, ids []int64) error
}

// AttachmentRepo is a sqlx implementation of AttachmentRepository.
type AttachmentRepo struct {
	db *sqlx.DB
}

// NewAttachmentRepo constructs an AttachmentRepo.
func NewAttachmentRepo(db *sqlx.DB) *AttachmentRepo {
	return &AttachmentRepo{db: db}
}

// CreateAttachment inserts a metadata row. A nil chatID marks a public attachment.
func (r *AttachmentRepo) CreateAttachment(ctx context.Context, chatID *int64, typ, name string) (int64, error) {
	var id int64
	err := r.db.GetContext(ctx, &id, `INSERT INTO attachments (chat_id, type, name) VALUES ($1, $2, $3) RETURNING id`, chatID, typ, name)
	return id, err
}

// GetAttachmentData fetches an attachment's metadata.
func (r *AttachmentRepo) GetAttachmentData(ctx context.Context, id int64) (models.AttachmentData, error) {
	var data models.AttachmentData
	err := r.db.GetContext(ctx, &data, `SELECT id, chat_id, type, name FROM attachments WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AttachmentData{}, ErrAttachmentNotFound
	}
	return data, err
}

// DeleteAttachments removes metadata rows; missing ids are ignored.
func (r *AttachmentRepo) DeleteAttachments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

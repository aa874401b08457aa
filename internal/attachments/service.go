// Package attachments stores and loads attachment content. Metadata rows live
// in the relational store and bytes in the blob store.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"chat-core/internal/blobstore"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
)

var (
	ErrTooLarge = errors.New("attachment too large")
	ErrNotImage = errors.New("attachment is not an image")
)

type Service struct {
	attachments repositories.AttachmentRepository
	chats       repositories.ChatRepository
	users       repositories.UserRepository
	blobs       blobstore.Store
	maxBytes    int64
	log         *zap.Logger
}

func NewService(attachments repositories.AttachmentRepository, chats repositories.ChatRepository, users repositories.UserRepository, blobs blobstore.Store, maxBytes int64, log *zap.Logger) *Service {
	return &Service{
		attachments: attachments,
		chats:       chats,
		users:       users,
		blobs:       blobs,
		maxBytes:    maxBytes,
		log:         log,
	}
}

// CheckSize rejects content over the upload limit.
func (s *Service) CheckSize(a models.Attachment) error {
	if int64(len(a.Data)) > s.maxBytes {
		return ErrTooLarge
	}
	return nil
}

// Store saves content bound to chatID, or public content when chatID is nil.
func (s *Service) Store(ctx context.Context, chatID *int64, a models.Attachment) (int64, error) {
	if err := s.CheckSize(a); err != nil {
		return 0, err
	}
	id, err := s.attachments.CreateAttachment(ctx, chatID, a.Type, a.Name)
	if err != nil {
		return 0, fmt.Errorf("create attachment: %w", err)
	}
	if err := s.blobs.Put(id, a.Data); err != nil {
		if cleanup := s.attachments.DeleteAttachments(ctx, []int64{id}); cleanup != nil {
			s.log.Warn("attachment row cleanup failed", zap.Int64("attachment_id", id), zap.Error(cleanup))
		}
		return 0, fmt.Errorf("store attachment bytes: %w", err)
	}
	return id, nil
}

// Load returns the attachment if username may read it. Attachments bound to a
// chat are readable by its members only; an empty username reads public
// attachments only.
func (s *Service) Load(ctx context.Context, id int64, username string) (*models.Attachment, error) {
	meta, err := s.attachments.GetAttachmentData(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta.ChatID != nil {
		if username == "" {
			return nil, repositories.ErrNotMember
		}
		member, err := s.chats.IsMember(ctx, *meta.ChatID, username)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, repositories.ErrNotMember
		}
	}
	return s.read(meta)
}

// LoadAvatar returns the user's avatar, nil when they have none.
func (s *Service) LoadAvatar(ctx context.Context, username string) (*models.AvatarAttachment, error) {
	avatarID, err := s.users.GetAvatarID(ctx, username)
	if err != nil {
		return nil, err
	}
	if avatarID == nil {
		return nil, nil
	}
	meta, err := s.attachments.GetAttachmentData(ctx, *avatarID)
	if err != nil {
		return nil, err
	}
	a, err := s.read(meta)
	if err != nil {
		return nil, err
	}
	return &models.AvatarAttachment{AvatarID: meta.ID, Attachment: *a}, nil
}

// Remove deletes metadata and bytes.
func (s *Service) Remove(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.attachments.DeleteAttachments(ctx, ids); err != nil {
		return err
	}
	return s.Purge(ids...)
}

// Purge deletes bytes whose metadata rows are already gone.
func (s *Service) Purge(ids ...int64) error {
	if err := s.blobs.Delete(ids...); err != nil {
		return fmt.Errorf("delete attachment bytes: %w", err)
	}
	return nil
}

// SetAvatar replaces the user's avatar with an image and drops the previous one.
func (s *Service) SetAvatar(ctx context.Context, username string, a models.Attachment) (int64, error) {
	if !strings.HasPrefix(a.Type, "image/") {
		return 0, ErrNotImage
	}
	id, err := s.Store(ctx, nil, a)
	if err != nil {
		return 0, err
	}
	previous, err := s.users.SetAvatarID(ctx, username, &id)
	if err != nil {
		_ = s.Remove(ctx, id)
		return 0, err
	}
	s.DropPrevious(ctx, previous)
	return id, nil
}

func (s *Service) ClearAvatar(ctx context.Context, username string) error {
	previous, err := s.users.SetAvatarID(ctx, username, nil)
	if err != nil {
		return err
	}
	s.DropPrevious(ctx, previous)
	return nil
}

// DropPrevious removes a replaced avatar or cover. Failures are logged only.
func (s *Service) DropPrevious(ctx context.Context, previous *int64) {
	if previous == nil {
		return
	}
	if err := s.Remove(ctx, *previous); err != nil {
		s.log.Warn("previous attachment cleanup failed", zap.Int64("attachment_id", *previous), zap.Error(err))
	}
}

func (s *Service) read(meta models.AttachmentData) (*models.Attachment, error) {
	data, err := s.blobs.Get(meta.ID)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, repositories.ErrAttachmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &models.Attachment{Type: meta.Type, Name: meta.Name, Data: data}, nil
}

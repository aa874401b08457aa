package handlers

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-core/internal/attachments"
	"chat-core/internal/middleware"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
	"chat-core/internal/telemetry"
)

// AttachmentHandler serves attachment bytes and avatar uploads over HTTP.
type AttachmentHandler struct {
	attachments *attachments.Service
	maxUpload   int64
	audit       *telemetry.AuditEmitter
	log         *zap.Logger
}

// NewAttachmentHandler builds an AttachmentHandler.
func NewAttachmentHandler(svc *attachments.Service, maxUpload int64, audit *telemetry.AuditEmitter, log *zap.Logger) *AttachmentHandler {
	return &AttachmentHandler{
		attachments: svc,
		maxUpload:   maxUpload,
		audit:       audit,
		log:         log,
	}
}

// GetAttachment streams the attachment named by the attachment-id header.
// Avatars are public; chat attachments need a session of a chat member.
func (h *AttachmentHandler) GetAttachment(c *gin.Context) {
	id, err := strconv.ParseInt(c.GetHeader("attachment-id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attachment-id"})
		return
	}

	username := middleware.Username(c)
	a, err := h.attachments.Load(c.Request.Context(), id, username)
	switch {
	case errors.Is(err, repositories.ErrNotMember) && username == "":
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	case errors.Is(err, repositories.ErrNotMember), errors.Is(err, repositories.ErrAttachmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	case err != nil:
		h.log.Error("load attachment failed", zap.Int64("attachment_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load attachment"})
		return
	}

	if a.Name != "" {
		c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": a.Name}))
	}
	c.Data(http.StatusOK, a.Type, a.Data)
}

// PutAvatar replaces the caller's avatar with the request body. The body must
// be an image; its name comes from the attachment-name header.
func (h *AttachmentHandler) PutAvatar(c *gin.Context) {
	username := middleware.Username(c)
	typ := c.ContentType()

	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "avatar too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avatar is empty"})
		return
	}

	id, err := h.attachments.SetAvatar(c.Request.Context(), username, models.Attachment{
		Type: typ,
		Name: c.GetHeader("attachment-name"),
		Data: data,
	})
	switch {
	case errors.Is(err, attachments.ErrNotImage):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "avatar must be an image"})
		return
	case errors.Is(err, attachments.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "avatar too large"})
		return
	case errors.Is(err, repositories.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case err != nil:
		h.log.Error("set avatar failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set avatar"})
		return
	}

	h.audit.Emit(c.Request.Context(), telemetry.Record{Action: telemetry.ActionAvatarChanged, Actor: username, RequestID: requestIDFromContext(c)})
	c.JSON(http.StatusOK, gin.H{"avatar_id": id})
}

// DeleteAvatar clears the caller's avatar.
func (h *AttachmentHandler) DeleteAvatar(c *gin.Context) {
	username := middleware.Username(c)
	err := h.attachments.ClearAvatar(c.Request.Context(), username)
	if errors.Is(err, repositories.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.log.Error("clear avatar failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear avatar"})
		return
	}
	h.audit.Emit(c.Request.Context(), telemetry.Record{Action: telemetry.ActionAvatarRemoved, Actor: username, RequestID: requestIDFromContext(c)})
	c.Status(http.StatusNoContent)
}

package ws

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"chat-core/internal/protocol"
	"chat-core/internal/reactions"
	"chat-core/internal/repositories"
	"chat-core/internal/telemetry"
)

// sendMessage posts to a chat, opening the private chat first when the target
// is a username.
func (d *Dispatcher) sendMessage(ctx context.Context, c *call) (any, error) {
	var p protocol.SendMessage
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}

	// an oversized upload must not open a private chat as a side effect
	if p.Attachment != nil {
		if err := d.Attachments.CheckSize(p.Attachment.Attachment()); err != nil {
			return nil, err
		}
	}

	chatID := p.Target.ChatID
	if p.Target.IsUser() {
		id, created, err := d.Chats.OpenPrivateChat(ctx, c.username, p.Target.Username)
		if err != nil {
			return nil, err
		}
		chatID = id
		if created {
			d.audit(ctx, c, chatID, telemetry.ActionPrivateChatOpened, p.Target.Username)
		}
	} else {
		member, err := d.Chats.IsMember(ctx, chatID, c.username)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, repositories.ErrNotMember
		}
	}

	content := p.Content
	var attachmentID int64
	if p.Attachment != nil {
		id, err := d.Attachments.Store(ctx, &chatID, p.Attachment.Attachment())
		if err != nil {
			return nil, err
		}
		attachmentID = id
		content = strconv.FormatInt(id, 10)
	}

	msg, err := d.Messages.CreateMessage(ctx, chatID, c.username, content, attachmentID != 0)
	if err != nil {
		if attachmentID != 0 {
			if cleanup := d.Attachments.Remove(ctx, attachmentID); cleanup != nil {
				d.Log.Warn("orphan attachment cleanup failed", zap.Int64("attachment_id", attachmentID), zap.Error(cleanup))
			}
		}
		return nil, err
	}

	d.emitToChat(ctx, chatID, protocol.EvtMessageReceived, msg)
	return msg, nil
}

func (d *Dispatcher) getMessages(ctx context.Context, c *call) (any, error) {
	var p protocol.GetMessages
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	return d.Messages.GetMessages(ctx, p.ChatID, c.username, p.Offset, d.PageSize)
}

func (d *Dispatcher) deleteMessage(ctx context.Context, c *call) (any, error) {
	var p protocol.DeleteMessage
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	chatID, err := d.Messages.DeleteMessage(ctx, p.MessageID, c.username)
	if err != nil {
		return nil, err
	}
	d.emitToChat(ctx, chatID, protocol.EvtMessageDeleted, protocol.MessageDeleted{ChatID: chatID, MessageID: p.MessageID})
	return nil, nil
}

// setMessageReaction treats an unknown reaction id as a request to clear.
func (d *Dispatcher) setMessageReaction(ctx context.Context, c *call) (any, error) {
	var p protocol.SetMessageReaction
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	reactionID := p.ReactionID
	if reactionID != nil && !reactions.Valid(*reactionID) {
		reactionID = nil
	}
	update, err := d.Messages.SetReaction(ctx, p.MessageID, c.username, reactionID)
	if err != nil {
		return nil, err
	}
	d.emitToChat(ctx, update.ChatID, protocol.EvtMessageReactionsSet, protocol.MessageReactionsSet{
		ChatID:    update.ChatID,
		MessageID: p.MessageID,
		Reactions: update.Reactions,
	})
	return nil, nil
}

package ws

import (
	"context"
	"errors"

	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/repositories"
)

func (d *Dispatcher) search(ctx context.Context, c *call) (any, error) {
	var p protocol.Search
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	users, err := d.Users.SearchUsers(ctx, p.Query, d.SearchLimit)
	if err != nil {
		return nil, err
	}
	result := models.SearchResult{Users: users}
	if p.IncludeChats {
		chats, err := d.Chats.SearchGroupChats(ctx, c.username, p.Query, d.SearchLimit)
		if err != nil {
			return nil, err
		}
		if chats == nil {
			chats = []models.ChatSummary{}
		}
		result.Chats = chats
	}
	return result, nil
}

// Lookups below answer null for anything absent or not visible to the caller.

func (d *Dispatcher) getUserAvatar(ctx context.Context, c *call) (any, error) {
	var p protocol.UserRef
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	avatar, err := d.Attachments.LoadAvatar(ctx, p.Username)
	if absent(err) || (err == nil && avatar == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return avatar, nil
}

func (d *Dispatcher) getAttachment(ctx context.Context, c *call) (any, error) {
	var p protocol.GetAttachment
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	a, err := d.Attachments.Load(ctx, p.AttachmentID, c.username)
	if absent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (d *Dispatcher) getChatData(ctx context.Context, c *call) (any, error) {
	var p protocol.GetChatData
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	chatID := p.Target.ChatID
	if p.Target.IsUser() {
		id, err := d.Chats.GetPrivateChatID(ctx, c.username, p.Target.Username)
		if absent(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		chatID = id
	} else {
		member, err := d.Chats.IsMember(ctx, chatID, c.username)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, nil
		}
	}
	data, err := d.Chats.GetChatData(ctx, chatID)
	if absent(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func absent(err error) bool {
	return errors.Is(err, repositories.ErrChatNotFound) ||
		errors.Is(err, repositories.ErrUserNotFound) ||
		errors.Is(err, repositories.ErrAttachmentNotFound) ||
		errors.Is(err, repositories.ErrNotMember)
}

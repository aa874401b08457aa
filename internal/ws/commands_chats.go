package ws

import (
	"context"
	"fmt"

	"chat-core/internal/protocol"
	"chat-core/internal/telemetry"
)

// createGroupChat makes the caller owner of a chat with the listed users that
// exist. At least two of them must.
func (d *Dispatcher) createGroupChat(ctx context.Context, c *call) (any, error) {
	var p protocol.CreateGroupChat
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	existing, err := d.Users.FilterExisting(ctx, p.Members)
	if err != nil {
		return nil, err
	}
	others := existing[:0]
	for _, u := range existing {
		if u != c.username {
			others = append(others, u)
		}
	}
	if len(others) < 2 {
		return nil, fmt.Errorf("%w: a group chat needs at least two other existing users", protocol.ErrValidation)
	}

	chatID, err := d.Chats.CreateGroupChat(ctx, c.username, others)
	if err != nil {
		return nil, err
	}
	sys, err := d.systemMessage(ctx, chatID, "%s created the group chat", c.username)
	if err != nil {
		return nil, err
	}
	data, err := d.Chats.GetChatData(ctx, chatID)
	if err != nil {
		return nil, err
	}

	d.audit(ctx, c, chatID, telemetry.ActionGroupCreated, "")
	d.emit(ctx, append([]string{c.username}, others...), protocol.EvtGroupChatCreated, protocol.GroupChatCreated{Chat: data, SystemMessage: sys})
	return data, nil
}

// deleteChat hides history for the caller in a private chat and destroys a
// group chat owned by the caller.
func (d *Dispatcher) deleteChat(ctx context.Context, c *call) (any, error) {
	var p protocol.ChatRef
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	private, err := d.Chats.IsPrivate(ctx, p.ChatID)
	if err != nil {
		return nil, err
	}
	if private {
		return nil, d.Chats.HidePrivateHistory(ctx, p.ChatID, c.username)
	}

	deleted, err := d.Chats.DeleteGroupChat(ctx, p.ChatID, c.username)
	if err != nil {
		return nil, err
	}
	d.Members.Invalidate(ctx, p.ChatID)
	d.purge(p.ChatID, deleted.AttachmentIDs)
	d.audit(ctx, c, p.ChatID, telemetry.ActionGroupDeleted, "")
	d.emit(ctx, deleted.Members, protocol.EvtGroupChatDeleted, protocol.GroupChatDeleted{ChatID: p.ChatID})
	return nil, nil
}

func (d *Dispatcher) leaveGroupChat(ctx context.Context, c *call) (any, error) {
	var p protocol.ChatRef
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	res, err := d.Chats.LeaveGroupChat(ctx, p.ChatID, c.username)
	if err != nil {
		return nil, err
	}
	d.Members.Invalidate(ctx, p.ChatID)
	d.emit(ctx, []string{c.username}, protocol.EvtGroupChatDeleted, protocol.GroupChatDeleted{ChatID: p.ChatID})
	if res.Deleted {
		d.purge(p.ChatID, res.AttachmentIDs)
		d.audit(ctx, c, p.ChatID, telemetry.ActionGroupDissolved, "")
		return nil, nil
	}

	sys, err := d.systemMessage(ctx, p.ChatID, "%s left the group chat", c.username)
	if err != nil {
		return nil, err
	}
	d.audit(ctx, c, p.ChatID, telemetry.ActionGroupLeft, "")
	d.emit(ctx, res.Remaining, protocol.EvtChatMemberLeft, protocol.ChatMemberLeft{
		ChatID:        p.ChatID,
		Username:      c.username,
		NewOwner:      res.NewOwner,
		SystemMessage: sys,
	})
	return nil, nil
}

func (d *Dispatcher) setChatName(ctx context.Context, c *call) (any, error) {
	var p protocol.SetChatName
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	if err := d.Chats.SetName(ctx, p.ChatID, c.username, p.Name); err != nil {
		return nil, err
	}
	text := fmt.Sprintf("%s removed the chat name", c.username)
	if p.Name != nil {
		text = fmt.Sprintf("%s set the chat name to %s", c.username, *p.Name)
	}
	sys, err := d.systemMessage(ctx, p.ChatID, "%s", text)
	if err != nil {
		return nil, err
	}
	d.emitToChat(ctx, p.ChatID, protocol.EvtChatNameSet, protocol.ChatNameSet{ChatID: p.ChatID, Name: p.Name, SystemMessage: sys})
	return nil, nil
}

// setChatCover stores the new cover before swapping it in and drops the
// replaced one afterwards.
func (d *Dispatcher) setChatCover(ctx context.Context, c *call) (any, error) {
	var p protocol.SetChatCover
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	var coverID *int64
	if p.Cover != nil {
		id, err := d.Attachments.Store(ctx, &p.ChatID, p.Cover.Attachment())
		if err != nil {
			return nil, err
		}
		coverID = &id
	}
	previous, err := d.Chats.SetCover(ctx, p.ChatID, c.username, coverID)
	if err != nil {
		if coverID != nil {
			_ = d.Attachments.Remove(ctx, *coverID)
		}
		return nil, err
	}
	d.Attachments.DropPrevious(ctx, previous)

	text := fmt.Sprintf("%s removed the chat cover", c.username)
	if coverID != nil {
		text = fmt.Sprintf("%s changed the chat cover", c.username)
	}
	sys, err := d.systemMessage(ctx, p.ChatID, "%s", text)
	if err != nil {
		return nil, err
	}
	d.emitToChat(ctx, p.ChatID, protocol.EvtChatCoverSet, protocol.ChatCoverSet{ChatID: p.ChatID, CoverID: coverID, SystemMessage: sys})
	return protocol.CoverSet{CoverID: coverID}, nil
}

func (d *Dispatcher) setChatNickname(ctx context.Context, c *call) (any, error) {
	var p protocol.SetChatNickname
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	if err := d.Chats.SetNickname(ctx, p.ChatID, c.username, p.Username, p.Nickname); err != nil {
		return nil, err
	}
	text := fmt.Sprintf("%s removed %s's nickname", c.username, p.Username)
	if p.Nickname != nil {
		text = fmt.Sprintf("%s set %s's nickname to %s", c.username, p.Username, *p.Nickname)
	}
	sys, err := d.systemMessage(ctx, p.ChatID, "%s", text)
	if err != nil {
		return nil, err
	}
	d.emitToChat(ctx, p.ChatID, protocol.EvtChatNicknameSet, protocol.ChatNicknameSet{
		ChatID:        p.ChatID,
		Username:      p.Username,
		Nickname:      p.Nickname,
		SystemMessage: sys,
	})
	return nil, nil
}

package client

import (
	"context"

	"chat-core/internal/attachcache"
	"chat-core/internal/chatview"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
)

// SendMessage posts text to a chat or, for a username target, to the private
// chat with that user, creating it on first contact.
func (s *Session) SendMessage(ctx context.Context, target protocol.Target, content string) (models.Message, error) {
	var msg models.Message
	err := s.request(ctx, protocol.CmdSendMessage, protocol.SendMessage{Target: target, Content: content}, &msg)
	return msg, err
}

// SendAttachment uploads content inline and posts it as an attachment message.
func (s *Session) SendAttachment(ctx context.Context, target protocol.Target, upload protocol.Upload) (models.Message, error) {
	var msg models.Message
	err := s.request(ctx, protocol.CmdSendMessage, protocol.SendMessage{Target: target, Attachment: &upload}, &msg)
	return msg, err
}

// OpenConversation puts the conversation with peer at the front of the
// registry, as a temporary one until the first message creates the chat.
func (s *Session) OpenConversation(peer string) error {
	return s.do(func(p *Projector) { p.OpenTemp(peer) })
}

func (s *Session) GetMessages(ctx context.Context, chatID int64, offset int) ([]models.Message, error) {
	var page []models.Message
	err := s.request(ctx, protocol.CmdGetMessages, protocol.GetMessages{ChatID: chatID, Offset: offset}, &page)
	return page, err
}

// LoadOlder fetches the page preceding what the registry holds for chatID and
// prepends it. It returns the number of messages that were new.
func (s *Session) LoadOlder(ctx context.Context, chatID int64) (int, error) {
	offset := -1
	if err := s.do(func(p *Projector) {
		if conv := p.Registry().Get(chatID); conv != nil && !conv.HasFullHistory {
			offset = conv.Count()
		}
	}); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, nil
	}
	page, err := s.GetMessages(ctx, chatID, offset)
	if err != nil {
		return 0, err
	}
	var added int
	err = s.do(func(p *Projector) { added = p.LoadHistory(chatID, page) })
	return added, err
}

func (s *Session) DeleteMessage(ctx context.Context, messageID int64) error {
	return s.request(ctx, protocol.CmdDeleteMessage, protocol.DeleteMessage{MessageID: messageID}, nil)
}

// SetMessageReaction sets the caller's reaction; nil clears it.
func (s *Session) SetMessageReaction(ctx context.Context, messageID int64, reactionID *int) error {
	return s.request(ctx, protocol.CmdSetMessageReaction, protocol.SetMessageReaction{MessageID: messageID, ReactionID: reactionID}, nil)
}

func (s *Session) CreateGroupChat(ctx context.Context, members []string) (models.ChatData, error) {
	var data models.ChatData
	err := s.request(ctx, protocol.CmdCreateGroupChat, protocol.CreateGroupChat{Members: members}, &data)
	return data, err
}

// DeleteChat deletes a group the caller owns, or clears a private chat's
// history for the caller only. Either way the chat leaves the registry.
func (s *Session) DeleteChat(ctx context.Context, chatID int64) error {
	if err := s.request(ctx, protocol.CmdDeleteChat, protocol.ChatRef{ChatID: chatID}, nil); err != nil {
		return err
	}
	return s.do(func(p *Projector) { p.Forget(chatID) })
}

func (s *Session) LeaveGroupChat(ctx context.Context, chatID int64) error {
	return s.request(ctx, protocol.CmdLeaveGroupChat, protocol.ChatRef{ChatID: chatID}, nil)
}

func (s *Session) AddChatMember(ctx context.Context, chatID int64, username string) error {
	return s.request(ctx, protocol.CmdAddChatMember, protocol.ChatMemberRef{ChatID: chatID, Username: username}, nil)
}

func (s *Session) RemoveChatMember(ctx context.Context, chatID int64, username string) error {
	return s.request(ctx, protocol.CmdRemoveChatMember, protocol.ChatMemberRef{ChatID: chatID, Username: username}, nil)
}

func (s *Session) SetChatName(ctx context.Context, chatID int64, name *string) error {
	return s.request(ctx, protocol.CmdSetChatName, protocol.SetChatName{ChatID: chatID, Name: name}, nil)
}

// SetChatCover replaces the cover with an image, or clears it for nil. It
// returns the new cover id.
func (s *Session) SetChatCover(ctx context.Context, chatID int64, cover *protocol.Upload) (*int64, error) {
	var out protocol.CoverSet
	err := s.request(ctx, protocol.CmdSetChatCover, protocol.SetChatCover{ChatID: chatID, Cover: cover}, &out)
	return out.CoverID, err
}

func (s *Session) SetChatNickname(ctx context.Context, chatID int64, username string, nickname *string) error {
	return s.request(ctx, protocol.CmdSetChatNickname, protocol.SetChatNickname{ChatID: chatID, Username: username, Nickname: nickname}, nil)
}

// ChangeChatMemberRank toggles username between member and admin.
func (s *Session) ChangeChatMemberRank(ctx context.Context, chatID int64, username string) (models.Rank, error) {
	var out protocol.RankSet
	err := s.request(ctx, protocol.CmdChangeChatMemberRank, protocol.ChatMemberRef{ChatID: chatID, Username: username}, &out)
	return out.Rank, err
}

// ChangeUserBlockState toggles username in the caller's block list and
// returns whether they are now blocked.
func (s *Session) ChangeUserBlockState(ctx context.Context, username string) (bool, error) {
	var out protocol.BlockState
	err := s.request(ctx, protocol.CmdChangeUserBlockState, protocol.UserRef{Username: username}, &out)
	return out.Blocked, err
}

func (s *Session) Search(ctx context.Context, query string, includeChats bool) (models.SearchResult, error) {
	var out models.SearchResult
	err := s.request(ctx, protocol.CmdSearch, protocol.Search{Query: query, IncludeChats: includeChats}, &out)
	return out, err
}

// GetUserAvatar returns nil when the user has no avatar.
func (s *Session) GetUserAvatar(ctx context.Context, username string) (*models.AvatarAttachment, error) {
	var out *models.AvatarAttachment
	err := s.request(ctx, protocol.CmdGetUserAvatar, protocol.UserRef{Username: username}, &out)
	return out, err
}

// GetAttachment returns nil when the attachment is absent or not visible.
func (s *Session) GetAttachment(ctx context.Context, id int64) (*models.Attachment, error) {
	var out *models.Attachment
	err := s.request(ctx, protocol.CmdGetAttachment, protocol.GetAttachment{AttachmentID: id}, &out)
	return out, err
}

// GetChatData returns nil when the chat is absent or the caller is not in it.
func (s *Session) GetChatData(ctx context.Context, target protocol.Target) (*models.ChatData, error) {
	var out *models.ChatData
	err := s.request(ctx, protocol.CmdGetChatData, protocol.GetChatData{Target: target}, &out)
	return out, err
}

// ResolveAttachment returns the attachment through the session cache.
func (s *Session) ResolveAttachment(ctx context.Context, id int64) (attachcache.Resource, error) {
	return s.attachments.Resolve(ctx, id, s.GetAttachment)
}

// ResolveAvatar returns the user's avatar through the session cache, or the
// placeholder.
func (s *Session) ResolveAvatar(ctx context.Context, username string) attachcache.Resource {
	return s.attachments.ResolveAvatar(ctx, username, s.GetUserAvatar)
}

// ResolveCover returns the picture of a conversation.
func (s *Session) ResolveCover(ctx context.Context, cover chatview.Cover) (attachcache.Resource, error) {
	if cover.Username != "" {
		return s.ResolveAvatar(ctx, cover.Username), nil
	}
	if cover.AttachmentID == nil {
		return attachcache.Resource{}, attachcache.ErrNotFound
	}
	return s.ResolveAttachment(ctx, *cover.AttachmentID)
}

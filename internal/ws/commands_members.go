package ws

import (
	"context"
	"fmt"

	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/repositories"
	"chat-core/internal/telemetry"
)

func (d *Dispatcher) addChatMember(ctx context.Context, c *call) (any, error) {
	var p protocol.ChatMemberRef
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	if err := d.Chats.AddMember(ctx, p.ChatID, c.username, p.Username); err != nil {
		return nil, err
	}
	d.Members.Invalidate(ctx, p.ChatID)

	sys, err := d.systemMessage(ctx, p.ChatID, "%s added %s to the group chat", c.username, p.Username)
	if err != nil {
		return nil, err
	}
	data, err := d.Chats.GetChatData(ctx, p.ChatID)
	if err != nil {
		return nil, err
	}
	d.audit(ctx, c, p.ChatID, telemetry.ActionMemberAdded, p.Username)
	d.emitToChat(ctx, p.ChatID, protocol.EvtChatMemberAdded, protocol.ChatMemberAdded{
		ChatID:        p.ChatID,
		Username:      p.Username,
		Chat:          data,
		SystemMessage: sys,
	})
	return nil, nil
}

// removeChatMember also notifies the removed user so their view drops the chat.
func (d *Dispatcher) removeChatMember(ctx context.Context, c *call) (any, error) {
	var p protocol.ChatMemberRef
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	if err := d.Chats.RemoveMember(ctx, p.ChatID, c.username, p.Username); err != nil {
		return nil, err
	}
	d.Members.Invalidate(ctx, p.ChatID)

	sys, err := d.systemMessage(ctx, p.ChatID, "%s removed %s from the group chat", c.username, p.Username)
	if err != nil {
		return nil, err
	}
	members, err := d.Members.Get(ctx, p.ChatID)
	if err != nil {
		return nil, err
	}
	d.audit(ctx, c, p.ChatID, telemetry.ActionMemberRemoved, p.Username)
	d.emit(ctx, append(members, p.Username), protocol.EvtChatMemberRemoved, protocol.ChatMemberRemoved{
		ChatID:        p.ChatID,
		Username:      p.Username,
		SystemMessage: sys,
	})
	return nil, nil
}

// changeChatMemberRank toggles another member between member and admin.
func (d *Dispatcher) changeChatMemberRank(ctx context.Context, c *call) (any, error) {
	var p protocol.ChatMemberRef
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	if p.Username == c.username {
		return nil, repositories.ErrForbidden
	}
	rank, err := d.Chats.ToggleMemberRank(ctx, p.ChatID, c.username, p.Username)
	if err != nil {
		return nil, err
	}

	verb, action := "demoted", telemetry.ActionMemberDemoted
	if rank == models.RankAdmin {
		verb, action = "promoted", telemetry.ActionMemberPromoted
	}
	sys, err := d.systemMessage(ctx, p.ChatID, "%s %s %s", c.username, verb, p.Username)
	if err != nil {
		return nil, err
	}
	d.audit(ctx, c, p.ChatID, action, p.Username)
	d.emitToChat(ctx, p.ChatID, protocol.EvtChatMemberRankChanged, protocol.ChatMemberRankChanged{
		ChatID:        p.ChatID,
		Username:      p.Username,
		Rank:          rank,
		SystemMessage: sys,
	})
	return protocol.RankSet{Rank: rank}, nil
}

// changeUserBlockState toggles the target in the caller's block list and
// tells the target.
func (d *Dispatcher) changeUserBlockState(ctx context.Context, c *call) (any, error) {
	var p protocol.UserRef
	if err := protocol.DecodePayload(c.payload, &p); err != nil {
		return nil, err
	}
	if p.Username == c.username {
		return nil, fmt.Errorf("%w: cannot block yourself", protocol.ErrValidation)
	}
	blocked, err := d.Users.ToggleBlock(ctx, c.username, p.Username)
	if err != nil {
		return nil, err
	}
	d.emit(ctx, []string{p.Username}, protocol.EvtUserBlockStateChanged, protocol.UserBlockStateChanged{Username: c.username, Blocked: blocked})
	return protocol.BlockState{Blocked: blocked}, nil
}

package protocol

import "chat-core/internal/models"

const (
	EvtConnected             = "connected"
	EvtMessageReceived       = "messageReceived"
	EvtMessageDeleted        = "messageDeleted"
	EvtGroupChatCreated      = "groupChatCreated"
	EvtGroupChatDeleted      = "groupChatDeleted"
	EvtChatMemberLeft        = "chatMemberLeft"
	EvtChatMemberAdded       = "chatMemberAdded"
	EvtChatMemberRemoved     = "chatMemberRemoved"
	EvtChatNameSet           = "chatNameSet"
	EvtChatCoverSet          = "chatCoverSet"
	EvtChatNicknameSet       = "chatNicknameSet"
	EvtChatMemberRankChanged = "chatMemberRankChanged"
	EvtMessageReactionsSet   = "messageReactionsSet"
	EvtUserBlockStateChanged = "userBlockStateChanged"
)

type Connected struct {
	Chats []models.ChatSnapshot `json:"chats"`
}

type MessageDeleted struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
}

type GroupChatCreated struct {
	Chat          models.ChatData `json:"chat"`
	SystemMessage models.Message  `json:"systemMessage"`
}

type GroupChatDeleted struct {
	ChatID int64 `json:"chatId"`
}

type ChatMemberLeft struct {
	ChatID        int64          `json:"chatId"`
	Username      string         `json:"username"`
	NewOwner      *string        `json:"newOwner"`
	SystemMessage models.Message `json:"systemMessage"`
}

// ChatMemberAdded carries the full chat so the added member can open it.
type ChatMemberAdded struct {
	ChatID        int64           `json:"chatId"`
	Username      string          `json:"username"`
	Chat          models.ChatData `json:"chat"`
	SystemMessage models.Message  `json:"systemMessage"`
}

type ChatMemberRemoved struct {
	ChatID        int64          `json:"chatId"`
	Username      string         `json:"username"`
	SystemMessage models.Message `json:"systemMessage"`
}

type ChatNameSet struct {
	ChatID        int64          `json:"chatId"`
	Name          *string        `json:"name"`
	SystemMessage models.Message `json:"systemMessage"`
}

type ChatCoverSet struct {
	ChatID        int64          `json:"chatId"`
	CoverID       *int64         `json:"coverId"`
	SystemMessage models.Message `json:"systemMessage"`
}

type ChatNicknameSet struct {
	ChatID        int64          `json:"chatId"`
	Username      string         `json:"username"`
	Nickname      *string        `json:"nickname"`
	SystemMessage models.Message `json:"systemMessage"`
}

type ChatMemberRankChanged struct {
	ChatID        int64          `json:"chatId"`
	Username      string         `json:"username"`
	Rank          models.Rank    `json:"rank"`
	SystemMessage models.Message `json:"systemMessage"`
}

type MessageReactionsSet struct {
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	Reactions string `json:"reactions"`
}

type UserBlockStateChanged struct {
	Username string `json:"username"`
	Blocked  bool   `json:"blocked"`
}

// BlockState is the ack data of changeUserBlockState.
type BlockState struct {
	Blocked bool `json:"blocked"`
}

// CoverSet is the ack data of setChatCover.
type CoverSet struct {
	CoverID *int64 `json:"coverId"`
}

// RankSet is the ack data of changeChatMemberRank.
type RankSet struct {
	Rank models.Rank `json:"rank"`
}

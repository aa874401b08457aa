package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-core/internal/models"
	"chat-core/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) IsMember(ctx context.Context, chatID int64, username string) (bool, error) {
	args := m.Called(ctx, chatID, username)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) IsPrivate(ctx context.Context, chatID int64) (bool, error) {
	args := m.Called(ctx, chatID)
	return args.Bool(0), args.Error(1)
}

func (m *ChatRepositoryMock) GetMembers(ctx context.Context, chatID int64) ([]string, error) {
	args := m.Called(ctx, chatID)
	var members []string
	if val := args.Get(0); val != nil {
		members = val.([]string)
	}
	return members, args.Error(1)
}

func (m *ChatRepositoryMock) GetChatData(ctx context.Context, chatID int64) (models.ChatData, error) {
	args := m.Called(ctx, chatID)
	var data models.ChatData
	if val := args.Get(0); val != nil {
		data = val.(models.ChatData)
	}
	return data, args.Error(1)
}

func (m *ChatRepositoryMock) GetPrivateChatID(ctx context.Context, a, b string) (int64, error) {
	args := m.Called(ctx, a, b)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChatRepositoryMock) OpenPrivateChat(ctx context.Context, sender, target string) (int64, bool, error) {
	args := m.Called(ctx, sender, target)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *ChatRepositoryMock) CreateGroupChat(ctx context.Context, owner string, members []string) (int64, error) {
	args := m.Called(ctx, owner, members)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChatRepositoryMock) DeleteGroupChat(ctx context.Context, chatID int64, actor string) (repositories.DeletedChat, error) {
	args := m.Called(ctx, chatID, actor)
	var deleted repositories.DeletedChat
	if val := args.Get(0); val != nil {
		deleted = val.(repositories.DeletedChat)
	}
	return deleted, args.Error(1)
}

func (m *ChatRepositoryMock) HidePrivateHistory(ctx context.Context, chatID int64, username string) error {
	args := m.Called(ctx, chatID, username)
	return args.Error(0)
}

func (m *ChatRepositoryMock) LeaveGroupChat(ctx context.Context, chatID int64, username string) (repositories.LeaveResult, error) {
	args := m.Called(ctx, chatID, username)
	var res repositories.LeaveResult
	if val := args.Get(0); val != nil {
		res = val.(repositories.LeaveResult)
	}
	return res, args.Error(1)
}

func (m *ChatRepositoryMock) AddMember(ctx context.Context, chatID int64, actor, username string) error {
	args := m.Called(ctx, chatID, actor, username)
	return args.Error(0)
}

func (m *ChatRepositoryMock) RemoveMember(ctx context.Context, chatID int64, actor, username string) error {
	args := m.Called(ctx, chatID, actor, username)
	return args.Error(0)
}

func (m *ChatRepositoryMock) ToggleMemberRank(ctx context.Context, chatID int64, actor, username string) (models.Rank, error) {
	args := m.Called(ctx, chatID, actor, username)
	return args.Get(0).(models.Rank), args.Error(1)
}

func (m *ChatRepositoryMock) SetName(ctx context.Context, chatID int64, actor string, name *string) error {
	args := m.Called(ctx, chatID, actor, name)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SetCover(ctx context.Context, chatID int64, actor string, coverID *int64) (*int64, error) {
	args := m.Called(ctx, chatID, actor, coverID)
	var previous *int64
	if val := args.Get(0); val != nil {
		previous = val.(*int64)
	}
	return previous, args.Error(1)
}

func (m *ChatRepositoryMock) SetNickname(ctx context.Context, chatID int64, actor, username string, nickname *string) error {
	args := m.Called(ctx, chatID, actor, username, nickname)
	return args.Error(0)
}

func (m *ChatRepositoryMock) LatestChats(ctx context.Context, username string, chats, pageSize int) ([]models.ChatSnapshot, error) {
	args := m.Called(ctx, username, chats, pageSize)
	var list []models.ChatSnapshot
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSnapshot)
	}
	return list, args.Error(1)
}

func (m *ChatRepositoryMock) SearchGroupChats(ctx context.Context, username, query string, limit int) ([]models.ChatSummary, error) {
	args := m.Called(ctx, username, query, limit)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) UserExists(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *UserRepositoryMock) FilterExisting(ctx context.Context, usernames []string) ([]string, error) {
	args := m.Called(ctx, usernames)
	var list []string
	if val := args.Get(0); val != nil {
		list = val.([]string)
	}
	return list, args.Error(1)
}

func (m *UserRepositoryMock) ToggleBlock(ctx context.Context, username, target string) (bool, error) {
	args := m.Called(ctx, username, target)
	return args.Bool(0), args.Error(1)
}

func (m *UserRepositoryMock) GetAvatarID(ctx context.Context, username string) (*int64, error) {
	args := m.Called(ctx, username)
	var id *int64
	if val := args.Get(0); val != nil {
		id = val.(*int64)
	}
	return id, args.Error(1)
}

func (m *UserRepositoryMock) SetAvatarID(ctx context.Context, username string, avatarID *int64) (*int64, error) {
	args := m.Called(ctx, username, avatarID)
	var previous *int64
	if val := args.Get(0); val != nil {
		previous = val.(*int64)
	}
	return previous, args.Error(1)
}

func (m *UserRepositoryMock) SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error) {
	args := m.Called(ctx, query, limit)
	var list []models.UserSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.UserSummary)
	}
	return list, args.Error(1)
}

var (
	_ repositories.ChatRepository = (*ChatRepositoryMock)(nil)
	_ repositories.UserRepository = (*UserRepositoryMock)(nil)
)

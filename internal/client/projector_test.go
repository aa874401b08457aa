package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/models"
	"chat-core/internal/protocol"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func apply(t *testing.T, p *Projector, name string, payload any) int64 {
	t.Helper()
	fetch, err := p.Apply(name, raw(t, payload))
	require.NoError(t, err)
	return fetch
}

func strptr(s string) *string { return &s }

func groupData(id int64, members ...string) models.ChatData {
	data := models.ChatData{Chat: models.Chat{ID: id}}
	for i, m := range members {
		rank := models.RankMember
		if i == 0 {
			rank = models.RankOwner
		}
		data.Members = append(data.Members, models.ChatMember{Username: m, Rank: rank})
	}
	return data
}

func privateData(id int64, a, b string) models.ChatData {
	return models.ChatData{
		Chat:    models.Chat{ID: id, Private: true},
		Members: []models.ChatMember{{Username: a}, {Username: b}},
	}
}

func msg(id, chatID int64, from, content string) models.Message {
	return models.Message{ID: id, ChatID: chatID, Username: from, Content: content, Timestamp: id * 1000}
}

func sys(id, chatID int64, content string) models.Message {
	return models.Message{ID: id, ChatID: chatID, Content: content, Timestamp: id * 1000}
}

func TestProjectorIgnoresEventsBeforeSnapshot(t *testing.T) {
	p := NewProjector("alice", 10)
	assert.Zero(t, apply(t, p, protocol.EvtMessageReceived, msg(1, 1, "bob", "early")))
	assert.False(t, p.Ready())

	apply(t, p, protocol.EvtConnected, protocol.Connected{Chats: []models.ChatSnapshot{
		{ChatData: privateData(1, "alice", "bob"), Messages: []models.Message{msg(1, 1, "bob", "early")}},
	}})
	require.True(t, p.Ready())
	require.Equal(t, 1, p.Registry().Len())
	assert.Equal(t, 1, p.Registry().At(0).Count())
	assert.True(t, p.Registry().At(0).HasFullHistory)
}

func TestProjectorSnapshotOrderAndHistory(t *testing.T) {
	p := NewProjector("alice", 2)
	apply(t, p, protocol.EvtConnected, protocol.Connected{Chats: []models.ChatSnapshot{
		{ChatData: groupData(2, "alice", "bob", "carol"), Messages: []models.Message{msg(9, 2, "bob", "b"), msg(8, 2, "bob", "a")}},
		{ChatData: privateData(1, "alice", "bob"), Messages: []models.Message{msg(3, 1, "bob", "x")}},
	}})

	reg := p.Registry()
	require.Equal(t, 2, reg.Len())
	assert.Equal(t, int64(2), reg.At(0).ID())
	assert.False(t, reg.At(0).HasFullHistory)
	assert.Equal(t, []int64{8, 9}, ids(reg.At(0).Messages()))

	p.LoadHistory(2, []models.Message{msg(7, 2, "bob", "older")})
	assert.True(t, reg.At(0).HasFullHistory)
	assert.Equal(t, []int64{7, 8, 9}, ids(reg.At(0).Messages()))
}

func TestProjectorHistoryOverlapIsNotDuplicated(t *testing.T) {
	p := NewProjector("alice", 2)
	apply(t, p, protocol.EvtConnected, protocol.Connected{Chats: []models.ChatSnapshot{
		{ChatData: privateData(1, "alice", "bob"), Messages: []models.Message{msg(4, 1, "bob", "d"), msg(3, 1, "bob", "c")}},
	}})

	added := p.LoadHistory(1, []models.Message{msg(3, 1, "bob", "c"), msg(2, 1, "bob", "b")})

	conv := p.Registry().At(0)
	assert.Equal(t, 1, added)
	assert.Equal(t, []int64{2, 3, 4}, ids(conv.Messages()))
	assert.Equal(t, 3, conv.Count())
	assert.False(t, conv.HasFullHistory)
}

func TestProjectorUnknownChatIsFetchedOnce(t *testing.T) {
	p := NewProjector("bob", 10)
	apply(t, p, protocol.EvtConnected, protocol.Connected{})
	p.OpenTemp("alice")
	require.True(t, p.Registry().At(0).IsTemporary())

	assert.Equal(t, int64(5), apply(t, p, protocol.EvtMessageReceived, msg(2, 5, "alice", "second")))
	assert.Zero(t, apply(t, p, protocol.EvtMessageReceived, msg(1, 5, "alice", "first")))
	assert.Equal(t, 1, p.Registry().Len())

	p.AddChat(privateData(5, "alice", "bob"))
	reg := p.Registry()
	require.Equal(t, 1, reg.Len())
	conv := reg.At(0)
	assert.False(t, conv.IsTemporary())
	assert.Equal(t, []int64{1, 2}, ids(conv.Messages()))
	assert.Equal(t, "alice: second", conv.LastMessagePreview())
	assert.Same(t, conv, reg.GetByPeer("alice"))

	// delivered again after the fetch
	assert.Zero(t, apply(t, p, protocol.EvtMessageReceived, msg(2, 5, "alice", "second")))
	assert.Equal(t, 2, conv.Count())
}

func TestProjectorDropChat(t *testing.T) {
	p := NewProjector("bob", 10)
	apply(t, p, protocol.EvtConnected, protocol.Connected{})
	assert.Equal(t, int64(5), apply(t, p, protocol.EvtMessageReceived, msg(1, 5, "alice", "x")))
	p.DropChat(5)
	assert.Equal(t, int64(5), apply(t, p, protocol.EvtMessageReceived, msg(2, 5, "alice", "y")))
}

func TestProjectorMessageActivityReorders(t *testing.T) {
	p := NewProjector("alice", 10)
	apply(t, p, protocol.EvtConnected, protocol.Connected{Chats: []models.ChatSnapshot{
		{ChatData: privateData(1, "alice", "bob"), Messages: []models.Message{msg(4, 1, "bob", "x")}},
		{ChatData: privateData(2, "alice", "carol"), Messages: []models.Message{msg(3, 2, "carol", "y")}},
	}})
	apply(t, p, protocol.EvtMessageReceived, msg(5, 2, "carol", "z"))
	assert.Equal(t, int64(2), p.Registry().At(0).ID())

	apply(t, p, protocol.EvtMessageReactionsSet, protocol.MessageReactionsSet{ChatID: 2, MessageID: 5, Reactions: "alice:1"})
	m, ok := p.Registry().At(0).FindMessage(5)
	require.True(t, ok)
	assert.Equal(t, "alice:1", m.Reactions)

	apply(t, p, protocol.EvtMessageDeleted, protocol.MessageDeleted{ChatID: 2, MessageID: 5})
	assert.Equal(t, 1, p.Registry().At(0).Count())
}

func TestProjectorGroupEvents(t *testing.T) {
	p := NewProjector("bob", 10)
	apply(t, p, protocol.EvtConnected, protocol.Connected{})

	apply(t, p, protocol.EvtGroupChatCreated, protocol.GroupChatCreated{
		Chat:          groupData(7, "alice", "bob", "carol"),
		SystemMessage: sys(1, 7, "alice created the group chat"),
	})
	conv := p.Registry().Get(7)
	require.NotNil(t, conv)
	assert.Equal(t, "alice, bob, carol", conv.DisplayName())

	apply(t, p, protocol.EvtChatNameSet, protocol.ChatNameSet{ChatID: 7, Name: strptr("club"), SystemMessage: sys(2, 7, "alice set the chat name to club")})
	apply(t, p, protocol.EvtChatNicknameSet, protocol.ChatNicknameSet{ChatID: 7, Username: "carol", Nickname: strptr("cc"), SystemMessage: sys(3, 7, "n")})
	apply(t, p, protocol.EvtChatMemberRankChanged, protocol.ChatMemberRankChanged{ChatID: 7, Username: "carol", Rank: models.RankAdmin, SystemMessage: sys(4, 7, "r")})
	apply(t, p, protocol.EvtChatMemberAdded, protocol.ChatMemberAdded{ChatID: 7, Username: "dave", SystemMessage: sys(5, 7, "a")})
	apply(t, p, protocol.EvtChatMemberLeft, protocol.ChatMemberLeft{ChatID: 7, Username: "alice", NewOwner: strptr("bob"), SystemMessage: sys(6, 7, "alice left the group chat")})

	assert.Equal(t, "club", conv.DisplayName())
	carol, _ := conv.Member("carol")
	assert.Equal(t, "cc", *carol.Nickname)
	assert.Equal(t, models.RankAdmin, carol.Rank)
	me, _ := conv.Member("bob")
	assert.Equal(t, models.RankOwner, me.Rank)
	_, ok := conv.Member("alice")
	assert.False(t, ok)
	_, ok = conv.Member("dave")
	assert.True(t, ok)
	assert.Equal(t, 6, conv.Count())
	assert.Equal(t, "alice left the group chat", conv.LastMessagePreview())

	cover := int64(40)
	apply(t, p, protocol.EvtChatCoverSet, protocol.ChatCoverSet{ChatID: 7, CoverID: &cover, SystemMessage: sys(7, 7, "c")})
	assert.Equal(t, &cover, conv.Cover().AttachmentID)

	apply(t, p, protocol.EvtChatMemberRemoved, protocol.ChatMemberRemoved{ChatID: 7, Username: "bob", SystemMessage: sys(8, 7, "x")})
	assert.Nil(t, p.Registry().Get(7))
}

func TestProjectorAddedToExistingGroup(t *testing.T) {
	p := NewProjector("dave", 10)
	apply(t, p, protocol.EvtConnected, protocol.Connected{})
	apply(t, p, protocol.EvtChatMemberAdded, protocol.ChatMemberAdded{
		ChatID:        7,
		Username:      "dave",
		Chat:          groupData(7, "alice", "bob", "dave"),
		SystemMessage: sys(9, 7, "alice added dave to the group chat"),
	})
	conv := p.Registry().Get(7)
	require.NotNil(t, conv)
	assert.Len(t, conv.Members(), 3)

	apply(t, p, protocol.EvtGroupChatDeleted, protocol.GroupChatDeleted{ChatID: 7})
	assert.True(t, p.Registry().Empty())
}

func TestProjectorBlockState(t *testing.T) {
	p := NewProjector("alice", 10)
	apply(t, p, protocol.EvtConnected, protocol.Connected{})
	apply(t, p, protocol.EvtUserBlockStateChanged, protocol.UserBlockStateChanged{Username: "bob", Blocked: true})
	assert.True(t, p.BlockedBy("bob"))
	apply(t, p, protocol.EvtUserBlockStateChanged, protocol.UserBlockStateChanged{Username: "bob"})
	assert.False(t, p.BlockedBy("bob"))
}

func TestProjectorRejectsGarbage(t *testing.T) {
	p := NewProjector("alice", 10)
	apply(t, p, protocol.EvtConnected, protocol.Connected{})
	_, err := p.Apply("teleported", json.RawMessage(`{}`))
	assert.Error(t, err)
	_, err = p.Apply(protocol.EvtMessageReceived, json.RawMessage(`[`))
	assert.Error(t, err)
}

func ids(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

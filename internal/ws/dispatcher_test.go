package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-core/internal/attachments"
	"chat-core/internal/blobstore"
	"chat-core/internal/cache"
	"chat-core/internal/memstore"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/repositories"
)

type delivery struct {
	usernames []string
	frame     protocol.Frame
}

type recorder struct {
	mu   sync.Mutex
	sent []delivery
}

func (r *recorder) Broadcast(_ context.Context, usernames []string, frame []byte) {
	f, err := protocol.Decode(frame)
	if err != nil {
		panic(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, delivery{usernames: append([]string(nil), usernames...), frame: f})
}

// events returns the events of the given name delivered to username.
func (r *recorder) events(username, name string) []protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Frame
	for _, d := range r.sent {
		if d.frame.Name != name {
			continue
		}
		for _, u := range d.usernames {
			if u == username {
				out = append(out, d.frame)
				break
			}
		}
	}
	return out
}

type fixture struct {
	d     *Dispatcher
	store *memstore.Store
	out   *recorder
	seq   uint64
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	store := memstore.New()
	for _, u := range users {
		store.AddUser(u, u+"-token")
	}
	blobs, err := blobstore.Open("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	out := &recorder{}
	d := NewDispatcher(Deps{
		Chats:       store,
		Messages:    store,
		Users:       store,
		Attachments: attachments.NewService(store, store, store, blobs, 1<<20, zap.NewNop()),
		Members:     cache.NewMembers(store, nil, 0, zap.NewNop()),
		Out:         out,
		Log:         zap.NewNop(),
		PageSize:    3,
	})
	return &fixture{d: d, store: store, out: out}
}

func (f *fixture) do(t *testing.T, username, name string, payload any) protocol.Frame {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	f.seq++
	ack := f.d.Handle(context.Background(), ConnInfo{ConnID: "test", Username: username}, protocol.Frame{
		Type:    protocol.FrameCommand,
		ID:      f.seq,
		Name:    name,
		Payload: raw,
	})
	frame, err := protocol.Decode(ack)
	require.NoError(t, err)
	require.Equal(t, f.seq, frame.ID)
	return frame
}

func (f *fixture) ok(t *testing.T, username, name string, payload any) json.RawMessage {
	t.Helper()
	ack := f.do(t, username, name, payload)
	require.Equal(t, protocol.StatusOK, ack.Status, ack.Error)
	return ack.Data
}

func (f *fixture) send(t *testing.T, from string, target protocol.Target, content string) models.Message {
	t.Helper()
	var msg models.Message
	require.NoError(t, json.Unmarshal(f.ok(t, from, protocol.CmdSendMessage, protocol.SendMessage{Target: target, Content: content}), &msg))
	return msg
}

func (f *fixture) group(t *testing.T, owner string, members ...string) int64 {
	t.Helper()
	var data models.ChatData
	require.NoError(t, json.Unmarshal(f.ok(t, owner, protocol.CmdCreateGroupChat, protocol.CreateGroupChat{Members: members}), &data))
	return data.Chat.ID
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestSendMessageOpensPrivateChatOnce(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	first := f.send(t, "alice", protocol.UserTarget("bob"), "hi")
	second := f.send(t, "bob", protocol.UserTarget("alice"), "hello")
	third := f.send(t, "alice", protocol.ChatTarget(first.ChatID), "again")

	assert.Equal(t, first.ChatID, second.ChatID)
	assert.Equal(t, first.ChatID, third.ChatID)
	assert.Less(t, first.ID, second.ID)
	assert.Len(t, f.out.events("bob", protocol.EvtMessageReceived), 3)
	assert.Len(t, f.out.events("alice", protocol.EvtMessageReceived), 3)
}

func TestSendMessageRejections(t *testing.T) {
	f := newFixture(t, "alice", "bob", "eve")
	msg := f.send(t, "alice", protocol.UserTarget("bob"), "hi")

	tests := []struct {
		name   string
		from   string
		cmd    string
		body   any
		status protocol.Status
	}{
		{"empty content", "alice", protocol.CmdSendMessage, protocol.SendMessage{Target: protocol.UserTarget("bob")}, protocol.StatusValidationError},
		{"not a member", "eve", protocol.CmdSendMessage, protocol.SendMessage{Target: protocol.ChatTarget(msg.ChatID), Content: "x"}, protocol.StatusAuthError},
		{"unknown user", "alice", protocol.CmdSendMessage, protocol.SendMessage{Target: protocol.UserTarget("ghost"), Content: "x"}, protocol.StatusNotFound},
		{"self", "alice", protocol.CmdSendMessage, protocol.SendMessage{Target: protocol.UserTarget("alice"), Content: "x"}, protocol.StatusAuthError},
		{"unknown command", "alice", "fly", struct{}{}, protocol.StatusValidationError},
		{"delete other's message", "bob", protocol.CmdDeleteMessage, protocol.DeleteMessage{MessageID: msg.ID}, protocol.StatusAuthError},
		{"delete missing message", "alice", protocol.CmdDeleteMessage, protocol.DeleteMessage{MessageID: 999}, protocol.StatusNotFound},
		{"read foreign chat", "eve", protocol.CmdGetMessages, protocol.GetMessages{ChatID: msg.ChatID}, protocol.StatusAuthError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := f.do(t, tt.from, tt.cmd, tt.body)
			assert.Equal(t, tt.status, ack.Status)
			assert.NotEmpty(t, ack.Error)
		})
	}
}

func TestBlockedSenderIsRefused(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	state := decode[protocol.BlockState](t, f.ok(t, "bob", protocol.CmdChangeUserBlockState, protocol.UserRef{Username: "alice"}))
	assert.True(t, state.Blocked)
	require.Len(t, f.out.events("alice", protocol.EvtUserBlockStateChanged), 1)

	ack := f.do(t, "alice", protocol.CmdSendMessage, protocol.SendMessage{Target: protocol.UserTarget("bob"), Content: "hi"})
	assert.Equal(t, protocol.StatusAuthError, ack.Status)

	// blocking is one directional
	f.send(t, "bob", protocol.UserTarget("alice"), "still allowed")

	state = decode[protocol.BlockState](t, f.ok(t, "bob", protocol.CmdChangeUserBlockState, protocol.UserRef{Username: "alice"}))
	assert.False(t, state.Blocked)
	f.send(t, "alice", protocol.UserTarget("bob"), "hi again")
}

func TestDeleteMessageBroadcasts(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	msg := f.send(t, "alice", protocol.UserTarget("bob"), "oops")

	f.ok(t, "alice", protocol.CmdDeleteMessage, protocol.DeleteMessage{MessageID: msg.ID})

	events := f.out.events("bob", protocol.EvtMessageDeleted)
	require.Len(t, events, 1)
	got := decode[protocol.MessageDeleted](t, events[0].Payload)
	assert.Equal(t, protocol.MessageDeleted{ChatID: msg.ChatID, MessageID: msg.ID}, got)
}

func TestGetMessagesPages(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	var chatID int64
	for i := 0; i < 5; i++ {
		chatID = f.send(t, "alice", protocol.UserTarget("bob"), "m").ChatID
	}

	page := decode[[]models.Message](t, f.ok(t, "bob", protocol.CmdGetMessages, protocol.GetMessages{ChatID: chatID}))
	require.Len(t, page, 3)
	assert.Greater(t, page[0].ID, page[1].ID)

	rest := decode[[]models.Message](t, f.ok(t, "bob", protocol.CmdGetMessages, protocol.GetMessages{ChatID: chatID, Offset: 3}))
	assert.Len(t, rest, 2)
}

func TestDeletePrivateChatHidesHistoryForCallerOnly(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	f.send(t, "alice", protocol.UserTarget("bob"), "one")
	last := f.send(t, "bob", protocol.UserTarget("alice"), "two")

	f.ok(t, "alice", protocol.CmdDeleteChat, protocol.ChatRef{ChatID: last.ChatID})
	assert.Empty(t, f.out.events("bob", protocol.EvtGroupChatDeleted))

	mine := decode[[]models.Message](t, f.ok(t, "alice", protocol.CmdGetMessages, protocol.GetMessages{ChatID: last.ChatID}))
	assert.Empty(t, mine)
	theirs := decode[[]models.Message](t, f.ok(t, "bob", protocol.CmdGetMessages, protocol.GetMessages{ChatID: last.ChatID}))
	assert.Len(t, theirs, 2)

	next := f.send(t, "bob", protocol.UserTarget("alice"), "three")
	mine = decode[[]models.Message](t, f.ok(t, "alice", protocol.CmdGetMessages, protocol.GetMessages{ChatID: last.ChatID}))
	require.Len(t, mine, 1)
	assert.Equal(t, next.ID, mine[0].ID)
	for _, m := range mine {
		assert.Greater(t, m.ID, last.ID)
	}
}

func TestCreateGroupChat(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")

	ack := f.do(t, "alice", protocol.CmdCreateGroupChat, protocol.CreateGroupChat{Members: []string{"bob", "ghost"}})
	assert.Equal(t, protocol.StatusValidationError, ack.Status)

	ack = f.do(t, "alice", protocol.CmdCreateGroupChat, protocol.CreateGroupChat{Members: []string{"bob", "alice"}})
	assert.Equal(t, protocol.StatusValidationError, ack.Status)

	chatID := f.group(t, "alice", "bob", "carol", "ghost")
	for _, u := range []string{"alice", "bob", "carol"} {
		events := f.out.events(u, protocol.EvtGroupChatCreated)
		require.Len(t, events, 1, u)
		created := decode[protocol.GroupChatCreated](t, events[0].Payload)
		assert.Equal(t, chatID, created.Chat.Chat.ID)
		assert.Equal(t, "alice created the group chat", created.SystemMessage.Content)
		assert.True(t, created.SystemMessage.IsSystem())
	}

	data, err := f.store.GetChatData(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, data.Members, 3)
	assert.Equal(t, models.RankOwner, data.Members[0].Rank)
	assert.Equal(t, models.RankMember, data.Members[1].Rank)
}

func TestOwnerLeavingTransfersOwnership(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	chatID := f.group(t, "alice", "bob", "carol")

	f.ok(t, "alice", protocol.CmdLeaveGroupChat, protocol.ChatRef{ChatID: chatID})

	require.Len(t, f.out.events("alice", protocol.EvtGroupChatDeleted), 1)
	assert.Empty(t, f.out.events("alice", protocol.EvtChatMemberLeft))
	for _, u := range []string{"bob", "carol"} {
		events := f.out.events(u, protocol.EvtChatMemberLeft)
		require.Len(t, events, 1)
		left := decode[protocol.ChatMemberLeft](t, events[0].Payload)
		require.NotNil(t, left.NewOwner)
		assert.Equal(t, "bob", *left.NewOwner)
		assert.Equal(t, "alice left the group chat", left.SystemMessage.Content)
	}

	data, err := f.store.GetChatData(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, models.RankOwner, data.Members[0].Rank)

	f.ok(t, "bob", protocol.CmdLeaveGroupChat, protocol.ChatRef{ChatID: chatID})
	f.ok(t, "carol", protocol.CmdLeaveGroupChat, protocol.ChatRef{ChatID: chatID})
	_, err = f.store.GetChatData(context.Background(), chatID)
	assert.Error(t, err)
}

func TestMemberManagement(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol", "dave")
	chatID := f.group(t, "alice", "bob", "carol")

	ack := f.do(t, "bob", protocol.CmdRemoveChatMember, protocol.ChatMemberRef{ChatID: chatID, Username: "carol"})
	assert.Equal(t, protocol.StatusAuthError, ack.Status)

	rank := decode[protocol.RankSet](t, f.ok(t, "alice", protocol.CmdChangeChatMemberRank, protocol.ChatMemberRef{ChatID: chatID, Username: "bob"}))
	assert.Equal(t, models.RankAdmin, rank.Rank)
	changed := f.out.events("carol", protocol.EvtChatMemberRankChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "alice promoted bob", decode[protocol.ChatMemberRankChanged](t, changed[0].Payload).SystemMessage.Content)

	ack = f.do(t, "bob", protocol.CmdRemoveChatMember, protocol.ChatMemberRef{ChatID: chatID, Username: "alice"})
	assert.Equal(t, protocol.StatusAuthError, ack.Status)
	ack = f.do(t, "bob", protocol.CmdChangeChatMemberRank, protocol.ChatMemberRef{ChatID: chatID, Username: "bob"})
	assert.Equal(t, protocol.StatusAuthError, ack.Status)

	f.ok(t, "bob", protocol.CmdAddChatMember, protocol.ChatMemberRef{ChatID: chatID, Username: "dave"})
	added := f.out.events("dave", protocol.EvtChatMemberAdded)
	require.Len(t, added, 1)
	assert.Len(t, decode[protocol.ChatMemberAdded](t, added[0].Payload).Chat.Members, 4)

	ack = f.do(t, "bob", protocol.CmdAddChatMember, protocol.ChatMemberRef{ChatID: chatID, Username: "dave"})
	assert.Equal(t, protocol.StatusValidationError, ack.Status)

	f.ok(t, "bob", protocol.CmdRemoveChatMember, protocol.ChatMemberRef{ChatID: chatID, Username: "carol"})
	assert.Len(t, f.out.events("carol", protocol.EvtChatMemberRemoved), 1)
	assert.Len(t, f.out.events("dave", protocol.EvtChatMemberRemoved), 1)

	ack = f.do(t, "carol", protocol.CmdSendMessage, protocol.SendMessage{Target: protocol.ChatTarget(chatID), Content: "x"})
	assert.Equal(t, protocol.StatusAuthError, ack.Status)
}

func TestChatMetadata(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	chatID := f.group(t, "alice", "bob", "carol")

	name := "  book club "
	f.ok(t, "bob", protocol.CmdSetChatName, protocol.SetChatName{ChatID: chatID, Name: &name})
	events := f.out.events("carol", protocol.EvtChatNameSet)
	require.Len(t, events, 1)
	set := decode[protocol.ChatNameSet](t, events[0].Payload)
	require.NotNil(t, set.Name)
	assert.Equal(t, "book club", *set.Name)
	assert.Equal(t, "bob set the chat name to book club", set.SystemMessage.Content)

	nick := "cc"
	f.ok(t, "alice", protocol.CmdSetChatNickname, protocol.SetChatNickname{ChatID: chatID, Username: "carol", Nickname: &nick})
	ack := f.do(t, "alice", protocol.CmdSetChatNickname, protocol.SetChatNickname{ChatID: chatID, Username: "ghost", Nickname: &nick})
	assert.Equal(t, protocol.StatusNotFound, ack.Status)

	data := decode[models.ChatData](t, f.ok(t, "carol", protocol.CmdGetChatData, protocol.GetChatData{Target: protocol.ChatTarget(chatID)}))
	assert.Equal(t, "book club", *data.Chat.Name)
	assert.Equal(t, "cc", *data.Members[2].Nickname)

	msg := f.send(t, "alice", protocol.UserTarget("bob"), "hey")
	ack = f.do(t, "alice", protocol.CmdSetChatName, protocol.SetChatName{ChatID: msg.ChatID, Name: &name})
	assert.Equal(t, protocol.StatusAuthError, ack.Status)
}

func TestSetChatCoverReplacesPrevious(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	chatID := f.group(t, "alice", "bob", "carol")

	ack := f.do(t, "alice", protocol.CmdSetChatCover, protocol.SetChatCover{ChatID: chatID, Cover: &protocol.Upload{Type: "text/plain", Data: []byte("x")}})
	assert.Equal(t, protocol.StatusValidationError, ack.Status)

	first := decode[protocol.CoverSet](t, f.ok(t, "alice", protocol.CmdSetChatCover, protocol.SetChatCover{ChatID: chatID, Cover: &protocol.Upload{Type: "image/png", Data: []byte("1")}}))
	require.NotNil(t, first.CoverID)
	second := decode[protocol.CoverSet](t, f.ok(t, "bob", protocol.CmdSetChatCover, protocol.SetChatCover{ChatID: chatID, Cover: &protocol.Upload{Type: "image/png", Data: []byte("2")}}))
	require.NotNil(t, second.CoverID)

	_, err := f.store.GetAttachmentData(context.Background(), *first.CoverID)
	assert.Error(t, err)

	cleared := decode[protocol.CoverSet](t, f.ok(t, "carol", protocol.CmdSetChatCover, protocol.SetChatCover{ChatID: chatID}))
	assert.Nil(t, cleared.CoverID)
	events := f.out.events("alice", protocol.EvtChatCoverSet)
	require.Len(t, events, 3)
	assert.Equal(t, "carol removed the chat cover", decode[protocol.ChatCoverSet](t, events[2].Payload).SystemMessage.Content)
}

func TestReactions(t *testing.T) {
	f := newFixture(t, "alice", "bob", "eve")
	msg := f.send(t, "alice", protocol.UserTarget("bob"), "hi")
	heart, bogus := 1, 99

	f.ok(t, "bob", protocol.CmdSetMessageReaction, protocol.SetMessageReaction{MessageID: msg.ID, ReactionID: &heart})
	f.ok(t, "bob", protocol.CmdSetMessageReaction, protocol.SetMessageReaction{MessageID: msg.ID, ReactionID: &heart})
	events := f.out.events("alice", protocol.EvtMessageReactionsSet)
	require.Len(t, events, 2)
	assert.Equal(t, "bob:1", decode[protocol.MessageReactionsSet](t, events[1].Payload).Reactions)

	f.ok(t, "bob", protocol.CmdSetMessageReaction, protocol.SetMessageReaction{MessageID: msg.ID, ReactionID: &bogus})
	events = f.out.events("alice", protocol.EvtMessageReactionsSet)
	assert.Equal(t, "", decode[protocol.MessageReactionsSet](t, events[2].Payload).Reactions)

	ack := f.do(t, "eve", protocol.CmdSetMessageReaction, protocol.SetMessageReaction{MessageID: msg.ID, ReactionID: &heart})
	assert.Equal(t, protocol.StatusAuthError, ack.Status)
}

func TestAttachmentMessagesAndLookups(t *testing.T) {
	f := newFixture(t, "alice", "bob", "eve")

	raw := f.ok(t, "alice", protocol.CmdSendMessage, protocol.SendMessage{
		Target:     protocol.UserTarget("bob"),
		Attachment: &protocol.Upload{Type: "text/plain", Name: "notes.txt", Data: []byte("notes")},
	})
	msg := decode[models.Message](t, raw)
	assert.True(t, msg.IsAttachment)

	var id int64
	require.NoError(t, json.Unmarshal([]byte(msg.Content), &id))
	got := decode[models.Attachment](t, f.ok(t, "bob", protocol.CmdGetAttachment, protocol.GetAttachment{AttachmentID: id}))
	assert.Equal(t, "notes.txt", got.Name)
	assert.Equal(t, []byte("notes"), got.Data)

	assert.Equal(t, "", string(f.ok(t, "eve", protocol.CmdGetAttachment, protocol.GetAttachment{AttachmentID: id})))
	assert.Equal(t, "", string(f.ok(t, "bob", protocol.CmdGetAttachment, protocol.GetAttachment{AttachmentID: id + 50})))
	assert.Equal(t, "", string(f.ok(t, "bob", protocol.CmdGetUserAvatar, protocol.UserRef{Username: "alice"})))
	assert.Equal(t, "", string(f.ok(t, "bob", protocol.CmdGetUserAvatar, protocol.UserRef{Username: "ghost"})))
	assert.Equal(t, "", string(f.ok(t, "eve", protocol.CmdGetChatData, protocol.GetChatData{Target: protocol.ChatTarget(msg.ChatID)})))
	assert.Equal(t, "", string(f.ok(t, "eve", protocol.CmdGetChatData, protocol.GetChatData{Target: protocol.UserTarget("alice")})))

	data := decode[models.ChatData](t, f.ok(t, "bob", protocol.CmdGetChatData, protocol.GetChatData{Target: protocol.UserTarget("alice")}))
	assert.Equal(t, msg.ChatID, data.Chat.ID)
	assert.True(t, data.Chat.Private)
}

func TestOversizedUploadOpensNoChat(t *testing.T) {
	f := newFixture(t, "alice", "bob")

	ack := f.do(t, "alice", protocol.CmdSendMessage, protocol.SendMessage{
		Target:     protocol.UserTarget("bob"),
		Attachment: &protocol.Upload{Type: "application/octet-stream", Name: "big.bin", Data: make([]byte, 1<<20+1)},
	})
	assert.Equal(t, protocol.StatusValidationError, ack.Status)

	_, err := f.store.GetPrivateChatID(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, repositories.ErrChatNotFound)
	assert.Empty(t, f.out.events("bob", protocol.EvtMessageReceived))
}

func TestSearch(t *testing.T) {
	f := newFixture(t, "alice", "alina", "bob", "carol")
	chatID := f.group(t, "alice", "bob", "carol")
	name := "Alpine trip"
	f.ok(t, "alice", protocol.CmdSetChatName, protocol.SetChatName{ChatID: chatID, Name: &name})

	res := decode[models.SearchResult](t, f.ok(t, "bob", protocol.CmdSearch, protocol.Search{Query: " AL ", IncludeChats: true}))
	require.Len(t, res.Users, 2)
	assert.Equal(t, "alice", res.Users[0].Username)
	require.Len(t, res.Chats, 1)
	assert.Equal(t, chatID, res.Chats[0].ID)

	res = decode[models.SearchResult](t, f.ok(t, "bob", protocol.CmdSearch, protocol.Search{Query: "al"}))
	assert.Nil(t, res.Chats)

	ack := f.do(t, "bob", protocol.CmdSearch, protocol.Search{Query: "  "})
	assert.Equal(t, protocol.StatusValidationError, ack.Status)
}

func TestConnectedSnapshot(t *testing.T) {
	f := newFixture(t, "alice", "bob", "carol")
	f.send(t, "alice", protocol.UserTarget("bob"), "private")
	chatID := f.group(t, "alice", "bob", "carol")

	raw, err := f.d.Connected(context.Background(), "alice")
	require.NoError(t, err)
	frame, err := protocol.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.EvtConnected, frame.Name)

	snap := decode[protocol.Connected](t, frame.Payload)
	require.Len(t, snap.Chats, 2)
	assert.Equal(t, chatID, snap.Chats[0].Chat.ID)
	assert.Len(t, snap.Chats[0].Messages, 1)

	raw, err = f.d.Connected(context.Background(), "carol")
	require.NoError(t, err)
	frame, _ = protocol.Decode(raw)
	assert.Len(t, decode[protocol.Connected](t, frame.Payload).Chats, 1)
}

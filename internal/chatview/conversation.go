package chatview

import (
	"errors"
	"strings"
	"time"

	"chat-core/internal/linkedlist"
	"chat-core/internal/models"
)

// ErrOutOfOrder is returned by PushMessage when a live message is not newer
// than every message already held by the conversation.
var ErrOutOfOrder = errors.New("message id not newer than conversation tail")

// Cover identifies what to render as a conversation's picture: the other
// member's avatar for private chats, or the chat's cover attachment.
type Cover struct {
	Username     string
	AttachmentID *int64
}

// Conversation is the client view of one chat. A temporary conversation stands
// in for a private chat with Peer that does not exist on the server yet.
type Conversation struct {
	// HasFullHistory is set once a history page came back short.
	HasFullHistory bool

	viewer string
	peer   string
	data   models.ChatData
	groups linkedlist.List[*MessageGroup]
	count  int
	maxID  int64
}

// NewConversation builds the view of an existing chat as seen by viewer.
func NewConversation(viewer string, data models.ChatData) *Conversation {
	return &Conversation{viewer: viewer, data: data}
}

// NewTempConversation builds a placeholder for a private chat with peer.
func NewTempConversation(viewer, peer string) *Conversation {
	return &Conversation{
		viewer:         viewer,
		peer:           peer,
		data:           models.ChatData{Chat: models.Chat{Private: true}},
		HasFullHistory: true,
	}
}

// ID returns the chat id, or 0 for a temporary conversation.
func (c *Conversation) ID() int64 {
	return c.data.Chat.ID
}

// IsTemporary reports whether the conversation has no server-side chat yet.
func (c *Conversation) IsTemporary() bool {
	return c.data.Chat.ID == 0
}

// Peer returns the other user of a private or temporary conversation.
func (c *Conversation) Peer() string {
	if c.IsTemporary() {
		return c.peer
	}
	if !c.data.Chat.Private {
		return ""
	}
	if other, ok := c.OtherMember(); ok {
		return other.Username
	}
	return ""
}

// IsPrivate reports whether the conversation is a one to one chat.
func (c *Conversation) IsPrivate() bool {
	return c.data.Chat.Private
}

// Chat returns the chat row.
func (c *Conversation) Chat() models.Chat {
	return c.data.Chat
}

// Members returns the members in join order. The slice must not be modified.
func (c *Conversation) Members() []models.ChatMember {
	return c.data.Members
}

// Member looks up a member by username.
func (c *Conversation) Member(username string) (models.ChatMember, bool) {
	if i := c.memberIndex(username); i >= 0 {
		return c.data.Members[i], true
	}
	return models.ChatMember{}, false
}

// OtherMember returns the member of a private chat that is not the viewer.
func (c *Conversation) OtherMember() (models.ChatMember, bool) {
	if len(c.data.Members) < 2 {
		return models.ChatMember{}, false
	}
	if c.data.Members[0].Username == c.viewer {
		return c.data.Members[1], true
	}
	return c.data.Members[0], true
}

// DisplayName is the nickname or username of the other member for private
// chats, and the chat name or the joined member list for groups.
func (c *Conversation) DisplayName() string {
	if c.IsTemporary() {
		return c.peer
	}
	if c.data.Chat.Private {
		other, ok := c.OtherMember()
		if !ok {
			return ""
		}
		if other.Nickname != nil && *other.Nickname != "" {
			return *other.Nickname
		}
		return other.Username
	}
	if c.data.Chat.Name != nil && *c.data.Chat.Name != "" {
		return *c.data.Chat.Name
	}
	names := make([]string, 0, len(c.data.Members))
	for _, m := range c.data.Members {
		names = append(names, m.Username)
	}
	return strings.Join(names, ", ")
}

// Cover returns what the conversation picture resolves from.
func (c *Conversation) Cover() Cover {
	if c.IsTemporary() {
		return Cover{Username: c.peer}
	}
	if c.data.Chat.Private {
		return Cover{Username: c.Peer()}
	}
	return Cover{AttachmentID: c.data.Chat.CoverID}
}

// LastMessage returns the newest message held.
func (c *Conversation) LastMessage() (models.Message, bool) {
	last := c.groups.Last()
	if last == nil {
		return models.Message{}, false
	}
	return last.Value.Last(), true
}

// LastMessagePreview renders the newest message for a conversation list.
func (c *Conversation) LastMessagePreview() string {
	m, ok := c.LastMessage()
	if !ok {
		return ""
	}
	if m.IsAttachment {
		return m.Username + " sent an attachment"
	}
	if m.IsSystem() {
		return m.Content
	}
	return m.Username + ": " + m.Content
}

// LastMessageTime returns the creation time of the newest message, or the zero time.
func (c *Conversation) LastMessageTime() time.Time {
	m, ok := c.LastMessage()
	if !ok {
		return time.Time{}
	}
	return m.Time()
}

// Count returns the number of messages held.
func (c *Conversation) Count() int {
	return c.count
}

// GroupCount returns the number of message groups.
func (c *Conversation) GroupCount() int {
	return c.groups.Count()
}

// Groups returns the message groups oldest first.
func (c *Conversation) Groups() []*MessageGroup {
	return c.groups.ToArray()
}

// ReversedGroups returns the message groups newest first.
func (c *Conversation) ReversedGroups() []*MessageGroup {
	return c.groups.ToReversedArray()
}

// Messages flattens the groups oldest first.
func (c *Conversation) Messages() []models.Message {
	out := make([]models.Message, 0, c.count)
	for _, g := range c.groups.ToArray() {
		out = append(out, g.messages...)
	}
	return out
}

// InsertMessage adds an older message at the front, joining the oldest group
// when the grouping window allows it. Messages not older than the oldest one
// held are already known and are skipped.
func (c *Conversation) InsertMessage(m models.Message) bool {
	first := c.groups.First()
	if first != nil && m.ID >= first.Value.messages[0].ID {
		return false
	}
	if first != nil && first.Value.Accepts(m) {
		first.Value.prepend(m)
	} else {
		c.groups.Prepend(newMessageGroup(m))
	}
	c.count++
	if m.ID > c.maxID {
		c.maxID = m.ID
	}
	return true
}

// InsertMessages inserts a history page ordered newest first and returns how
// many messages were new.
func (c *Conversation) InsertMessages(page []models.Message) int {
	added := 0
	for _, m := range page {
		if c.InsertMessage(m) {
			added++
		}
	}
	return added
}

// PushMessage appends a live message at the back, joining the newest group
// when the grouping window allows it.
func (c *Conversation) PushMessage(m models.Message) error {
	if m.ID <= c.maxID {
		return ErrOutOfOrder
	}
	if last := c.groups.Last(); last != nil && last.Value.Accepts(m) {
		last.Value.append(m)
	} else {
		c.groups.Append(newMessageGroup(m))
	}
	c.count++
	c.maxID = m.ID
	return nil
}

// DeleteMessage removes a message and drops its group once empty. Unknown ids
// are ignored.
func (c *Conversation) DeleteMessage(id int64) bool {
	node := c.findGroup(id)
	if node == nil {
		return false
	}
	found, empty := node.Value.remove(id)
	if !found {
		return false
	}
	if empty {
		c.groups.Remove(node)
	}
	c.count--
	return true
}

// FindMessage looks up a message by id.
func (c *Conversation) FindMessage(id int64) (models.Message, bool) {
	node := c.findGroup(id)
	if node == nil {
		return models.Message{}, false
	}
	i, ok := node.Value.find(id)
	if !ok {
		return models.Message{}, false
	}
	return node.Value.messages[i], true
}

// SetReactions replaces the reaction encoding of a held message.
func (c *Conversation) SetReactions(id int64, encoded string) bool {
	node := c.findGroup(id)
	if node == nil {
		return false
	}
	i, ok := node.Value.find(id)
	if !ok {
		return false
	}
	node.Value.messages[i].Reactions = encoded
	return true
}

// Group ids grow monotonically along the list, so the first group whose newest
// id reaches id is the only one that can hold it.
func (c *Conversation) findGroup(id int64) *linkedlist.Node[*MessageGroup] {
	node := c.groups.FirstMatching(func(g *MessageGroup) bool {
		return g.Last().ID >= id
	})
	if node == nil || !node.Value.MayContain(id) {
		return nil
	}
	return node
}

// AddMember appends a member unless already present.
func (c *Conversation) AddMember(m models.ChatMember) {
	if c.memberIndex(m.Username) >= 0 {
		return
	}
	c.data.Members = append(c.data.Members, m)
}

// RemoveMember drops a member and reports whether it was present.
func (c *Conversation) RemoveMember(username string) bool {
	i := c.memberIndex(username)
	if i < 0 {
		return false
	}
	c.data.Members = append(c.data.Members[:i], c.data.Members[i+1:]...)
	return true
}

// SetMemberRank updates a member's rank.
func (c *Conversation) SetMemberRank(username string, rank models.Rank) bool {
	i := c.memberIndex(username)
	if i < 0 {
		return false
	}
	c.data.Members[i].Rank = rank
	return true
}

// SetNickname updates or clears a member's nickname.
func (c *Conversation) SetNickname(username string, nickname *string) bool {
	i := c.memberIndex(username)
	if i < 0 {
		return false
	}
	c.data.Members[i].Nickname = nickname
	return true
}

// SetName updates or clears the chat name.
func (c *Conversation) SetName(name *string) {
	c.data.Chat.Name = name
}

// SetCoverID updates or clears the chat cover.
func (c *Conversation) SetCoverID(id *int64) {
	c.data.Chat.CoverID = id
}

func (c *Conversation) memberIndex(username string) int {
	for i, m := range c.data.Members {
		if m.Username == username {
			return i
		}
	}
	return -1
}

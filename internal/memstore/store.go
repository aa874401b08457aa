// Package memstore is an in-process implementation of the repositories, used
// for local development and end-to-end tests. A single mutex serializes every
// operation, so each call is atomic the way the SQL transactions are.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-core/internal/models"
	"chat-core/internal/reactions"
	"chat-core/internal/repositories"
	"chat-core/internal/session"
)

type member struct {
	username   string
	nickname   *string
	rank       models.Rank
	breakPoint int64
}

type chat struct {
	row     models.Chat
	members []*member
}

type user struct {
	blockList []string
	avatarID  *int64
}

// Store holds users, chats, messages, attachment metadata and sessions.
type Store struct {
	mu sync.Mutex

	users       map[string]*user
	sessions    map[string]string
	chats       map[int64]*chat
	private     map[[2]string]int64
	messages    map[int64]*models.Message
	byChat      map[int64][]int64
	attachments map[int64]models.AttachmentData

	nextChat, nextMessage, nextAttachment int64
	now                                   func() time.Time
}

var (
	_ repositories.ChatRepository       = (*Store)(nil)
	_ repositories.MessageRepository    = (*Store)(nil)
	_ repositories.UserRepository       = (*Store)(nil)
	_ repositories.AttachmentRepository = (*Store)(nil)
	_ session.Validator                 = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:       make(map[string]*user),
		sessions:    make(map[string]string),
		chats:       make(map[int64]*chat),
		private:     make(map[[2]string]int64),
		messages:    make(map[int64]*models.Message),
		byChat:      make(map[int64][]int64),
		attachments: make(map[int64]models.AttachmentData),
		now:         time.Now,
	}
}

// AddUser registers a user and a session token for it.
func (s *Store) AddUser(username, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; !ok {
		s.users[username] = &user{}
	}
	if token != "" {
		s.sessions[token] = username
	}
}

// Validate resolves a session token.
func (s *Store) Validate(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.sessions[token]
	if !ok {
		return "", session.ErrInvalidSession
	}
	return username, nil
}

func (s *Store) IsMember(_ context.Context, chatID int64, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	return ok && c.member(username) != nil, nil
}

func (s *Store) IsPrivate(_ context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return false, repositories.ErrChatNotFound
	}
	return c.row.Private, nil
}

func (s *Store) GetMembers(_ context.Context, chatID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	return c.usernames(), nil
}

func (s *Store) GetChatData(_ context.Context, chatID int64) (models.ChatData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return models.ChatData{}, repositories.ErrChatNotFound
	}
	return c.data(), nil
}

func (s *Store) GetPrivateChatID(_ context.Context, a, b string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.private[pair(a, b)]
	if !ok {
		return 0, repositories.ErrChatNotFound
	}
	return id, nil
}

func (s *Store) OpenPrivateChat(_ context.Context, sender, target string) (int64, bool, error) {
	if sender == target {
		return 0, false, repositories.ErrForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.users[target]
	if !ok {
		return 0, false, repositories.ErrUserNotFound
	}
	for _, u := range t.blockList {
		if u == sender {
			return 0, false, repositories.ErrBlocked
		}
	}
	key := pair(sender, target)
	if id, ok := s.private[key]; ok {
		return id, false, nil
	}
	c := s.newChat(true)
	c.members = append(c.members, s.newMember(sender, 0), s.newMember(target, 0))
	s.private[key] = c.row.ID
	return c.row.ID, true, nil
}

func (s *Store) CreateGroupChat(_ context.Context, owner string, members []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.newChat(false)
	c.members = append(c.members, s.newMember(owner, models.RankOwner))
	for _, m := range members {
		if c.member(m) == nil {
			c.members = append(c.members, s.newMember(m, models.RankMember))
		}
	}
	return c.row.ID, nil
}

func (s *Store) DeleteGroupChat(_ context.Context, chatID int64, actor string) (repositories.DeletedChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.groupChat(chatID)
	if err != nil {
		return repositories.DeletedChat{}, err
	}
	m := c.member(actor)
	if m == nil {
		return repositories.DeletedChat{}, repositories.ErrNotMember
	}
	if m.rank != models.RankOwner {
		return repositories.DeletedChat{}, repositories.ErrForbidden
	}
	members := c.usernames()
	return repositories.DeletedChat{Members: members, AttachmentIDs: s.destroy(chatID)}, nil
}

func (s *Store) HidePrivateHistory(_ context.Context, chatID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || !c.row.Private {
		return repositories.ErrNotMember
	}
	m := c.member(username)
	if m == nil {
		return repositories.ErrNotMember
	}
	if ids := s.byChat[chatID]; len(ids) > 0 {
		m.breakPoint = ids[len(ids)-1]
	}
	return nil
}

func (s *Store) LeaveGroupChat(_ context.Context, chatID int64, username string) (repositories.LeaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.groupChat(chatID)
	if err != nil {
		return repositories.LeaveResult{}, err
	}
	m := c.member(username)
	if m == nil {
		return repositories.LeaveResult{}, repositories.ErrNotMember
	}
	c.remove(username)

	out := repositories.LeaveResult{Remaining: c.usernames()}
	if len(c.members) == 0 {
		out.Deleted = true
		out.AttachmentIDs = s.destroy(chatID)
		return out, nil
	}
	if m.rank == models.RankOwner {
		next := c.members[0]
		next.rank = models.RankOwner
		name := next.username
		out.NewOwner = &name
	}
	return out, nil
}

func (s *Store) AddMember(_ context.Context, chatID int64, actor, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.groupChat(chatID)
	if err != nil {
		return err
	}
	if c.member(actor) == nil {
		return repositories.ErrNotMember
	}
	if _, ok := s.users[username]; !ok {
		return repositories.ErrUserNotFound
	}
	if c.member(username) != nil {
		return repositories.ErrAlreadyMember
	}
	c.members = append(c.members, s.newMember(username, models.RankMember))
	return nil
}

func (s *Store) RemoveMember(_ context.Context, chatID int64, actor, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.moderate(chatID, actor, username)
	if err != nil {
		return err
	}
	c.remove(username)
	return nil
}

func (s *Store) ToggleMemberRank(_ context.Context, chatID int64, actor, username string) (models.Rank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.moderate(chatID, actor, username)
	if err != nil {
		return 0, err
	}
	m := c.member(username)
	m.rank = models.RankAdmin - m.rank
	return m.rank, nil
}

func (s *Store) SetName(_ context.Context, chatID int64, actor string, name *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.groupChat(chatID)
	if err != nil {
		return err
	}
	if c.member(actor) == nil {
		return repositories.ErrNotMember
	}
	c.row.Name = name
	return nil
}

func (s *Store) SetCover(_ context.Context, chatID int64, actor string, coverID *int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.groupChat(chatID)
	if err != nil {
		return nil, err
	}
	if c.member(actor) == nil {
		return nil, repositories.ErrNotMember
	}
	previous := c.row.CoverID
	c.row.CoverID = coverID
	return previous, nil
}

func (s *Store) SetNickname(_ context.Context, chatID int64, actor, username string, nickname *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || c.member(actor) == nil {
		return repositories.ErrNotMember
	}
	m := c.member(username)
	if m == nil {
		return repositories.ErrUserNotFound
	}
	m.nickname = nickname
	return nil
}

func (s *Store) LatestChats(_ context.Context, username string, limit, pageSize int) ([]models.ChatSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		id     int64
		lastID int64
	}
	var found []candidate
	for id, c := range s.chats {
		m := c.member(username)
		if m == nil {
			continue
		}
		ids := s.byChat[id]
		if len(ids) == 0 || ids[len(ids)-1] <= m.breakPoint {
			continue
		}
		found = append(found, candidate{id: id, lastID: ids[len(ids)-1]})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].lastID > found[j].lastID })
	if len(found) > limit {
		found = found[:limit]
	}

	out := make([]models.ChatSnapshot, 0, len(found))
	for _, f := range found {
		c := s.chats[f.id]
		out = append(out, models.ChatSnapshot{
			ChatData: c.data(),
			Messages: s.page(f.id, c.member(username).breakPoint, 0, pageSize),
		})
	}
	return out, nil
}

func (s *Store) SearchGroupChats(_ context.Context, username, query string, limit int) ([]models.ChatSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatSummary
	for _, c := range s.chats {
		if c.row.Private || c.row.Name == nil || c.member(username) == nil {
			continue
		}
		if strings.Contains(strings.ToLower(*c.row.Name), query) {
			out = append(out, models.ChatSummary{ID: c.row.ID, Name: c.row.Name, CoverID: c.row.CoverID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, chatID int64, username, content string, isAttachment bool) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok || c.member(username) == nil {
		return models.Message{}, repositories.ErrNotMember
	}
	return s.insertMessage(chatID, username, content, isAttachment), nil
}

func (s *Store) CreateSystemMessage(_ context.Context, chatID int64, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return models.Message{}, repositories.ErrChatNotFound
	}
	return s.insertMessage(chatID, "", content, false), nil
}

func (s *Store) GetMessages(_ context.Context, chatID int64, username string, offset, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil, repositories.ErrNotMember
	}
	m := c.member(username)
	if m == nil {
		return nil, repositories.ErrNotMember
	}
	return s.page(chatID, m.breakPoint, offset, limit), nil
}

func (s *Store) DeleteMessage(_ context.Context, messageID int64, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return 0, repositories.ErrMessageNotFound
	}
	if msg.Username != username {
		return 0, repositories.ErrForbidden
	}
	chatID := msg.ChatID
	delete(s.messages, messageID)
	ids := s.byChat[chatID]
	for i, id := range ids {
		if id == messageID {
			s.byChat[chatID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return chatID, nil
}

func (s *Store) SetReaction(_ context.Context, messageID int64, username string, reactionID *int) (repositories.ReactionUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return repositories.ReactionUpdate{}, repositories.ErrMessageNotFound
	}
	if c := s.chats[msg.ChatID]; c == nil || c.member(username) == nil {
		return repositories.ReactionUpdate{}, repositories.ErrNotMember
	}
	msg.Reactions = reactions.Set(msg.Reactions, username, reactionID)
	return repositories.ReactionUpdate{ChatID: msg.ChatID, Reactions: msg.Reactions}, nil
}

func (s *Store) UserExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *Store) FilterExisting(_ context.Context, usernames []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if _, ok := s.users[u]; ok && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *Store) ToggleBlock(_ context.Context, username, target string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[target]; !ok {
		return false, repositories.ErrUserNotFound
	}
	u, ok := s.users[username]
	if !ok {
		return false, repositories.ErrUserNotFound
	}
	for i, b := range u.blockList {
		if b == target {
			u.blockList = append(u.blockList[:i], u.blockList[i+1:]...)
			return false, nil
		}
	}
	u.blockList = append(u.blockList, target)
	return true, nil
}

func (s *Store) GetAvatarID(_ context.Context, username string) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	return u.avatarID, nil
}

func (s *Store) SetAvatarID(_ context.Context, username string, avatarID *int64) (*int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	previous := u.avatarID
	u.avatarID = avatarID
	return previous, nil
}

func (s *Store) SearchUsers(_ context.Context, query string, limit int) ([]models.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.UserSummary{}
	for name, u := range s.users {
		if strings.Contains(strings.ToLower(name), query) {
			out = append(out, models.UserSummary{Username: name, AvatarID: u.avatarID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateAttachment(_ context.Context, chatID *int64, typ, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAttachment++
	id := s.nextAttachment
	s.attachments[id] = models.AttachmentData{ID: id, ChatID: chatID, Type: typ, Name: name}
	return id, nil
}

func (s *Store) GetAttachmentData(_ context.Context, id int64) (models.AttachmentData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.attachments[id]
	if !ok {
		return models.AttachmentData{}, repositories.ErrAttachmentNotFound
	}
	return data, nil
}

func (s *Store) DeleteAttachments(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.attachments, id)
	}
	return nil
}

func (s *Store) newChat(private bool) *chat {
	s.nextChat++
	c := &chat{row: models.Chat{ID: s.nextChat, Private: private}}
	s.chats[c.row.ID] = c
	return c
}

func (s *Store) newMember(username string, rank models.Rank) *member {
	return &member{username: username, rank: rank}
}

func (s *Store) insertMessage(chatID int64, username, content string, isAttachment bool) models.Message {
	s.nextMessage++
	msg := &models.Message{
		ID:           s.nextMessage,
		ChatID:       chatID,
		Username:     username,
		Content:      content,
		IsAttachment: isAttachment,
		Timestamp:    s.now().UnixMilli(),
	}
	s.messages[msg.ID] = msg
	s.byChat[chatID] = append(s.byChat[chatID], msg.ID)
	return *msg
}

// page returns messages newest first above breakPoint.
func (s *Store) page(chatID, breakPoint int64, offset, limit int) []models.Message {
	ids := s.byChat[chatID]
	out := []models.Message{}
	skipped := 0
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if ids[i] <= breakPoint {
			break
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *s.messages[ids[i]])
	}
	return out
}

func (s *Store) groupChat(chatID int64) (*chat, error) {
	c, ok := s.chats[chatID]
	if !ok {
		return nil, repositories.ErrChatNotFound
	}
	if c.row.Private {
		return nil, repositories.ErrForbidden
	}
	return c, nil
}

func (s *Store) moderate(chatID int64, actor, target string) (*chat, error) {
	c, err := s.groupChat(chatID)
	if err != nil {
		return nil, err
	}
	a := c.member(actor)
	if a == nil {
		return nil, repositories.ErrNotMember
	}
	if a.rank < models.RankAdmin {
		return nil, repositories.ErrForbidden
	}
	t := c.member(target)
	if t == nil {
		return nil, repositories.ErrUserNotFound
	}
	if t.rank >= models.RankOwner {
		return nil, repositories.ErrForbidden
	}
	return c, nil
}

func (s *Store) destroy(chatID int64) []int64 {
	var ids []int64
	for id, a := range s.attachments {
		if a.ChatID != nil && *a.ChatID == chatID {
			ids = append(ids, id)
			delete(s.attachments, id)
		}
	}
	for _, id := range s.byChat[chatID] {
		delete(s.messages, id)
	}
	delete(s.byChat, chatID)
	delete(s.chats, chatID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *chat) member(username string) *member {
	for _, m := range c.members {
		if m.username == username {
			return m
		}
	}
	return nil
}

func (c *chat) remove(username string) {
	for i, m := range c.members {
		if m.username == username {
			c.members = append(c.members[:i], c.members[i+1:]...)
			return
		}
	}
}

func (c *chat) usernames() []string {
	out := make([]string, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m.username)
	}
	return out
}

func (c *chat) data() models.ChatData {
	members := make([]models.ChatMember, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, models.ChatMember{Username: m.username, Nickname: m.nickname, Rank: m.rank})
	}
	return models.ChatData{Chat: c.row, Members: members}
}

func pair(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

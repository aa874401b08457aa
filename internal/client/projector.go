package client

import (
	"encoding/json"
	"fmt"
	"sort"

	"chat-core/internal/chatview"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
)

// Projector folds server events into the conversation registry of one user.
// It is not safe for concurrent use; a Session drives it from a single
// goroutine.
type Projector struct {
	viewer   string
	pageSize int
	ready    bool
	reg      *chatview.Registry

	// messages for chats not yet in the registry, waiting on getChatData
	pending map[int64][]models.Message
	// users that have blocked the viewer
	blockedBy map[string]bool
}

// NewProjector returns an empty projector. pageSize is the server page size,
// used to tell when a chat's history is exhausted.
func NewProjector(viewer string, pageSize int) *Projector {
	return &Projector{
		viewer:    viewer,
		pageSize:  pageSize,
		reg:       chatview.NewRegistry(),
		pending:   make(map[int64][]models.Message),
		blockedBy: make(map[string]bool),
	}
}

func (p *Projector) Registry() *chatview.Registry {
	return p.reg
}

// Ready reports whether the connected snapshot has been applied.
func (p *Projector) Ready() bool {
	return p.ready
}

// BlockedBy reports whether username has blocked the viewer, as last announced.
func (p *Projector) BlockedBy(username string) bool {
	return p.blockedBy[username]
}

// Apply folds one event. Events before the connected snapshot are ignored; the
// snapshot already reflects them. A non-zero return asks the caller to fetch
// the chat with that id and hand it to AddChat.
func (p *Projector) Apply(name string, payload json.RawMessage) (fetchChat int64, err error) {
	if name == protocol.EvtConnected {
		var ev protocol.Connected
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.loadSnapshot(ev.Chats)
		return 0, nil
	}
	if !p.ready {
		return 0, nil
	}

	switch name {
	case protocol.EvtMessageReceived:
		var m models.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		return p.receive(m), nil

	case protocol.EvtMessageDeleted:
		var ev protocol.MessageDeleted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		if conv := p.reg.Get(ev.ChatID); conv != nil {
			conv.DeleteMessage(ev.MessageID)
		}

	case protocol.EvtMessageReactionsSet:
		var ev protocol.MessageReactionsSet
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		if conv := p.reg.Get(ev.ChatID); conv != nil {
			conv.SetReactions(ev.MessageID, ev.Reactions)
		}

	case protocol.EvtGroupChatCreated:
		var ev protocol.GroupChatCreated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.open(ev.Chat, ev.SystemMessage)

	case protocol.EvtGroupChatDeleted:
		var ev protocol.GroupChatDeleted
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.reg.Remove(ev.ChatID)
		delete(p.pending, ev.ChatID)

	case protocol.EvtChatMemberLeft:
		var ev protocol.ChatMemberLeft
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.mutate(ev.ChatID, ev.SystemMessage, func(c *chatview.Conversation) {
			c.RemoveMember(ev.Username)
			if ev.NewOwner != nil {
				c.SetMemberRank(*ev.NewOwner, models.RankOwner)
			}
		})

	case protocol.EvtChatMemberAdded:
		var ev protocol.ChatMemberAdded
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		if ev.Username == p.viewer {
			p.open(ev.Chat, ev.SystemMessage)
			break
		}
		p.mutate(ev.ChatID, ev.SystemMessage, func(c *chatview.Conversation) {
			c.AddMember(models.ChatMember{Username: ev.Username, Rank: models.RankMember})
		})

	case protocol.EvtChatMemberRemoved:
		var ev protocol.ChatMemberRemoved
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		if ev.Username == p.viewer {
			p.reg.Remove(ev.ChatID)
			break
		}
		p.mutate(ev.ChatID, ev.SystemMessage, func(c *chatview.Conversation) {
			c.RemoveMember(ev.Username)
		})

	case protocol.EvtChatNameSet:
		var ev protocol.ChatNameSet
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.mutate(ev.ChatID, ev.SystemMessage, func(c *chatview.Conversation) { c.SetName(ev.Name) })

	case protocol.EvtChatCoverSet:
		var ev protocol.ChatCoverSet
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.mutate(ev.ChatID, ev.SystemMessage, func(c *chatview.Conversation) { c.SetCoverID(ev.CoverID) })

	case protocol.EvtChatNicknameSet:
		var ev protocol.ChatNicknameSet
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.mutate(ev.ChatID, ev.SystemMessage, func(c *chatview.Conversation) { c.SetNickname(ev.Username, ev.Nickname) })

	case protocol.EvtChatMemberRankChanged:
		var ev protocol.ChatMemberRankChanged
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		p.mutate(ev.ChatID, ev.SystemMessage, func(c *chatview.Conversation) { c.SetMemberRank(ev.Username, ev.Rank) })

	case protocol.EvtUserBlockStateChanged:
		var ev protocol.UserBlockStateChanged
		if err := json.Unmarshal(payload, &ev); err != nil {
			return 0, fmt.Errorf("decode %s: %w", name, err)
		}
		if ev.Blocked {
			p.blockedBy[ev.Username] = true
		} else {
			delete(p.blockedBy, ev.Username)
		}

	default:
		return 0, fmt.Errorf("unknown event %q", name)
	}
	return 0, nil
}

// AddChat installs a chat fetched after a message arrived for it and replays
// the messages held back meanwhile. A temporary conversation with the same
// peer is replaced.
func (p *Projector) AddChat(data models.ChatData) {
	held := p.pending[data.Chat.ID]
	delete(p.pending, data.Chat.ID)

	conv := p.reg.Get(data.Chat.ID)
	if conv == nil {
		conv = chatview.NewConversation(p.viewer, data)
		if conv.IsPrivate() {
			p.reg.RemoveTemp(conv.Peer())
		}
	}
	sort.Slice(held, func(i, j int) bool { return held[i].ID < held[j].ID })
	for _, m := range held {
		_ = conv.PushMessage(m)
	}
	p.reg.InsertOrPushToFront(conv)
}

// DropChat forgets messages held for a chat that could not be fetched.
func (p *Projector) DropChat(chatID int64) {
	delete(p.pending, chatID)
}

// OpenTemp returns the conversation with peer, creating a temporary one at the
// front of the registry when none exists.
func (p *Projector) OpenTemp(peer string) *chatview.Conversation {
	if conv := p.reg.GetByPeer(peer); conv != nil {
		return conv
	}
	conv := chatview.NewTempConversation(p.viewer, peer)
	p.reg.InsertOrPushToFront(conv)
	return conv
}

// LoadHistory prepends an older page, newest first, to chatID and returns how
// many messages were new. A page can overlap what is held when live messages
// landed on the server after the offset was taken. A short page from the
// server still means the history is exhausted.
func (p *Projector) LoadHistory(chatID int64, page []models.Message) int {
	conv := p.reg.Get(chatID)
	if conv == nil {
		return 0
	}
	added := conv.InsertMessages(page)
	if len(page) < p.pageSize {
		conv.HasFullHistory = true
	}
	return added
}

// Forget drops a chat the viewer cleared or left.
func (p *Projector) Forget(chatID int64) {
	p.reg.Remove(chatID)
	delete(p.pending, chatID)
}

func (p *Projector) loadSnapshot(chats []models.ChatSnapshot) {
	p.reg = chatview.NewRegistry()
	p.pending = make(map[int64][]models.Message)
	for _, snap := range chats {
		conv := chatview.NewConversation(p.viewer, snap.ChatData)
		conv.InsertMessages(snap.Messages)
		conv.HasFullHistory = len(snap.Messages) < p.pageSize
		p.reg.Push(conv)
	}
	p.ready = true
}

func (p *Projector) receive(m models.Message) int64 {
	conv := p.reg.Get(m.ChatID)
	if conv == nil {
		held, waiting := p.pending[m.ChatID]
		p.pending[m.ChatID] = append(held, m)
		if waiting {
			return 0
		}
		return m.ChatID
	}
	if err := conv.PushMessage(m); err != nil {
		// replayed or duplicated delivery
		return 0
	}
	p.reg.InsertOrPushToFront(conv)
	return 0
}

func (p *Projector) open(data models.ChatData, sys models.Message) {
	conv := p.reg.Get(data.Chat.ID)
	if conv == nil {
		conv = chatview.NewConversation(p.viewer, data)
	}
	_ = conv.PushMessage(sys)
	p.reg.InsertOrPushToFront(conv)
}

func (p *Projector) mutate(chatID int64, sys models.Message, fn func(*chatview.Conversation)) {
	conv := p.reg.Get(chatID)
	if conv == nil {
		return
	}
	fn(conv)
	_ = conv.PushMessage(sys)
}

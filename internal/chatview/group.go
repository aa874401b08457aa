// Package chatview holds the client-side projection of conversations: grouped
// message lists, derived display attributes and the recency-ordered registry.
// Nothing here is safe for concurrent use; callers confine it to one goroutine.
package chatview

import (
	"sync/atomic"

	"chat-core/internal/models"
)

// GroupWindowMillis bounds how far a message may lie outside a group's span and
// still join it.
const GroupWindowMillis int64 = 120_000

var groupSeq atomic.Int64

// MessageGroup is a contiguous run of messages from one sender.
type MessageGroup struct {
	ID       int64
	Username string

	messages []models.Message
}

func newMessageGroup(m models.Message) *MessageGroup {
	return &MessageGroup{
		ID:       groupSeq.Add(1),
		Username: m.Username,
		messages: []models.Message{m},
	}
}

// Messages returns the group's messages oldest first. The slice must not be modified.
func (g *MessageGroup) Messages() []models.Message {
	return g.messages
}

// First returns the oldest message of the group.
func (g *MessageGroup) First() models.Message {
	return g.messages[0]
}

// Last returns the newest message of the group.
func (g *MessageGroup) Last() models.Message {
	return g.messages[len(g.messages)-1]
}

// Len returns the number of messages in the group.
func (g *MessageGroup) Len() int {
	return len(g.messages)
}

// Accepts reports whether m belongs in this group: same sender and within the
// grouping window on either side of the group's current span.
func (g *MessageGroup) Accepts(m models.Message) bool {
	return g.Username == m.Username &&
		m.Timestamp > g.First().Timestamp-GroupWindowMillis &&
		m.Timestamp < g.Last().Timestamp+GroupWindowMillis
}

// MayContain reports whether id falls inside the group's id range.
func (g *MessageGroup) MayContain(id int64) bool {
	return g.First().ID <= id && id <= g.Last().ID
}

func (g *MessageGroup) prepend(m models.Message) {
	g.messages = append([]models.Message{m}, g.messages...)
}

func (g *MessageGroup) append(m models.Message) {
	g.messages = append(g.messages, m)
}

// remove deletes the message with the given id and reports whether it was found
// and whether the group is now empty.
func (g *MessageGroup) remove(id int64) (found, empty bool) {
	for i, m := range g.messages {
		if m.ID == id {
			g.messages = append(g.messages[:i], g.messages[i+1:]...)
			return true, len(g.messages) == 0
		}
	}
	return false, false
}

func (g *MessageGroup) find(id int64) (int, bool) {
	for i, m := range g.messages {
		if m.ID == id {
			return i, true
		}
	}
	return 0, false
}

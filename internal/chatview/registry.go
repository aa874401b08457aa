package chatview

// Registry orders conversations by recent activity, most recent first.
type Registry struct {
	items []*Conversation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Len returns the number of conversations.
func (r *Registry) Len() int {
	return len(r.items)
}

// Empty reports whether the registry holds no conversations.
func (r *Registry) Empty() bool {
	return len(r.items) == 0
}

// All returns a copy of the conversations in registry order.
func (r *Registry) All() []*Conversation {
	out := make([]*Conversation, len(r.items))
	copy(out, r.items)
	return out
}

// At returns the conversation at index i.
func (r *Registry) At(i int) *Conversation {
	return r.items[i]
}

// InsertOrPushToFront moves c to index 0. A conversation already present, by
// pointer or by chat id, is relocated rather than duplicated; the relative
// order of the others is kept.
func (r *Registry) InsertOrPushToFront(c *Conversation) {
	i := r.indexOf(c)
	if i < 0 {
		r.items = append(r.items, nil)
		i = len(r.items) - 1
	}
	copy(r.items[1:i+1], r.items[:i])
	r.items[0] = c
}

// Push appends conversations at the back, used when loading a snapshot that is
// already ordered.
func (r *Registry) Push(cs ...*Conversation) {
	r.items = append(r.items, cs...)
}

// Remove drops the conversation with chatID. Absent ids are ignored.
func (r *Registry) Remove(chatID int64) bool {
	for i, c := range r.items {
		if !c.IsTemporary() && c.ID() == chatID {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveTemp drops the temporary conversation with peer, if any.
func (r *Registry) RemoveTemp(peer string) bool {
	for i, c := range r.items {
		if c.IsTemporary() && c.peer == peer {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the conversation with chatID, or nil.
func (r *Registry) Get(chatID int64) *Conversation {
	for _, c := range r.items {
		if !c.IsTemporary() && c.ID() == chatID {
			return c
		}
	}
	return nil
}

// GetByPeer returns the private or temporary conversation with peer, or nil.
// A real chat wins over a placeholder.
func (r *Registry) GetByPeer(peer string) *Conversation {
	var temp *Conversation
	for _, c := range r.items {
		if c.IsTemporary() {
			if c.peer == peer && temp == nil {
				temp = c
			}
			continue
		}
		if c.IsPrivate() && c.Peer() == peer {
			return c
		}
	}
	return temp
}

func (r *Registry) indexOf(c *Conversation) int {
	for i, item := range r.items {
		if item == c {
			return i
		}
		if !c.IsTemporary() && !item.IsTemporary() && item.ID() == c.ID() {
			return i
		}
		if c.IsTemporary() && item.IsTemporary() && item.peer == c.peer {
			return i
		}
	}
	return -1
}

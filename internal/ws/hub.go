package ws

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var errSlowConsumer = errors.New("send queue full")

// Hub maintains one room per username holding that user's live connections.
type Hub struct {
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex
	log   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]bool),
		log:   log,
	}
}

// Join registers a connection in its user's room.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.info.Username]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[c.info.Username] = room
	}
	room[c] = true
}

// Leave removes a connection and drops the room once empty.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[c.info.Username]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.info.Username)
		}
	}
}

// Connections reports how many live connections username has on this node.
func (h *Hub) Connections(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[username])
}

// DeliverLocal queues frame on every connection of usernames. Connections that
// cannot keep up are dropped.
func (h *Hub) DeliverLocal(usernames []string, frame []byte) {
	var targets []*Client
	seen := make(map[string]bool, len(usernames))
	h.mu.RLock()
	for _, u := range usernames {
		if seen[u] {
			continue
		}
		seen[u] = true
		for c := range h.rooms[u] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.deliver(frame) {
			h.log.Warn("websocket send queue full, dropping connection",
				zap.String("username", c.info.Username), zap.String("conn_id", c.info.ConnID))
			h.Leave(c)
			c.close()
			h.publishWSError(c.info, errSlowConsumer)
		}
	}
}

// Broadcast delivers to this node only. Clustered deployments wrap the hub in
// a fanout relay.
func (h *Hub) Broadcast(_ context.Context, usernames []string, frame []byte) {
	h.DeliverLocal(usernames, frame)
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	publishConnEvent(context.Background(), info, "ws_error", err.Error())
}

// CloseAll disconnects every client on this node.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

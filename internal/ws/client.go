package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-core/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendQueue  = 64
)

// Client is one websocket connection. Commands are read and handled one at a
// time; a separate goroutine drains the send queue.
type Client struct {
	conn    *websocket.Conn
	info    ConnInfo
	send    chan []byte
	limiter *rate.Limiter
	log     *zap.Logger

	once sync.Once
	done chan struct{}

	// broadcasts that arrive before the connected snapshot is queued
	mu      sync.Mutex
	started bool
	backlog [][]byte
}

func newClient(conn *websocket.Conn, info ConnInfo, limiter *rate.Limiter, log *zap.Logger) *Client {
	return &Client{
		conn:    conn,
		info:    info,
		send:    make(chan []byte, sendQueue),
		limiter: limiter,
		log:     log.With(zap.String("username", info.Username), zap.String("conn_id", info.ConnID)),
		done:    make(chan struct{}),
	}
}

// enqueue reports false when the queue is full or the client is closed.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// deliver queues a broadcast frame. Until start runs, frames are held so they
// reach the client after the snapshot they may postdate.
func (c *Client) deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		if len(c.backlog) >= sendQueue-1 {
			return false
		}
		c.backlog = append(c.backlog, frame)
		return true
	}
	return c.enqueue(frame)
}

// start queues the connected snapshot followed by the held broadcasts.
func (c *Client) start(snapshot []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	backlog := c.backlog
	c.backlog = nil
	if !c.enqueue(snapshot) {
		return false
	}
	for _, frame := range backlog {
		if !c.enqueue(frame) {
			return false
		}
	}
	return true
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// commandHandler runs one command and returns the encoded ack.
type commandHandler func(ctx context.Context, info ConnInfo, f protocol.Frame) []byte

// readPump decodes frames until the connection fails. It returns the read
// error that ended it.
func (c *Client) readPump(ctx context.Context, maxFrame int64, handle commandHandler) error {
	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		f, err := protocol.Decode(raw)
		if err != nil || f.Type != protocol.FrameCommand {
			c.log.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		if !c.limiter.Allow() {
			ack, _ := protocol.NewAck(f.ID, protocol.StatusRateLimited, nil, "too many commands")
			c.enqueue(ack)
			continue
		}
		if ack := handle(ctx, c.info, f); ack != nil && !c.enqueue(ack) {
			return errSlowConsumer
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

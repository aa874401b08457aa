// Package client is the Go client of the chat websocket. A Session keeps a
// local projection of the user's chats current by applying server events on
// a single goroutine.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-core/internal/attachcache"
	"chat-core/internal/chatview"
	"chat-core/internal/protocol"
)

const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultPageSize       = 10

	writeWait  = 10 * time.Second
	eventQueue = 256
)

// Config describes how to reach the server and as whom.
type Config struct {
	URL      string
	Token    string
	Username string

	PageSize       int
	RequestTimeout time.Duration
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Session is one live connection. Its registry and attachment cache live and
// die with it; Reconnect starts over from the next snapshot.
type Session struct {
	cfg  Config
	conn *websocket.Conn
	log  *zap.Logger

	proj        *Projector
	attachments *attachcache.Cache

	nextID  atomic.Uint64
	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[uint64]chan protocol.Frame

	loop     chan func()
	ready    chan struct{}
	readyOne sync.Once
	done     chan struct{}
	closeOne sync.Once
	wg       sync.WaitGroup
	err      error
}

// Dial opens a session. It returns ErrUnauthorized when the server refuses the
// token.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Token)

	conn, resp, err := cfg.Dialer.DialContext(ctx, cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	s := &Session{
		cfg:         cfg,
		conn:        conn,
		log:         cfg.Logger.With(zap.String("username", cfg.Username)),
		proj:        NewProjector(cfg.Username, cfg.PageSize),
		attachments: attachcache.New(attachcache.WithTimeout(cfg.RequestTimeout), attachcache.WithLogger(cfg.Logger)),
		pending:     make(map[uint64]chan protocol.Frame),
		loop:        make(chan func(), eventQueue),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.eventLoop()
	return s, nil
}

// Ready is closed once the connected snapshot has been applied.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until the snapshot is applied or the session ends.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return ErrDisconnected
	}
	return s.err
}

// View runs fn on the event goroutine with the current projection. fn must not
// keep references past its return nor call back into the session.
func (s *Session) View(fn func(reg *chatview.Registry)) error {
	return s.do(func(p *Projector) { fn(p.Registry()) })
}

// BlockedBy reports whether username has blocked this user since the session
// started.
func (s *Session) BlockedBy(username string) (bool, error) {
	var blocked bool
	err := s.do(func(p *Projector) { blocked = p.BlockedBy(username) })
	return blocked, err
}

// Close ends the session and discards its projection and caches.
func (s *Session) Close() error {
	s.shutdown(ErrDisconnected)
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// Reconnect closes this session and dials a fresh one with the same config.
func (s *Session) Reconnect(ctx context.Context) (*Session, error) {
	_ = s.Close()
	return Dial(ctx, s.cfg)
}

func (s *Session) shutdown(err error) {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}

// do runs fn on the event goroutine and waits for it.
func (s *Session) do(fn func(p *Projector)) error {
	finished := make(chan struct{})
	if !s.post(func() { fn(s.proj); close(finished) }) {
		return s.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return s.Err()
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case s.loop <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(fmt.Errorf("%w: %v", ErrDisconnected, err))
			return
		}
		f, err := protocol.Decode(raw)
		if err != nil {
			s.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case protocol.FrameAck:
			s.mu.Lock()
			ch, ok := s.pending[f.ID]
			delete(s.pending, f.ID)
			s.mu.Unlock()
			if ok {
				ch <- f
			}
		case protocol.FrameEvent:
			if !s.post(func() { s.apply(f) }) {
				return
			}
		}
	}
}

func (s *Session) eventLoop() {
	defer s.wg.Done()
	defer s.attachments.Reset()
	for {
		select {
		case fn := <-s.loop:
			fn()
		case <-s.done:
			return
		}
	}
}

// apply runs on the event goroutine.
func (s *Session) apply(f protocol.Frame) {
	fetch, err := s.proj.Apply(f.Name, f.Payload)
	if err != nil {
		s.log.Warn("event not applied", zap.String("event", f.Name), zap.Error(err))
		return
	}
	if f.Name == protocol.EvtConnected {
		s.readyOne.Do(func() { close(s.ready) })
	}
	if fetch != 0 {
		go s.fetchChat(fetch)
	}
}

// fetchChat loads a chat announced only by a message and hands it back to the
// event goroutine.
func (s *Session) fetchChat(chatID int64) {
	data, err := s.GetChatData(context.Background(), protocol.ChatTarget(chatID))
	if err != nil {
		s.log.Warn("chat lookup failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	s.post(func() {
		if data == nil {
			s.proj.DropChat(chatID)
			return
		}
		s.proj.AddChat(*data)
	})
}

// request sends a command and waits for its ack, decoding ack data into out.
func (s *Session) request(ctx context.Context, name string, payload, out any) error {
	id := s.nextID.Add(1)
	frame, err := protocol.NewCommand(id, name, payload)
	if err != nil {
		return err
	}

	ch := make(chan protocol.Frame, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	select {
	case <-s.done:
		return s.Err()
	default:
	}
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = s.conn.WriteMessage(websocket.TextMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	timer := time.NewTimer(s.cfg.RequestTimeout)
	defer timer.Stop()
	var ack protocol.Frame
	select {
	case ack = <-ch:
	case <-timer.C:
		return fmt.Errorf("%s: %w", name, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}

	if ack.Status != protocol.StatusOK {
		return &RejectedError{Command: name, Status: ack.Status, Message: ack.Error}
	}
	if out == nil || len(ack.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(ack.Data, out); err != nil {
		return fmt.Errorf("decode %s ack: %w", name, err)
	}
	return nil
}

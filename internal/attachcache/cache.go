// Package attachcache resolves attachment and avatar resources for one client
// session, remembering successful lookups and coalescing concurrent ones.
package attachcache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chat-core/internal/models"
)

const (
	// DefaultAvatar is the placeholder shown for users without an avatar.
	DefaultAvatar = "default-user-avatar.png"

	DefaultTimeout = 5 * time.Second
)

var ErrNotFound = errors.New("attachment not found")

// Resource is a resolved attachment ready for display.
type Resource struct {
	ID   int64
	URL  string
	Type string
	Name string
	Data []byte
}

// IsDefault reports whether r is the avatar placeholder.
func (r Resource) IsDefault() bool {
	return r.URL == DefaultAvatar
}

func placeholder() Resource {
	return Resource{URL: DefaultAvatar}
}

func newResource(id int64, a models.Attachment) Resource {
	return Resource{
		ID:   id,
		URL:  "attachment://" + strconv.FormatInt(id, 10),
		Type: a.Type,
		Name: a.Name,
		Data: a.Data,
	}
}

// FetchFunc loads an attachment. A nil attachment with a nil error means absent.
type FetchFunc func(ctx context.Context, id int64) (*models.Attachment, error)

// AvatarFetchFunc loads a user's avatar. A nil avatar with a nil error means the
// user is known to have none.
type AvatarFetchFunc func(ctx context.Context, username string) (*models.AvatarAttachment, error)

type Option func(*Cache)

// WithTimeout bounds every fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// Cache holds resolved attachments by id and avatar ids by username. A nil
// avatar entry records a user confirmed to have no avatar. Failed fetches leave
// no trace so the next call retries.
type Cache struct {
	mu      sync.Mutex
	byID    map[int64]Resource
	avatars map[string]*int64

	flight  singleflight.Group
	timeout time.Duration
	log     *zap.Logger
}

func New(opts ...Option) *Cache {
	c := &Cache{
		byID:    make(map[int64]Resource),
		avatars: make(map[string]*int64),
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the cached resource for id or fetches it once. Concurrent
// callers for the same id share a single fetch.
func (c *Cache) Resolve(ctx context.Context, id int64, fetch FetchFunc) (Resource, error) {
	if r, ok := c.cached(id); ok {
		return r, nil
	}

	v, err, _ := c.flight.Do("attachment:"+strconv.FormatInt(id, 10), func() (interface{}, error) {
		if r, ok := c.cached(id); ok {
			return r, nil
		}
		fctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		a, err := fetch(fctx, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, ErrNotFound
		}
		r := newResource(id, *a)
		c.mu.Lock()
		c.byID[id] = r
		c.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return Resource{}, err
	}
	return v.(Resource), nil
}

// ResolveAvatar returns username's avatar, or the placeholder when the user has
// none or the lookup failed. Only definite answers are remembered.
func (c *Cache) ResolveAvatar(ctx context.Context, username string, fetch AvatarFetchFunc) Resource {
	c.mu.Lock()
	id, known := c.avatars[username]
	if known {
		if id == nil {
			c.mu.Unlock()
			return placeholder()
		}
		if r, ok := c.byID[*id]; ok {
			c.mu.Unlock()
			return r
		}
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("avatar:"+username, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		a, err := fetch(fctx, username)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if a == nil {
			c.avatars[username] = nil
			return placeholder(), nil
		}
		avatarID := a.AvatarID
		r := newResource(avatarID, a.Attachment)
		c.avatars[username] = &avatarID
		c.byID[avatarID] = r
		return r, nil
	})
	if err != nil {
		c.log.Debug("avatar lookup failed", zap.String("username", username), zap.Error(err))
		return placeholder()
	}
	return v.(Resource)
}

// ForgetAvatar drops what is known about username's avatar.
func (c *Cache) ForgetAvatar(username string) {
	c.mu.Lock()
	delete(c.avatars, username)
	c.mu.Unlock()
}

// Reset discards everything.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.byID = make(map[int64]Resource)
	c.avatars = make(map[string]*int64)
	c.mu.Unlock()
}

func (c *Cache) cached(id int64) (Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byID[id]
	return r, ok
}

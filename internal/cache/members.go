// Package cache keeps chat member lists in redis so fan-out does not hit the
// relational store for every event.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"chat-core/internal/observability"
)

const (
	DefaultMembersTTL = 10 * time.Minute

	membersPrefix = "chat:members:"
	genPrefix     = "chat:members:gen:"
)

// errStaleMembers aborts a write-back whose source read predates an Invalidate.
var errStaleMembers = errors.New("member list changed while loading")

// MemberSource loads the authoritative member list.
type MemberSource interface {
	GetMembers(ctx context.Context, chatID int64) ([]string, error)
}

// Members answers member lists from redis, falling back to the source. A nil
// client disables caching.
type Members struct {
	source MemberSource
	rdb    *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewMembers(source MemberSource, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *Members {
	if ttl <= 0 {
		ttl = DefaultMembersTTL
	}
	return &Members{source: source, rdb: rdb, ttl: ttl, log: log}
}

func membersKey(chatID int64) string {
	return fmt.Sprintf("%s%d", membersPrefix, chatID)
}

func genKey(chatID int64) string {
	return fmt.Sprintf("%s%d", genPrefix, chatID)
}

// Get returns the usernames of chatID's members in join order. Redis failures
// degrade to the source.
func (m *Members) Get(ctx context.Context, chatID int64) ([]string, error) {
	if m.rdb == nil {
		return m.source.GetMembers(ctx, chatID)
	}

	key := membersKey(chatID)
	cached, err := m.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		m.log.Warn("member cache read failed", zap.Int64("chat_id", chatID), zap.Error(err))
	} else if len(cached) > 0 {
		observability.IncMemberCache(true)
		return cached, nil
	}
	observability.IncMemberCache(false)

	// the generation is read before the source so a membership change that
	// commits while we load is seen at write-back time
	gen, err := m.rdb.Get(ctx, genKey(chatID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		m.log.Warn("member cache generation read failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return m.source.GetMembers(ctx, chatID)
	}

	members, err := m.source.GetMembers(ctx, chatID)
	if err != nil || len(members) == 0 {
		return members, err
	}

	if err := m.writeBack(ctx, chatID, gen, members); err != nil {
		if errors.Is(err, errStaleMembers) || errors.Is(err, redis.TxFailedErr) {
			m.log.Debug("member cache write skipped", zap.Int64("chat_id", chatID))
		} else {
			m.log.Warn("member cache write failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	return members, nil
}

// writeBack stores members only while chatID's generation still equals gen.
func (m *Members) writeBack(ctx context.Context, chatID int64, gen string, members []string) error {
	key, gkey := membersKey(chatID), genKey(chatID)
	values := make([]interface{}, len(members))
	for i, u := range members {
		values[i] = u
	}
	return m.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, gkey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleMembers
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, m.ttl)
			return nil
		})
		return err
	}, gkey)
}

// Invalidate drops the cached list after a membership change and bumps the
// chat's generation so in-flight loads do not write the old list back.
func (m *Members) Invalidate(ctx context.Context, chatID int64) {
	if m.rdb == nil {
		return
	}
	gkey := genKey(chatID)
	_, err := m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, gkey)
		pipe.Expire(ctx, gkey, 2*m.ttl)
		pipe.Del(ctx, membersKey(chatID))
		return nil
	})
	if err != nil {
		m.log.Warn("member cache invalidate failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

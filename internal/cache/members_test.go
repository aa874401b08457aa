package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingSource struct {
	members map[int64][]string
	calls   int
}

func (c *countingSource) GetMembers(_ context.Context, chatID int64) ([]string, error) {
	c.calls++
	return c.members[chatID], nil
}

func TestMembersWithoutRedis(t *testing.T) {
	src := &countingSource{members: map[int64][]string{1: {"alice", "bob"}}}
	m := NewMembers(src, nil, 0, zap.NewNop())

	got, err := m.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got)
	_, _ = m.Get(context.Background(), 1)
	assert.Equal(t, 2, src.calls)

	assert.NotPanics(t, func() { m.Invalidate(context.Background(), 1) })
}

func TestMembersRedisDownFallsBack(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	src := &countingSource{members: map[int64][]string{3: {"carol"}}}
	m := NewMembers(src, rdb, time.Minute, zap.NewNop())

	got, err := m.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, got)
	assert.Equal(t, 1, src.calls)
}

func TestMembersKey(t *testing.T) {
	assert.Equal(t, "chat:members:42", membersKey(42))
	assert.Equal(t, "chat:members:gen:42", genKey(42))
}

// gatedSource reads its list, then waits on release before returning it.
type gatedSource struct {
	mu      sync.Mutex
	members []string
	gate    bool
	loaded  chan struct{}
	release chan struct{}
}

func (g *gatedSource) GetMembers(_ context.Context, _ int64) ([]string, error) {
	g.mu.Lock()
	out := append([]string(nil), g.members...)
	gate := g.gate
	g.gate = false
	g.mu.Unlock()
	if gate {
		close(g.loaded)
		<-g.release
	}
	return out, nil
}

func (g *gatedSource) add(username string) {
	g.mu.Lock()
	g.members = append(g.members, username)
	g.mu.Unlock()
}

func newMiniredis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestMembersServedFromRedis(t *testing.T) {
	rdb := newMiniredis(t)
	src := &countingSource{members: map[int64][]string{1: {"alice", "bob"}}}
	m := NewMembers(src, rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := m.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, got)
	}
	assert.Equal(t, 1, src.calls)

	src.members[1] = []string{"alice"}
	m.Invalidate(ctx, 1)
	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got)
	assert.Equal(t, 2, src.calls)
}

func TestMembersLoadRacingInvalidateIsNotCached(t *testing.T) {
	rdb := newMiniredis(t)
	src := &gatedSource{
		members: []string{"alice", "bob"},
		gate:    true,
		loaded:  make(chan struct{}),
		release: make(chan struct{}),
	}
	m := NewMembers(src, rdb, DefaultMembersTTL, zap.NewNop())
	ctx := context.Background()

	done := make(chan []string, 1)
	go func() {
		got, err := m.Get(ctx, 9)
		assert.NoError(t, err)
		done <- got
	}()

	select {
	case <-src.loaded:
	case <-time.After(5 * time.Second):
		t.Fatal("source was never read")
	}
	src.add("carol")
	m.Invalidate(ctx, 9)
	close(src.release)

	select {
	case got := <-done:
		assert.Equal(t, []string{"alice", "bob"}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("get did not return")
	}

	cached, err := rdb.Exists(ctx, membersKey(9)).Result()
	require.NoError(t, err)
	assert.Zero(t, cached, "stale list must not be written back")

	got, err := m.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, got)
}

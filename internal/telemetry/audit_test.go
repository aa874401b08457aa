package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	key    string
	events []any
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	c.key = routingKey
	c.events = append(c.events, event)
	return c.err
}

func TestEmit(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.chats", "chat-core", "test", zap.NewNop())
	emitter.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	chatID := int64(7)

	emitter.Emit(context.Background(), Record{
		Action:    ActionMemberAdded,
		Actor:     "alice",
		ChatID:    &chatID,
		Target:    "bob",
		RequestID: "req-1",
	})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "audit.chats", pub.key)
	env := pub.events[0].(Envelope)
	assert.Equal(t, 2, env.SchemaVersion)
	assert.Equal(t, ActionMemberAdded, env.Action)
	assert.Equal(t, "2024-05-01T12:00:00Z", env.OccurredAt)
	assert.Equal(t, "chat-core", env.Service)
	assert.Equal(t, "req-1", env.RequestID)
	assert.Equal(t, "alice", env.Actor)
	assert.Equal(t, "bob", env.Target)
	assert.Equal(t, int64(7), *env.ChatID)
}

func TestEmitSwallowsPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("down")}
	emitter := NewAuditEmitter(pub, "audit.chats", "chat-core", "test", zap.NewNop())
	emitter.Emit(context.Background(), Record{Action: ActionProbe, RequestID: "req"})
	assert.Len(t, pub.events, 1)
}

func TestNilEmitter(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), Record{Action: ActionProbe})
	})
}

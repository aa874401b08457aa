package attachments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-core/internal/blobstore"
	"chat-core/internal/memstore"
	"chat-core/internal/models"
	"chat-core/internal/repositories"
)

func newService(t *testing.T, maxBytes int64) (*Service, *memstore.Store, *blobstore.PebbleStore) {
	t.Helper()
	store := memstore.New()
	blobs, err := blobstore.Open("", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })
	return NewService(store, store, store, blobs, maxBytes, zap.NewNop()), store, blobs
}

func TestStoreAndLoadChatAttachment(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t, 1024)
	store.AddUser("alice", "")
	store.AddUser("bob", "")
	store.AddUser("eve", "")
	chatID, _, err := store.OpenPrivateChat(ctx, "alice", "bob")
	require.NoError(t, err)

	id, err := svc.Store(ctx, &chatID, models.Attachment{Type: "text/plain", Name: "a.txt", Data: []byte("hi")})
	require.NoError(t, err)

	got, err := svc.Load(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Name)
	assert.Equal(t, []byte("hi"), got.Data)

	_, err = svc.Load(ctx, id, "eve")
	assert.ErrorIs(t, err, repositories.ErrNotMember)
	_, err = svc.Load(ctx, id, "")
	assert.ErrorIs(t, err, repositories.ErrNotMember)

	_, err = svc.Load(ctx, id+100, "bob")
	assert.ErrorIs(t, err, repositories.ErrAttachmentNotFound)
}

func TestStoreTooLarge(t *testing.T) {
	svc, _, _ := newService(t, 2)
	_, err := svc.Store(context.Background(), nil, models.Attachment{Type: "image/png", Data: []byte("abc")})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestAvatarLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, store, blobs := newService(t, 1024)
	store.AddUser("alice", "")

	avatar, err := svc.LoadAvatar(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, avatar)

	_, err = svc.SetAvatar(ctx, "alice", models.Attachment{Type: "text/plain", Data: []byte("x")})
	assert.ErrorIs(t, err, ErrNotImage)

	first, err := svc.SetAvatar(ctx, "alice", models.Attachment{Type: "image/png", Data: []byte("1")})
	require.NoError(t, err)
	second, err := svc.SetAvatar(ctx, "alice", models.Attachment{Type: "image/png", Data: []byte("2")})
	require.NoError(t, err)

	_, err = blobs.Get(first)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	avatar, err = svc.LoadAvatar(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, avatar)
	assert.Equal(t, second, avatar.AvatarID)
	assert.Equal(t, []byte("2"), avatar.Data)

	// public: anyone can read it
	_, err = svc.Load(ctx, second, "")
	require.NoError(t, err)

	require.NoError(t, svc.ClearAvatar(ctx, "alice"))
	avatar, err = svc.LoadAvatar(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, avatar)
	_, err = store.GetAttachmentData(ctx, second)
	assert.ErrorIs(t, err, repositories.ErrAttachmentNotFound)

	_, err = svc.LoadAvatar(ctx, "nobody")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)
}

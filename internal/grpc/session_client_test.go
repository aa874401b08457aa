package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-core/internal/session"
)

type fakeConn struct {
	grpc.ClientConnInterface
	method string
	reply  string
	err    error
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.method = method
	if f.err != nil {
		return f.err
	}
	if args.(*wrapperspb.StringValue).GetValue() == "good" {
		reply.(*wrapperspb.StringValue).Value = f.reply
	}
	return nil
}

func TestSessionClientValidate(t *testing.T) {
	conn := &fakeConn{reply: "alice"}
	client := NewSessionClient(conn)

	username, err := client.Validate(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
	assert.Equal(t, validateMethod, conn.method)

	_, err = client.Validate(context.Background(), "bad")
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	_, err = client.Validate(context.Background(), "")
	assert.ErrorIs(t, err, session.ErrInvalidSession)
}

func TestSessionClientErrors(t *testing.T) {
	client := NewSessionClient(&fakeConn{err: status.Error(codes.Unauthenticated, "expired")})
	_, err := client.Validate(context.Background(), "good")
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	boom := status.Error(codes.Unavailable, "down")
	client = NewSessionClient(&fakeConn{err: boom})
	_, err = client.Validate(context.Background(), "good")
	require.Error(t, err)
	assert.False(t, errors.Is(err, session.ErrInvalidSession))
}

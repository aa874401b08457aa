package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"chat-core/internal/session"
)

// validateMethod is served by the session service. The request carries the
// raw token and the response the username, both as wrapped strings.
const validateMethod = "/session.SessionService/Validate"

// SessionClient validates session tokens against the session service.
type SessionClient struct {
	conn grpc.ClientConnInterface
}

var _ session.Validator = (*SessionClient)(nil)

// NewSessionClient constructs the wrapper.
func NewSessionClient(conn grpc.ClientConnInterface) *SessionClient {
	return &SessionClient{conn: conn}
}

// Validate verifies the token and returns the username it was issued to.
func (s *SessionClient) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", session.ErrInvalidSession
	}
	resp := &wrapperspb.StringValue{}
	err := s.conn.Invoke(ctx, validateMethod, wrapperspb.String(token), resp)
	if err != nil {
		switch status.Code(err) {
		case codes.Unauthenticated, codes.NotFound, codes.InvalidArgument:
			return "", session.ErrInvalidSession
		}
		return "", fmt.Errorf("validate session: %w", err)
	}
	if resp.GetValue() == "" {
		return "", session.ErrInvalidSession
	}
	return resp.GetValue(), nil
}

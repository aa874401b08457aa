// Package session resolves session tokens to usernames. Sessions are issued by
// another service; the chat core only reads them.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrInvalidSession is returned for unknown or expired tokens.
var ErrInvalidSession = errors.New("invalid session")

// Validator turns a session token into the username it belongs to.
type Validator interface {
	Validate(ctx context.Context, token string) (string, error)
}

// DBValidator reads the user_sessions table.
type DBValidator struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewDBValidator(db *sqlx.DB) *DBValidator {
	return &DBValidator{db: db, now: time.Now}
}

func (v *DBValidator) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidSession
	}
	var username string
	err := v.db.GetContext(ctx, &username, `SELECT username FROM user_sessions WHERE id=$1 AND expires_at > $2`, token, v.now())
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidSession
	}
	if err != nil {
		return "", fmt.Errorf("validate session: %w", err)
	}
	return username, nil
}

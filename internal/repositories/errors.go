package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrNotMember          = errors.New("not a chat member")
	ErrAlreadyMember      = errors.New("already a chat member")
	ErrForbidden          = errors.New("operation not permitted")
	ErrBlocked            = errors.New("blocked by user")
)

// withTx runs fn inside a transaction, committing on success and rolling back
// on any error.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching query as a literal substring.
// Queries using it must declare ESCAPE '\'.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

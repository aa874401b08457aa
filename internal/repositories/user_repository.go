package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-core/internal/models"
)

// UserRepository covers the user rows the chat core reads and the block list
// and avatar it owns.
type UserRepository interface {
	UserExists(ctx context.Context, username string) (bool, error)
	FilterExisting(ctx context.Context, usernames []string) ([]string, error)
	ToggleBlock(ctx context.Context, username, target string) (blocked bool, err error)
	GetAvatarID(ctx context.Context, username string) (*int64, error)
	SetAvatarID(ctx context.Context, username string, avatarID *int64) (previous *int64, err error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// UserExists checks whether username is registered.
func (r *UserRepo) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)`, username)
	return exists, err
}

// FilterExisting keeps the registered usernames, preserving order and dropping
// duplicates.
func (r *UserRepo) FilterExisting(ctx context.Context, usernames []string) ([]string, error) {
	var found []string
	if err := r.db.SelectContext(ctx, &found, `SELECT username FROM users WHERE username = ANY($1)`, pq.Array(usernames)); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(found))
	for _, u := range found {
		known[u] = true
	}
	out := make([]string, 0, len(found))
	for _, u := range usernames {
		if known[u] {
			out = append(out, u)
			known[u] = false
		}
	}
	return out, nil
}

// ToggleBlock adds target to username's block list or removes it, returning
// the new state.
func (r *UserRepo) ToggleBlock(ctx context.Context, username, target string) (bool, error) {
	var blocked bool
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)`, target); err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		var list pq.StringArray
		err := tx.GetContext(ctx, &list, `SELECT block_list FROM users WHERE username=$1 FOR UPDATE`, username)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		next := make(pq.StringArray, 0, len(list)+1)
		for _, u := range list {
			if u != target {
				next = append(next, u)
			}
		}
		blocked = len(next) == len(list)
		if blocked {
			next = append(next, target)
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET block_list=$1 WHERE username=$2`, next, username)
		return err
	})
	return blocked, err
}

// GetAvatarID returns the user's avatar attachment id, nil when unset.
func (r *UserRepo) GetAvatarID(ctx context.Context, username string) (*int64, error) {
	var id *int64
	err := r.db.GetContext(ctx, &id, `SELECT avatar_id FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return id, err
}

// SetAvatarID replaces the user's avatar and returns the previous one.
func (r *UserRepo) SetAvatarID(ctx context.Context, username string, avatarID *int64) (*int64, error) {
	var previous *int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &previous, `SELECT avatar_id FROM users WHERE username=$1 FOR UPDATE`, username)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET avatar_id=$1 WHERE username=$2`, avatarID, username)
		return err
	})
	return previous, err
}

// SearchUsers returns users whose name contains query.
func (r *UserRepo) SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error) {
	users := []models.UserSummary{}
	err := r.db.SelectContext(ctx, &users, `SELECT username, avatar_id FROM users
        WHERE LOWER(username) LIKE $1 ESCAPE '\'
        ORDER BY username COLLATE "C"
        LIMIT $2`, containsPattern(query), limit)
	return users, err
}

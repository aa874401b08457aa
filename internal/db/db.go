package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Connect opens the Postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string, log *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrations applied", zap.Int("count", len(migrations)))
	return db, nil
}

// Users and sessions are issued elsewhere; the chat core reads them and owns
// the block list and avatar columns.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
        username TEXT PRIMARY KEY,
        block_list TEXT[] NOT NULL DEFAULT '{}',
        avatar_id BIGINT
    );`,
	`CREATE TABLE IF NOT EXISTS user_sessions (
        id TEXT PRIMARY KEY,
        username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
        expires_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS chats (
        id BIGSERIAL PRIMARY KEY,
        private BOOLEAN NOT NULL,
        name TEXT,
        cover_id BIGINT,
        created_at TIMESTAMPTZ DEFAULT NOW()
    );`,
	`CREATE TABLE IF NOT EXISTS chat_members (
        id BIGSERIAL PRIMARY KEY,
        chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
        username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
        rank SMALLINT NOT NULL DEFAULT 0,
        nickname TEXT,
        break_point BIGINT NOT NULL DEFAULT 0,
        UNIQUE(chat_id, username)
    );`,
	`CREATE INDEX IF NOT EXISTS chat_members_username_idx ON chat_members(username);`,
	`CREATE TABLE IF NOT EXISTS private_chats (
        user1 TEXT NOT NULL,
        user2 TEXT NOT NULL,
        chat_id BIGINT NOT NULL UNIQUE REFERENCES chats(id) ON DELETE CASCADE,
        PRIMARY KEY(user1, user2),
        CONSTRAINT private_chats_ordered CHECK (user1 COLLATE "C" < user2 COLLATE "C")
    );`,
	// pairs are ordered bytewise in Go; the old check used the database collation
	`ALTER TABLE private_chats DROP CONSTRAINT IF EXISTS private_chats_check;`,
	`DO $$
    BEGIN
        IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'private_chats_ordered') THEN
            ALTER TABLE private_chats
                ADD CONSTRAINT private_chats_ordered CHECK (user1 COLLATE "C" < user2 COLLATE "C");
        END IF;
    END $$;`,
	`CREATE TABLE IF NOT EXISTS messages (
        id BIGSERIAL PRIMARY KEY,
        chat_id BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
        username TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL,
        is_attachment BOOLEAN NOT NULL DEFAULT FALSE,
        sent_at BIGINT NOT NULL,
        reactions TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE INDEX IF NOT EXISTS messages_chat_id_idx ON messages(chat_id, id DESC);`,
	`CREATE TABLE IF NOT EXISTS attachments (
        id BIGSERIAL PRIMARY KEY,
        chat_id BIGINT REFERENCES chats(id) ON DELETE CASCADE,
        type TEXT NOT NULL,
        name TEXT NOT NULL DEFAULT ''
    );`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

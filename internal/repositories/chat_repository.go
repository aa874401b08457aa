package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-core/internal/models"
)

// DeletedChat describes a group chat that was hard-deleted.
type DeletedChat struct {
	Members       []string
	AttachmentIDs []int64
}

// LeaveResult describes the chat after a member left it. When Deleted is set
// the chat was destroyed because nobody remained.
type LeaveResult struct {
	Remaining     []string
	NewOwner      *string
	Deleted       bool
	AttachmentIDs []int64
}

// ChatRepository abstracts chat and membership persistence. Every guarded
// mutation re-checks membership and rank in the transaction that mutates.
type ChatRepository interface {
	IsMember(ctx context.Context, chatID int64, username string) (bool, error)
	IsPrivate(ctx context.Context, chatID int64) (bool, error)
	GetMembers(ctx context.Context, chatID int64) ([]string, error)
	GetChatData(ctx context.Context, chatID int64) (models.ChatData, error)
	GetPrivateChatID(ctx context.Context, a, b string) (int64, error)
	OpenPrivateChat(ctx context.Context, sender, target string) (chatID int64, created bool, err error)
	CreateGroupChat(ctx context.Context, owner string, members []string) (int64, error)
	DeleteGroupChat(ctx context.Context, chatID int64, actor string) (DeletedChat, error)
	HidePrivateHistory(ctx context.Context, chatID int64, username string) error
	LeaveGroupChat(ctx context.Context, chatID int64, username string) (LeaveResult, error)
	AddMember(ctx context.Context, chatID int64, actor, username string) error
	RemoveMember(ctx context.Context, chatID int64, actor, username string) error
	ToggleMemberRank(ctx context.Context, chatID int64, actor, username string) (models.Rank, error)
	SetName(ctx context.Context, chatID int64, actor string, name *string) error
	SetCover(ctx context.Context, chatID int64, actor string, coverID *int64) (previous *int64, err error)
	SetNickname(ctx context.Context, chatID int64, actor, username string, nickname *string) error
	LatestChats(ctx context.Context, username string, chats, pageSize int) ([]models.ChatSnapshot, error)
	SearchGroupChats(ctx context.Context, username, query string, limit int) ([]models.ChatSummary, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// IsMember checks whether a user belongs to the chat.
func (r *ChatRepo) IsMember(ctx context.Context, chatID int64, username string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id=$1 AND username=$2)`, chatID, username)
	return exists, err
}

// IsPrivate reports whether the chat is a private chat.
func (r *ChatRepo) IsPrivate(ctx context.Context, chatID int64) (bool, error) {
	var private bool
	err := r.db.GetContext(ctx, &private, `SELECT private FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrChatNotFound
	}
	return private, err
}

// GetMembers returns member usernames in join order.
func (r *ChatRepo) GetMembers(ctx context.Context, chatID int64) ([]string, error) {
	var members []string
	err := r.db.SelectContext(ctx, &members, `SELECT username FROM chat_members WHERE chat_id=$1 ORDER BY id`, chatID)
	return members, err
}

// GetChatData returns the chat row and its members.
func (r *ChatRepo) GetChatData(ctx context.Context, chatID int64) (models.ChatData, error) {
	return getChatData(ctx, r.db, chatID)
}

// GetPrivateChatID returns the private chat shared by a and b.
func (r *ChatRepo) GetPrivateChatID(ctx context.Context, a, b string) (int64, error) {
	user1, user2 := orderedPair(a, b)
	var id int64
	err := r.db.GetContext(ctx, &id, `SELECT chat_id FROM private_chats WHERE user1=$1 AND user2=$2`, user1, user2)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrChatNotFound
	}
	return id, err
}

// OpenPrivateChat returns the private chat between sender and target, creating
// it when missing. The pair is serialized with an advisory lock and guarded by
// the private_chats primary key so concurrent first contact yields one chat.
func (r *ChatRepo) OpenPrivateChat(ctx context.Context, sender, target string) (int64, bool, error) {
	if sender == target {
		return 0, false, ErrForbidden
	}
	user1, user2 := orderedPair(sender, target)

	var (
		chatID  int64
		created bool
	)
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var blockList pq.StringArray
		if err := tx.GetContext(ctx, &blockList, `SELECT block_list FROM users WHERE username=$1`, target); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUserNotFound
			}
			return err
		}
		for _, u := range blockList {
			if u == sender {
				return ErrBlocked
			}
		}

		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ',' || $2))`, user1, user2); err != nil {
			return err
		}
		err := tx.GetContext(ctx, &chatID, `SELECT chat_id FROM private_chats WHERE user1=$1 AND user2=$2`, user1, user2)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if err := tx.GetContext(ctx, &chatID, `INSERT INTO chats (private) VALUES (TRUE) RETURNING id`); err != nil {
			return err
		}
		for _, u := range []string{sender, target} {
			if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, username, rank) VALUES ($1, $2, 0)`, chatID, u); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO private_chats (user1, user2, chat_id) VALUES ($1, $2, $3)`, user1, user2, chatID); err != nil {
			return err
		}
		created = true
		return nil
	})
	return chatID, created, err
}

// CreateGroupChat creates a group owned by owner with the given members.
func (r *ChatRepo) CreateGroupChat(ctx context.Context, owner string, members []string) (int64, error) {
	var chatID int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &chatID, `INSERT INTO chats (private) VALUES (FALSE) RETURNING id`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, username, rank) VALUES ($1, $2, $3)`, chatID, owner, models.RankOwner); err != nil {
			return err
		}
		for _, m := range members {
			if m == owner {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, username, rank) VALUES ($1, $2, 0)
                ON CONFLICT (chat_id, username) DO NOTHING`, chatID, m); err != nil {
				return err
			}
		}
		return nil
	})
	return chatID, err
}

// DeleteGroupChat removes a group chat. Only its owner may do so.
func (r *ChatRepo) DeleteGroupChat(ctx context.Context, chatID int64, actor string) (DeletedChat, error) {
	var out DeletedChat
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockGroupChat(ctx, tx, chatID); err != nil {
			return err
		}
		rank, err := memberRank(ctx, tx, chatID, actor)
		if err != nil {
			return err
		}
		if rank != models.RankOwner {
			return ErrForbidden
		}
		if err := tx.SelectContext(ctx, &out.Members, `SELECT username FROM chat_members WHERE chat_id=$1 ORDER BY id`, chatID); err != nil {
			return err
		}
		if out.AttachmentIDs, err = destroyChat(ctx, tx, chatID); err != nil {
			return err
		}
		return nil
	})
	return out, err
}

// HidePrivateHistory moves the caller's break point to the chat's newest
// message so earlier history is no longer returned to them.
func (r *ChatRepo) HidePrivateHistory(ctx context.Context, chatID int64, username string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_members cm
        SET break_point = COALESCE((SELECT MAX(m.id) FROM messages m WHERE m.chat_id = cm.chat_id), 0)
        FROM chats c
        WHERE c.id = cm.chat_id AND c.private AND cm.chat_id=$1 AND cm.username=$2`, chatID, username)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotMember
	}
	return nil
}

// LeaveGroupChat removes username from the group. An owner leaving hands the
// chat to the oldest remaining member; the last member leaving destroys it.
func (r *ChatRepo) LeaveGroupChat(ctx context.Context, chatID int64, username string) (LeaveResult, error) {
	var out LeaveResult
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockGroupChat(ctx, tx, chatID); err != nil {
			return err
		}
		var rank models.Rank
		err := tx.GetContext(ctx, &rank, `DELETE FROM chat_members WHERE chat_id=$1 AND username=$2 RETURNING rank`, chatID, username)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotMember
		}
		if err != nil {
			return err
		}

		if err := tx.SelectContext(ctx, &out.Remaining, `SELECT username FROM chat_members WHERE chat_id=$1 ORDER BY id`, chatID); err != nil {
			return err
		}
		if len(out.Remaining) == 0 {
			out.Deleted = true
			out.AttachmentIDs, err = destroyChat(ctx, tx, chatID)
			return err
		}
		if rank == models.RankOwner {
			next := out.Remaining[0]
			if _, err := tx.ExecContext(ctx, `UPDATE chat_members SET rank=$1 WHERE chat_id=$2 AND username=$3`, models.RankOwner, chatID, next); err != nil {
				return err
			}
			out.NewOwner = &next
		}
		return nil
	})
	return out, err
}

// AddMember adds username to a group chat the actor belongs to.
func (r *ChatRepo) AddMember(ctx context.Context, chatID int64, actor, username string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockGroupChat(ctx, tx, chatID); err != nil {
			return err
		}
		if _, err := memberRank(ctx, tx, chatID, actor); err != nil {
			return err
		}
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE username=$1)`, username); err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO chat_members (chat_id, username, rank) VALUES ($1, $2, 0)
            ON CONFLICT (chat_id, username) DO NOTHING`, chatID, username)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrAlreadyMember
		}
		return nil
	})
}

// RemoveMember removes username from the group. The actor needs admin rank and
// the owner cannot be removed.
func (r *ChatRepo) RemoveMember(ctx context.Context, chatID int64, actor, username string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockGroupChat(ctx, tx, chatID); err != nil {
			return err
		}
		if err := requireModerator(ctx, tx, chatID, actor, username); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM chat_members WHERE chat_id=$1 AND username=$2`, chatID, username)
		return err
	})
}

// ToggleMemberRank flips username between member and admin.
func (r *ChatRepo) ToggleMemberRank(ctx context.Context, chatID int64, actor, username string) (models.Rank, error) {
	var rank models.Rank
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockGroupChat(ctx, tx, chatID); err != nil {
			return err
		}
		if err := requireModerator(ctx, tx, chatID, actor, username); err != nil {
			return err
		}
		return tx.GetContext(ctx, &rank, `UPDATE chat_members SET rank = 1 - rank WHERE chat_id=$1 AND username=$2 RETURNING rank`, chatID, username)
	})
	return rank, err
}

// SetName updates or clears a group chat's name.
func (r *ChatRepo) SetName(ctx context.Context, chatID int64, actor string, name *string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockGroupChat(ctx, tx, chatID); err != nil {
			return err
		}
		if _, err := memberRank(ctx, tx, chatID, actor); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE chats SET name=$1 WHERE id=$2`, name, chatID)
		return err
	})
}

// SetCover updates or clears a group chat's cover and returns the replaced one.
func (r *ChatRepo) SetCover(ctx context.Context, chatID int64, actor string, coverID *int64) (*int64, error) {
	var previous *int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockGroupChat(ctx, tx, chatID); err != nil {
			return err
		}
		if _, err := memberRank(ctx, tx, chatID, actor); err != nil {
			return err
		}
		if err := tx.GetContext(ctx, &previous, `SELECT cover_id FROM chats WHERE id=$1`, chatID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE chats SET cover_id=$1 WHERE id=$2`, coverID, chatID)
		return err
	})
	return previous, err
}

// SetNickname updates or clears a member's nickname. Any member may set any
// member's nickname.
func (r *ChatRepo) SetNickname(ctx context.Context, chatID int64, actor, username string, nickname *string) error {
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := memberRank(ctx, tx, chatID, actor); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE chat_members SET nickname=$1 WHERE chat_id=$2 AND username=$3`, nickname, chatID, username)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// LatestChats returns the caller's most recently active chats, each with its
// newest page of messages past the caller's break point.
func (r *ChatRepo) LatestChats(ctx context.Context, username string, chats, pageSize int) ([]models.ChatSnapshot, error) {
	var out []models.ChatSnapshot
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var ids []int64
		err := tx.SelectContext(ctx, &ids, `SELECT cm.chat_id
            FROM chat_members cm
            JOIN messages m ON m.chat_id = cm.chat_id AND m.id > cm.break_point
            WHERE cm.username=$1
            GROUP BY cm.chat_id
            ORDER BY MAX(m.id) DESC
            LIMIT $2`, username, chats)
		if err != nil {
			return err
		}
		out = make([]models.ChatSnapshot, 0, len(ids))
		for _, id := range ids {
			data, err := getChatData(ctx, tx, id)
			if err != nil {
				return err
			}
			msgs, err := messagePage(ctx, tx, id, username, 0, pageSize)
			if err != nil {
				return err
			}
			out = append(out, models.ChatSnapshot{ChatData: data, Messages: msgs})
		}
		return nil
	})
	return out, err
}

// SearchGroupChats returns group chats of username whose name contains query.
func (r *ChatRepo) SearchGroupChats(ctx context.Context, username, query string, limit int) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	err := r.db.SelectContext(ctx, &chats, `SELECT c.id, c.name, c.cover_id
        FROM chats c
        JOIN chat_members cm ON cm.chat_id = c.id AND cm.username=$1
        WHERE NOT c.private AND LOWER(c.name) LIKE $2 ESCAPE '\'
        ORDER BY c.id DESC
        LIMIT $3`, username, containsPattern(query), limit)
	return chats, err
}

func getChatData(ctx context.Context, q sqlx.QueryerContext, chatID int64) (models.ChatData, error) {
	var data models.ChatData
	err := sqlx.GetContext(ctx, q, &data.Chat, `SELECT id, private, name, cover_id FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatData{}, ErrChatNotFound
	}
	if err != nil {
		return models.ChatData{}, err
	}
	err = sqlx.SelectContext(ctx, q, &data.Members, `SELECT username, nickname, rank FROM chat_members WHERE chat_id=$1 ORDER BY id`, chatID)
	return data, err
}

// lockGroupChat takes the chat row lock and refuses private chats.
func lockGroupChat(ctx context.Context, tx *sqlx.Tx, chatID int64) error {
	var private bool
	err := tx.GetContext(ctx, &private, `SELECT private FROM chats WHERE id=$1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrChatNotFound
	}
	if err != nil {
		return err
	}
	if private {
		return ErrForbidden
	}
	return nil
}

func memberRank(ctx context.Context, tx *sqlx.Tx, chatID int64, username string) (models.Rank, error) {
	var rank models.Rank
	err := tx.GetContext(ctx, &rank, `SELECT rank FROM chat_members WHERE chat_id=$1 AND username=$2`, chatID, username)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotMember
	}
	return rank, err
}

// requireModerator checks the actor is at least admin and the target is a
// non-owner member.
func requireModerator(ctx context.Context, tx *sqlx.Tx, chatID int64, actor, target string) error {
	rank, err := memberRank(ctx, tx, chatID, actor)
	if err != nil {
		return err
	}
	if rank < models.RankAdmin {
		return ErrForbidden
	}
	targetRank, err := memberRank(ctx, tx, chatID, target)
	if errors.Is(err, ErrNotMember) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	if targetRank >= models.RankOwner {
		return ErrForbidden
	}
	return nil
}

// destroyChat deletes the chat and returns the ids of its attachments, whose
// rows go with it.
func destroyChat(ctx context.Context, tx *sqlx.Tx, chatID int64) ([]int64, error) {
	var ids []int64
	if err := tx.SelectContext(ctx, &ids, `SELECT id FROM attachments WHERE chat_id=$1`, chatID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id=$1`, chatID); err != nil {
		return nil, err
	}
	return ids, nil
}

// orderedPair sorts bytewise, matching the COLLATE "C" check on private_chats.
func orderedPair(a, b string) (string, string) {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0], pair[1]
}

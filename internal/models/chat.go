package models

// Rank is a member's privilege level inside a group chat.
type Rank int

const (
	RankMember Rank = 0
	RankAdmin  Rank = 1
	RankOwner  Rank = 2
)

// Chat is a private (exactly two members) or group conversation.
type Chat struct {
	ID      int64   `db:"id" json:"id"`
	Private bool    `db:"private" json:"private"`
	Name    *string `db:"name" json:"name"`
	CoverID *int64  `db:"cover_id" json:"cover_id"`
}

// ChatMember is one membership row of a chat.
type ChatMember struct {
	Username string  `db:"username" json:"username"`
	Nickname *string `db:"nickname" json:"nickname"`
	Rank     Rank    `db:"rank" json:"rank"`
}

// ChatData bundles a chat with its members ordered by join time.
type ChatData struct {
	Chat    Chat         `json:"chat"`
	Members []ChatMember `json:"members"`
}

// ChatSnapshot is a chat plus its most recent page of messages, newest first.
type ChatSnapshot struct {
	ChatData
	Messages []Message `json:"messages"`
}

// ChatSummary is the search view of a group chat.
type ChatSummary struct {
	ID      int64   `db:"id" json:"id"`
	Name    *string `db:"name" json:"name"`
	CoverID *int64  `db:"cover_id" json:"cover_id"`
}

// UserSummary is the search view of a user.
type UserSummary struct {
	Username string `db:"username" json:"username"`
	AvatarID *int64 `db:"avatar_id" json:"avatar_id"`
}

// SearchResult is returned by the search command. Chats is nil unless requested.
type SearchResult struct {
	Users []UserSummary `json:"users"`
	Chats []ChatSummary `json:"chats"`
}

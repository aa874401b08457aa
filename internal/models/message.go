package models

import "time"

// Message is a chat message. An empty Username marks a system message.
type Message struct {
	ID           int64  `db:"id" json:"id"`
	ChatID       int64  `db:"chat_id" json:"chat_id"`
	Username     string `db:"username" json:"username"`
	Content      string `db:"content" json:"content"`
	IsAttachment bool   `db:"is_attachment" json:"is_attachment"`
	Timestamp    int64  `db:"sent_at" json:"timestamp"`
	Reactions    string `db:"reactions" json:"reactions"`
}

// IsSystem reports whether the message was generated by the server.
func (m Message) IsSystem() bool {
	return m.Username == ""
}

// Time returns the creation time of the message.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

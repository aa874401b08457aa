package models

// AttachmentData is the metadata row of a stored attachment. ChatID is nil for
// attachments that are not bound to a chat (user avatars).
type AttachmentData struct {
	ID     int64  `db:"id" json:"id"`
	ChatID *int64 `db:"chat_id" json:"chat_id"`
	Type   string `db:"type" json:"type"`
	Name   string `db:"name" json:"name"`
}

// Attachment carries attachment bytes over the wire.
type Attachment struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// AvatarAttachment is an attachment answered for a user avatar lookup.
type AvatarAttachment struct {
	AvatarID int64 `json:"avatarId"`
	Attachment
}

package protocol

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"chat-core/internal/models"
)

const (
	CmdSendMessage          = "sendMessage"
	CmdGetMessages          = "getMessages"
	CmdDeleteMessage        = "deleteMessage"
	CmdCreateGroupChat      = "createGroupChat"
	CmdDeleteChat           = "deleteChat"
	CmdLeaveGroupChat       = "leaveGroupChat"
	CmdAddChatMember        = "addChatMember"
	CmdRemoveChatMember     = "removeChatMember"
	CmdSetChatName          = "setChatName"
	CmdSetChatCover         = "setChatCover"
	CmdSetChatNickname      = "setChatNickname"
	CmdChangeChatMemberRank = "changeChatMemberRank"
	CmdChangeUserBlockState = "changeUserBlockState"
	CmdSetMessageReaction   = "setMessageReaction"
	CmdSearch               = "search"
	CmdGetUserAvatar        = "getUserAvatar"
	CmdGetAttachment        = "getAttachment"
	CmdGetChatData          = "getChatData"
)

const (
	MaxChatNameLength = 32
	MaxNicknameLength = 16
	MaxSearchLength   = 32
	MaxUsernameLength = 64
	MaxMessageLength  = 4096
)

// Target addresses a conversation by chat id or a user by username. On the
// wire it is a JSON number or a JSON string.
type Target struct {
	ChatID   int64
	Username string
}

func ChatTarget(id int64) Target        { return Target{ChatID: id} }
func UserTarget(username string) Target { return Target{Username: username} }

// IsUser reports whether the target names a user.
func (t Target) IsUser() bool {
	return t.Username != ""
}

func (t Target) MarshalJSON() ([]byte, error) {
	if t.IsUser() {
		return json.Marshal(t.Username)
	}
	return json.Marshal(t.ChatID)
}

func (t *Target) UnmarshalJSON(raw []byte) error {
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		*t = Target{ChatID: id}
		return nil
	}
	var username string
	if err := json.Unmarshal(raw, &username); err != nil {
		return invalid("target must be a chat id or a username")
	}
	*t = Target{Username: username}
	return nil
}

func (t Target) validate() error {
	if t.IsUser() {
		return validUsername(t.Username)
	}
	if t.ChatID <= 0 {
		return invalid("target is empty")
	}
	return nil
}

// Upload is attachment content sent inline with a command.
type Upload struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data []byte `json:"data"`
}

func (u *Upload) validate() error {
	if u.Type == "" {
		return invalid("attachment type is required")
	}
	if len(u.Data) == 0 {
		return invalid("attachment is empty")
	}
	return nil
}

// IsImage reports whether the upload declares an image MIME type.
func (u *Upload) IsImage() bool {
	return strings.HasPrefix(u.Type, "image/")
}

// Attachment converts the upload to its stored form.
func (u *Upload) Attachment() models.Attachment {
	return models.Attachment{Type: u.Type, Name: u.Name, Data: u.Data}
}

type SendMessage struct {
	Target     Target  `json:"target"`
	Content    string  `json:"content,omitempty"`
	Attachment *Upload `json:"attachment,omitempty"`
}

func (p *SendMessage) Validate() error {
	if err := p.Target.validate(); err != nil {
		return err
	}
	if p.Attachment != nil {
		return p.Attachment.validate()
	}
	if strings.TrimSpace(p.Content) == "" {
		return invalid("message is empty")
	}
	if utf8.RuneCountInString(p.Content) > MaxMessageLength {
		return invalid("message exceeds %d characters", MaxMessageLength)
	}
	return nil
}

type GetMessages struct {
	ChatID int64 `json:"chatId"`
	Offset int   `json:"offset"`
}

func (p *GetMessages) Validate() error {
	if p.ChatID <= 0 {
		return invalid("chatId is required")
	}
	if p.Offset < 0 {
		return invalid("offset must not be negative")
	}
	return nil
}

type DeleteMessage struct {
	MessageID int64 `json:"messageId"`
}

func (p *DeleteMessage) Validate() error {
	if p.MessageID <= 0 {
		return invalid("messageId is required")
	}
	return nil
}

type CreateGroupChat struct {
	Members []string `json:"members"`
}

func (p *CreateGroupChat) Validate() error {
	if len(p.Members) < 2 {
		return invalid("a group chat needs at least two other members")
	}
	for _, m := range p.Members {
		if err := validUsername(m); err != nil {
			return err
		}
	}
	return nil
}

// ChatRef is the payload of commands that only name a chat.
type ChatRef struct {
	ChatID int64 `json:"chatId"`
}

func (p *ChatRef) Validate() error {
	if p.ChatID <= 0 {
		return invalid("chatId is required")
	}
	return nil
}

// ChatMemberRef is the payload of commands acting on one member of a chat.
type ChatMemberRef struct {
	ChatID   int64  `json:"chatId"`
	Username string `json:"username"`
}

func (p *ChatMemberRef) Validate() error {
	if p.ChatID <= 0 {
		return invalid("chatId is required")
	}
	return validUsername(p.Username)
}

type SetChatName struct {
	ChatID int64   `json:"chatId"`
	Name   *string `json:"name"`
}

func (p *SetChatName) Validate() error {
	if p.ChatID <= 0 {
		return invalid("chatId is required")
	}
	p.Name = normalizeOptional(p.Name)
	if p.Name != nil && utf8.RuneCountInString(*p.Name) > MaxChatNameLength {
		return invalid("chat name exceeds %d characters", MaxChatNameLength)
	}
	return nil
}

type SetChatCover struct {
	ChatID int64   `json:"chatId"`
	Cover  *Upload `json:"cover"`
}

func (p *SetChatCover) Validate() error {
	if p.ChatID <= 0 {
		return invalid("chatId is required")
	}
	if p.Cover == nil {
		return nil
	}
	if err := p.Cover.validate(); err != nil {
		return err
	}
	if !p.Cover.IsImage() {
		return invalid("chat cover must be an image")
	}
	return nil
}

type SetChatNickname struct {
	ChatID   int64   `json:"chatId"`
	Username string  `json:"username"`
	Nickname *string `json:"nickname"`
}

func (p *SetChatNickname) Validate() error {
	if p.ChatID <= 0 {
		return invalid("chatId is required")
	}
	if err := validUsername(p.Username); err != nil {
		return err
	}
	p.Nickname = normalizeOptional(p.Nickname)
	if p.Nickname != nil && utf8.RuneCountInString(*p.Nickname) > MaxNicknameLength {
		return invalid("nickname exceeds %d characters", MaxNicknameLength)
	}
	return nil
}

// UserRef is the payload of commands that only name a user.
type UserRef struct {
	Username string `json:"username"`
}

func (p *UserRef) Validate() error {
	return validUsername(p.Username)
}

type SetMessageReaction struct {
	MessageID  int64 `json:"messageId"`
	ReactionID *int  `json:"reactionId"`
}

func (p *SetMessageReaction) Validate() error {
	if p.MessageID <= 0 {
		return invalid("messageId is required")
	}
	return nil
}

type Search struct {
	Query        string `json:"query"`
	IncludeChats bool   `json:"includeChats"`
}

func (p *Search) Validate() error {
	p.Query = strings.ToLower(strings.TrimSpace(p.Query))
	n := utf8.RuneCountInString(p.Query)
	if n == 0 || n > MaxSearchLength {
		return invalid("search query must be 1 to %d characters", MaxSearchLength)
	}
	return nil
}

type GetAttachment struct {
	AttachmentID int64 `json:"attachmentId"`
}

func (p *GetAttachment) Validate() error {
	if p.AttachmentID <= 0 {
		return invalid("attachmentId is required")
	}
	return nil
}

type GetChatData struct {
	Target Target `json:"target"`
}

func (p *GetChatData) Validate() error {
	return p.Target.validate()
}

// Usernames are embedded in the reaction encoding, so separators are refused.
func validUsername(u string) error {
	if u == "" {
		return invalid("username is required")
	}
	if len(u) > MaxUsernameLength {
		return invalid("username too long")
	}
	if strings.ContainsAny(u, ",:") {
		return invalid("username %q contains a reserved character", u)
	}
	return nil
}

func normalizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

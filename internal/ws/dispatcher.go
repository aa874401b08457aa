package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-core/internal/attachments"
	"chat-core/internal/cache"
	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/protocol"
	"chat-core/internal/repositories"
	"chat-core/internal/telemetry"
)

// Broadcaster delivers a frame to every connection of the given users.
type Broadcaster interface {
	Broadcast(ctx context.Context, usernames []string, frame []byte)
}

// Deps are the collaborators of a Dispatcher.
type Deps struct {
	Chats       repositories.ChatRepository
	Messages    repositories.MessageRepository
	Users       repositories.UserRepository
	Attachments *attachments.Service
	Members     *cache.Members
	Out         Broadcaster
	Audit       *telemetry.AuditEmitter
	Log         *zap.Logger

	PageSize      int
	SnapshotChats int
	SearchLimit   int
}

// call is one command being handled.
type call struct {
	username  string
	requestID string
	payload   json.RawMessage
}

type handlerFunc func(ctx context.Context, c *call) (any, error)

// Dispatcher validates commands, applies them to the store and fans out the
// resulting events. Authorization is re-checked by the store inside the
// mutating transaction.
type Dispatcher struct {
	Deps
	tracer   trace.Tracer
	handlers map[string]handlerFunc
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.PageSize <= 0 {
		deps.PageSize = 10
	}
	if deps.SnapshotChats <= 0 {
		deps.SnapshotChats = 10
	}
	if deps.SearchLimit <= 0 {
		deps.SearchLimit = 20
	}
	d := &Dispatcher{Deps: deps, tracer: otel.Tracer("chat-core/ws")}
	d.handlers = map[string]handlerFunc{
		protocol.CmdSendMessage:          d.sendMessage,
		protocol.CmdGetMessages:          d.getMessages,
		protocol.CmdDeleteMessage:        d.deleteMessage,
		protocol.CmdSetMessageReaction:   d.setMessageReaction,
		protocol.CmdCreateGroupChat:      d.createGroupChat,
		protocol.CmdDeleteChat:           d.deleteChat,
		protocol.CmdLeaveGroupChat:       d.leaveGroupChat,
		protocol.CmdAddChatMember:        d.addChatMember,
		protocol.CmdRemoveChatMember:     d.removeChatMember,
		protocol.CmdSetChatName:          d.setChatName,
		protocol.CmdSetChatCover:         d.setChatCover,
		protocol.CmdSetChatNickname:      d.setChatNickname,
		protocol.CmdChangeChatMemberRank: d.changeChatMemberRank,
		protocol.CmdChangeUserBlockState: d.changeUserBlockState,
		protocol.CmdSearch:               d.search,
		protocol.CmdGetUserAvatar:        d.getUserAvatar,
		protocol.CmdGetAttachment:        d.getAttachment,
		protocol.CmdGetChatData:          d.getChatData,
	}
	return d
}

// Connected builds the snapshot pushed when a connection becomes active.
func (d *Dispatcher) Connected(ctx context.Context, username string) ([]byte, error) {
	chats, err := d.Chats.LatestChats(ctx, username, d.SnapshotChats, d.PageSize)
	if err != nil {
		return nil, fmt.Errorf("load latest chats: %w", err)
	}
	if chats == nil {
		chats = []models.ChatSnapshot{}
	}
	observability.IncWSEvent(protocol.EvtConnected)
	return protocol.NewEvent(protocol.EvtConnected, protocol.Connected{Chats: chats})
}

// Handle runs one command to completion and returns its ack.
func (d *Dispatcher) Handle(ctx context.Context, info ConnInfo, f protocol.Frame) []byte {
	start := time.Now()
	label := f.Name
	h, known := d.handlers[f.Name]
	if !known {
		label = "unknown"
	}

	ctx, span := d.tracer.Start(ctx, "ws.command", trace.WithAttributes(
		attribute.String("command", label),
		attribute.String("username", info.Username),
	))
	defer span.End()

	var data any
	var err error
	if known {
		data, err = h(ctx, &call{username: info.Username, requestID: commandRequestID(info, f.ID), payload: f.Payload})
	} else {
		err = fmt.Errorf("%w: unknown command %q", protocol.ErrValidation, f.Name)
	}

	status := statusOf(err)
	var errText string
	switch {
	case err == nil:
	case status == protocol.StatusInternalError:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.Log.Error("command failed", zap.String("command", f.Name), zap.String("username", info.Username), zap.Error(err))
		errText = "internal error"
	default:
		errText = err.Error()
		d.Log.Debug("command rejected", zap.String("command", f.Name), zap.String("username", info.Username), zap.String("status", string(status)), zap.Error(err))
	}
	observability.ObserveCommand(label, string(status), time.Since(start))

	ack, err := protocol.NewAck(f.ID, status, data, errText)
	if err != nil {
		d.Log.Error("encode ack failed", zap.String("command", f.Name), zap.Error(err))
		ack, _ = protocol.NewAck(f.ID, protocol.StatusInternalError, nil, "internal error")
	}
	return ack
}

func statusOf(err error) protocol.Status {
	switch {
	case err == nil:
		return protocol.StatusOK
	case errors.Is(err, protocol.ErrValidation),
		errors.Is(err, repositories.ErrAlreadyMember),
		errors.Is(err, attachments.ErrTooLarge),
		errors.Is(err, attachments.ErrNotImage):
		return protocol.StatusValidationError
	case errors.Is(err, repositories.ErrNotMember),
		errors.Is(err, repositories.ErrForbidden),
		errors.Is(err, repositories.ErrBlocked):
		return protocol.StatusAuthError
	case errors.Is(err, repositories.ErrChatNotFound),
		errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrUserNotFound),
		errors.Is(err, repositories.ErrAttachmentNotFound):
		return protocol.StatusNotFound
	default:
		return protocol.StatusInternalError
	}
}

// emit sends an event to every connection of usernames.
func (d *Dispatcher) emit(ctx context.Context, usernames []string, name string, payload any) {
	frame, err := protocol.NewEvent(name, payload)
	if err != nil {
		d.Log.Error("encode event failed", zap.String("event", name), zap.Error(err))
		return
	}
	observability.IncWSEvent(name)
	d.Out.Broadcast(ctx, usernames, frame)
}

// emitToChat sends an event to the current members of chatID.
func (d *Dispatcher) emitToChat(ctx context.Context, chatID int64, name string, payload any) {
	members, err := d.Members.Get(ctx, chatID)
	if err != nil {
		d.Log.Error("load chat members failed", zap.Int64("chat_id", chatID), zap.String("event", name), zap.Error(err))
		return
	}
	d.emit(ctx, members, name, payload)
}

func (d *Dispatcher) systemMessage(ctx context.Context, chatID int64, format string, args ...any) (models.Message, error) {
	msg, err := d.Messages.CreateSystemMessage(ctx, chatID, fmt.Sprintf(format, args...))
	if err != nil {
		return models.Message{}, fmt.Errorf("create system message: %w", err)
	}
	return msg, nil
}

func (d *Dispatcher) audit(ctx context.Context, c *call, chatID int64, action telemetry.Action, target string) {
	d.Audit.Emit(ctx, telemetry.Record{
		Action:    action,
		Actor:     c.username,
		ChatID:    &chatID,
		Target:    target,
		RequestID: c.requestID,
	})
}

// purge drops blob bytes of attachments whose rows went with a deleted chat.
func (d *Dispatcher) purge(chatID int64, ids []int64) {
	if err := d.Attachments.Purge(ids...); err != nil {
		d.Log.Warn("attachment purge failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

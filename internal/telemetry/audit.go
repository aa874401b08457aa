package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Action names a state change worth keeping a record of.
type Action string

const (
	ActionPrivateChatOpened Action = "private_chat.opened"
	ActionGroupCreated      Action = "group.created"
	ActionGroupDeleted      Action = "group.deleted"
	ActionGroupLeft         Action = "group.left"
	ActionGroupDissolved    Action = "group.dissolved"
	ActionMemberAdded       Action = "member.added"
	ActionMemberRemoved     Action = "member.removed"
	ActionMemberPromoted    Action = "member.promoted"
	ActionMemberDemoted     Action = "member.demoted"
	ActionAvatarChanged     Action = "avatar.changed"
	ActionAvatarRemoved     Action = "avatar.removed"
	ActionProbe             Action = "probe"
)

// Record is one audited change. ChatID and Target are optional.
type Record struct {
	Action    Action
	Actor     string
	ChatID    *int64
	Target    string
	RequestID string
}

// AuditEmitter publishes records to the bus and mirrors them to the log.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

// Envelope is the wire shape of a record on the bus.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	Action        Action `json:"action"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	Environment   string `json:"environment"`
	RequestID     string `json:"request_id"`
	Actor         string `json:"actor,omitempty"`
	ChatID        *int64 `json:"chat_id,omitempty"`
	Target        string `json:"target,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// Emit publishes rec. Publish failures are logged and otherwise ignored; a
// nil emitter drops everything.
func (e *AuditEmitter) Emit(ctx context.Context, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}

	fields := []zap.Field{zap.String("action", string(rec.Action)), zap.String("request_id", rec.RequestID)}
	if rec.Actor != "" {
		fields = append(fields, zap.String("actor", rec.Actor))
	}
	if rec.ChatID != nil {
		fields = append(fields, zap.Int64("chat_id", *rec.ChatID))
	}
	if rec.Target != "" {
		fields = append(fields, zap.String("target", rec.Target))
	}
	e.log.Info("audit", fields...)

	env := Envelope{
		SchemaVersion: 2,
		Action:        rec.Action,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		Actor:         rec.Actor,
		ChatID:        rec.ChatID,
		Target:        rec.Target,
	}
	if err := e.publisher.Publish(ctx, e.routingKey, env); err != nil {
		e.log.Warn("audit publish failed", zap.String("action", string(rec.Action)), zap.Error(err))
	}
}

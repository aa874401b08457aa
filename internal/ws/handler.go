package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-core/internal/observability"
	"chat-core/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type HandlerOptions struct {
	CommandRate  float64
	CommandBurst int
	// MaxFrameBytes bounds one inbound frame; uploads travel inline.
	MaxFrameBytes int64
}

// Handler upgrades authenticated requests and runs the connection.
type Handler struct {
	hub        *Hub
	dispatcher *Dispatcher
	sessions   session.Validator
	log        *zap.Logger
	opts       HandlerOptions
}

func NewHandler(hub *Hub, dispatcher *Dispatcher, sessions session.Validator, log *zap.Logger, opts HandlerOptions) *Handler {
	if opts.CommandRate <= 0 {
		opts.CommandRate = 20
	}
	if opts.CommandBurst <= 0 {
		opts.CommandBurst = 40
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 64 << 20
	}
	return &Handler{hub: hub, dispatcher: dispatcher, sessions: sessions, log: log, opts: opts}
}

// Handle validates the session, upgrades, pushes the connected snapshot and
// serves commands until the socket closes.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-core/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	username, err := h.sessions.Validate(ctx, tokenFromRequest(c))
	if err != nil {
		span.End()
		if !errors.Is(err, session.ErrInvalidSession) {
			h.log.Error("session validation failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session service unavailable"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}
	traceID := span.SpanContext().TraceID().String()
	span.End()

	info := newConnInfo(c, username, traceID)
	limiter := rate.NewLimiter(rate.Limit(h.opts.CommandRate), h.opts.CommandBurst)
	client := newClient(conn, info, limiter, h.log)
	h.serve(context.WithoutCancel(ctx), client)
}

func (h *Handler) serve(ctx context.Context, client *Client) {
	info := client.info
	h.hub.Join(client)
	observability.IncWSActive()
	publishConnEvent(ctx, info, "ws_connect", "")
	client.log.Info("websocket connected")

	go client.writePump()

	var closeReason string
	defer func() {
		h.hub.Leave(client)
		client.close()
		observability.DecWSActive()
		publishConnEvent(ctx, info, "ws_disconnect", closeReason)
		client.log.Info("websocket disconnected", zap.String("reason", closeReason))
	}()

	snapshot, err := h.dispatcher.Connected(ctx, info.Username)
	if err != nil {
		closeReason = err.Error()
		client.log.Error("connected snapshot failed", zap.Error(err))
		return
	}
	if !client.start(snapshot) {
		closeReason = errSlowConsumer.Error()
		client.log.Warn("connected snapshot not queued, closing")
		return
	}

	err = client.readPump(ctx, h.opts.MaxFrameBytes, h.dispatcher.Handle)
	closeReason = err.Error()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		publishConnEvent(ctx, info, "ws_error", closeReason)
	}
}

// tokenFromRequest reads a bearer token from the Authorization header or the
// token query parameter.
func tokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.Query("token")
}

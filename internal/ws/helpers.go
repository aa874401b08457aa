package ws

import (
	"context"
	"strconv"
	"time"

	"chat-core/internal/observability"
)

const wsRoutingKey = "ws_events.chats"

// commandRequestID ties a command to its connection for audit and logs.
func commandRequestID(info ConnInfo, frameID uint64) string {
	return info.ConnID + ":" + strconv.FormatUint(frameID, 10)
}

type connEvent struct {
	ConnID     string `json:"conn_id"`
	Username   string `json:"username"`
	DeviceID   string `json:"device_id,omitempty"`
	IP         string `json:"ip"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

// publishConnEvent reports a connection lifecycle event on the bus.
func publishConnEvent(ctx context.Context, info ConnInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.Event{
		Kind: "ws_events",
		Name: event,
		Payload: connEvent{
			ConnID:     info.ConnID,
			Username:   info.Username,
			DeviceID:   info.DeviceID,
			IP:         info.IP,
			DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
			Reason:     reason,
		},
	}, observability.Correlation{RequestID: info.RequestID, TraceID: info.TraceID})
	observability.IncWSEvent(event)
}

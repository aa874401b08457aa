package ws

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ConnInfo identifies one authenticated socket for logs, metrics and the
// connection events published to the bus.
type ConnInfo struct {
	ConnID      string
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnInfo(c *gin.Context, username, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      newConnID(),
		Username:    username,
		DeviceID:    c.GetHeader("X-Device-Id"),
		IP:          c.ClientIP(),
		RequestID:   c.GetHeader("X-Request-Id"),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func newConnID() string {
	return uuid.NewString()
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-core/internal/telemetry"
)

// ConnectionCounter reports how many sockets a user has open on this node.
type ConnectionCounter interface {
	Connections(username string) int
}

// RegisterDebugRoutes wires operator endpoints. They are off unless enabled.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, conns ConnectionCounter, enabled bool) {
	if !enabled {
		return
	}
	debug := router.Group("/debug")

	debug.POST("/audit-probe", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		requestID := requestIDFromContext(c)
		emitter.Emit(c.Request.Context(), telemetry.Record{Action: telemetry.ActionProbe, RequestID: requestID})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestID})
	})

	debug.GET("/connections/:username", func(c *gin.Context) {
		username := strings.ToLower(c.Param("username"))
		c.JSON(http.StatusOK, gin.H{"username": username, "connections": conns.Connections(username)})
	})
}

package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-core/internal/session"
)

// UsernameKey is the gin context key holding the authenticated username.
const UsernameKey = "username"

// SessionAuth validates the bearer session token and stores the username in
// the context. When required is false a missing token passes through
// anonymously, but a present invalid one is still rejected.
func SessionAuth(sessions session.Validator, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
				return
			}
			c.Next()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		username, err := sessions.Validate(c.Request.Context(), parts[1])
		if errors.Is(err, session.ErrInvalidSession) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session service unavailable"})
			return
		}

		c.Set(UsernameKey, username)
		c.Next()
	}
}

// Username returns the authenticated username, empty for anonymous requests.
func Username(c *gin.Context) string {
	return c.GetString(UsernameKey)
}

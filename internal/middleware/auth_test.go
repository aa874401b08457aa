package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-core/internal/session"
)

type staticSessions map[string]string

func (s staticSessions) Validate(_ context.Context, token string) (string, error) {
	if token == "broken" {
		return "", assert.AnError
	}
	if u, ok := s[token]; ok {
		return u, nil
	}
	return "", session.ErrInvalidSession
}

func setupRouter(required bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", SessionAuth(staticSessions{"tok": "alice"}, required), func(c *gin.Context) {
		c.String(http.StatusOK, Username(c))
	})
	return r
}

func TestSessionAuth(t *testing.T) {
	tests := []struct {
		name     string
		required bool
		header   string
		code     int
		body     string
	}{
		{"valid", true, "Bearer tok", http.StatusOK, "alice"},
		{"case insensitive scheme", true, "bearer tok", http.StatusOK, "alice"},
		{"missing required", true, "", http.StatusUnauthorized, ""},
		{"missing optional", false, "", http.StatusOK, ""},
		{"malformed", false, "tok", http.StatusUnauthorized, ""},
		{"unknown token", false, "Bearer nope", http.StatusUnauthorized, ""},
		{"backend down", true, "Bearer broken", http.StatusServiceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			setupRouter(tt.required).ServeHTTP(rec, req)

			require.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

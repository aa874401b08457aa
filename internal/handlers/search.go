package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"chat-core/internal/middleware"
	"chat-core/internal/models"
	"chat-core/internal/protocol"
	"chat-core/internal/repositories"
)

// SearchHandler exposes the search command over HTTP.
type SearchHandler struct {
	users repositories.UserRepository
	chats repositories.ChatRepository
	limit int
}

// NewSearchHandler builds a SearchHandler.
func NewSearchHandler(users repositories.UserRepository, chats repositories.ChatRepository, limit int) *SearchHandler {
	return &SearchHandler{users: users, chats: chats, limit: limit}
}

// Search handles GET /api/search?query=...&chats=true.
func (h *SearchHandler) Search(c *gin.Context) {
	query := strings.ToLower(strings.TrimSpace(c.Query("query")))
	if n := utf8.RuneCountInString(query); n == 0 || n > protocol.MaxSearchLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query must be 1 to 32 characters"})
		return
	}
	includeChats, _ := strconv.ParseBool(c.Query("chats"))

	users, err := h.users.SearchUsers(c.Request.Context(), query, h.limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}
	if users == nil {
		users = []models.UserSummary{}
	}
	result := models.SearchResult{Users: users}

	if includeChats {
		chats, err := h.chats.SearchGroupChats(c.Request.Context(), middleware.Username(c), query, h.limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search chats"})
			return
		}
		if chats == nil {
			chats = []models.ChatSummary{}
		}
		result.Chats = chats
	}
	c.JSON(http.StatusOK, result)
}

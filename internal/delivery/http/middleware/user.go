package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDHeader = "X-User-ID"

	// UserIDKey is the gin context key holding the caller's user id.
	UserIDKey = "user_id"
)

// RequireUser reads the caller identity set by the upstream auth layer.
// Requests without it are rejected with 401.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(userIDHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing " + userIDHeader + " header",
			})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

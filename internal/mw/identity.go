package mw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "userID"

// WorkerTokenHeader carries the shared secret of out-of-process workers.
const WorkerTokenHeader = "X-Worker-Token"

// Identity reads the caller's user id from header, as resolved by the
// upstream gateway, and rejects requests without one.
func Identity(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(header))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing user identity"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the identity set by Identity, or "" if there is none.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// WorkerToken guards worker endpoints. An empty token disables them.
func WorkerToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		got := c.GetHeader(WorkerTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid worker token"})
			return
		}
		c.Next()
	}
}

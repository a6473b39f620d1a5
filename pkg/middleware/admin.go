package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminAuth gates a route group behind a single shared secret, compared
// in constant time against X-Admin-Password. There is no per-user
// identity to hash here (see spec.md §1's Non-goals), so bcrypt would add
// cost without adding security — a constant-time byte comparison is the
// right tool for a static shared secret.
func AdminAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Admin-Password")
		if provided == "" || secret == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing admin credentials"})
			c.Abort()
			return
		}
		c.Next()
	}
}

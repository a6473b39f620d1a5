package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is the response header carrying the per-request
// correlation id.
const RequestIDHeader = "X-Request-Id"

// RequestID stamps every request with a correlation id, reusing one
// supplied by the caller if present, and surfaces it in both the
// response header and the gin context (for logger.GinLogger and handlers
// to pick up).
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

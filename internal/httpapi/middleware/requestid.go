package middleware

import (
	"github.com/gin-gonic/gin"

	"chatgate/internal/common"
)

const RequestIDKey = "request_id"

// RequestID tags every request with a ULID, honoring an incoming
// X-Request-ID so upstream proxies can correlate.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			if v, err := common.NewULID(); err == nil {
				id = v
			}
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

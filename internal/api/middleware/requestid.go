package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/arclight-os/core/internal/shared/id"
)

// RequestIDKey is the context key carrying the request identifier.
const RequestIDKey = "request_id"

// RequestID assigns every request a ULID, honoring a client-provided
// X-Request-ID so traces can span callers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = id.NewRequestID().String()
		}
		c.Set(RequestIDKey, rid)
		c.Header("X-Request-ID", rid)
		c.Next()
	}
}

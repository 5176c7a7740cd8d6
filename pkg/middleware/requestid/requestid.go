package requestid

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderKey is the HTTP header carrying the request ID, inbound and outbound.
const HeaderKey = "X-Request-ID"

const contextKey = "request_id"

// Middleware tags every request with an ID: the caller's X-Request-ID when
// supplied, a fresh UUID otherwise. The ID is stored in the Gin context and
// echoed on the response so clients can correlate logs across services.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderKey)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKey, id)
		c.Writer.Header().Set(HeaderKey, id)
		c.Next()
	}
}

// Value returns the request ID for the current request, or "" when the
// middleware did not run.
func Value(c *gin.Context) string {
	v, ok := c.Get(contextKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

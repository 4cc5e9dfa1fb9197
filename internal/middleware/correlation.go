package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextCorrelationKey gin context key holding the request correlation id
const ContextCorrelationKey = "correlation_id"

// CorrelationHeader request/response header carrying the correlation id
const CorrelationHeader = "X-Correlation-Id"

// Correlation attaches a correlation id to every request. The caller's
// id is honored when present so client-side traces line up; otherwise a
// fresh one is generated. The id is echoed back on the response.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ContextCorrelationKey, id)
		c.Header(CorrelationHeader, id)
		c.Next()
	}
}

// CorrelationID returns the request's correlation id
func CorrelationID(c *gin.Context) string {
	if v, ok := c.Get(ContextCorrelationKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

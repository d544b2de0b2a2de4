package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/scope"
)

const HeaderRequestID = "X-Request-ID"

// RequestID tags the request context with the caller's X-Request-ID, or a fresh id, and echoes
// it in the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := scope.WithGivenRequestID(c.Request.Context(), c.GetHeader(HeaderRequestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, scope.RequestID(ctx))
		c.Next()
	}
}

// RequestTimeout bounds the context of every request. Streaming routes skip it.
func RequestTimeout(timeout time.Duration, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.FullPath()]; ok || timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// PathNormalizer maps a request to the path label used in metrics. The boolean reports whether
// the request is tracked at all.
type PathNormalizer func(c *gin.Context) (string, bool)

// RoutePath labels a request with its route template so ids never reach metric labels.
// Probes and the metrics endpoint are not tracked.
func RoutePath(c *gin.Context) (string, bool) {
	path := c.FullPath()
	if path == "" {
		return "unmatched", true
	}
	if path == "/metrics" || strings.HasPrefix(path, "/health") {
		return path, false
	}
	return path, true
}

// ActiveRequestsMiddleware tracks in-flight requests and request durations.
func ActiveRequestsMiddleware(monitoring common.CoordinatorMonitoring, normalize PathNormalizer, lggr logger.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, tracked := normalize(c)
		if !tracked {
			c.Next()
			return
		}

		metrics := monitoring.Metrics()
		ctx := c.Request.Context()
		metrics.IncrementActiveRequestsCounter(ctx)
		start := time.Now()

		c.Next()

		metrics.DecrementActiveRequestsCounter(ctx)
		duration := time.Since(start)
		metrics.RecordHTTPRequestDuration(ctx, duration, path, c.Request.Method, c.Writer.Status())
		lggr.Debugw("Request completed",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", duration.Milliseconds(),
		)
	}
}

package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

// SecureRecovery recovers from handler panics and answers with a generic error. The panic and
// stack are logged, never returned.
func SecureRecovery(lggr logger.SugaredLogger, monitoring common.CoordinatorMonitoring) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				lggr.Errorw("Panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
					"stack", string(debug.Stack()),
				)
				monitoring.Metrics().IncrementPanics(c.Request.Context())

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

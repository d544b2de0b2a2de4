package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/smartcontractkit/chainlink-ccv-coordinator/pkg/model"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

var DefaultRateLimit = limiter.Rate{
	Period: 1 * time.Second,
	Limit:  100,
}

// RateLimit limits requests per client IP. An unparsable rate falls back to DefaultRateLimit.
func RateLimit(lggr logger.SugaredLogger, cfg model.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		lggr.Warn("Rate limiting is not enabled")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rate := DefaultRateLimit
	if cfg.Rate != "" {
		parsed, err := limiter.NewRateFromFormatted(cfg.Rate)
		if err != nil {
			lggr.Errorw("Invalid rate limit, using default", "rate", cfg.Rate, "error", err)
		} else {
			rate = parsed
		}
	}

	lggr.Infow("Rate limiting enabled", "limit", rate.Limit, "period", rate.Period)
	return mgin.NewMiddleware(limiter.New(memory.NewStore(), rate))
}

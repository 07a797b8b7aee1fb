// Package ratelimit enforces per-IP request limits on the HTTP surface. The
// server is single-instance, so the limiter state lives in local memory.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/rhyline/rhyline-server/internal/v1/logging"
	"github.com/rhyline/rhyline-server/internal/v1/metrics"
)

// RateLimiter holds one limiter per route group, backed by a shared memory
// store.
type RateLimiter struct {
	public *limiter.Limiter
	admin  *limiter.Limiter
}

// New parses the configured rates (ulule formatted notation, e.g. "300-M")
// and builds the limiters.
func New(publicRate, adminRate string) (*RateLimiter, error) {
	pub, err := limiter.NewRateFromFormatted(publicRate)
	if err != nil {
		return nil, fmt.Errorf("invalid public rate: %w", err)
	}
	adm, err := limiter.NewRateFromFormatted(adminRate)
	if err != nil {
		return nil, fmt.Errorf("invalid admin rate: %w", err)
	}
	store := memory.NewStore()
	return &RateLimiter{
		public: limiter.New(store, pub),
		admin:  limiter.New(store, adm),
	}, nil
}

// Public limits the read-only endpoints.
func (rl *RateLimiter) Public() gin.HandlerFunc { return rl.middleware(rl.public, "public") }

// Admin limits the admin endpoints.
func (rl *RateLimiter) Admin() gin.HandlerFunc { return rl.middleware(rl.admin, "admin") }

func (rl *RateLimiter) middleware(lim *limiter.Limiter, group string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := lim.Get(ctx, group+":"+c.ClientIP())
		if err != nil {
			// Fail open: availability over strictness for a local store error.
			logging.Error(ctx, "rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitExceeded.WithLabelValues(group).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":    false,
				"error": "too-many-requests",
			})
			return
		}
		metrics.HTTPRequests.WithLabelValues(group).Inc()
		c.Next()
	}
}

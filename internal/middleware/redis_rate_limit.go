package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/hearth-social/backend/internal/errors"
	"github.com/hearth-social/backend/internal/logger"
	"github.com/hearth-social/backend/internal/util"
	"go.uber.org/zap"
)

// rateLimitTimeout bounds the counter round trip
const rateLimitTimeout = 2 * time.Second

// WindowCounter counts hits on key within a fixed window. *cache.RedisClient implements it.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimit allows maxRequests per window per caller: the authenticated user when
// known, else the client IP. Counters live in Redis so every instance shares them.
// When the counter is nil or unreachable requests go through.
func RateLimit(counter WindowCounter, name string, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if counter == nil {
			c.Next()
			return
		}

		caller := "ip:" + c.ClientIP()
		if userID, ok := c.Get(util.ContextUserID); ok {
			if s, ok := userID.(string); ok && s != "" {
				caller = "user:" + s
			}
		}
		key := fmt.Sprintf("rate_limit:%s:%s", name, caller)

		ctx, cancel := context.WithTimeout(c.Request.Context(), rateLimitTimeout)
		defer cancel()

		n, err := counter.IncrWindow(ctx, key, window)
		if err != nil {
			logger.Log.Warn("Rate limit counter unavailable, allowing request",
				zap.String("limiter", name),
				zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(maxRequests) - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if n > int64(maxRequests) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			logger.Log.Warn("Rate limit exceeded",
				zap.String("limiter", name),
				zap.String("caller", caller),
				zap.Int64("count", n))
			util.RespondWithAPIError(c, apperrors.RateLimited(fmt.Sprintf("Too many requests, retry in %s", window)))
			return
		}
		c.Next()
	}
}

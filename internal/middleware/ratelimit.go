package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/quorum/pkg/errors"
	"github.com/charlesng35/quorum/pkg/logger"
	"github.com/charlesng35/quorum/pkg/response"
)

const rateStoreTimeout = 250 * time.Millisecond

// RateLimit limits requests per (client IP, route). A failing store lets the
// request through so that a Redis outage does not take signing down.
func RateLimit(store RateStore, policy RatePolicy) gin.HandlerFunc {
	if store == nil || !policy.Enabled() {
		return func(c *gin.Context) { c.Next() }
	}
	log := logger.WithModule("ratelimit")
	limit := strconv.Itoa(policy.burst())
	retryAfter := strconv.Itoa(policy.refillSeconds())

	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		key := c.ClientIP() + "|" + route

		ctx, cancel := context.WithTimeout(c.Request.Context(), rateStoreTimeout)
		allowed, err := store.Allow(ctx, key)
		cancel()
		if err != nil {
			log.Warn("rate limit store unavailable", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", limit)
		if !allowed {
			c.Header("Retry-After", retryAfter)
			response.Abort(c, errors.ErrRateLimit)
			return
		}
		c.Next()
	}
}

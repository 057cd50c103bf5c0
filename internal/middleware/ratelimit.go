package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shinyyama/rental-backend/internal/handler"
	"github.com/shinyyama/rental-backend/internal/metrics"
	"go.uber.org/zap"
)

// RateLimiter is a per-user sliding window kept in a redis sorted set.
type RateLimiter struct {
	client   *redis.Client
	limit    int
	window   time.Duration
	endpoint string
	log      *zap.Logger
	now      func() time.Time
}

func NewRateLimiter(client *redis.Client, endpoint string, limit int, window time.Duration, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		client:   client,
		limit:    limit,
		window:   window,
		endpoint: endpoint,
		log:      log,
		now:      time.Now,
	}
}

// CheckAndIncrement records one hit for key and reports whether it fits in
// the window, how many hits remain and when the window frees up.
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string) (bool, int, time.Time, error) {
	now := rl.now()
	windowStart := now.Add(-rl.window)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, rl.window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, rl.limit, now.Add(rl.window), err
	}

	count := int(countCmd.Val())
	remaining := max(0, rl.limit-count-1)
	return count < rl.limit, remaining, now.Add(rl.window), nil
}

func (rl *RateLimiter) key(userID uint64) string {
	return fmt.Sprintf("ratelimit:%s:user:%d", rl.endpoint, userID)
}

// Middleware must run after RequireAuth. Redis failures let the request
// through.
func (rl *RateLimiter) Middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := c.Get(handler.UserIDKey).(uint64)
		if userID == 0 {
			return next(c)
		}
		allowed, remaining, resetAt, err := rl.CheckAndIncrement(c.Request().Context(), rl.key(userID))
		if err != nil {
			rl.log.Warn("rate limit check failed", zap.String("endpoint", rl.endpoint), zap.Error(err))
			return next(c)
		}

		h := c.Response().Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			metrics.RateLimitHits.WithLabelValues(rl.endpoint).Inc()
			rl.log.Warn("rate limit exceeded",
				zap.String("endpoint", rl.endpoint),
				zap.Uint64("user_id", userID),
			)
			h.Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			return c.JSON(http.StatusTooManyRequests, handler.NewErrorResponse("rate_limited", "too many messages, slow down"))
		}
		return next(c)
	}
}

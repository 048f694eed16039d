package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

const rateWindow = time.Minute

// RateLimiter is a fixed-window request counter kept in Redis, shared by
// every instance of the service.
type RateLimiter struct {
	redis *redis.Client
	limit int64
}

func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{redis: redisClient, limit: int64(perMinute)}
}

// Allow counts one request for identity and reports whether it is within
// the limit. The counter expires one window after its first hit; ExpireNX
// rides along on every hit so a key never outlives its window.
func (r *RateLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s", identity)

	var incr *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, rateWindow)
		return nil
	})
	if err != nil {
		return true, err
	}
	return incr.Val() <= r.limit, nil
}

// Middleware limits a route per authenticated record, or per client IP for
// anonymous calls. Redis failures let the request through.
func (r *RateLimiter) Middleware() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		allowed, err := r.Allow(e.Request.Context(), Identity(e))
		if err != nil {
			slog.Warn("Rate limiter unavailable", "error", err)
		}
		if !allowed {
			return apis.NewTooManyRequestsError("Too many requests. Please try again later.", nil)
		}
		return e.Next()
	}
}

// Identity is the rate-limit bucket for a request.
func Identity(e *core.RequestEvent) string {
	if e.Auth != nil {
		return "user:" + e.Auth.Id
	}
	return "ip:" + e.RealIP()
}

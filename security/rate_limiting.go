package security

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"raffle-system/monitoring"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis   redis.UniversalClient
	limit   int64
	window  time.Duration
	monitor *monitoring.Monitor
}

func NewRateLimiter(redisClient redis.UniversalClient, limit int, window time.Duration, monitor *monitoring.Monitor) *RateLimiter {
	if limit <= 0 {
		limit = 120
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redis:   redisClient,
		limit:   int64(limit),
		window:  window,
		monitor: monitor,
	}
}

// AntiBot rejects crawler user agents and clients that exceed the per-IP
// request budget of the current window.
func (r *RateLimiter) AntiBot() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			r.monitor.TrackRejection("user_agent")
			return e.JSON(http.StatusForbidden, map[string]string{
				"error": "Access denied",
			})
		}

		if !r.allow(e.Request.Context(), e.RealIP()) {
			r.monitor.TrackRejection("rate_limit")
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many requests",
			})
		}

		return e.Next()
	}
}

// allow counts one request for ip. Redis failures let the request through.
func (r *RateLimiter) allow(ctx context.Context, ip string) bool {
	key := fmt.Sprintf("antibot:%s", ip)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		slog.Warn("anti-bot counter unavailable", "ip", ip, "error", err)
		return true
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, key, r.window).Err(); err != nil {
			slog.Warn("anti-bot counter expiry not set", "ip", ip, "error", err)
		}
	}
	return count <= r.limit
}

func isSuspiciousUserAgent(ua string) bool {
	ua = strings.ToLower(ua)
	for _, pattern := range []string{"bot", "crawler", "spider", "scraper"} {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}

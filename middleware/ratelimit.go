package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"luma-backend/internal/config"
	"luma-backend/internal/logger"
	"luma-backend/utils"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const localLimiterEntries = 10000

// RateLimiter enforces a fixed window per client IP and route. Counters live
// in Redis so every API replica shares them; when Redis is absent or failing
// an in-process token bucket per key takes over.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration

	mu    sync.Mutex
	local *lru.Cache[string, *rate.Limiter]
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	local, _ := lru.New[string, *rate.Limiter](localLimiterEntries)
	return &RateLimiter{rdb: rdb, limit: limit, window: window, local: local}
}

func RateLimiterFrom(rdb *redis.Client, cfg *config.Config) *RateLimiter {
	return NewRateLimiter(rdb, cfg.RateLimitReqs, time.Duration(cfg.RateLimitWindow)*time.Second)
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.FullPath() == "/health" || c.FullPath() == "/ready" {
			c.Next()
			return
		}

		key := "ratelimit:" + c.ClientIP() + ":" + c.FullPath()
		allowed, remaining := r.allow(c, key)

		c.Header("X-RateLimit-Limit", strconv.Itoa(r.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			retryAfter := int(r.window.Seconds())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(r.window).Unix(), 10))
			utils.RespondWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": retryAfter,
					"limit":       r.limit,
				})
			return
		}
		c.Next()
	}
}

func (r *RateLimiter) allow(c *gin.Context, key string) (bool, int) {
	if r.rdb != nil {
		ctx := c.Request.Context()
		count, err := r.rdb.Incr(ctx, key).Result()
		if err == nil {
			if count == 1 {
				r.rdb.Expire(ctx, key, r.window)
			}
			return count <= int64(r.limit), max(r.limit-int(count), 0)
		}
		logger.Warn("Rate limit store unavailable, using local limiter", "error", err)
	}
	return r.allowLocal(key)
}

func (r *RateLimiter) allowLocal(key string) (bool, int) {
	r.mu.Lock()
	limiter, ok := r.local.Get(key)
	if !ok {
		every := rate.Every(r.window / time.Duration(r.limit))
		limiter = rate.NewLimiter(every, r.limit)
		r.local.Add(key, limiter)
	}
	r.mu.Unlock()

	if !limiter.Allow() {
		return false, 0
	}
	return true, max(int(limiter.Tokens()), 0)
}

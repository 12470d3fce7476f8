package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AttemptLimiter allows at most limit attempts per key within a sliding interval.
type AttemptLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewAttemptLimiter(limit int, interval time.Duration) *AttemptLimiter {
	return &AttemptLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *AttemptLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}
	rl.history[key] = append(fresh, now)
	return true
}

// LimitAttempts rejects requests from an operator that exceeded the limiter.
// Runs after ClientTokenMiddleware.
func LimitAttempts(rl *AttemptLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString("client_token")
		if !rl.Allow(key) {
			log.Warn().Str("module", "adapters.http").Str("sid", key).Str("path", c.FullPath()).Msg("too many attempts")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
			return
		}
		c.Next()
	}
}

package httpapi

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// destructiveActionRate/Burst are the fallback limiter settings for
// destructive-action endpoints (process kill) when config.HTTPConfig
// leaves its DestructiveRatePerSec/DestructiveBurst fields at zero.
const (
	destructiveActionRate  = 2 // per second
	destructiveActionBurst = 4
)

// perClientLimiter rate-limits by client IP, evicting nothing — the
// set of distinct callers hitting a single host-resident agent is
// small enough that an unbounded map is not a concern in practice.
type perClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newPerClientLimiter(r rate.Limit, burst int) *perClientLimiter {
	return &perClientLimiter{limiters: make(map[string]*rate.Limiter), r: r, burst: burst}
}

func (p *perClientLimiter) allow(key string) bool {
	p.mu.Lock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.r, p.burst)
		p.limiters[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

// rateLimitMiddleware returns 429 once a client exceeds the
// destructive-action rate, per §7's client-misuse taxonomy.
func rateLimitMiddleware(limiter *perClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			tooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

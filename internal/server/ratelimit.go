package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultSubmitRatePerMinute = 10
	defaultSubmitBurst         = 3
	visitorIdleTTL             = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles requests per client IP.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	clockNow  func() time.Time
	lastSweep time.Time
}

func newRateLimiter(requestsPerMinute float64, burst int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultSubmitRatePerMinute
	}
	if burst <= 0 {
		burst = defaultSubmitBurst
	}
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(requestsPerMinute / 60.0),
		burst:    burst,
		clockNow: time.Now,
	}
}

func (r *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorPayload{
				Error:     "rate_limited",
				Message:   "Too many submissions. Please wait a moment and try again.",
				Retryable: true,
			})
			return
		}
		c.Next()
	}
}

func (r *rateLimiter) allow(clientID string) bool {
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastSweep) > visitorIdleTTL {
		for id, entry := range r.visitors {
			if now.Sub(entry.lastSeen) > visitorIdleTTL {
				delete(r.visitors, id)
			}
		}
		r.lastSweep = now
	}

	entry, ok := r.visitors[clientID]
	if !ok {
		entry = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[clientID] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nlpgrid/nlp-service/config"
)

// clientLimiters tracks one token bucket per client IP
type clientLimiters struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rps      float64
	burst    int
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (cl *clientLimiters) get(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	limiter, exists := cl.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(cl.rps), cl.burst)
		cl.limiters[ip] = limiter
	}
	return limiter
}

// reset drops every tracked limiter to bound memory growth
func (cl *clientLimiters) reset() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.limiters = make(map[string]*rate.Limiter)
}

// RateLimitMiddleware applies per-client-IP rate limiting. A no-op when
// rate limiting is disabled in configuration.
func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limiters := newClientLimiters(cfg.RequestsPerSecond, cfg.BurstSize)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			limiters.reset()
		}
	}()

	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

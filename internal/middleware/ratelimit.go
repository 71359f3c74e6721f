// Package middleware holds gin middleware shared across the admission
// API: a per-client token-bucket rate limiter, adapted from the
// project's general-purpose bucket/limiter pair to gate job submission.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pronouncex/ttsjobs/internal/apperr"
)

// tokenBucket is a classic leaky bucket: capacity tokens refill at
// refillPerSec, each request consumes one.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(capacity, refillPerSec float64) *tokenBucket {
	return &tokenBucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, lastRefill: time.Now()}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter hands out one token bucket per client key (by default the
// remote IP), evicting idle buckets lazily is skipped here since the
// admission surface is small and long-lived per deployment.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	capacity float64
	refill   float64
}

func NewRateLimiter(capacity, refillPerSec float64) *RateLimiter {
	return &RateLimiter{buckets: map[string]*tokenBucket{}, capacity: capacity, refill: refillPerSec}
}

func (r *RateLimiter) bucketFor(key string) *tokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = newTokenBucket(r.capacity, r.refill)
		r.buckets[key] = b
	}
	return b
}

// Middleware rejects requests over the per-client rate with
// admission.rate_limited once the client's bucket runs dry.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if !r.bucketFor(key).allow() {
			err := apperr.New(apperr.CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": err.Code, "msg": err.Msg})
			return
		}
		c.Next()
	}
}

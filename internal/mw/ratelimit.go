package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// ClientRateLimiter stores a rate limiter per client key. Limiters of
// clients that go quiet expire after idle.
type ClientRateLimiter struct {
	clients *cache.Cache
	mu      sync.Mutex
	r       rate.Limit
	b       int
	idle    time.Duration
}

// NewClientRateLimiter creates a new ClientRateLimiter.
func NewClientRateLimiter(r rate.Limit, b int, idle time.Duration) *ClientRateLimiter {
	return &ClientRateLimiter{
		clients: cache.New(idle, 2*idle),
		r:       r,
		b:       b,
		idle:    idle,
	}
}

// GetLimiter returns the rate limiter for a client, creating it on first use.
func (l *ClientRateLimiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if found, ok := l.clients.Get(key); ok {
		limiter := found.(*rate.Limiter)
		// Touch so an active client never expires.
		l.clients.Set(key, limiter, l.idle)
		return limiter
	}
	limiter := rate.NewLimiter(l.r, l.b)
	l.clients.Set(key, limiter, l.idle)
	return limiter
}

// RateLimiter is a middleware for per-client rate limiting. Identified
// callers are limited by user id, everyone else by IP.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := NewClientRateLimiter(r, b, 10*time.Minute)
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID := UserID(c); userID != "" {
			key = "user:" + userID
		}
		if !limiter.GetLimiter(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

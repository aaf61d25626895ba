package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const clientTTL = 10 * time.Minute

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one limiter per client IP and forgets clients not
// seen for clientTTL.
type limiterSet struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time
}

func newLimiterSet(cfg RateLimitConfig) *limiterSet {
	return &limiterSet{
		cfg:     cfg,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (s *limiterSet) get(ip string) *rate.Limiter {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > clientTTL {
		for key, c := range s.clients {
			if now.Sub(c.lastSeen) > clientTTL {
				delete(s.clients, key)
			}
		}
		s.lastSweep = now
	}

	c, ok := s.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)}
		s.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// RateLimit creates a per-IP rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	return rateLimit(newLimiterSet(cfg))
}

func rateLimit(set *limiterSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !set.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

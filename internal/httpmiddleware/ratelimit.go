// Package httpmiddleware holds the gin middleware shared by every route.
package httpmiddleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"volunteerportal/internal/logging"
)

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// IPRateLimiter is a per-client-IP token bucket limiter.
type IPRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
	stopCh  chan struct{}
}

// NewIPRateLimiter allows perMinute requests per IP with bursts up to
// perMinute. Idle clients are forgotten after ten minutes.
func NewIPRateLimiter(perMinute int) *IPRateLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	l := &IPRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
		idleTTL: 10 * time.Minute,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go l.cleanupLoop(time.Minute)
	return l
}

// Stop ends the background cleanup.
func (l *IPRateLimiter) Stop() {
	close(l.stopCh)
}

// GinMiddleware returns gin handler enforcing per-IP limits.
func (l *IPRateLimiter) GinMiddleware() gin.HandlerFunc {
	log := logging.With("ratelimit")
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			retry := int(math.Ceil(1 / float64(l.limit)))
			c.Header("Retry-After", strconv.Itoa(retry))
			log.Warn().Str("ip", ip).Str("path", c.FullPath()).Msg("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *IPRateLimiter) allow(key string) bool {
	l.mu.Lock()
	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = cl
	}
	now := l.now()
	cl.lastAccess = now
	l.mu.Unlock()
	return cl.limiter.AllowN(now, 1)
}

func (l *IPRateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *IPRateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idleTTL)
	for key, cl := range l.clients {
		if cl.lastAccess.Before(cutoff) {
			delete(l.clients, key)
		}
	}
}

// clientCount is the number of tracked clients.
func (l *IPRateLimiter) clientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

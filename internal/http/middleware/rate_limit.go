package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"
)

const rateLimitClients = 4096

// RateLimit smooths API traffic per client IP: perMinute requests refill
// evenly and up to perMinute may burst. Zero or less disables it.
func RateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	limit := rate.Every(time.Minute / time.Duration(perMinute))
	// Bounded so a scan of many addresses cannot grow memory without limit.
	limiters, _ := lru.New(rateLimitClients)

	return func(c *gin.Context) {
		key := c.ClientIP()
		var limiter *rate.Limiter
		if v, ok := limiters.Get(key); ok {
			limiter = v.(*rate.Limiter)
		} else {
			limiter = rate.NewLimiter(limit, perMinute)
			if prev, found, _ := limiters.PeekOrAdd(key, limiter); found {
				limiter = prev.(*rate.Limiter)
			}
		}

		r := limiter.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(delay.Round(time.Second).Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}

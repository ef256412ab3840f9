package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware rejects requests over the limit with 429. Each client address gets its own
// counter per route.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		result, errAllow := m.Allow(c.Request.Context(), KeyForClient(c.ClientIP(), c.FullPath()))
		if errAllow != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			wait := int(math.Ceil(time.Until(result.Reset).Seconds()))
			if wait < 1 {
				wait = 1
			}
			c.Header("Retry-After", strconv.Itoa(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

package ratelimit

import (
	"fmt"
	"strings"
)

// KeyForClient builds a limiter key for a client address on a route.
func KeyForClient(clientIP, route string) string {
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		return ""
	}
	return fmt.Sprintf("front:%s:%s", strings.TrimSpace(route), clientIP)
}

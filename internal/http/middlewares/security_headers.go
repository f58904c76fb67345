package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SecurityHeaders sets the API's response hardening headers. Mutating
// responses are never cacheable; HSTS is only sent outside dev.
func SecurityHeaders(dev bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if !dev {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			h.Set("Cache-Control", "no-store")
		}
		c.Next()
	}
}

package security

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AccessLogMiddleware logs each HTTP request with method, path, status, and duration.
// Paths listed in skipPaths are silently passed through without logging.
func AccessLogMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", duration,
			"clientIP", c.ClientIP(),
			"userAgent", c.Request.UserAgent(),
		)
	}
}

// AdminAuditMiddleware logs every admin API call with the target user and outcome.
func AdminAuditMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !strings.HasPrefix(c.Request.URL.Path, AdminPathPrefix) {
			return
		}
		log.Info("Admin audit",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"targetUser", c.Param("userId"),
			"status", c.Writer.Status(),
			"clientIP", c.ClientIP(),
		)
	}
}

package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

// AdminPathPrefix is the route prefix guarded by AdminTokenMiddleware.
const AdminPathPrefix = "/v1/admin"

// AdminTokenMiddleware requires "Authorization: Bearer <token>" to match the
// configured admin token. An empty token leaves the routes open, which is
// only appropriate when the listener is not reachable from outside.
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(token))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		presented := strings.TrimPrefix(auth, "Bearer ")
		if presented == auth {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header; expected Bearer token"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			log.Info("Auth rejected: invalid admin token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

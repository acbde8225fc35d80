package middlewares

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/mrv_backend/utils"
)

// RequireUser rejects anonymous requests. Must run after SessionMiddleware.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// InternalKeyMiddleware guards settlement callbacks with INTERNAL_API_KEY.
func InternalKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		want := os.Getenv("INTERNAL_API_KEY")
		got := c.Request.Header.Get("X-Internal-Key")
		if want == "" || subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

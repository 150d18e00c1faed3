// Package middleware holds the gin middleware shared by the API server.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// KeyProvider returns the currently configured shared secret; empty disables
// the gate. Indirected through a function so configuration reloads take
// effect without rebuilding the router.
type KeyProvider func() string

// Auth enforces the optional shared-secret gate. The key may arrive as
// "Authorization: Bearer <key>" or "x-api-key: <key>".
func Auth(key KeyProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := key()
		if expected == "" {
			c.Next()
			return
		}
		supplied := c.GetHeader("x-api-key")
		if supplied == "" {
			header := c.GetHeader("Authorization")
			if strings.HasPrefix(header, "Bearer ") {
				supplied = strings.TrimPrefix(header, "Bearer ")
			}
		}
		if supplied != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "Invalid API Key"},
			})
			return
		}
		c.Next()
	}
}

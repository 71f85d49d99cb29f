package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"panelbridge/internal/middleware/auth"
	"panelbridge/internal/microservices/http-api/service"
)

const (
	ContextAdminUser = "adminUser"
	ContextPanel     = "panel"
)

// AdminBasicAuth protects operator routes with HTTP basic auth checked
// against a bcrypt hash
func AdminBasicAuth(user, passwordHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		gotUser, gotPass, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="panelbridge"`)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			c.Abort()
			return
		}
		if !auth.CheckAdmin(user, passwordHash, gotUser, gotPass) {
			slog.Warn("admin_auth_failed", "user", gotUser, "remote_addr", c.ClientIP())
			c.Header("WWW-Authenticate", `Basic realm="panelbridge"`)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			c.Abort()
			return
		}
		c.Set(ContextAdminUser, gotUser)
		c.Next()
	}
}

// PanelAuth requires a bearer panel token on REST routes when tokens are on
func PanelAuth(tokens service.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextPanel, claims.Panel)
		c.Next()
	}
}

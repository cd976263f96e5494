package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"fairroll-backend/internal/services"
)

// AuthMiddleware accepts a bearer token, or a token query parameter for
// clients that cannot set headers on a websocket upgrade.
func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(c, "Invalid authorization format")
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
			if tokenString == "" {
				unauthorized(c, "Authorization header required")
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("session_id", claims.SessionID)

		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": msg,
		"kind":  "unauthorized",
		"class": "fix_input",
	})
}

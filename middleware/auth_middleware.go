package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/api/logger"
	"storefront/api/utils"
)

const (
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"

	tokenCookie = "jwt_token"
)

// AuthRequired rejects requests without a valid token.
func AuthRequired(secret []byte, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			logger.FromContext(c, log).Debug("AuthRequired: no JWT token found in cookie or header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}
		claims, err := utils.ValidateJWT(tokenString, secret)
		if err != nil {
			logger.FromContext(c, log).Warn("AuthRequired: invalid JWT token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalAuth attaches the caller identity when a valid token is present and
// lets anonymous requests through unchanged. An invalid token is treated as
// anonymous.
func OptionalAuth(secret []byte, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" || len(secret) == 0 {
			c.Next()
			return
		}
		claims, err := utils.ValidateJWT(tokenString, secret)
		if err != nil {
			logger.FromContext(c, log).Debug("OptionalAuth: ignoring invalid token", zap.Error(err))
			c.Next()
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// UserID returns the authenticated user id set by one of the auth middlewares.
func UserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	return id, id != ""
}

func setIdentity(c *gin.Context, claims *utils.Claims) {
	c.Set(UserIDKey, claims.Identity())
	c.Set(UserEmailKey, claims.Email)
}

func extractToken(c *gin.Context) string {
	if tokenString, err := c.Cookie(tokenCookie); err == nil && tokenString != "" {
		return tokenString
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return ""
}

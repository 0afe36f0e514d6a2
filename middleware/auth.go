package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/payment-engine/common/auth"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
)

const (
	UserKey = "userID"
	RoleKey = "role"

	RoleAdmin = "admin"

	APIKeyHeader = "X-API-Key"
)

// AuthMiddleware resolves the caller from a bearer token when a JWT secret is
// configured, else from the identity headers set by the API gateway.
func AuthMiddleware(tokens *auth.TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, role := c.GetHeader("X-User-ID"), c.GetHeader("X-User-Role")

		if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && tokens.Enabled() {
			claims, err := tokens.ParseAndValidateToken(strings.TrimSpace(bearer), "access")
			if err != nil {
				c.Error(apperrors.Unauthorized("INVALID_TOKEN", err.Error()))
				c.Abort()
				return
			}
			userID, role = auth.Subject(claims)
		}

		if userID == "" {
			c.Error(apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Set(UserKey, userID)
		c.Set(RoleKey, role)
		c.Next()
	}
}

// AdminOnly restricts a group to callers with the admin role.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != RoleAdmin {
			c.Error(apperrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// APIKeyAuth guards machine-to-machine endpoints with a static key.
func APIKeyAuth(key string) gin.HandlerFunc {
	expected := []byte(key)
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if got == "" {
			got, _ = strings.CutPrefix(c.GetHeader("Authorization"), "Apikey ")
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.Error(apperrors.Unauthorized("INVALID_API_KEY", "invalid api key"))
			c.Abort()
			return
		}
		c.Set(UserKey, "external-system")
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(UserKey)
}

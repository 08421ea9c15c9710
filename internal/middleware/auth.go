package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/auth"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

const claimsContextKey = "corral:claims"

// RequireAuth verifies the bearer access token and attaches its claims to the
// request context. Refresh tokens are rejected here.
func RequireAuth(tokens *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, apperrors.ErrUnauthorized.WithMessage("Authorization header must be a bearer token"))
			c.Abort()
			return
		}

		claims, err := tokens.VerifyAccessToken(parts[1])
		if err != nil {
			response.Error(c, apperrors.ErrUnauthorized.WithInternal(err))
			c.Abort()
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// RequireAdmin aborts requests whose claims lack the admin flag. Must run
// after RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			response.Error(c, apperrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !claims.Admin {
			response.Error(c, apperrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetClaims returns the verified claims attached by RequireAuth.
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(claimsContextKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/corralhq/corral/internal/auth"
	apperrors "github.com/corralhq/corral/pkg/errors"
	"github.com/corralhq/corral/pkg/response"
)

const fencingContextKey = "corral:fencing"

// ParseFencing extracts the optional fencing guard header. A malformed header
// is rejected immediately; an absent header leaves the request unguarded.
func ParseFencing() gin.HandlerFunc {
	return func(c *gin.Context) {
		guard, err := auth.ParseFencingHeader(c.GetHeader(auth.FencingHeader))
		if err != nil {
			response.Error(c, apperrors.NewBadRequest(err.Error()))
			c.Abort()
			return
		}
		if guard != nil {
			c.Set(fencingContextKey, guard)
		}
		c.Next()
	}
}

// GetFencingGuard returns the parsed guard, or nil when the request carried
// no fencing header.
func GetFencingGuard(c *gin.Context) *auth.FencingGuard {
	value, exists := c.Get(fencingContextKey)
	if !exists {
		return nil
	}
	guard, _ := value.(*auth.FencingGuard)
	return guard
}

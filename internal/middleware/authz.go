package middleware

import (
	"github.com/gin-gonic/gin"

	"shopflow/internal/apperr"
)

// RequireRoles ставится после Auth.
func RequireRoles(allowed ...string) gin.HandlerFunc {
	allowedSet := map[string]struct{}{}
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}
	return func(c *gin.Context) {
		v, exists := c.Get(ctxRole)
		if !exists {
			AbortWithError(c, apperr.New(apperr.KindUnauthorized, "authentication required"))
			return
		}
		role, _ := v.(string)
		if _, ok := allowedSet[role]; !ok {
			AbortWithError(c, apperr.New(apperr.KindForbidden, "insufficient role"))
			return
		}
		c.Next()
	}
}

package middleware

import (
	"net/http"

	"hospital/models"
	"hospital/utils"

	"github.com/gin-gonic/gin"
)

// RequireRoles only lets callers holding one of roles through. It must run after
// JWTAuthMiddleware.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !CallerFrom(c).HasRole(roles...) {
			utils.JSONError(c, http.StatusForbidden, "forbidden", "Your role may not perform this action", "")
			return
		}
		c.Next()
	}
}

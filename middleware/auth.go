// middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"hospital/models"
	"hospital/utils"

	"github.com/gin-gonic/gin"
)

// Context keys set by JWTAuthMiddleware.
const (
	CtxUserID = "userID"
	CtxRole   = "role"
)

// JWTAuthMiddleware trusts the identity service's bearer token and exposes the
// caller id and role to handlers.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.JSONError(c, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header", "")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		caller, err := utils.CallerFromToken(tokenString)
		if err != nil {
			utils.JSONError(c, http.StatusUnauthorized, "unauthorized", "Invalid token", err.Error())
			return
		}

		c.Set(CtxUserID, caller.UserID)
		c.Set(CtxRole, string(caller.Role))
		c.Next()
	}
}

// CallerFrom returns the identity placed in the context by JWTAuthMiddleware.
func CallerFrom(c *gin.Context) models.Caller {
	return models.Caller{
		UserID: c.GetString(CtxUserID),
		Role:   models.Role(c.GetString(CtxRole)),
	}
}

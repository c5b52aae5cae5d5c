package handlers

import (
	"hospital/middleware"
	"hospital/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// getLogger returns the logger installed by middleware.RequestLogger. Routes
// mounted without it log through the global logger tagged with the route.
func getLogger(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(middleware.CtxLogger); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return utils.GetLogger().With(zap.String("route", c.FullPath()))
}

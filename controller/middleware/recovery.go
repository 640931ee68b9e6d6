package middleware

import (
	"runtime/debug"

	"starmus-recorder/controller/respond"
	"starmus-recorder/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a generic 500 and logs the stack once
func Recovery(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				respond.ServerError(c, "internal server error")
			}
		}()
		c.Next()
	}
}

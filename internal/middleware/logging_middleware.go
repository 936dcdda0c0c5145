// internal/middleware/logging_middleware.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"keyboard-service/internal/utils"
)

func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.With(zap.String("component", "http"))

	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		utils.LogAPIRequest(logger,
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.GetString(RequestIDKey),
			c.Writer.Status(),
			time.Since(startTime),
		)
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = "request_id"

// RequestID returns the id assigned to this request by the logging
// middleware, or an empty string when the middleware is not installed.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger assigns every request a short id and logs method, path, status
// and latency when the handler chain finishes. The id is available to
// handlers via RequestID and travels with background jobs they schedule.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()[:6]
		c.Set(requestIDKey, id)
		start := time.Now()

		c.Next()

		logger.Info("request",
			zap.String(requestIDKey, id),
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

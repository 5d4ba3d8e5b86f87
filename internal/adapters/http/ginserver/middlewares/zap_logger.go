// Package middlewares holds gin middlewares shared by the exporter's router.
package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger logs one line per request. Successful scrapes go to debug so a
// 15s scrape interval does not flood the log.
func ZapLogger(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		uri := c.Request.RequestURI

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		size := max(c.Writer.Size(), 0)

		level := zapcore.InfoLevel
		switch {
		case status >= 500:
			level = zapcore.ErrorLevel
		case status < 400 && c.FullPath() == "/metrics":
			level = zapcore.DebugLevel
		}

		if ce := l.Check(level, "http_request"); ce != nil {
			ce.Write(
				zap.String("method", method),
				zap.String("uri", uri),
				zap.Int("status", status),
				zap.Int("size", size),
				zap.Duration("duration", latency),
				zap.String("remote", c.ClientIP()),
			)
		}
	}
}

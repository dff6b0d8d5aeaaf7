package httpmw

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"go.uber.org/zap"
)

// RequestLogger emits one structured line per HTTP request. Server-side
// failures log at error level so they surface without debug logging
// enabled; everything else stays at debug.
func RequestLogger(log *logger.Logger, serverName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		c.Next()

		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.String("server", serverName),
			zap.String("method", c.Request.Method),
			zap.String("path", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int("bytes", size),
		}
		if status >= http.StatusInternalServerError {
			log.Error("http", fields...)
			return
		}
		log.Debug("http", fields...)
	}
}

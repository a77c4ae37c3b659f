package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/seatrack-dev/seatrack/internal/logger"
)

// StructuredLogger logs one structured line per request: request ID,
// method, path, status, duration, client IP. 2xx logs at info, 4xx at
// warn, 5xx at error. The health endpoint is skipped to keep proxy
// checks out of the logs.
func StructuredLogger() gin.HandlerFunc {
	log := logger.HTTP()
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		evt := eventForStatus(log, status)
		evt.Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP())
		if len(c.Errors) > 0 {
			evt.Str("errors", c.Errors.String())
		}
		evt.Msg("request")
	}
}

func eventForStatus(log *zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	default:
		return log.Info()
	}
}

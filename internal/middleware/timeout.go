package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestTimeout is the full budget for one HTTP request, body read
// included.
const RequestTimeout = 10 * time.Second

// Timeout enforces RequestTimeout on every request except WebSocket
// upgrades (the live feed holds its connection open for hours). A request
// that overruns gets 408 and its context is cancelled so handlers abort.
func Timeout() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/live") {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		go func() {
			defer func() {
				// gin's Recovery sits outside this goroutine, so a
				// panicking handler must be caught here.
				if r := recover(); r != nil {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"error": "io-error", "msg": "internal error",
					})
				}
				close(done)
			}()
			c.Next()
		}()

		select {
		case <-done:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{
					"error": "timeout",
					"msg":   "request took too long",
				})
			}
			<-done
		}
	}
}

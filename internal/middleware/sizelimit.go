package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Request size limits per route class.
const (
	// MaxTrackerBodySize matches the packet bound: one position report
	// never exceeds 64 KiB.
	MaxTrackerBodySize int64 = 64 * 1024

	// MaxAdminBodySize bounds course documents and event definitions.
	MaxAdminBodySize int64 = 256 * 1024
)

// RequestSizeLimiter rejects oversized bodies up front and wraps the rest
// with MaxBytesReader so a lying Content-Length cannot smuggle more.
func RequestSizeLimiter(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "payload_too_large",
				"msg":   "request body exceeds maximum allowed size",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// TrackerSizeLimiter limits tracker/OwnTracks ingest bodies.
func TrackerSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(MaxTrackerBodySize)
}

// AdminSizeLimiter limits admin and manager bodies.
func AdminSizeLimiter() gin.HandlerFunc {
	return RequestSizeLimiter(MaxAdminBodySize)
}

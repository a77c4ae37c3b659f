// Package handlers implements the SeaTrack HTTP API.
//
// This file contains the tracker ingest handler: the HTTP twin of the
// UDP datagram path. The body is one JSON position packet; the response
// body is the same ACK JSON a UDP client would receive, so mobile apps
// parse both transports uniformly. Auth failures ride a 200 ACK; only
// rate limiting, malformed input, and oversized payloads surface as
// non-200 statuses.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/ingest"
)

// TrackerHandler handles POST /api/tracker and its /api/position alias.
type TrackerHandler struct {
	disp *ingest.Dispatcher
}

// NewTrackerHandler creates a new tracker ingest handler.
func NewTrackerHandler(disp *ingest.Dispatcher) *TrackerHandler {
	return &TrackerHandler{disp: disp}
}

// RegisterRoutes registers tracker ingest routes.
func (h *TrackerHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/tracker", h.PostPacket)
	router.POST("/position", h.PostPacket)
}

// PostPacket feeds one packet through the shared ingest pipeline.
func (h *TrackerHandler) PostPacket(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// MaxBytesReader tripped: the body exceeded the packet bound.
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "payload_too_large", "msg": "packet too large",
		})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "malformed", "msg": "no packet",
		})
		return
	}

	res, err := h.disp.ProcessSync(c.Request.Context(), raw, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "io-error", "msg": "server busy",
		})
		return
	}

	if res.Ack == nil {
		c.JSON(res.Status, gin.H{"error": "malformed"})
		return
	}
	c.JSON(res.Status, res.Ack)
}

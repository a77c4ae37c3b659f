package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/live"
	"github.com/seatrack-dev/seatrack/internal/registry"
)

// LiveHandler upgrades map viewers onto the live position feed.
type LiveHandler struct {
	reg *registry.Registry
	hub *live.Hub
}

// NewLiveHandler creates a new live-feed handler.
func NewLiveHandler(reg *registry.Registry, hub *live.Hub) *LiveHandler {
	return &LiveHandler{reg: reg, hub: hub}
}

// RegisterRoutes registers the live feed route.
func (h *LiveHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/live", h.Connect)
}

// Connect upgrades the request and streams positions for ?eid=N.
// Archived events still serve the feed: reads stay allowed.
func (h *LiveHandler) Connect(c *gin.Context) {
	eid, ok := queryEID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid eid"})
		return
	}
	if _, exists := h.reg.Lookup(eid); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_event", "msg": "no such event"})
		return
	}
	h.hub.HandleViewer(c.Writer, c.Request, eid)
}

package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/course"
	"github.com/seatrack-dev/seatrack/internal/registry"
)

// PublicHandler serves the unauthenticated surface: event listing, course
// documents, and the health endpoint.
type PublicHandler struct {
	reg     *registry.Registry
	courses *course.Store
	started time.Time
}

// NewPublicHandler creates a new public handler.
func NewPublicHandler(reg *registry.Registry, courses *course.Store) *PublicHandler {
	return &PublicHandler{reg: reg, courses: courses, started: time.Now()}
}

// RegisterRoutes registers public routes.
func (h *PublicHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.ListEvents)
	router.GET("/course", h.GetCourse)
	router.GET("/health", h.Health)
}

// eventSummary is the public view of one event.
type eventSummary struct {
	EID           int    `json:"eid"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	AssistEnabled bool   `json:"assist_enabled"`
}

// ListEvents returns every non-archived event.
func (h *PublicHandler) ListEvents(c *gin.Context) {
	out := make([]eventSummary, 0)
	for _, ev := range h.reg.List() {
		if ev.Archived {
			continue
		}
		out = append(out, eventSummary{
			EID:           ev.EID,
			Name:          ev.Name,
			Description:   ev.Description,
			AssistEnabled: ev.AssistEnabled,
		})
	}
	c.JSON(http.StatusOK, out)
}

// GetCourse serves the course document for ?eid=N. Archived events still
// serve reads.
func (h *PublicHandler) GetCourse(c *gin.Context) {
	eid, ok := queryEID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid eid"})
		return
	}
	if _, exists := h.reg.Lookup(eid); !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_event", "msg": "no such event"})
		return
	}

	doc, exists := h.courses.Get(eid)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "msg": "no course set"})
		return
	}
	c.Data(http.StatusOK, "application/json", doc)
}

// Health answers the reverse proxy's liveness checks.
func (h *PublicHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"events":   len(h.reg.List()),
		"uptime_s": int64(time.Since(h.started).Seconds()),
	})
}

// queryEID reads ?eid=N, defaulting to 0 (the single-event id) when
// absent.
func queryEID(c *gin.Context) (int, bool) {
	raw := c.Query("eid")
	if raw == "" {
		return 0, true
	}
	eid, err := strconv.Atoi(raw)
	if err != nil || eid < 0 {
		return 0, false
	}
	return eid, true
}

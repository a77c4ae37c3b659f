package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/middleware"
	"github.com/seatrack-dev/seatrack/internal/registry"
	"github.com/seatrack-dev/seatrack/internal/validate"
)

// ManagerHandler implements event lifecycle: create, update, archive,
// delete, and the full (archived included) listing. All routes run
// behind the X-Manager-Password middleware.
type ManagerHandler struct {
	reg *registry.Registry
}

// NewManagerHandler creates a new manager handler.
func NewManagerHandler(reg *registry.Registry) *ManagerHandler {
	return &ManagerHandler{reg: reg}
}

// RegisterRoutes registers manager routes behind the manager middleware.
func (h *ManagerHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	mgr := router.Group("/manager", auth.RequireManager())
	{
		mgr.GET("/events", h.ListEvents)
		mgr.POST("/events", h.CreateEvent)
		mgr.PUT("/events/:eid", h.UpdateEvent)
		mgr.DELETE("/events/:eid", h.DeleteEvent)
	}
}

// managerEvent is the manager's view of one event. Passwords are never
// echoed back.
type managerEvent struct {
	EID           int    `json:"eid"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	AssistEnabled bool   `json:"assist_enabled"`
	Archived      bool   `json:"archived"`
	CreatedAt     int64  `json:"created_at"`
}

// ListEvents returns every event, archived included.
func (h *ManagerHandler) ListEvents(c *gin.Context) {
	out := make([]managerEvent, 0)
	for _, ev := range h.reg.List() {
		out = append(out, managerEvent{
			EID:           ev.EID,
			Name:          ev.Name,
			Description:   ev.Description,
			AssistEnabled: ev.AssistEnabled,
			Archived:      ev.Archived,
			CreatedAt:     ev.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// createEventRequest is the body of an event creation.
type createEventRequest struct {
	Name              string `json:"name" validate:"required,min=1,max=128"`
	Description       string `json:"description" validate:"max=1024"`
	AdminPassword     string `json:"admin_password" validate:"required,min=1,max=128"`
	TrackerPassword   string `json:"tracker_password" validate:"max=128"`
	OwnTracksPassword string `json:"owntracks_password" validate:"max=128"`
	AssistEnabled     bool   `json:"assist_enabled"`
}

// CreateEvent allocates a new event.
func (h *ManagerHandler) CreateEvent(c *gin.Context) {
	var req createEventRequest
	if !validate.BindAndValidate(c, &req) {
		return
	}

	ev, err := h.reg.CreateEvent(req.Name, req.Description, req.AdminPassword,
		req.TrackerPassword, req.OwnTracksPassword, req.AssistEnabled)
	if err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, managerEvent{
		EID:           ev.EID,
		Name:          ev.Name,
		Description:   ev.Description,
		AssistEnabled: ev.AssistEnabled,
		CreatedAt:     ev.CreatedAt,
	})
}

// UpdateEvent edits mutable fields, archived included.
func (h *ManagerHandler) UpdateEvent(c *gin.Context) {
	eid, ok := pathEID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid eid"})
		return
	}

	var upd registry.EventUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid event body"})
		return
	}

	ev, err := h.reg.UpdateEvent(eid, upd)
	if err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, managerEvent{
		EID:           ev.EID,
		Name:          ev.Name,
		Description:   ev.Description,
		AssistEnabled: ev.AssistEnabled,
		Archived:      ev.Archived,
		CreatedAt:     ev.CreatedAt,
	})
}

// DeleteEvent removes the event and its entire on-disk subtree. The eid
// is never reassigned.
func (h *ManagerHandler) DeleteEvent(c *gin.Context) {
	eid, ok := pathEID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid eid"})
		return
	}
	if err := h.reg.DeleteEvent(eid); err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "eid": eid})
}

// pathEID reads the :eid path parameter.
func pathEID(c *gin.Context) (int, bool) {
	eid, err := strconv.Atoi(c.Param("eid"))
	if err != nil || eid < 0 {
		return 0, false
	}
	return eid, true
}

package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/course"
	"github.com/seatrack-dev/seatrack/internal/middleware"
	"github.com/seatrack-dev/seatrack/internal/model"
	"github.com/seatrack-dev/seatrack/internal/overrides"
	"github.com/seatrack-dev/seatrack/internal/registry"
	"github.com/seatrack-dev/seatrack/internal/store"
)

// AdminHandler implements the per-event admin surface. Every route runs
// behind the X-Admin-Password middleware, which resolves and validates
// the eid. Mutations persist through the atomic writer before answering
// 200; lock acquisition follows the fixed order registry, store, course,
// users.
type AdminHandler struct {
	reg     *registry.Registry
	store   *store.Store
	courses *course.Store
	users   *overrides.Store
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(reg *registry.Registry, st *store.Store, courses *course.Store, users *overrides.Store) *AdminHandler {
	return &AdminHandler{reg: reg, store: st, courses: courses, users: users}
}

// RegisterRoutes registers admin routes behind the admin middleware.
func (h *AdminHandler) RegisterRoutes(router *gin.RouterGroup, auth *middleware.Auth) {
	router.GET("/auth/check", auth.RequireAdmin(), h.AuthCheck)
	router.GET("/users", auth.RequireAdmin(), h.ListUsers)

	admin := router.Group("/admin", auth.RequireAdmin())
	{
		admin.POST("/clear-tracks", h.ClearTracks)
		admin.POST("/course", h.SetCourse)
		admin.DELETE("/course", h.DeleteCourse)
		admin.POST("/user/:id", h.SetUser)
		admin.DELETE("/user/:id", h.DeleteUser)
	}
}

// AuthCheck confirms the supplied password is valid for the event. The
// admin UI calls this before showing controls.
func (h *AdminHandler) AuthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "eid": middleware.EID(c)})
}

// ClearTracks truncates today's log and drops the event's current
// positions. Historical days survive.
func (h *AdminHandler) ClearTracks(c *gin.Context) {
	eid := middleware.EID(c)
	if err := h.store.ClearTracks(eid); err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "eid": eid})
}

// SetCourse replaces the event's course document with the request body.
func (h *AdminHandler) SetCourse(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "empty course document"})
		return
	}
	if err := h.courses.Set(middleware.EID(c), json.RawMessage(raw)); err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteCourse removes the event's course document.
func (h *AdminHandler) DeleteCourse(c *gin.Context) {
	if err := h.courses.Delete(middleware.EID(c)); err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListUsers returns the event's override map.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.users.Get(middleware.EID(c)))
}

// userRequest is the body of a user-override update.
type userRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// SetUser stores a display-name/role override for one tracker id.
func (h *AdminHandler) SetUser(c *gin.Context) {
	id := c.Param("id")
	if id == "" || len(id) > 32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid tracker id"})
		return
	}

	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid override body"})
		return
	}

	ov := model.UserOverride{Name: req.Name}
	if req.Role != "" {
		ov.Role = model.NormalizeRole(req.Role)
	}
	if err := h.users.Set(middleware.EID(c), id, ov); err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// DeleteUser removes an override.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(middleware.EID(c), c.Param("id")); err != nil {
		ae := apperr.From(err)
		c.JSON(ae.StatusCode, ae.ToResponse())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

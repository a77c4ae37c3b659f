// Package middleware provides HTTP middleware for the SeaTrack API.
// This file implements password-header authentication for the admin and
// manager surfaces.
//
// Admin routes carry X-Admin-Password and an eid (query parameter); the
// manager password is accepted anywhere an admin password is. Manager
// routes carry X-Manager-Password. Failures answer 401 with the standard
// error body and never reveal which part of the check failed.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/registry"
)

const (
	// AdminPasswordHeader authenticates per-event admin routes.
	AdminPasswordHeader = "X-Admin-Password"

	// ManagerPasswordHeader authenticates process-wide manager routes.
	ManagerPasswordHeader = "X-Manager-Password"

	// EIDKey is the context key carrying the resolved event id.
	EIDKey = "eid"
)

// Auth provides password-header middleware backed by the registry.
type Auth struct {
	reg *registry.Registry

	// defaultEID is used when a request carries no eid parameter
	// (single-event mode).
	defaultEID int
}

// NewAuth creates the auth middleware.
func NewAuth(reg *registry.Registry, defaultEID int) *Auth {
	return &Auth{reg: reg, defaultEID: defaultEID}
}

// RequireAdmin validates X-Admin-Password against the event named by the
// eid query parameter and stores the eid in the context.
func (a *Auth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		eid, ok := a.resolveEID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "malformed", "msg": "invalid eid",
			})
			return
		}
		if !a.reg.AuthenticateAdmin(eid, c.GetHeader(AdminPasswordHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "auth", "msg": "admin authentication failed",
			})
			return
		}
		c.Set(EIDKey, eid)
		c.Next()
	}
}

// RequireManager validates X-Manager-Password.
func (a *Auth) RequireManager() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.reg.AuthenticateManager(c.GetHeader(ManagerPasswordHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "auth", "msg": "manager authentication failed",
			})
			return
		}
		c.Next()
	}
}

// resolveEID reads the eid query parameter, falling back to the
// single-event default.
func (a *Auth) resolveEID(c *gin.Context) (int, bool) {
	raw := c.Query("eid")
	if raw == "" {
		return a.defaultEID, true
	}
	eid, err := strconv.Atoi(raw)
	if err != nil || eid < 0 {
		return 0, false
	}
	return eid, true
}

// EID returns the event id an admin middleware resolved for this request.
func EID(c *gin.Context) int {
	if v, ok := c.Get(EIDKey); ok {
		if eid, isInt := v.(int); isInt {
			return eid
		}
	}
	return 0
}

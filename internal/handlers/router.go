package handlers

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/course"
	"github.com/seatrack-dev/seatrack/internal/ingest"
	"github.com/seatrack-dev/seatrack/internal/layout"
	"github.com/seatrack-dev/seatrack/internal/live"
	"github.com/seatrack-dev/seatrack/internal/middleware"
	"github.com/seatrack-dev/seatrack/internal/overrides"
	"github.com/seatrack-dev/seatrack/internal/registry"
	"github.com/seatrack-dev/seatrack/internal/store"
)

// RouterConfig wires the HTTP surface together.
type RouterConfig struct {
	Registry  *registry.Registry
	Store     *store.Store
	Courses   *course.Store
	Users     *overrides.Store
	Disp      *ingest.Dispatcher
	Hub       *live.Hub
	Layout    layout.Layout
	StaticDir string

	// DefaultEID backs requests without an eid parameter (single-event
	// mode).
	DefaultEID int

	// OwnTracksEID is the default event for OwnTracks publishes.
	OwnTracksEID int

	// IngestRate/IngestBurst tune the per-IP limiter on ingest routes.
	IngestRate  float64
	IngestBurst int
}

// NewRouter builds the Gin engine with the full route table.
func NewRouter(rc RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger())
	r.Use(middleware.Timeout())

	auth := middleware.NewAuth(rc.Registry, rc.DefaultEID)

	rate := rc.IngestRate
	if rate <= 0 {
		rate = 50
	}
	burst := rc.IngestBurst
	if burst <= 0 {
		burst = 100
	}
	limiter := middleware.NewRateLimiter(rate, burst)

	api := r.Group("/api")

	// Ingest: tight body bound, per-IP limiter.
	ingestGroup := api.Group("", middleware.TrackerSizeLimiter(), limiter.Middleware())
	NewTrackerHandler(rc.Disp).RegisterRoutes(ingestGroup)
	NewOwnTracksHandler(rc.Registry, rc.Disp, rc.Users, rc.OwnTracksEID).RegisterRoutes(ingestGroup)

	// Public reads.
	NewPublicHandler(rc.Registry, rc.Courses).RegisterRoutes(api)
	NewLiveHandler(rc.Registry, rc.Hub).RegisterRoutes(api)

	// Admin and manager surfaces.
	adminGroup := api.Group("", middleware.AdminSizeLimiter())
	NewAdminHandler(rc.Registry, rc.Store, rc.Courses, rc.Users).RegisterRoutes(adminGroup, auth)
	NewManagerHandler(rc.Registry).RegisterRoutes(adminGroup, auth)

	// Per-event data files (snapshot, course, daily logs) are served
	// read-only straight from the data root; Static supports range
	// requests over the logs.
	r.Static("/html", filepath.Join(rc.Layout.Root, "html"))

	if rc.StaticDir != "" {
		r.NoRoute(gin.WrapH(staticHandler(rc.StaticDir)))
	}

	return r
}

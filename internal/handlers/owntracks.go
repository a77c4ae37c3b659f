package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seatrack-dev/seatrack/internal/apperr"
	"github.com/seatrack-dev/seatrack/internal/ingest"
	"github.com/seatrack-dev/seatrack/internal/overrides"
	"github.com/seatrack-dev/seatrack/internal/registry"
)

// kmhPerKnot converts OwnTracks velocity (km/h) to knots.
const kmhPerKnot = 1.852

// OwnTracksHandler adapts the OwnTracks location protocol onto the
// canonical packet pipeline. Clients authenticate with HTTP Basic; the
// expected password is the event's OwnTracks password, falling back to
// the process-wide one, then the event admin password.
//
// The tracker id becomes OT-<clientId> and, on first contact, the final
// segment of the OwnTracks topic is stored as the display name. From
// there handling is identical to the native tracker path.
type OwnTracksHandler struct {
	reg        *registry.Registry
	disp       *ingest.Dispatcher
	users      *overrides.Store
	defaultEID int
}

// NewOwnTracksHandler creates a new OwnTracks adapter.
func NewOwnTracksHandler(reg *registry.Registry, disp *ingest.Dispatcher, users *overrides.Store, defaultEID int) *OwnTracksHandler {
	return &OwnTracksHandler{reg: reg, disp: disp, users: users, defaultEID: defaultEID}
}

// RegisterRoutes registers the OwnTracks endpoint.
func (h *OwnTracksHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/owntracks", h.PostLocation)
}

// ownTracksPayload is the subset of the OwnTracks JSON the adapter maps.
type ownTracksPayload struct {
	Type  string   `json:"_type"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	TST   *int64   `json:"tst"`
	Vel   *float64 `json:"vel"`
	Cog   *float64 `json:"cog"`
	Batt  *float64 `json:"batt"`
	TID   string   `json:"tid"`
	Topic string   `json:"topic"`
}

// PostLocation translates one OwnTracks publish into a canonical packet.
func (h *OwnTracksHandler) PostLocation(c *gin.Context) {
	eid, ok := queryEID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid eid"})
		return
	}
	if c.Query("eid") == "" {
		eid = h.defaultEID
	}

	username, password, hasAuth := c.Request.BasicAuth()
	if !hasAuth {
		c.Header("WWW-Authenticate", `Basic realm="seatrack"`)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth", "msg": "basic auth required"})
		return
	}
	if aerr := h.reg.AuthenticateOwnTracks(eid, password, c.ClientIP()); aerr != nil {
		if aerr.Kind == apperr.KindAuth {
			c.Header("WWW-Authenticate", `Basic realm="seatrack"`)
		}
		c.JSON(aerr.StatusCode, aerr.ToResponse())
		return
	}

	var ot ownTracksPayload
	if err := c.ShouldBindJSON(&ot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed", "msg": "invalid owntracks payload"})
		return
	}
	// Non-location publishes (waypoints, status) are acknowledged and
	// ignored; OwnTracks expects an empty command list.
	if ot.Type != "location" || ot.Lat == nil || ot.Lon == nil {
		c.JSON(http.StatusOK, []string{})
		return
	}

	id := "OT-" + h.clientID(username, ot)
	if len(id) > 32 {
		id = id[:32]
	}

	if name := topicName(ot.Topic); name != "" {
		// First contact stores the topic name; later renames go through
		// the admin override API.
		h.users.SetNameIfAbsent(eid, id, name)
	}

	raw := h.canonicalPacket(eid, id, ot)
	res, err := h.disp.ProcessSync(c.Request.Context(), raw, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "io-error", "msg": "server busy"})
		return
	}
	if res.Ack == nil {
		c.JSON(res.Status, gin.H{"error": "malformed"})
		return
	}
	c.JSON(res.Status, res.Ack)
}

// clientID picks the most specific client identifier available.
func (h *OwnTracksHandler) clientID(username string, ot ownTracksPayload) string {
	if username != "" {
		return username
	}
	if ot.TID != "" {
		return ot.TID
	}
	if name := topicName(ot.Topic); name != "" {
		return name
	}
	return "unknown"
}

// canonicalPacket renders the translated report as a native tracker
// packet. The event's own tracker password is attached so the shared
// pipeline authenticates it exactly like a native packet.
func (h *OwnTracksHandler) canonicalPacket(eid int, id string, ot ownTracksPayload) []byte {
	ts := time.Now().Unix()
	if ot.TST != nil && *ot.TST > 0 {
		ts = *ot.TST
	}

	p := map[string]any{
		"id":   id,
		"eid":  eid,
		"sq":   ts,
		"ts":   ts,
		"lat":  *ot.Lat,
		"lon":  *ot.Lon,
		"role": "sailor",
		"ver":  "owntracks",
	}
	if ot.Vel != nil && *ot.Vel >= 0 {
		p["spd"] = *ot.Vel / kmhPerKnot
	}
	if ot.Cog != nil {
		p["hdg"] = *ot.Cog
	}
	if ot.Batt != nil {
		p["bat"] = *ot.Batt
	}
	if ev, ok := h.reg.Lookup(eid); ok && ev.TrackerPassword != "" {
		p["pwd"] = ev.TrackerPassword
	}

	raw, _ := json.Marshal(p)
	return raw
}

// topicName extracts the final segment of an OwnTracks topic
// (owntracks/<user>/<device>).
func topicName(topic string) string {
	if topic == "" {
		return ""
	}
	parts := strings.Split(strings.TrimSuffix(topic, "/"), "/")
	return parts[len(parts)-1]
}
